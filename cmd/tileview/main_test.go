package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		w, h int
	}{
		{"32x24", 32, 24},
		{"64", 64, 64},
		{"16X8", 16, 8},
		{" 4 x 2 ", 4, 2},
	}
	for _, tt := range tests {
		w, h, err := parseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, [2]int{tt.w, tt.h}, [2]int{w, h}, tt.in)
	}

	for _, bad := range []string{"", "x", "0x4", "-2", "ax3"} {
		_, _, err := parseSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewHeadlessDeviceRejectsUnknownKind(t *testing.T) {
	_, err := newHeadlessDevice("vulkan", 8, 8)
	assert.ErrorContains(t, err, "unknown device")

	dev, err := newHeadlessDevice("soft", 8, 8)
	require.NoError(t, err)
	w, h := dev.Size()
	assert.Equal(t, [2]int{8, 8}, [2]int{w, h})
	dev.Release()
}
