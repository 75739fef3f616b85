package indexmap

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearray/internal/gpu"
)

type region struct {
	x, y, w, h int
	data       []int32
}

type recordingDevice struct {
	gpu.Device
	tex *recordingTexture
}

type recordingTexture struct {
	writes []region
}

func (t *recordingTexture) WriteRegion(x, y, w, h int, data []int32) error {
	t.writes = append(t.writes, region{x, y, w, h, append([]int32(nil), data...)})
	return nil
}

func (t *recordingTexture) Release() {}

func (d *recordingDevice) CreateIndexTexture(gpu.IndexTextureDescriptor) (gpu.IndexTexture, error) {
	d.tex = &recordingTexture{}
	return d.tex, nil
}

func TestNewZeroFilled(t *testing.T) {
	dev := &recordingDevice{}
	m, err := New(dev, 3, 2, 4, nil)
	require.NoError(t, err)

	if diff := cmp.Diff(make([]int32, 6), m.Cells()); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, dev.tex.writes, 1)
	assert.Equal(t, region{0, 0, 3, 2, make([]int32, 6)}, dev.tex.writes[0])
}

func TestNewWithInitial(t *testing.T) {
	dev := &recordingDevice{}
	m, err := New(dev, 2, 2, 2, []int32{0, 1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, int32(1), m.At(1, 0))
	assert.Equal(t, int32(1), m.At(0, 1))

	_, err = New(dev, 2, 2, 2, []int32{0, 1, 2, 0})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = New(dev, 2, 2, 2, []int32{0, 1})
	assert.ErrorIs(t, err, ErrShape)
}

func TestAtOutsideMapPanics(t *testing.T) {
	m, err := New(&recordingDevice{}, 3, 2, 4, []int32{0, 1, 2, 3, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), m.At(0, 1))

	for _, c := range [][2]int{{3, 0}, {-1, 0}, {0, 2}, {0, -1}} {
		assert.PanicsWithValue(t,
			fmt.Sprintf("indexmap: cell (%d,%d) outside 3x2 map", c[0], c[1]),
			func() { m.At(c[0], c[1]) })
	}
}

func TestPatchRegion(t *testing.T) {
	dev := &recordingDevice{}
	m, err := New(dev, 4, 3, 10, nil)
	require.NoError(t, err)

	require.NoError(t, m.PatchRegion(1, 1, 2, 2, []int32{5, 6, 7, 8}))
	want := []int32{
		0, 0, 0, 0,
		0, 5, 6, 0,
		0, 7, 8, 0,
	}
	if diff := cmp.Diff(want, m.Cells()); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, region{1, 1, 2, 2, []int32{5, 6, 7, 8}}, dev.tex.writes[1])
}

func TestWritesAreValidatedBeforeUpload(t *testing.T) {
	dev := &recordingDevice{}
	m, err := New(dev, 2, 2, 3, []int32{1, 1, 1, 1})
	require.NoError(t, err)
	before := m.Cells()

	tests := []struct {
		name string
		err  error
		fn   func() error
	}{
		{"negative id", ErrOutOfRange, func() error { return m.Set(0, 0, -1) }},
		{"id equals layers", ErrOutOfRange, func() error { return m.Replace([]int32{0, 1, 2, 3}) }},
		{"region outside", ErrRegion, func() error { return m.PatchRegion(1, 1, 2, 1, []int32{0, 0}) }},
		{"negative origin", ErrRegion, func() error { return m.PatchRegion(-1, 0, 1, 1, []int32{0}) }},
		{"short data", ErrShape, func() error { return m.Replace([]int32{0}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(), tt.err)
			assert.Equal(t, before, m.Cells())
			assert.Len(t, dev.tex.writes, 1)
		})
	}
}

func TestOutOfRangeErrorPosition(t *testing.T) {
	m, err := New(&recordingDevice{}, 3, 3, 2, nil)
	require.NoError(t, err)

	err = m.PatchRegion(1, 1, 2, 2, []int32{0, 1, 1, 9})
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, OutOfRangeError{Value: 9, X: 2, Y: 2, Layers: 2}, *oor)
}

func TestReleased(t *testing.T) {
	m, err := New(&recordingDevice{}, 1, 1, 1, nil)
	require.NoError(t, err)
	m.Release()
	assert.ErrorIs(t, m.Set(0, 0, 0), ErrReleased)
}
