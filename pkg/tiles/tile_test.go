package tiles

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	tests := []struct {
		category string
		index    int
		width    int
		ext      string
		want     string
	}{
		{"ACTION", 7, 3, ".png", "ACTION/007.png"},
		{"ACTION", 0, 3, ".png", "ACTION/000.png"},
		{"ACTION", 1234, 3, ".png", "ACTION/1234.png"},
		{"terrain", 5, 2, "webp", "terrain/05.webp"},
		{"", 12, 4, ".bmp", "0012.bmp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Name(tt.category, tt.index, tt.width, tt.ext))
	}
}

func TestNamingNames(t *testing.T) {
	n := DefaultNaming()
	assert.Equal(t, []string{"ACTION/000.png", "ACTION/001.png", "ACTION/002.png"}, n.Names(3))
	assert.Equal(t, "ACTION/9", n.ID(9).String())
}

func TestURL(t *testing.T) {
	base, err := url.Parse("https://assets.example.org/packs/v1/")
	require.NoError(t, err)
	assert.Equal(t, "https://assets.example.org/packs/v1/ACTION/003.png", URL(base, "ACTION/003.png"))
}
