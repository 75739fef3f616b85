package atlas

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearray/internal/gpu"
)

// recordingDevice keeps the layers written to its array texture.
type recordingDevice struct {
	gpu.Device
	tex *recordingTexture
}

type recordingTexture struct {
	layers   map[int][]byte
	writes   int
	released bool
	fail     error
}

func (t *recordingTexture) WriteLayer(layer int, pixels []byte) error {
	if t.fail != nil {
		return t.fail
	}
	t.layers[layer] = append([]byte(nil), pixels...)
	t.writes++
	return nil
}

func (t *recordingTexture) Release() { t.released = true }

func (d *recordingDevice) CreateArrayTexture(desc gpu.ArrayTextureDescriptor) (gpu.ArrayTexture, error) {
	d.tex = &recordingTexture{layers: make(map[int][]byte)}
	return d.tex, nil
}

func solid(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img.Pix
}

func newAtlas(t *testing.T, layers int) (*Atlas, *recordingDevice) {
	t.Helper()
	dev := &recordingDevice{}
	a, err := Allocate(dev, Descriptor{Layers: layers, Width: 4, Height: 4})
	require.NoError(t, err)
	return a, dev
}

func TestAllocateValidation(t *testing.T) {
	dev := &recordingDevice{}
	tests := []Descriptor{
		{Layers: 0, Width: 4, Height: 4},
		{Layers: gpu.MaxArrayLayers + 1, Width: 4, Height: 4},
		{Layers: 1, Width: 0, Height: 4},
		{Layers: 1, Width: 4, Height: -1},
	}
	for _, d := range tests {
		_, err := Allocate(dev, d)
		assert.Error(t, err, "%+v", d)
	}
}

func TestUploadLayerAnyOrder(t *testing.T) {
	a, dev := newAtlas(t, 4)
	red := solid(4, 4, color.RGBA{255, 0, 0, 255})

	require.NoError(t, a.UploadLayer(3, red))
	require.NoError(t, a.UploadLayer(0, red))

	assert.True(t, a.Populated(0))
	assert.False(t, a.Populated(1))
	assert.True(t, a.Populated(3))
	assert.False(t, a.Populated(7))
	assert.Equal(t, 2, a.PopulatedCount())
	assert.Equal(t, red, dev.tex.layers[3])

	// Re-uploading a layer does not count twice.
	require.NoError(t, a.UploadLayer(3, red))
	assert.Equal(t, 2, a.PopulatedCount())
}

func TestUploadShapeMismatchLeavesLayerUnchanged(t *testing.T) {
	a, dev := newAtlas(t, 2)
	blue := solid(4, 4, color.RGBA{0, 0, 255, 255})
	require.NoError(t, a.UploadLayer(1, blue))

	err := a.UploadLayer(1, make([]byte, 4*4*4-1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	var sm *ShapeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, 64, sm.Expected)
	assert.Equal(t, 63, sm.Actual)

	assert.Equal(t, 1, dev.tex.writes, "rejected upload must not reach the texture")
	assert.True(t, bytes.Equal(blue, dev.tex.layers[1]))

	// A rejected upload to an unpopulated layer leaves it unpopulated.
	require.Error(t, a.UploadLayer(0, nil))
	assert.False(t, a.Populated(0))
}

func TestUploadDeviceRejectionLeavesLayerUnpopulated(t *testing.T) {
	a, dev := newAtlas(t, 2)
	rejected := errors.New("queue write rejected")
	dev.tex.fail = rejected

	err := a.UploadLayer(1, solid(4, 4, color.RGBA{255, 255, 0, 255}))
	require.ErrorIs(t, err, rejected)
	assert.False(t, a.Populated(1))
	assert.Equal(t, 0, a.PopulatedCount())

	dev.tex.fail = nil
	require.NoError(t, a.UploadLayer(1, solid(4, 4, color.RGBA{255, 255, 0, 255})))
	assert.True(t, a.Populated(1))
}

func TestUploadLayerRange(t *testing.T) {
	a, _ := newAtlas(t, 2)
	for _, idx := range []int{-1, 2, 100} {
		err := a.UploadLayer(idx, make([]byte, a.LayerBytes()))
		assert.ErrorIs(t, err, ErrLayerRange, "layer %d", idx)
	}
}

func TestUploadImageConverts(t *testing.T) {
	a, dev := newAtlas(t, 1)

	nrgba := image.NewNRGBA(image.Rect(10, 10, 14, 14))
	draw.Draw(nrgba, nrgba.Bounds(), &image.Uniform{color.NRGBA{0, 255, 0, 255}}, image.Point{}, draw.Src)
	require.NoError(t, a.UploadImage(0, nrgba))
	assert.Equal(t, solid(4, 4, color.RGBA{0, 255, 0, 255}), dev.tex.layers[0])

	err := a.UploadImage(0, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestRelease(t *testing.T) {
	a, dev := newAtlas(t, 1)
	a.Release()
	assert.True(t, dev.tex.released)
	assert.ErrorIs(t, a.UploadLayer(0, make([]byte, 64)), ErrReleased)
	a.Release()
}
