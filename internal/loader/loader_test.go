package loader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearray/internal/atlas"
	"tilearray/internal/gpu"
	"tilearray/internal/gpu/soft"
	"tilearray/pkg/tiles"
)

func encodePNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeAsset(t *testing.T, root, name string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func newAtlas(t *testing.T, layers, size int) *atlas.Atlas {
	t.Helper()
	dev, err := soft.NewDevice(1, 1)
	require.NoError(t, err)
	t.Cleanup(dev.Release)
	a, err := atlas.Allocate(dev, atlas.Descriptor{Layers: layers, Width: size, Height: size})
	require.NoError(t, err)
	t.Cleanup(a.Release)
	return a
}

func TestPartialLoad(t *testing.T) {
	root := t.TempDir()
	naming := tiles.DefaultNaming()
	names := naming.Names(4)
	for i, name := range names {
		if i == 2 {
			continue
		}
		writeAsset(t, root, name, encodePNG(t, 4, 4, color.RGBA{uint8(i * 60), 0, 0, 255}))
	}

	src, err := NewDirSource(root)
	require.NoError(t, err)

	var seen []int
	l := New(src, WithWorkers(3), WithProgress(func(r Result) { seen = append(seen, r.Index) }))
	defer l.Close()
	a := newAtlas(t, 4, 4)

	require.NoError(t, l.Start(context.Background(), names))
	report, err := l.Wait(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Loaded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 2, report.Errors[0].Index)
	assert.Equal(t, "ACTION/002.png", report.Errors[0].Name)
	assert.ErrorIs(t, report.Errors[0], ErrNotFound)

	assert.ElementsMatch(t, []int{0, 1, 2, 3}, seen)
	assert.True(t, a.Populated(0))
	assert.True(t, a.Populated(3))
	assert.False(t, a.Populated(2))
	assert.Equal(t, 3, a.PopulatedCount())
	assert.True(t, l.Done())
}

func TestUploadAndDecodeFailuresAreReported(t *testing.T) {
	root := t.TempDir()
	names := []string{"a.png", "b.png", "c.png"}
	writeAsset(t, root, "a.png", encodePNG(t, 4, 4, color.RGBA{0, 0, 255, 255}))
	writeAsset(t, root, "b.png", encodePNG(t, 8, 4, color.RGBA{0, 0, 255, 255}))
	writeAsset(t, root, "c.png", []byte("not an image"))

	src, err := NewDirSource(root)
	require.NoError(t, err)
	l := New(src)
	defer l.Close()
	a := newAtlas(t, 3, 4)

	require.NoError(t, l.Start(context.Background(), names))
	report, err := l.Wait(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Loaded)
	require.Len(t, report.Errors, 2)
	byIndex := map[int]*ImageLoadError{}
	for _, e := range report.Errors {
		byIndex[e.Index] = e
	}
	assert.ErrorIs(t, byIndex[1], atlas.ErrShapeMismatch)
	assert.ErrorIs(t, byIndex[2], image.ErrFormat)
}

// rejectingDevice hands out array textures whose writes to one layer fail,
// the way a device-side validation error does.
type rejectingDevice struct {
	gpu.Device
	layer int
}

type rejectingTexture struct {
	gpu.ArrayTexture
	layer int
}

func (d *rejectingDevice) CreateArrayTexture(desc gpu.ArrayTextureDescriptor) (gpu.ArrayTexture, error) {
	tex, err := d.Device.CreateArrayTexture(desc)
	if err != nil {
		return nil, err
	}
	return &rejectingTexture{ArrayTexture: tex, layer: d.layer}, nil
}

func (t *rejectingTexture) WriteLayer(layer int, pixels []byte) error {
	if layer == t.layer {
		return errRejectedWrite
	}
	return t.ArrayTexture.WriteLayer(layer, pixels)
}

var errRejectedWrite = errors.New("texture write rejected")

func TestRejectedTextureWriteCountsAsFailure(t *testing.T) {
	root := t.TempDir()
	names := []string{"a.png", "b.png"}
	for _, name := range names {
		writeAsset(t, root, name, encodePNG(t, 4, 4, color.RGBA{0, 255, 0, 255}))
	}

	dev, err := soft.NewDevice(1, 1)
	require.NoError(t, err)
	defer dev.Release()
	a, err := atlas.Allocate(&rejectingDevice{Device: dev, layer: 1}, atlas.Descriptor{Layers: 2, Width: 4, Height: 4})
	require.NoError(t, err)
	defer a.Release()

	src, err := NewDirSource(root)
	require.NoError(t, err)
	l := New(src)
	defer l.Close()

	require.NoError(t, l.Start(context.Background(), names))
	report, err := l.Wait(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Loaded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 1, report.Errors[0].Index)
	assert.ErrorIs(t, report.Errors[0], errRejectedWrite)
	assert.True(t, a.Populated(0))
	assert.False(t, a.Populated(1))
}

type gatedSource struct {
	gate chan struct{}
	data []byte
}

func (s *gatedSource) Fetch(ctx context.Context, _ string) ([]byte, error) {
	select {
	case <-s.gate:
		return s.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *gatedSource) Close() error { return nil }

func TestDrainDoesNotBlock(t *testing.T) {
	src := &gatedSource{gate: make(chan struct{}), data: encodePNG(t, 2, 2, color.RGBA{255, 255, 255, 255})}
	l := New(src, WithWorkers(2))
	defer l.Close()
	a := newAtlas(t, 2, 2)

	require.NoError(t, l.Start(context.Background(), []string{"x", "y"}))
	assert.Equal(t, 0, l.Drain(a))
	assert.False(t, l.Done())

	close(src.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	report, err := l.Wait(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 0, l.Drain(a))
}

func TestCloseCancelsPendingFetches(t *testing.T) {
	src := &gatedSource{gate: make(chan struct{})}
	l := New(src, WithWorkers(1))
	a := newAtlas(t, 3, 2)

	require.NoError(t, l.Start(context.Background(), []string{"x", "y", "z"}))
	l.Close()

	report, err := l.Wait(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Failed)
	for _, e := range report.Errors {
		assert.ErrorIs(t, e, context.Canceled)
	}
}

func TestStartTwice(t *testing.T) {
	l := New(&gatedSource{gate: make(chan struct{})})
	require.NoError(t, l.Start(context.Background(), nil))
	assert.ErrorIs(t, l.Start(context.Background(), nil), ErrStarted)
	assert.True(t, l.Done())
}
