// Package atlas manages the texture array holding one tile graphic per layer.
//
// Storage for every layer is reserved when the atlas is allocated and is
// never resized. Layers are uploaded independently, in any order; a layer
// that is never uploaded keeps its initial contents.
package atlas

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"tilearray/internal/gpu"
	"tilearray/internal/logging"
)

// Upload errors.
var (
	// ErrShapeMismatch is matched by ShapeMismatchError.
	ErrShapeMismatch = errors.New("atlas: upload shape mismatch")

	// ErrLayerRange is matched by LayerRangeError.
	ErrLayerRange = errors.New("atlas: layer index out of range")

	// ErrReleased is returned after Release.
	ErrReleased = errors.New("atlas: released")
)

// ShapeMismatchError reports pixel data that does not fill exactly one layer.
// The target layer is left untouched.
type ShapeMismatchError struct {
	Layer    int
	Expected int // bytes
	Actual   int // bytes
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("atlas: layer %d: got %d bytes, want %d", e.Layer, e.Actual, e.Expected)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// LayerRangeError reports an upload to a layer the atlas does not have.
type LayerRangeError struct {
	Layer  int
	Layers int
}

func (e *LayerRangeError) Error() string {
	return fmt.Sprintf("atlas: layer %d outside [0, %d)", e.Layer, e.Layers)
}

func (e *LayerRangeError) Is(target error) bool { return target == ErrLayerRange }

// Descriptor describes an atlas. Filter applies to every layer.
type Descriptor struct {
	Layers int
	Width  int
	Height int
	Filter gpu.FilterMode
}

// Atlas is a fixed-size array texture of RGBA8 layers.
type Atlas struct {
	desc      Descriptor
	texture   gpu.ArrayTexture
	populated []bool
	count     int
}

// Allocate reserves storage for all layers.
func Allocate(dev gpu.Device, desc Descriptor) (*Atlas, error) {
	if desc.Layers <= 0 || desc.Layers > gpu.MaxArrayLayers {
		return nil, fmt.Errorf("atlas: layer count %d outside [1, %d]", desc.Layers, gpu.MaxArrayLayers)
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("atlas: invalid layer size %dx%d", desc.Width, desc.Height)
	}

	tex, err := dev.CreateArrayTexture(gpu.ArrayTextureDescriptor{
		Label:  "tile_atlas",
		Width:  desc.Width,
		Height: desc.Height,
		Layers: desc.Layers,
		Filter: desc.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("atlas: texture creation failed: %w", err)
	}

	logging.Logger().Debug("atlas allocated",
		"layers", desc.Layers, "width", desc.Width, "height", desc.Height, "filter", desc.Filter.String())
	return &Atlas{desc: desc, texture: tex, populated: make([]bool, desc.Layers)}, nil
}

// LayerBytes is the exact byte length UploadLayer accepts.
func (a *Atlas) LayerBytes() int { return a.desc.Width * a.desc.Height * 4 }

// UploadLayer replaces the texels of one layer. pixels must be RGBA8, row
// major, exactly LayerBytes long.
func (a *Atlas) UploadLayer(index int, pixels []byte) error {
	if a.texture == nil {
		return ErrReleased
	}
	if index < 0 || index >= a.desc.Layers {
		return &LayerRangeError{Layer: index, Layers: a.desc.Layers}
	}
	if len(pixels) != a.LayerBytes() {
		return &ShapeMismatchError{Layer: index, Expected: a.LayerBytes(), Actual: len(pixels)}
	}
	if err := a.texture.WriteLayer(index, pixels); err != nil {
		return fmt.Errorf("atlas: layer %d: %w", index, err)
	}
	if !a.populated[index] {
		a.populated[index] = true
		a.count++
	}
	logging.Logger().Debug("atlas layer uploaded", "layer", index)
	return nil
}

// UploadImage converts img to RGBA8 and uploads it. The image bounds must
// match the layer size.
func (a *Atlas) UploadImage(index int, img image.Image) error {
	b := img.Bounds()
	if b.Dx() != a.desc.Width || b.Dy() != a.desc.Height {
		return &ShapeMismatchError{Layer: index, Expected: a.LayerBytes(), Actual: b.Dx() * b.Dy() * 4}
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return a.UploadLayer(index, rgba.Pix)
}

// Populated reports whether layer index has been uploaded.
func (a *Atlas) Populated(index int) bool {
	return index >= 0 && index < len(a.populated) && a.populated[index]
}

// PopulatedCount returns the number of uploaded layers.
func (a *Atlas) PopulatedCount() int { return a.count }

// Descriptor returns the allocation parameters.
func (a *Atlas) Descriptor() Descriptor { return a.desc }

// Texture returns the device texture.
func (a *Atlas) Texture() gpu.ArrayTexture { return a.texture }

// Release frees the device texture.
func (a *Atlas) Release() {
	if a.texture != nil {
		a.texture.Release()
		a.texture = nil
	}
}
