// Package indexmap manages the grid of tile ids read by the fragment stage.
//
// The map is a single channel int32 texture accessed with point fetches
// only; blending neighbouring ids would produce meaningless layers. Every
// write is validated against the atlas layer count before it reaches the
// device, and a rejected write changes nothing.
package indexmap

import (
	"errors"
	"fmt"

	"tilearray/internal/gpu"
)

// Write errors.
var (
	// ErrOutOfRange is matched by OutOfRangeError.
	ErrOutOfRange = errors.New("indexmap: tile id out of range")

	// ErrShape is returned for data whose length does not match the region.
	ErrShape = errors.New("indexmap: data does not match region")

	// ErrRegion is returned for regions outside the map.
	ErrRegion = errors.New("indexmap: region outside map")

	// ErrReleased is returned after Release.
	ErrReleased = errors.New("indexmap: released")
)

// OutOfRangeError reports a tile id outside [0, Layers).
type OutOfRangeError struct {
	Value  int32
	X, Y   int
	Layers int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("indexmap: tile id %d at (%d,%d) outside [0, %d)", e.Value, e.X, e.Y, e.Layers)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// Map is a width x height grid of tile ids. Row 0 is the top of the screen.
type Map struct {
	width   int
	height  int
	layers  int
	cells   []int32
	texture gpu.IndexTexture
}

// New creates the map. initial is row-major width*height ids; nil means all
// zero.
func New(dev gpu.Device, width, height, layers int, initial []int32) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("indexmap: invalid size %dx%d", width, height)
	}
	if layers <= 0 {
		return nil, fmt.Errorf("indexmap: invalid layer count %d", layers)
	}

	m := &Map{width: width, height: height, layers: layers, cells: make([]int32, width*height)}
	if initial != nil {
		if err := m.validate(0, 0, width, height, initial); err != nil {
			return nil, err
		}
		copy(m.cells, initial)
	}

	tex, err := dev.CreateIndexTexture(gpu.IndexTextureDescriptor{Label: "tile_index_map", Width: width, Height: height})
	if err != nil {
		return nil, fmt.Errorf("indexmap: texture creation failed: %w", err)
	}
	if err := tex.WriteRegion(0, 0, width, height, m.cells); err != nil {
		tex.Release()
		return nil, fmt.Errorf("indexmap: initial upload failed: %w", err)
	}
	m.texture = tex
	return m, nil
}

func (m *Map) validate(x, y, w, h int, data []int32) error {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > m.width || y+h > m.height {
		return fmt.Errorf("%w: %dx%d at (%d,%d) in %dx%d", ErrRegion, w, h, x, y, m.width, m.height)
	}
	if len(data) != w*h {
		return fmt.Errorf("%w: got %d values, want %d", ErrShape, len(data), w*h)
	}
	for i, v := range data {
		if v < 0 || int(v) >= m.layers {
			return &OutOfRangeError{Value: v, X: x + i%w, Y: y + i/w, Layers: m.layers}
		}
	}
	return nil
}

// Replace overwrites the whole map.
func (m *Map) Replace(data []int32) error {
	return m.PatchRegion(0, 0, m.width, m.height, data)
}

// PatchRegion overwrites the w x h rectangle at (x, y) with row-major data.
func (m *Map) PatchRegion(x, y, w, h int, data []int32) error {
	if m.texture == nil {
		return ErrReleased
	}
	if err := m.validate(x, y, w, h, data); err != nil {
		return err
	}
	if err := m.texture.WriteRegion(x, y, w, h, data); err != nil {
		return fmt.Errorf("indexmap: upload failed: %w", err)
	}
	for row := 0; row < h; row++ {
		copy(m.cells[(y+row)*m.width+x:], data[row*w:(row+1)*w])
	}
	return nil
}

// Set writes a single cell.
func (m *Map) Set(x, y int, id int32) error {
	return m.PatchRegion(x, y, 1, 1, []int32{id})
}

// At returns the id stored at (x, y). It panics when the cell is outside
// the map.
func (m *Map) At(x, y int) int32 {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		panic(fmt.Sprintf("indexmap: cell (%d,%d) outside %dx%d map", x, y, m.width, m.height))
	}
	return m.cells[y*m.width+x]
}

// Cells returns a copy of the row-major ids.
func (m *Map) Cells() []int32 {
	return append([]int32(nil), m.cells...)
}

func (m *Map) Width() int  { return m.width }
func (m *Map) Height() int { return m.height }

// Layers returns the exclusive upper bound for ids.
func (m *Map) Layers() int { return m.layers }

// Texture returns the device texture.
func (m *Map) Texture() gpu.IndexTexture { return m.texture }

// Release frees the device texture.
func (m *Map) Release() {
	if m.texture != nil {
		m.texture.Release()
		m.texture = nil
	}
}
