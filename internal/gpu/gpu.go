// Package gpu defines the device surface the tile renderer is built on.
//
// A Device owns one GPU context and one color target. Every resource the
// renderer creates (shader modules, the program, buffers, the array texture
// and the index texture) comes from the same Device and must be released
// before it. All calls must happen on the rendering goroutine.
package gpu

import (
	"errors"
	"fmt"
	"image"
)

// Fixed resource slots shared by the shader generator and every device.
// The atlas texture and its sampler form one unit, the index map another.
const (
	AtlasTextureBinding = 0
	AtlasSamplerBinding = 1
	IndexMapBinding     = 2
)

// MaxArrayLayers is the default array layer limit of wgpu devices.
const MaxArrayLayers = 256

// Common device errors.
var (
	// ErrReleased is returned when a released resource is used.
	ErrReleased = errors.New("gpu: resource has been released")

	// ErrForeignResource is returned when a resource from another device is passed in.
	ErrForeignResource = errors.New("gpu: resource belongs to a different device")

	// ErrCaptureUnsupported is returned by targets that cannot be read back.
	ErrCaptureUnsupported = errors.New("gpu: color target cannot be captured")
)

// Stage identifies a programmable pipeline stage.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("Stage(%d)", s)
	}
}

// EntryPoint returns the WGSL entry point name used for the stage.
func (s Stage) EntryPoint() string {
	if s == StageVertex {
		return "vs_main"
	}
	return "fs_main"
}

// FilterMode selects how atlas layers are sampled.
type FilterMode uint8

const (
	FilterNearest FilterMode = iota
	FilterLinear
)

func (f FilterMode) String() string {
	if f == FilterLinear {
		return "linear"
	}
	return "nearest"
}

// ParseFilterMode parses "nearest" or "linear".
func ParseFilterMode(s string) (FilterMode, error) {
	switch s {
	case "nearest", "point":
		return FilterNearest, nil
	case "linear", "bilinear":
		return FilterLinear, nil
	default:
		return FilterNearest, fmt.Errorf("gpu: unknown filter mode %q", s)
	}
}

// BufferUsage describes how a buffer is bound.
type BufferUsage uint8

const (
	BufferVertex BufferUsage = iota
	BufferIndex
)

// Constants are the values baked into the shader pair. The geometry is
// generated from the same value; the two must agree exactly.
type Constants struct {
	GridWidth  int
	GridHeight int
	LayerCount int
}

// Validate checks that all constants are usable.
func (c Constants) Validate() error {
	if c.GridWidth <= 0 || c.GridHeight <= 0 {
		return fmt.Errorf("gpu: invalid grid %dx%d", c.GridWidth, c.GridHeight)
	}
	if c.LayerCount <= 0 || c.LayerCount > MaxArrayLayers {
		return fmt.Errorf("gpu: layer count %d outside [1, %d]", c.LayerCount, MaxArrayLayers)
	}
	return nil
}

// VertexAttribute describes one float32x2 attribute of the interleaved vertex.
type VertexAttribute struct {
	Name     string
	Location uint32
	Offset   uint64
}

// VertexLayout describes the interleaved vertex buffer.
type VertexLayout struct {
	Stride     uint64
	Attributes []VertexAttribute
}

// ProgramDescriptor links two compiled stages into a program.
type ProgramDescriptor struct {
	Label     string
	Vertex    ShaderModule
	Fragment  ShaderModule
	Layout    VertexLayout
	Constants Constants
}

// ArrayTextureDescriptor describes an RGBA8 array texture. Storage for all
// layers is reserved at creation.
type ArrayTextureDescriptor struct {
	Label  string
	Width  int
	Height int
	Layers int
	Filter FilterMode
}

// IndexTextureDescriptor describes a single channel int32 texture.
type IndexTextureDescriptor struct {
	Label  string
	Width  int
	Height int
}

// DrawCommand is one indexed draw into the device's color target.
type DrawCommand struct {
	Program    Program
	Bindings   Bindings
	Vertices   Buffer
	Indices    Buffer
	IndexCount int
}

// ShaderModule is a compiled shader stage.
type ShaderModule interface {
	Stage() Stage
	Release()
}

// Program is a linked vertex and fragment pair.
type Program interface {
	Constants() Constants
	Release()
}

// Buffer is an immutable GPU buffer.
type Buffer interface {
	Size() int
	Release()
}

// ArrayTexture is a layered RGBA8 texture.
type ArrayTexture interface {
	// WriteLayer replaces one layer. pixels must hold Width*Height*4 bytes.
	WriteLayer(layer int, pixels []byte) error
	Release()
}

// IndexTexture is a two dimensional int32 texture read with point access.
type IndexTexture interface {
	// WriteRegion replaces a w*h rectangle at (x, y). data is row-major.
	WriteRegion(x, y, w, h int, data []int32) error
	Release()
}

// Bindings is the fixed assignment of the atlas and index map to their slots.
type Bindings interface {
	Release()
}

// Device creates GPU resources and draws into its color target.
type Device interface {
	// CompileShader compiles a single stage. A compile failure returns an
	// error whose text is the compiler diagnostic.
	CompileShader(stage Stage, label, source string) (ShaderModule, error)

	// LinkProgram links compiled stages. A failure returns an error whose
	// text is the linker diagnostic.
	LinkProgram(desc ProgramDescriptor) (Program, error)

	CreateBuffer(label string, usage BufferUsage, contents []byte) (Buffer, error)
	CreateArrayTexture(desc ArrayTextureDescriptor) (ArrayTexture, error)
	CreateIndexTexture(desc IndexTextureDescriptor) (IndexTexture, error)

	// Bind assigns the atlas and index map to their fixed slots.
	Bind(program Program, atlas ArrayTexture, indexMap IndexTexture) (Bindings, error)

	// Draw clears the color target and issues one indexed draw.
	Draw(cmd DrawCommand) error

	// Size returns the color target dimensions.
	Size() (width, height int)

	Release()
}

// Capturer is implemented by devices whose color target can be read back.
type Capturer interface {
	Capture() (*image.RGBA, error)
}

// Resizer is implemented by devices whose color target follows a window.
type Resizer interface {
	Resize(width, height int) error
}
