// Package soft is a CPU reference implementation of gpu.Device.
//
// Shader sources are validated with the naga WGSL compiler so compile
// diagnostics are real, but fragments are evaluated by a Go rendition of the
// tile lookup: point fetch from the index map, then a nearest or bilinear
// clamp-to-edge sample of the selected atlas layer. Output is deterministic,
// which makes the device suitable for tests and headless snapshots.
package soft

import (
	"fmt"
	"image"
	"strings"

	"github.com/gogpu/naga"

	"tilearray/internal/gpu"
	"tilearray/internal/logging"
)

// Compiler turns WGSL source into a binary module. naga.Compile by default.
type Compiler func(source string) ([]byte, error)

// Device renders into an in-memory RGBA8 framebuffer.
type Device struct {
	width, height int
	pixels        []byte
	compile       Compiler
	released      bool
}

// Option configures a Device.
type Option func(*Device)

// WithCompiler replaces the WGSL compiler.
func WithCompiler(c Compiler) Option {
	return func(d *Device) { d.compile = c }
}

// NewDevice creates a software device with a width x height color target.
func NewDevice(width, height int, opts ...Option) (*Device, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("soft: invalid target size %dx%d", width, height)
	}
	d := &Device{
		width:   width,
		height:  height,
		pixels:  make([]byte, width*height*4),
		compile: naga.Compile,
	}
	for _, opt := range opts {
		opt(d)
	}
	logging.Logger().Debug("soft device created", "width", width, "height", height)
	return d, nil
}

type shaderModule struct {
	dev   *Device
	stage gpu.Stage
	label string
}

func (m *shaderModule) Stage() gpu.Stage { return m.stage }
func (m *shaderModule) Release()         {}

// CompileShader validates the stage with naga and checks its entry point.
func (d *Device) CompileShader(stage gpu.Stage, label, source string) (gpu.ShaderModule, error) {
	if d.released {
		return nil, gpu.ErrReleased
	}
	if _, err := d.compile(source); err != nil {
		return nil, err
	}
	attr := "@vertex"
	if stage == gpu.StageFragment {
		attr = "@fragment"
	}
	if !strings.Contains(source, attr) || !strings.Contains(source, "fn "+stage.EntryPoint()) {
		return nil, fmt.Errorf("%s: missing %s entry point %q", label, attr, stage.EntryPoint())
	}
	return &shaderModule{dev: d, stage: stage, label: label}, nil
}

type program struct {
	dev       *Device
	layout    gpu.VertexLayout
	consts    gpu.Constants
	posOffset uint64
	tcOffset  uint64
}

func (p *program) Constants() gpu.Constants { return p.consts }
func (p *program) Release()                 {}

// LinkProgram checks the stage kinds, the vertex interface and the constants.
func (d *Device) LinkProgram(desc gpu.ProgramDescriptor) (gpu.Program, error) {
	if d.released {
		return nil, gpu.ErrReleased
	}
	vs, ok := desc.Vertex.(*shaderModule)
	if !ok || vs.dev != d {
		return nil, fmt.Errorf("%s: vertex module: %w", desc.Label, gpu.ErrForeignResource)
	}
	fs, ok := desc.Fragment.(*shaderModule)
	if !ok || fs.dev != d {
		return nil, fmt.Errorf("%s: fragment module: %w", desc.Label, gpu.ErrForeignResource)
	}
	if vs.stage != gpu.StageVertex {
		return nil, fmt.Errorf("%s: module %q bound as vertex stage is a %s module", desc.Label, vs.label, vs.stage)
	}
	if fs.stage != gpu.StageFragment {
		return nil, fmt.Errorf("%s: module %q bound as fragment stage is a %s module", desc.Label, fs.label, fs.stage)
	}
	if err := desc.Constants.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %v", desc.Label, err)
	}

	p := &program{dev: d, layout: desc.Layout, consts: desc.Constants}
	var havePos, haveTC bool
	for _, a := range desc.Layout.Attributes {
		if a.Offset+8 > desc.Layout.Stride {
			return nil, fmt.Errorf("%s: attribute %q at offset %d exceeds stride %d", desc.Label, a.Name, a.Offset, desc.Layout.Stride)
		}
		switch a.Location {
		case 0:
			p.posOffset, havePos = a.Offset, true
		case 1:
			p.tcOffset, haveTC = a.Offset, true
		}
	}
	if !havePos || !haveTC {
		return nil, fmt.Errorf("%s: vertex layout must provide @location(0) and @location(1)", desc.Label)
	}
	return p, nil
}

type buffer struct {
	dev   *Device
	usage gpu.BufferUsage
	data  []byte
}

func (b *buffer) Size() int { return len(b.data) }
func (b *buffer) Release()  { b.data = nil }

// CreateBuffer copies contents into a new buffer.
func (d *Device) CreateBuffer(label string, usage gpu.BufferUsage, contents []byte) (gpu.Buffer, error) {
	if d.released {
		return nil, gpu.ErrReleased
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("soft: buffer %q is empty", label)
	}
	return &buffer{dev: d, usage: usage, data: append([]byte(nil), contents...)}, nil
}

type bindings struct {
	prog  *program
	atlas *arrayTexture
	index *indexTexture
}

func (b *bindings) Release() {}

// Bind records the atlas and index map for the program.
func (d *Device) Bind(p gpu.Program, atlas gpu.ArrayTexture, indexMap gpu.IndexTexture) (gpu.Bindings, error) {
	prog, ok := p.(*program)
	if !ok || prog.dev != d {
		return nil, fmt.Errorf("soft: bind program: %w", gpu.ErrForeignResource)
	}
	at, ok := atlas.(*arrayTexture)
	if !ok || at.dev != d {
		return nil, fmt.Errorf("soft: bind atlas: %w", gpu.ErrForeignResource)
	}
	it, ok := indexMap.(*indexTexture)
	if !ok || it.dev != d {
		return nil, fmt.Errorf("soft: bind index map: %w", gpu.ErrForeignResource)
	}
	return &bindings{prog: prog, atlas: at, index: it}, nil
}

// Size returns the color target dimensions.
func (d *Device) Size() (int, int) { return d.width, d.height }

// Resize reallocates the color target. Its contents are cleared.
func (d *Device) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("soft: invalid target size %dx%d", width, height)
	}
	d.width, d.height = width, height
	d.pixels = make([]byte, width*height*4)
	return nil
}

// Capture returns a copy of the color target.
func (d *Device) Capture() (*image.RGBA, error) {
	if d.released {
		return nil, gpu.ErrReleased
	}
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	copy(img.Pix, d.pixels)
	return img, nil
}

// Release drops the color target. Resources created from the device must not
// be used afterwards.
func (d *Device) Release() {
	d.released = true
	d.pixels = nil
}

var (
	_ gpu.Device   = (*Device)(nil)
	_ gpu.Capturer = (*Device)(nil)
	_ gpu.Resizer  = (*Device)(nil)
)
