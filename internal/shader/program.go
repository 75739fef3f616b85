// Package shader compiles and links the tile lookup program.
package shader

import (
	"errors"
	"fmt"

	"tilearray/internal/gpu"
	"tilearray/internal/logging"
)

// ErrFatal is matched by every compile and link error. Setup cannot proceed
// without a program.
var ErrFatal = errors.New("shader: fatal setup error")

// CompileError reports a stage that failed to compile. Diagnostic is the
// compiler output, unmodified.
type CompileError struct {
	Stage      gpu.Stage
	Diagnostic string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader: %s stage failed to compile: %s", e.Stage, e.Diagnostic)
}

func (e *CompileError) Is(target error) bool { return target == ErrFatal }

// LinkError reports a program that failed to link. Diagnostic is the linker
// output, unmodified.
type LinkError struct {
	Diagnostic string
}

func (e *LinkError) Error() string {
	return "shader: program failed to link: " + e.Diagnostic
}

func (e *LinkError) Is(target error) bool { return target == ErrFatal }

// VertexLayout is the interleaved layout of geometry.Vertex.
var VertexLayout = gpu.VertexLayout{
	Stride: 16,
	Attributes: []gpu.VertexAttribute{
		{Name: "position", Location: 0, Offset: 0},
		{Name: "tileCoord", Location: 1, Offset: 8},
	},
}

// Program is a linked shader program and the constants it was built with.
type Program struct {
	handle    gpu.Program
	constants gpu.Constants
}

// Compile compiles both stages of src independently and links them.
// A failing stage aborts before linking.
func Compile(dev gpu.Device, src Pair, c gpu.Constants) (*Program, error) {
	stages := []struct {
		stage  gpu.Stage
		source string
	}{
		{gpu.StageVertex, src.Vertex},
		{gpu.StageFragment, src.Fragment},
	}

	modules := make([]gpu.ShaderModule, 0, len(stages))
	defer func() {
		for _, m := range modules {
			m.Release()
		}
	}()

	for _, s := range stages {
		m, err := dev.CompileShader(s.stage, "tile_"+s.stage.String(), s.source)
		if err != nil {
			return nil, &CompileError{Stage: s.stage, Diagnostic: err.Error()}
		}
		modules = append(modules, m)
	}

	handle, err := dev.LinkProgram(gpu.ProgramDescriptor{
		Label:     "tile_program",
		Vertex:    modules[0],
		Fragment:  modules[1],
		Layout:    VertexLayout,
		Constants: c,
	})
	if err != nil {
		return nil, &LinkError{Diagnostic: err.Error()}
	}

	logging.Logger().Debug("shader program linked",
		"grid_w", c.GridWidth, "grid_h", c.GridHeight, "layers", c.LayerCount)
	return &Program{handle: handle, constants: c}, nil
}

// Build generates the source for c and compiles it.
func Build(dev gpu.Device, c gpu.Constants) (*Program, error) {
	src, err := Source(c)
	if err != nil {
		return nil, err
	}
	return Compile(dev, src, c)
}

// Handle returns the device program.
func (p *Program) Handle() gpu.Program { return p.handle }

// Constants returns the constants baked into the program.
func (p *Program) Constants() gpu.Constants { return p.constants }

// Release frees the device program.
func (p *Program) Release() {
	if p.handle != nil {
		p.handle.Release()
		p.handle = nil
	}
}
