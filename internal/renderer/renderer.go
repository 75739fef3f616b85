package renderer

import (
	"errors"
	"fmt"

	"tilearray/internal/atlas"
	"tilearray/internal/geometry"
	"tilearray/internal/gpu"
	"tilearray/internal/indexmap"
	"tilearray/internal/logging"
	"tilearray/internal/shader"
)

// State is the renderer lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Released
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrInvalidState is matched by StateError.
	ErrInvalidState = errors.New("renderer: invalid state transition")

	// ErrGridMismatch is returned when the program and geometry disagree on
	// the grid size.
	ErrGridMismatch = errors.New("renderer: shader grid does not match geometry grid")
)

// StateError reports an operation attempted in the wrong state. It is a
// programming error.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("renderer: %s called in state %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// Options configure the renderer.
type Options struct {
	// Grid is the number of index map cells across and down the screen.
	Grid geometry.Grid

	// Layers is the number of tile graphics; TileWidth and TileHeight are
	// the size of each.
	Layers     int
	TileWidth  int
	TileHeight int

	// Filter is the atlas sampling mode.
	Filter gpu.FilterMode

	// InitialMap is the row-major initial index map; nil is all zero.
	InitialMap []int32

	// Shader overrides the generated shader pair.
	Shader *shader.Pair
}

// Renderer draws the screen-filling quad through the two-stage lookup:
// screen position, grid cell, tile id, atlas layer.
type Renderer struct {
	dev   gpu.Device
	opts  Options
	state State

	program  *shader.Program
	geometry *geometry.Buffers
	atlas    *atlas.Atlas
	indexMap *indexmap.Map
	bindings gpu.Bindings
	frames   uint64
}

// New returns an uninitialized renderer bound to dev.
func New(dev gpu.Device, opts Options) *Renderer {
	return &Renderer{dev: dev, opts: opts}
}

// Setup creates a renderer and initializes it.
func Setup(dev gpu.Device, opts Options) (*Renderer, error) {
	r := New(dev, opts)
	if err := r.Init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) constants() gpu.Constants {
	return gpu.Constants{
		GridWidth:  r.opts.Grid.Width,
		GridHeight: r.opts.Grid.Height,
		LayerCount: r.opts.Layers,
	}
}

// Init compiles the program, uploads the geometry, allocates the atlas and
// index map and binds them. The atlas does not need any populated layer.
// Compile and link failures are fatal and returned unchanged.
func (r *Renderer) Init() (err error) {
	if r.state != Uninitialized {
		return &StateError{Op: "Init", State: r.state}
	}
	defer func() {
		if err != nil {
			r.releaseResources()
		}
	}()

	c := r.constants()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("renderer: %w", err)
	}

	if r.opts.Shader != nil {
		r.program, err = shader.Compile(r.dev, *r.opts.Shader, c)
	} else {
		r.program, err = shader.Build(r.dev, c)
	}
	if err != nil {
		return err
	}

	if r.geometry, err = geometry.New(r.dev, r.opts.Grid); err != nil {
		return err
	}

	pc := r.program.Constants()
	if g := r.geometry.Grid(); pc.GridWidth != g.Width || pc.GridHeight != g.Height {
		return fmt.Errorf("%w: shader %dx%d, geometry %dx%d", ErrGridMismatch, pc.GridWidth, pc.GridHeight, g.Width, g.Height)
	}

	r.atlas, err = atlas.Allocate(r.dev, atlas.Descriptor{
		Layers: r.opts.Layers,
		Width:  r.opts.TileWidth,
		Height: r.opts.TileHeight,
		Filter: r.opts.Filter,
	})
	if err != nil {
		return err
	}

	r.indexMap, err = indexmap.New(r.dev, r.opts.Grid.Width, r.opts.Grid.Height, r.opts.Layers, r.opts.InitialMap)
	if err != nil {
		return err
	}

	r.bindings, err = r.dev.Bind(r.program.Handle(), r.atlas.Texture(), r.indexMap.Texture())
	if err != nil {
		return fmt.Errorf("renderer: bind failed: %w", err)
	}

	r.state = Ready
	logging.Logger().Info("renderer ready",
		"grid", fmt.Sprintf("%dx%d", c.GridWidth, c.GridHeight),
		"layers", c.LayerCount,
		"tile", fmt.Sprintf("%dx%d", r.opts.TileWidth, r.opts.TileHeight),
		"filter", r.opts.Filter.String())
	return nil
}

// RenderFrame issues the single draw of the frame. It is only valid in the
// Ready state. With unchanged atlas and index map contents the output is
// identical every call.
func (r *Renderer) RenderFrame() error {
	if r.state != Ready {
		return &StateError{Op: "RenderFrame", State: r.state}
	}
	err := r.dev.Draw(gpu.DrawCommand{
		Program:    r.program.Handle(),
		Bindings:   r.bindings,
		Vertices:   r.geometry.Vertices(),
		Indices:    r.geometry.Indices(),
		IndexCount: r.geometry.IndexCount(),
	})
	if err != nil {
		return fmt.Errorf("renderer: draw failed: %w", err)
	}
	r.frames++
	return nil
}

// State returns the lifecycle state.
func (r *Renderer) State() State { return r.state }

// Atlas returns the texture atlas. Nil before Init.
func (r *Renderer) Atlas() *atlas.Atlas { return r.atlas }

// IndexMap returns the tile index map. Nil before Init.
func (r *Renderer) IndexMap() *indexmap.Map { return r.indexMap }

// Frames returns the number of frames drawn.
func (r *Renderer) Frames() uint64 { return r.frames }

// Device returns the device the renderer draws with.
func (r *Renderer) Device() gpu.Device { return r.dev }

func (r *Renderer) releaseResources() {
	if r.bindings != nil {
		r.bindings.Release()
		r.bindings = nil
	}
	if r.indexMap != nil {
		r.indexMap.Release()
		r.indexMap = nil
	}
	if r.atlas != nil {
		r.atlas.Release()
		r.atlas = nil
	}
	if r.geometry != nil {
		r.geometry.Release()
		r.geometry = nil
	}
	if r.program != nil {
		r.program.Release()
		r.program = nil
	}
}

// Release frees all GPU resources. The renderer cannot be used again; the
// device itself is left to its owner.
func (r *Renderer) Release() {
	if r.state == Released {
		return
	}
	r.releaseResources()
	r.state = Released
}
