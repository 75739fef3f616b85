package soft

import (
	"encoding/binary"
	"fmt"
	"math"

	"tilearray/internal/gpu"
)

// ClearColor is written to every pixel before drawing.
var ClearColor = [4]uint8{0, 0, 0, 255}

type vertex struct {
	x, y   float64 // framebuffer space
	tu, tv float64 // tile coordinate
}

// Draw clears the target and rasterizes the indexed triangle list.
func (d *Device) Draw(cmd gpu.DrawCommand) error {
	if d.released {
		return gpu.ErrReleased
	}
	prog, ok := cmd.Program.(*program)
	if !ok || prog.dev != d {
		return fmt.Errorf("soft: draw program: %w", gpu.ErrForeignResource)
	}
	b, ok := cmd.Bindings.(*bindings)
	if !ok || b.prog != prog {
		return fmt.Errorf("soft: draw bindings: %w", gpu.ErrForeignResource)
	}
	if b.atlas.released || b.index.released {
		return gpu.ErrReleased
	}
	vb, ok := cmd.Vertices.(*buffer)
	if !ok || vb.dev != d || vb.usage != gpu.BufferVertex {
		return fmt.Errorf("soft: draw vertices: %w", gpu.ErrForeignResource)
	}
	ib, ok := cmd.Indices.(*buffer)
	if !ok || ib.dev != d || ib.usage != gpu.BufferIndex {
		return fmt.Errorf("soft: draw indices: %w", gpu.ErrForeignResource)
	}
	if cmd.IndexCount%3 != 0 || cmd.IndexCount*2 > len(ib.data) {
		return fmt.Errorf("soft: index count %d does not fit buffer of %d bytes", cmd.IndexCount, len(ib.data))
	}

	verts, err := d.decodeVertices(prog, vb.data)
	if err != nil {
		return err
	}

	for i := 0; i < len(d.pixels); i += 4 {
		copy(d.pixels[i:i+4], ClearColor[:])
	}

	for i := 0; i < cmd.IndexCount; i += 3 {
		var tri [3]vertex
		for k := range tri {
			idx := int(binary.LittleEndian.Uint16(ib.data[(i+k)*2:]))
			if idx >= len(verts) {
				return fmt.Errorf("soft: index %d outside %d vertices", idx, len(verts))
			}
			tri[k] = verts[idx]
		}
		d.fillTriangle(tri, b)
	}
	return nil
}

func (d *Device) decodeVertices(p *program, data []byte) ([]vertex, error) {
	stride := int(p.layout.Stride)
	if stride <= 0 || len(data)%stride != 0 {
		return nil, fmt.Errorf("soft: vertex buffer of %d bytes is not a multiple of stride %d", len(data), stride)
	}
	f := func(off int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
	}
	verts := make([]vertex, len(data)/stride)
	for i := range verts {
		base := i * stride
		px, py := f(base+int(p.posOffset)), f(base+int(p.posOffset)+4)
		verts[i] = vertex{
			x:  (px + 1) / 2 * float64(d.width),
			y:  (1 - py) / 2 * float64(d.height),
			tu: f(base + int(p.tcOffset)),
			tv: f(base + int(p.tcOffset) + 4),
		}
	}
	return verts, nil
}

func edge(a, b vertex, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

// fillTriangle shades every pixel whose center lies inside or on the triangle.
// Pixels on a shared edge are shaded twice with the same result.
func (d *Device) fillTriangle(t [3]vertex, b *bindings) {
	area := edge(t[0], t[1], t[2].x, t[2].y)
	if area == 0 {
		return
	}
	minX := clamp(int(math.Floor(math.Min(t[0].x, math.Min(t[1].x, t[2].x)))), 0, d.width-1)
	maxX := clamp(int(math.Ceil(math.Max(t[0].x, math.Max(t[1].x, t[2].x)))), 0, d.width-1)
	minY := clamp(int(math.Floor(math.Min(t[0].y, math.Min(t[1].y, t[2].y)))), 0, d.height-1)
	maxY := clamp(int(math.Ceil(math.Max(t[0].y, math.Max(t[1].y, t[2].y)))), 0, d.height-1)

	const eps = 1e-9
	for py := minY; py <= maxY; py++ {
		cy := float64(py) + 0.5
		for px := minX; px <= maxX; px++ {
			cx := float64(px) + 0.5
			w0 := edge(t[1], t[2], cx, cy) / area
			w1 := edge(t[2], t[0], cx, cy) / area
			w2 := edge(t[0], t[1], cx, cy) / area
			if w0 < -eps || w1 < -eps || w2 < -eps {
				continue
			}
			tu := w0*t[0].tu + w1*t[1].tu + w2*t[2].tu
			tv := w0*t[0].tv + w1*t[1].tv + w2*t[2].tv
			c := shade(b, tu, tv)
			copy(d.pixels[(py*d.width+px)*4:], c[:])
		}
	}
}

// shade is the fragment stage: grid cell, tile id, then the layer sample.
func shade(b *bindings, tu, tv float64) [4]uint8 {
	c := b.prog.consts
	fu, fv := math.Floor(tu), math.Floor(tv)
	cx := clamp(int(fu), 0, c.GridWidth-1)
	cy := clamp(int(fv), 0, c.GridHeight-1)
	id := int(b.index.load(cx, cy))
	layer := clamp(id, 0, min(c.LayerCount, b.atlas.layers)-1)
	return b.atlas.sample(layer, tu-fu, tv-fv)
}
