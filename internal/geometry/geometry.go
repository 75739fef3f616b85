// Package geometry builds the screen-filling quad and its tile coordinates.
package geometry

import (
	"encoding/binary"
	"fmt"
	"math"

	"tilearray/internal/gpu"
)

// Vertex is one corner of the quad. Position is in normalized device
// coordinates; TileCoord is the UV scaled by the grid size.
type Vertex struct {
	Position  [2]float32
	TileCoord [2]float32
}

// Grid is the number of index map cells across and down the screen.
type Grid struct {
	Width  int
	Height int
}

// Indices draw the quad as the two triangles of a fan around vertex 0.
var Indices = []uint16{0, 1, 2, 0, 2, 3}

// Quad returns the four corners. Grid row 0 is the top of the screen.
func Quad(g Grid) []Vertex {
	w, h := float32(g.Width), float32(g.Height)
	return []Vertex{
		{Position: [2]float32{-1, 1}, TileCoord: [2]float32{0, 0}},
		{Position: [2]float32{1, 1}, TileCoord: [2]float32{w, 0}},
		{Position: [2]float32{1, -1}, TileCoord: [2]float32{w, h}},
		{Position: [2]float32{-1, -1}, TileCoord: [2]float32{0, h}},
	}
}

// CellAt returns the grid cell a UV in [0,1]² selects, using floor. A UV
// exactly on a cell boundary belongs to the higher cell; u == 1 maps to the
// last cell.
func CellAt(u, v float64, g Grid) (x, y int) {
	x = int(math.Floor(u * float64(g.Width)))
	y = int(math.Floor(v * float64(g.Height)))
	return min(max(x, 0), g.Width-1), min(max(y, 0), g.Height-1)
}

// Encode packs vertices tightly, little endian, matching shader.VertexLayout.
func Encode(verts []Vertex) []byte {
	out := make([]byte, 0, len(verts)*16)
	for _, v := range verts {
		for _, f := range [4]float32{v.Position[0], v.Position[1], v.TileCoord[0], v.TileCoord[1]} {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	return out
}

func encodeIndices(idx []uint16) []byte {
	out := make([]byte, 0, len(idx)*2)
	for _, i := range idx {
		out = binary.LittleEndian.AppendUint16(out, i)
	}
	return out
}

// Buffers hold the quad on the device. They are written once.
type Buffers struct {
	grid     Grid
	vertices gpu.Buffer
	indices  gpu.Buffer
}

// New uploads the quad for g.
func New(dev gpu.Device, g Grid) (*Buffers, error) {
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("geometry: invalid grid %dx%d", g.Width, g.Height)
	}
	vb, err := dev.CreateBuffer("quad_vertices", gpu.BufferVertex, Encode(Quad(g)))
	if err != nil {
		return nil, fmt.Errorf("geometry: vertex buffer: %w", err)
	}
	ib, err := dev.CreateBuffer("quad_indices", gpu.BufferIndex, encodeIndices(Indices))
	if err != nil {
		vb.Release()
		return nil, fmt.Errorf("geometry: index buffer: %w", err)
	}
	return &Buffers{grid: g, vertices: vb, indices: ib}, nil
}

func (b *Buffers) Grid() Grid            { return b.grid }
func (b *Buffers) Vertices() gpu.Buffer { return b.vertices }
func (b *Buffers) Indices() gpu.Buffer  { return b.indices }
func (b *Buffers) IndexCount() int      { return len(Indices) }

// Release frees both buffers.
func (b *Buffers) Release() {
	if b.vertices != nil {
		b.vertices.Release()
		b.vertices = nil
	}
	if b.indices != nil {
		b.indices.Release()
		b.indices = nil
	}
}
