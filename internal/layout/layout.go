// Package layout generates tile index maps. Every layout is row major with
// row 0 at the top of the screen.
package layout

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// ErrUnknownLayout is returned by Generate for an unregistered name.
var ErrUnknownLayout = errors.New("layout: unknown layout")

// Fill returns a w x h map holding v everywhere.
func Fill(w, h int, v int32) []int32 {
	cells := make([]int32, w*h)
	for i := range cells {
		cells[i] = v
	}
	return cells
}

// Checker alternates a and b, with a in the top left cell.
func Checker(w, h int, a, b int32) []int32 {
	cells := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				cells[y*w+x] = a
			} else {
				cells[y*w+x] = b
			}
		}
	}
	return cells
}

// Sequential numbers the cells 0, 1, 2... wrapping at layers, so every tile
// graphic appears once before any repeats.
func Sequential(w, h, layers int) []int32 {
	cells := make([]int32, w*h)
	for i := range cells {
		cells[i] = int32(i % layers)
	}
	return cells
}

// Random picks a uniform id in [0, layers) for every cell. The same seed
// always yields the same map.
func Random(w, h, layers int, seed int64) []int32 {
	rng := rand.New(rand.NewSource(seed))
	cells := make([]int32, w*h)
	for i := range cells {
		cells[i] = int32(rng.Intn(layers))
	}
	return cells
}

// Shift adds by to every id modulo layers, in place.
func Shift(cells []int32, layers int, by int) {
	by %= layers
	if by < 0 {
		by += layers
	}
	for i, c := range cells {
		cells[i] = int32((int(c) + by) % layers)
	}
}

// Params are the inputs of a named layout.
type Params struct {
	Width, Height int
	Layers        int
	Seed          int64
}

var generators = map[string]func(Params) []int32{
	"fill":       func(p Params) []int32 { return Fill(p.Width, p.Height, 0) },
	"checker":    func(p Params) []int32 { return Checker(p.Width, p.Height, 0, int32(min(1, p.Layers-1))) },
	"sequential": func(p Params) []int32 { return Sequential(p.Width, p.Height, p.Layers) },
	"random":     func(p Params) []int32 { return Random(p.Width, p.Height, p.Layers, p.Seed) },
}

// Names lists the layouts Generate accepts.
func Names() []string {
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate builds the named layout.
func Generate(name string, p Params) ([]int32, error) {
	gen, ok := generators[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownLayout, name, Names())
	}
	if p.Width <= 0 || p.Height <= 0 || p.Layers <= 0 {
		return nil, fmt.Errorf("layout: invalid parameters %+v", p)
	}
	return gen(p), nil
}
