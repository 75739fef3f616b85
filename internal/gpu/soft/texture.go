package soft

import (
	"fmt"
	"math"

	"tilearray/internal/gpu"
)

type arrayTexture struct {
	dev      *Device
	width    int
	height   int
	layers   int
	filter   gpu.FilterMode
	texels   []byte
	released bool
}

// CreateArrayTexture reserves zeroed storage for every layer.
func (d *Device) CreateArrayTexture(desc gpu.ArrayTextureDescriptor) (gpu.ArrayTexture, error) {
	if d.released {
		return nil, gpu.ErrReleased
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.Layers <= 0 || desc.Layers > gpu.MaxArrayLayers {
		return nil, fmt.Errorf("soft: invalid array texture %dx%dx%d", desc.Width, desc.Height, desc.Layers)
	}
	return &arrayTexture{
		dev:    d,
		width:  desc.Width,
		height: desc.Height,
		layers: desc.Layers,
		filter: desc.Filter,
		texels: make([]byte, desc.Width*desc.Height*4*desc.Layers),
	}, nil
}

func (t *arrayTexture) layerSize() int { return t.width * t.height * 4 }

func (t *arrayTexture) WriteLayer(layer int, pixels []byte) error {
	if t.released {
		return gpu.ErrReleased
	}
	if layer < 0 || layer >= t.layers {
		return fmt.Errorf("soft: layer %d outside [0, %d)", layer, t.layers)
	}
	if len(pixels) != t.layerSize() {
		return fmt.Errorf("soft: layer data is %d bytes, want %d", len(pixels), t.layerSize())
	}
	copy(t.texels[layer*t.layerSize():], pixels)
	return nil
}

func (t *arrayTexture) Release() {
	t.released = true
	t.texels = nil
}

func (t *arrayTexture) texel(layer, x, y int) [4]float64 {
	i := layer*t.layerSize() + (y*t.width+x)*4
	p := t.texels[i : i+4 : i+4]
	return [4]float64{float64(p[0]), float64(p[1]), float64(p[2]), float64(p[3])}
}

// sample reads layer at normalized (u, v) with clamp-to-edge addressing.
func (t *arrayTexture) sample(layer int, u, v float64) [4]uint8 {
	if t.filter == gpu.FilterNearest {
		x := clamp(int(math.Floor(u*float64(t.width))), 0, t.width-1)
		y := clamp(int(math.Floor(v*float64(t.height))), 0, t.height-1)
		c := t.texel(layer, x, y)
		return [4]uint8{uint8(c[0]), uint8(c[1]), uint8(c[2]), uint8(c[3])}
	}

	fx := u*float64(t.width) - 0.5
	fy := v*float64(t.height) - 0.5
	x0, y0 := math.Floor(fx), math.Floor(fy)
	ax, ay := fx-x0, fy-y0
	ix0 := clamp(int(x0), 0, t.width-1)
	ix1 := clamp(int(x0)+1, 0, t.width-1)
	iy0 := clamp(int(y0), 0, t.height-1)
	iy1 := clamp(int(y0)+1, 0, t.height-1)

	c00 := t.texel(layer, ix0, iy0)
	c10 := t.texel(layer, ix1, iy0)
	c01 := t.texel(layer, ix0, iy1)
	c11 := t.texel(layer, ix1, iy1)

	var out [4]uint8
	for i := range out {
		top := c00[i]*(1-ax) + c10[i]*ax
		bottom := c01[i]*(1-ax) + c11[i]*ax
		out[i] = uint8(math.Round(top*(1-ay) + bottom*ay))
	}
	return out
}

type indexTexture struct {
	dev      *Device
	width    int
	height   int
	values   []int32
	released bool
}

// CreateIndexTexture reserves a zero-filled int32 texture.
func (d *Device) CreateIndexTexture(desc gpu.IndexTextureDescriptor) (gpu.IndexTexture, error) {
	if d.released {
		return nil, gpu.ErrReleased
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("soft: invalid index texture %dx%d", desc.Width, desc.Height)
	}
	return &indexTexture{
		dev:    d,
		width:  desc.Width,
		height: desc.Height,
		values: make([]int32, desc.Width*desc.Height),
	}, nil
}

func (t *indexTexture) WriteRegion(x, y, w, h int, data []int32) error {
	if t.released {
		return gpu.ErrReleased
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > t.width || y+h > t.height {
		return fmt.Errorf("soft: region %dx%d at (%d,%d) outside %dx%d", w, h, x, y, t.width, t.height)
	}
	if len(data) != w*h {
		return fmt.Errorf("soft: region data has %d values, want %d", len(data), w*h)
	}
	for row := 0; row < h; row++ {
		copy(t.values[(y+row)*t.width+x:], data[row*w:(row+1)*w])
	}
	return nil
}

func (t *indexTexture) Release() {
	t.released = true
	t.values = nil
}

// load mirrors textureLoad robustness: out-of-bounds reads return zero.
func (t *indexTexture) load(x, y int) int32 {
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return 0
	}
	return t.values[y*t.width+x]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
