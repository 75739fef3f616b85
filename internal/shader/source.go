package shader

import (
	"bytes"
	"fmt"
	"text/template"

	"tilearray/internal/gpu"
)

// Pair holds the WGSL source of both stages.
type Pair struct {
	Vertex   string
	Fragment string
}

const vertexTemplate = `
struct VertexInput {
    @location(0) position: vec2<f32>,
    @location(1) tileCoord: vec2<f32>,
}

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) tileCoord: vec2<f32>,
}

@vertex
fn vs_main(in: VertexInput) -> VertexOutput {
    var out: VertexOutput;
    out.position = vec4<f32>(in.position, 0.0, 1.0);
    out.tileCoord = in.tileCoord;
    return out;
}
`

// The grid constants must match the tile coordinates of the quad geometry.
// Cell selection uses floor; the layer is clamped so an out-of-range id
// never reaches the array fetch.
const fragmentTemplate = `
const GRID_W: i32 = {{.GridWidth}};
const GRID_H: i32 = {{.GridHeight}};
const LAYER_COUNT: i32 = {{.LayerCount}};

@group(0) @binding({{.AtlasTexture}}) var atlas: texture_2d_array<f32>;
@group(0) @binding({{.AtlasSampler}}) var atlasSampler: sampler;
@group(0) @binding({{.IndexMap}}) var indexMap: texture_2d<i32>;

struct FragmentInput {
    @location(0) tileCoord: vec2<f32>,
}

@fragment
fn fs_main(in: FragmentInput) -> @location(0) vec4<f32> {
    let base = floor(in.tileCoord);
    let cell = clamp(vec2<i32>(base), vec2<i32>(0, 0), vec2<i32>(GRID_W - 1, GRID_H - 1));
    let tileId = textureLoad(indexMap, cell, 0).r;
    let layer = clamp(tileId, 0, LAYER_COUNT - 1);
    return textureSample(atlas, atlasSampler, in.tileCoord - base, layer);
}
`

var fragmentTmpl = template.Must(template.New("fragment").Parse(fragmentTemplate))

// Source generates the shader pair for the given constants.
func Source(c gpu.Constants) (Pair, error) {
	if err := c.Validate(); err != nil {
		return Pair{}, err
	}
	var buf bytes.Buffer
	err := fragmentTmpl.Execute(&buf, struct {
		gpu.Constants
		AtlasTexture, AtlasSampler, IndexMap int
	}{c, gpu.AtlasTextureBinding, gpu.AtlasSamplerBinding, gpu.IndexMapBinding})
	if err != nil {
		return Pair{}, fmt.Errorf("shader: render fragment source: %w", err)
	}
	return Pair{Vertex: vertexTemplate, Fragment: buf.String()}, nil
}
