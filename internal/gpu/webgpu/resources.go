package webgpu

import (
	"fmt"

	"github.com/rajveermalviya/go-webgpu/wgpu"

	"tilearray/internal/gpu"
)

type shaderModule struct {
	dev    *Device
	stage  gpu.Stage
	module *wgpu.ShaderModule
}

func (m *shaderModule) Stage() gpu.Stage { return m.stage }

func (m *shaderModule) Release() {
	if m.module != nil {
		m.module.Release()
		m.module = nil
	}
}

// CompileShader creates a WGSL shader module. The returned error carries the
// wgpu diagnostic.
func (d *Device) CompileShader(stage gpu.Stage, label, source string) (gpu.ShaderModule, error) {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		return nil, err
	}
	return &shaderModule{dev: d, stage: stage, module: module}, nil
}

type program struct {
	dev             *Device
	consts          gpu.Constants
	bindGroupLayout *wgpu.BindGroupLayout
	pipeline        *wgpu.RenderPipeline
}

func (p *program) Constants() gpu.Constants { return p.consts }

func (p *program) Release() {
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.bindGroupLayout != nil {
		p.bindGroupLayout.Release()
		p.bindGroupLayout = nil
	}
}

// LinkProgram builds the bind group layout and the render pipeline. wgpu
// validates the stage interface here, so pipeline errors are link errors.
func (d *Device) LinkProgram(desc gpu.ProgramDescriptor) (gpu.Program, error) {
	vs, ok := desc.Vertex.(*shaderModule)
	if !ok || vs.dev != d || vs.stage != gpu.StageVertex {
		return nil, fmt.Errorf("%s: invalid vertex module", desc.Label)
	}
	fs, ok := desc.Fragment.(*shaderModule)
	if !ok || fs.dev != d || fs.stage != gpu.StageFragment {
		return nil, fmt.Errorf("%s: invalid fragment module", desc.Label)
	}

	bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: desc.Label + "_bind_group_layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    gpu.AtlasTextureBinding,
				Visibility: wgpu.ShaderStage_Fragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleType_Float,
					ViewDimension: wgpu.TextureViewDimension_2DArray,
				},
			},
			{
				Binding:    gpu.AtlasSamplerBinding,
				Visibility: wgpu.ShaderStage_Fragment,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingType_Filtering},
			},
			{
				Binding:    gpu.IndexMapBinding,
				Visibility: wgpu.ShaderStage_Fragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleType_Sint,
					ViewDimension: wgpu.TextureViewDimension_2D,
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	pipelineLayout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipeline_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		bgl.Release()
		return nil, err
	}
	defer pipelineLayout.Release()

	attrs := make([]wgpu.VertexAttribute, len(desc.Layout.Attributes))
	for i, a := range desc.Layout.Attributes {
		attrs[i] = wgpu.VertexAttribute{Format: wgpu.VertexFormat_Float32x2, Offset: a.Offset, ShaderLocation: a.Location}
	}

	pipeline, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs.module,
			EntryPoint: gpu.StageVertex.EntryPoint(),
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: desc.Layout.Stride,
				StepMode:    wgpu.VertexStepMode_Vertex,
				Attributes:  attrs,
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs.module,
			EntryPoint: gpu.StageFragment.EntryPoint(),
			Targets: []wgpu.ColorTargetState{{
				Format:    d.format,
				Blend:     &wgpu.BlendState_Replace,
				WriteMask: wgpu.ColorWriteMask_All,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopology_TriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		bgl.Release()
		return nil, err
	}
	return &program{dev: d, consts: desc.Constants, bindGroupLayout: bgl, pipeline: pipeline}, nil
}

type buffer struct {
	dev  *Device
	buf  *wgpu.Buffer
	size int
}

func (b *buffer) Size() int { return b.size }

func (b *buffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// CreateBuffer uploads contents into a vertex or index buffer.
func (d *Device) CreateBuffer(label string, usage gpu.BufferUsage, contents []byte) (gpu.Buffer, error) {
	u := wgpu.BufferUsage_Vertex
	if usage == gpu.BufferIndex {
		u = wgpu.BufferUsage_Index
	}
	buf, err := d.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: contents,
		Usage:    u,
	})
	if err != nil {
		return nil, err
	}
	return &buffer{dev: d, buf: buf, size: len(contents)}, nil
}

type arrayTexture struct {
	dev     *Device
	desc    gpu.ArrayTextureDescriptor
	texture *wgpu.Texture
	view    *wgpu.TextureView
	sampler *wgpu.Sampler
}

// CreateArrayTexture allocates storage for every layer up front. wgpu
// zero-initializes texels that are never written.
func (d *Device) CreateArrayTexture(desc gpu.ArrayTextureDescriptor) (gpu.ArrayTexture, error) {
	texture, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: uint32(desc.Layers),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension_2D,
		Format:        wgpu.TextureFormat_RGBA8Unorm,
		Usage:         wgpu.TextureUsage_TextureBinding | wgpu.TextureUsage_CopyDst,
	})
	if err != nil {
		return nil, err
	}

	view, err := texture.CreateView(&wgpu.TextureViewDescriptor{
		Format:          wgpu.TextureFormat_RGBA8Unorm,
		Dimension:       wgpu.TextureViewDimension_2DArray,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: uint32(desc.Layers),
		Aspect:          wgpu.TextureAspect_All,
	})
	if err != nil {
		texture.Release()
		return nil, err
	}

	filter := wgpu.FilterMode_Nearest
	if desc.Filter == gpu.FilterLinear {
		filter = wgpu.FilterMode_Linear
	}
	sampler, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:   wgpu.AddressMode_ClampToEdge,
		AddressModeV:   wgpu.AddressMode_ClampToEdge,
		AddressModeW:   wgpu.AddressMode_ClampToEdge,
		MagFilter:      filter,
		MinFilter:      filter,
		MipmapFilter:   wgpu.MipmapFilterMode_Nearest,
		MaxAnisotrophy: 1,
	})
	if err != nil {
		view.Release()
		texture.Release()
		return nil, err
	}
	return &arrayTexture{dev: d, desc: desc, texture: texture, view: view, sampler: sampler}, nil
}

func (t *arrayTexture) WriteLayer(layer int, pixels []byte) error {
	if t.texture == nil {
		return gpu.ErrReleased
	}
	if layer < 0 || layer >= t.desc.Layers || len(pixels) != t.desc.Width*t.desc.Height*4 {
		return fmt.Errorf("webgpu: invalid write of %d bytes to layer %d", len(pixels), layer)
	}
	err := t.dev.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  t.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{Z: uint32(layer)},
			Aspect:   wgpu.TextureAspect_All,
		},
		pixels,
		&wgpu.TextureDataLayout{Offset: 0, BytesPerRow: uint32(t.desc.Width * 4), RowsPerImage: uint32(t.desc.Height)},
		&wgpu.Extent3D{Width: uint32(t.desc.Width), Height: uint32(t.desc.Height), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("webgpu: write layer %d: %w", layer, err)
	}
	return nil
}

func (t *arrayTexture) Release() {
	if t.sampler != nil {
		t.sampler.Release()
		t.sampler = nil
	}
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.texture != nil {
		t.texture.Release()
		t.texture = nil
	}
}

type indexTexture struct {
	dev           *Device
	width, height int
	texture       *wgpu.Texture
	view          *wgpu.TextureView
}

// CreateIndexTexture allocates an R32Sint texture. It is only ever read with
// textureLoad, so no sampler exists for it.
func (d *Device) CreateIndexTexture(desc gpu.IndexTextureDescriptor) (gpu.IndexTexture, error) {
	texture, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Label,
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension_2D,
		Format:        wgpu.TextureFormat_R32Sint,
		Usage:         wgpu.TextureUsage_TextureBinding | wgpu.TextureUsage_CopyDst,
	})
	if err != nil {
		return nil, err
	}
	view, err := texture.CreateView(&wgpu.TextureViewDescriptor{
		Format:          wgpu.TextureFormat_R32Sint,
		Dimension:       wgpu.TextureViewDimension_2D,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspect_All,
	})
	if err != nil {
		texture.Release()
		return nil, err
	}
	return &indexTexture{dev: d, width: desc.Width, height: desc.Height, texture: texture, view: view}, nil
}

func (t *indexTexture) WriteRegion(x, y, w, h int, data []int32) error {
	if t.texture == nil {
		return gpu.ErrReleased
	}
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > t.width || y+h > t.height || len(data) != w*h {
		return fmt.Errorf("webgpu: invalid index region %dx%d at (%d,%d)", w, h, x, y)
	}
	err := t.dev.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  t.texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: uint32(x), Y: uint32(y)},
			Aspect:   wgpu.TextureAspect_All,
		},
		wgpu.ToBytes(data),
		&wgpu.TextureDataLayout{Offset: 0, BytesPerRow: uint32(w * 4), RowsPerImage: uint32(h)},
		&wgpu.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("webgpu: write index region %dx%d at (%d,%d): %w", w, h, x, y, err)
	}
	return nil
}

func (t *indexTexture) Release() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.texture != nil {
		t.texture.Release()
		t.texture = nil
	}
}

type bindings struct {
	dev   *Device
	group *wgpu.BindGroup
}

func (b *bindings) Release() {
	if b.group != nil {
		b.group.Release()
		b.group = nil
	}
}

// Bind creates the bind group once; the slot assignment never changes.
func (d *Device) Bind(p gpu.Program, atlas gpu.ArrayTexture, indexMap gpu.IndexTexture) (gpu.Bindings, error) {
	prog, ok := p.(*program)
	if !ok || prog.dev != d {
		return nil, fmt.Errorf("webgpu: bind program: %w", gpu.ErrForeignResource)
	}
	at, ok := atlas.(*arrayTexture)
	if !ok || at.dev != d {
		return nil, fmt.Errorf("webgpu: bind atlas: %w", gpu.ErrForeignResource)
	}
	it, ok := indexMap.(*indexTexture)
	if !ok || it.dev != d {
		return nil, fmt.Errorf("webgpu: bind index map: %w", gpu.ErrForeignResource)
	}

	group, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "tile_bind_group",
		Layout: prog.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: gpu.AtlasTextureBinding, TextureView: at.view},
			{Binding: gpu.AtlasSamplerBinding, Sampler: at.sampler},
			{Binding: gpu.IndexMapBinding, TextureView: it.view},
		},
	})
	if err != nil {
		return nil, err
	}
	return &bindings{dev: d, group: group}, nil
}
