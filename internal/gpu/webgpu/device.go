// Package webgpu implements gpu.Device on wgpu.
//
// The color target is either a window surface swap chain, presented after
// every draw, or an offscreen RGBA8 texture that can be read back.
package webgpu

import (
	"errors"
	"fmt"
	"image"

	"github.com/rajveermalviya/go-webgpu/wgpu"

	"tilearray/internal/gpu"
	"tilearray/internal/logging"
)

// ClearColor is the load color of every frame.
var ClearColor = wgpu.Color{R: 0, G: 0, B: 0, A: 1}

// Device draws with a wgpu device into a surface or an offscreen texture.
type Device struct {
	instance *wgpu.Instance // only set when the device owns the context
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	owned    bool

	surface   *wgpu.Surface
	swapChain *wgpu.SwapChain

	target     *wgpu.Texture
	targetView *wgpu.TextureView

	format        wgpu.TextureFormat
	width, height int
}

// NewSurfaceDevice wraps an existing device and presents to surface. The
// caller keeps ownership of adapter, device, queue and surface.
func NewSurfaceDevice(adapter *wgpu.Adapter, device *wgpu.Device, queue *wgpu.Queue, surface *wgpu.Surface, width, height int) (*Device, error) {
	d := &Device{
		adapter: adapter,
		device:  device,
		queue:   queue,
		surface: surface,
		width:   width,
		height:  height,
	}
	d.format = surface.GetPreferredFormat(adapter)
	if err := d.createSwapChain(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewHeadless creates its own instance, adapter and device and renders into
// an offscreen width x height RGBA8 texture.
func NewHeadless(width, height int) (*Device, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("webgpu: invalid target size %dx%d", width, height)
	}
	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, errors.New("webgpu: failed to create instance")
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreference_HighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: adapter request failed: %w", err)
	}
	props := adapter.GetProperties()
	logging.Logger().Info("gpu adapter selected", "name", props.Name, "driver", props.DriverDescription)

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "TileArrayDevice"})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: device request failed: %w", err)
	}

	d := &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		owned:    true,
		format:   wgpu.TextureFormat_RGBA8Unorm,
		width:    width,
		height:   height,
	}
	if err := d.createTarget(); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

func (d *Device) createSwapChain() error {
	sc, err := d.device.CreateSwapChain(d.surface, &wgpu.SwapChainDescriptor{
		Usage:       wgpu.TextureUsage_RenderAttachment,
		Format:      d.format,
		Width:       uint32(d.width),
		Height:      uint32(d.height),
		PresentMode: wgpu.PresentMode_Fifo,
	})
	if err != nil {
		return fmt.Errorf("webgpu: swap chain creation failed: %w", err)
	}
	d.swapChain = sc
	return nil
}

func (d *Device) createTarget() error {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "offscreen_target",
		Size: wgpu.Extent3D{
			Width:              uint32(d.width),
			Height:             uint32(d.height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension_2D,
		Format:        d.format,
		Usage:         wgpu.TextureUsage_RenderAttachment | wgpu.TextureUsage_CopySrc,
	})
	if err != nil {
		return fmt.Errorf("webgpu: offscreen target creation failed: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return fmt.Errorf("webgpu: offscreen view creation failed: %w", err)
	}
	d.target, d.targetView = tex, view
	return nil
}

// Size returns the color target dimensions.
func (d *Device) Size() (int, int) { return d.width, d.height }

// Resize recreates the swap chain or the offscreen target.
func (d *Device) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return nil
	}
	d.width, d.height = width, height

	if d.surface != nil {
		if d.swapChain != nil {
			d.swapChain.Release()
			d.swapChain = nil
		}
		return d.createSwapChain()
	}

	d.releaseTarget()
	return d.createTarget()
}

// Draw clears the target and issues one indexed draw.
func (d *Device) Draw(cmd gpu.DrawCommand) error {
	prog, ok := cmd.Program.(*program)
	if !ok || prog.dev != d {
		return fmt.Errorf("webgpu: draw program: %w", gpu.ErrForeignResource)
	}
	bg, ok := cmd.Bindings.(*bindings)
	if !ok || bg.dev != d {
		return fmt.Errorf("webgpu: draw bindings: %w", gpu.ErrForeignResource)
	}
	vb, ok := cmd.Vertices.(*buffer)
	if !ok || vb.dev != d {
		return fmt.Errorf("webgpu: draw vertices: %w", gpu.ErrForeignResource)
	}
	ib, ok := cmd.Indices.(*buffer)
	if !ok || ib.dev != d {
		return fmt.Errorf("webgpu: draw indices: %w", gpu.ErrForeignResource)
	}

	view := d.targetView
	if d.surface != nil {
		v, err := d.swapChain.GetCurrentTextureView()
		if err != nil {
			return err
		}
		defer v.Release()
		view = v
	}

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "frame_encoder"})
	if err != nil {
		return err
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOp_Clear,
			StoreOp:    wgpu.StoreOp_Store,
			ClearValue: ClearColor,
		}},
	})
	pass.SetPipeline(prog.pipeline)
	pass.SetBindGroup(0, bg.group, nil)
	pass.SetVertexBuffer(0, vb.buf, 0, wgpu.WholeSize)
	pass.SetIndexBuffer(ib.buf, wgpu.IndexFormat_Uint16, 0, wgpu.WholeSize)
	pass.DrawIndexed(uint32(cmd.IndexCount), 1, 0, 0, 0)
	if err := pass.End(); err != nil {
		return fmt.Errorf("webgpu: end render pass: %w", err)
	}

	cmdBuffer, err := encoder.Finish(&wgpu.CommandBufferDescriptor{})
	if err != nil {
		return err
	}
	defer cmdBuffer.Release()

	d.queue.Submit(cmdBuffer)
	if d.surface != nil {
		d.swapChain.Present()
	}
	return nil
}

// Capture copies the offscreen target into a mappable buffer and reads it
// back. Surface targets cannot be captured.
func (d *Device) Capture() (*image.RGBA, error) {
	if d.target == nil {
		return nil, gpu.ErrCaptureUnsupported
	}

	// Buffer copies need rows aligned to 256 bytes.
	row := uint32(d.width * 4)
	aligned := (row + 255) &^ 255
	size := uint64(aligned) * uint64(d.height)

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "capture_buffer",
		Size:  size,
		Usage: wgpu.BufferUsage_MapRead | wgpu.BufferUsage_CopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: capture buffer: %w", err)
	}
	defer buf.Release()

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "capture_encoder"})
	if err != nil {
		return nil, err
	}
	defer encoder.Release()

	err = encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: d.target, MipLevel: 0, Origin: wgpu.Origin3D{}, Aspect: wgpu.TextureAspect_All},
		&wgpu.ImageCopyBuffer{
			Buffer: buf,
			Layout: wgpu.TextureDataLayout{Offset: 0, BytesPerRow: aligned, RowsPerImage: uint32(d.height)},
		},
		&wgpu.Extent3D{Width: uint32(d.width), Height: uint32(d.height), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return nil, fmt.Errorf("webgpu: capture copy: %w", err)
	}
	cmdBuffer, err := encoder.Finish(&wgpu.CommandBufferDescriptor{})
	if err != nil {
		return nil, err
	}
	defer cmdBuffer.Release()
	d.queue.Submit(cmdBuffer)

	status := wgpu.BufferMapAsyncStatus_Unknown
	err = buf.MapAsync(wgpu.MapMode_Read, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: capture map: %w", err)
	}
	d.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatus_Success {
		return nil, fmt.Errorf("webgpu: capture map failed with status %d", status)
	}
	defer buf.Unmap()

	data := buf.GetMappedRange(0, uint(size))
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	for y := 0; y < d.height; y++ {
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], data[uint32(y)*aligned:])
	}
	return img, nil
}

func (d *Device) releaseTarget() {
	if d.targetView != nil {
		d.targetView.Release()
		d.targetView = nil
	}
	if d.target != nil {
		d.target.Release()
		d.target = nil
	}
}

// Release frees the color target, and the context when the device owns it.
func (d *Device) Release() {
	if d.swapChain != nil {
		d.swapChain.Release()
		d.swapChain = nil
	}
	d.releaseTarget()
	if !d.owned {
		return
	}
	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
	d.owned = false
}

var (
	_ gpu.Device   = (*Device)(nil)
	_ gpu.Capturer = (*Device)(nil)
	_ gpu.Resizer  = (*Device)(nil)
)
