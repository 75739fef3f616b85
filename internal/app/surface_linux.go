//go:build linux && !wayland

package app

import (
	"errors"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rajveermalviya/go-webgpu/wgpu"
)

var instanceBackends = wgpu.InstanceBackend_Vulkan

// createSurface wraps the window's X11 handle in a wgpu surface.
func createSurface(instance *wgpu.Instance, window *glfw.Window) (*wgpu.Surface, error) {
	display := glfw.GetX11Display()
	if display == nil {
		return nil, errors.New("no X11 display")
	}

	surface := instance.CreateSurface(&wgpu.SurfaceDescriptor{
		Label: "MainSurface",
		XlibWindow: &wgpu.SurfaceDescriptorFromXlibWindow{
			Display: unsafe.Pointer(display),
			Window:  uint32(window.GetX11Window()),
		},
	})
	if surface == nil {
		return nil, errors.New("CreateSurface returned nil")
	}
	return surface, nil
}
