//go:build !darwin && !(linux && !wayland)

package app

import (
	"errors"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rajveermalviya/go-webgpu/wgpu"
)

var instanceBackends = wgpu.InstanceBackend_Vulkan

// createSurface fails here: window surfaces exist for macOS and X11 only.
// Other platforms render with --headless.
func createSurface(*wgpu.Instance, *glfw.Window) (*wgpu.Surface, error) {
	return nil, errors.New("window surfaces are not supported on this platform")
}
