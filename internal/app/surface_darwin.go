//go:build darwin

package app

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa -framework QuartzCore -framework Metal

#import <Cocoa/Cocoa.h>
#import <QuartzCore/CAMetalLayer.h>
#import <Metal/Metal.h>

void* setupMetalLayer(void* nsWindow) {
    if (nsWindow == NULL) {
        return NULL;
    }

    NSWindow* window = (__bridge NSWindow*)nsWindow;
    NSView* view = [window contentView];

    if (view == nil) {
        return NULL;
    }

    // Enable layer backing
    [view setWantsLayer:YES];

    // Create and configure Metal layer
    CAMetalLayer* metalLayer = [CAMetalLayer layer];
    metalLayer.device = MTLCreateSystemDefaultDevice();
    metalLayer.pixelFormat = MTLPixelFormatBGRA8Unorm;
    metalLayer.framebufferOnly = YES;
    metalLayer.frame = view.bounds;
    metalLayer.contentsScale = [window backingScaleFactor];

    // Set the layer
    [view setLayer:metalLayer];

    return (__bridge void*)metalLayer;
}
*/
import "C"

import (
	"errors"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rajveermalviya/go-webgpu/wgpu"
)

var instanceBackends = wgpu.InstanceBackend_Metal

// createSurface backs the window's content view with a CAMetalLayer and
// wraps it in a wgpu surface.
func createSurface(instance *wgpu.Instance, window *glfw.Window) (*wgpu.Surface, error) {
	nsWindow := window.GetCocoaWindow()
	if nsWindow == nil {
		return nil, errors.New("window has no Cocoa handle")
	}

	metalLayer := C.setupMetalLayer(nsWindow)
	if metalLayer == nil {
		return nil, errors.New("metal layer setup failed")
	}

	surface := instance.CreateSurface(&wgpu.SurfaceDescriptor{
		Label: "MainSurface",
		MetalLayer: &wgpu.SurfaceDescriptorFromMetalLayer{
			Layer: unsafe.Pointer(metalLayer),
		},
	})
	if surface == nil {
		return nil, errors.New("CreateSurface returned nil")
	}
	return surface, nil
}
