//go:build linux && cgo && gbm

package render

/*
#cgo pkg-config: egl
#include <stddef.h>
#include <EGL/egl.h>
#include <EGL/eglext.h>

#ifndef EGL_PLATFORM_GBM_KHR
#define EGL_PLATFORM_GBM_KHR 0x31D7
#endif

static EGLDisplay get_display(void *native) {
	PFNEGLGETPLATFORMDISPLAYEXTPROC get_platform_display =
		(PFNEGLGETPLATFORMDISPLAYEXTPROC) eglGetProcAddress("eglGetPlatformDisplayEXT");
	if (get_platform_display)
		return get_platform_display(EGL_PLATFORM_GBM_KHR, native, NULL);
	return eglGetDisplay((EGLNativeDisplayType) native);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Supported reports whether this build can create a rendering context.
const Supported = true

// Open an EGL display for the native GBM device. The platform display
// extension is used when the EGL implementation exports it.
func Open(native unsafe.Pointer) (*Context, error) {
	if native == nil {
		return nil, ErrNoDevice
	}

	display := C.get_display(native)
	if display == nil {
		C.eglReleaseThread()
		return nil, fmt.Errorf("%w: no EGL display", ErrInit)
	}

	var major, minor C.EGLint
	if C.eglInitialize(display, &major, &minor) == 0 {
		err := fmt.Errorf("%w: eglInitialize: error %#x", ErrInit, int(C.eglGetError()))
		C.eglTerminate(display)
		C.eglReleaseThread()
		return nil, err
	}

	return &Context{
		display: unsafe.Pointer(display),
		Major:   int(major),
		Minor:   int(minor),
	}, nil
}

func (c *Context) terminate() {
	if c.display != nil {
		C.eglTerminate(C.EGLDisplay(c.display))
	}
	C.eglReleaseThread()
}
