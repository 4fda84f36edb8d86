// Package render initializes the EGL display a rendering client draws with,
// bound to the allocator's GBM device.
package render

import (
	"errors"
	"unsafe"
)

// Errors.
var (
	ErrUnsupported = errors.New("kms: rendering context requires the gbm build tag")
	ErrNoDevice    = errors.New("kms: allocator has no native device")
	ErrInit        = errors.New("kms: rendering context initialization failed")
)

// Context is an initialized EGL display.
type Context struct {
	display unsafe.Pointer

	// EGL version reported by eglInitialize.
	Major, Minor int
}

// Display is the EGLDisplay handle.
func (c *Context) Display() unsafe.Pointer {
	return c.display
}

// Close terminates the display and releases per-thread EGL state. Calling
// Close more than once is harmless.
func (c *Context) Close() error {
	if c == nil {
		return nil
	}
	c.terminate()
	c.display = nil
	return nil
}
