//go:build !(linux && cgo && gbm)

package render

import "unsafe"

// Supported reports whether this build can create a rendering context.
const Supported = false

// Open always fails, this build has no EGL support.
func Open(native unsafe.Pointer) (*Context, error) {
	if native == nil {
		return nil, ErrNoDevice
	}
	return nil, ErrUnsupported
}

func (c *Context) terminate() {}
