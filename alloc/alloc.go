// Package alloc imports dma-buf frames produced by a rendering client as
// buffer objects the display controller can scan out.
//
// Two allocators are available. The default one talks PRIME directly to the
// DRM device. Building with the gbm tag uses libgbm instead, which also provides
// the native device the EGL rendering context is bound to.
package alloc

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
)

// Errors.
var (
	ErrPlaneCount  = errors.New("kms: plane count out of range")
	ErrUnsupported = errors.New("kms: allocator not supported by device")
	ErrFormat      = errors.New("kms: invalid buffer geometry")
)

// Allocator imports client frames as scanout buffers. An Allocator is opened
// against a DRM device descriptor that must outlive it.
type Allocator interface {
	// Import a dma-buf frame. The plane descriptors stay owned by the caller.
	Import(*Dmabuf) (*Buffer, error)

	// NativeDevice is the platform device the rendering context binds to, or
	// nil if the allocator has none.
	NativeDevice() unsafe.Pointer

	// Close the allocator. Buffers must be released first.
	Close() error
}

// Plane of a dma-buf.
type Plane struct {
	Fd     int
	Stride uint32
	Offset uint32
}

// Dmabuf describes a frame exported by the rendering client. One modifier
// applies to every plane; formats with a modifier per plane can not be
// described.
type Dmabuf struct {
	Width    uint32
	Height   uint32
	Format   pixel.Format
	Modifier uint64
	Planes   []Plane
}

// HasModifier reports whether the client supplied an explicit modifier.
func (d *Dmabuf) HasModifier() bool {
	return d.Modifier != pixel.ModInvalid
}

// Validate checks the descriptor before anything is handed to the kernel.
func (d *Dmabuf) Validate() error {
	if n := len(d.Planes); n == 0 || n > drm.MaxPlanes {
		return fmt.Errorf("%w: %d", ErrPlaneCount, n)
	}
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("%w: %dx%d", ErrFormat, d.Width, d.Height)
	}
	for i, p := range d.Planes {
		if p.Fd < 0 {
			return fmt.Errorf("%w: plane %d has no descriptor", ErrFormat, i)
		}
	}
	return nil
}

func (d *Dmabuf) String() string {
	return fmt.Sprintf("%dx%d %s (%s, %d planes)", d.Width, d.Height, d.Format, pixel.ModifierString(d.Modifier), len(d.Planes))
}

// Buffer is an imported buffer object.
type Buffer struct {
	Width    uint32
	Height   uint32
	Format   pixel.Format
	Modifier uint64
	Planes   int
	Handles  [drm.MaxPlanes]uint32
	Strides  [drm.MaxPlanes]uint32
	Offsets  [drm.MaxPlanes]uint32

	release  func()
	released bool
}

// NewBuffer describes an imported buffer; release frees the underlying GPU
// memory and is called at most once.
func NewBuffer(d *Dmabuf, handles [drm.MaxPlanes]uint32, release func()) *Buffer {
	b := &Buffer{
		Width:    d.Width,
		Height:   d.Height,
		Format:   d.Format,
		Modifier: d.Modifier,
		Planes:   len(d.Planes),
		Handles:  handles,
		release:  release,
	}
	for i, p := range d.Planes {
		b.Strides[i] = p.Stride
		b.Offsets[i] = p.Offset
	}
	return b
}

// Framebuffer fills in the AddFB2 request for this buffer. The modifier is
// only passed when withModifier is set.
func (b *Buffer) Framebuffer(withModifier bool) *drm.Framebuffer {
	fb := &drm.Framebuffer{
		Width:   b.Width,
		Height:  b.Height,
		Format:  uint32(b.Format),
		Handles: b.Handles,
		Pitches: b.Strides,
		Offsets: b.Offsets,
	}
	if withModifier {
		fb.Flags |= drm.FBModifiers
		for i := 0; i < b.Planes; i++ {
			fb.Modifiers[i] = b.Modifier
		}
	}
	return fb
}

// Release the GPU memory. Subsequent calls do nothing.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	if b.release != nil {
		b.release()
	}
}

// Released reports whether Release was called.
func (b *Buffer) Released() bool {
	return b.released
}
