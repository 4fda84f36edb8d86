package alloc

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/BeatGlow/kms/drm"
	"github.com/rs/zerolog"
)

// PrimeDevice is the part of a DRM device the PRIME allocator needs.
type PrimeDevice interface {
	PrimeFDToHandle(fd int) (uint32, error)
	GemClose(handle uint32) error
}

// Prime imports dma-bufs with DRM_IOCTL_PRIME_FD_TO_HANDLE.
//
// Importing the same dma-buf twice yields the same GEM handle, and a client
// typically cycles a small set of buffers, so handles are reference counted and
// only closed when the last buffer using them is released.
type Prime struct {
	dev     PrimeDevice
	log     zerolog.Logger
	mu      sync.Mutex
	handles map[uint32]int
}

// NewPrime returns a PRIME allocator for dev.
func NewPrime(dev PrimeDevice, log zerolog.Logger) *Prime {
	return &Prime{
		dev:     dev,
		log:     log,
		handles: make(map[uint32]int),
	}
}

func (p *Prime) Import(d *Dmabuf) (*Buffer, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		handles [drm.MaxPlanes]uint32
		n       int
	)
	for i, plane := range d.Planes {
		handle, err := p.dev.PrimeFDToHandle(plane.Fd)
		if err != nil {
			p.unref(handles[:n])
			return nil, fmt.Errorf("kms: import plane %d: %w", i, err)
		}
		handles[i] = handle
		p.handles[handle]++
		n++
	}

	return NewBuffer(d, handles, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.unref(handles[:n])
	}), nil
}

// unref drops one reference per plane. Planes of one buffer may share a
// handle, each plane holds its own reference.
func (p *Prime) unref(handles []uint32) {
	for _, handle := range handles {
		refs, ok := p.handles[handle]
		if !ok {
			// Closed with the allocator.
			continue
		}
		if refs > 1 {
			p.handles[handle] = refs - 1
			continue
		}
		delete(p.handles, handle)
		if err := p.dev.GemClose(handle); err != nil {
			p.log.Warn().Err(err).Uint32("handle", handle).Msg("close GEM handle")
		}
	}
}

// Handles is the number of GEM handles currently open.
func (p *Prime) Handles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// NativeDevice is nil, PRIME has no device object a rendering context can use.
func (p *Prime) NativeDevice() unsafe.Pointer {
	return nil
}

// Close releases handles still referenced by unreleased buffers.
func (p *Prime) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.handles); n > 0 {
		p.log.Warn().Int("handles", n).Msg("closing allocator with buffers outstanding")
	}
	for handle := range p.handles {
		_ = p.dev.GemClose(handle)
		delete(p.handles, handle)
	}
	return nil
}
