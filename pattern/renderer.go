package pattern

import (
	"errors"
	"fmt"

	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
	"golang.org/x/sys/unix"
)

var (
	// ErrBusy is returned when every frame is still held by the display.
	ErrBusy = errors.New("pattern: all frames busy")

	// ErrFormat is returned for pixel formats the painter cannot draw.
	ErrFormat = errors.New("pattern: unsupported pixel format")
)

// DefaultFrames is the number of buffers a renderer cycles through.
const DefaultFrames = 3

// Bits per pixel of the formats a renderer can paint.
var formatBPP = map[pixel.Format]uint32{
	pixel.XRGB8888: 32,
	pixel.RGB565:   16,
}

// Device allocates CPU-mappable buffers and exports them as dma-bufs.
type Device interface {
	CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error)
	MapDumb(*drm.DumbBuffer) ([]byte, error)
	UnmapDumb([]byte) error
	DestroyDumb(handle uint32) error
	PrimeHandleToFD(handle, flags uint32) (int, error)
}

var _ Device = (*drm.Card)(nil)

// Frame is one buffer of a renderer.
type Frame struct {
	ID     uint32
	Image  pixel.Image
	Dmabuf *alloc.Dmabuf

	dumb *drm.DumbBuffer
	mem  []byte
	busy bool
}

// Busy reports whether the frame was handed out and not released yet.
func (f *Frame) Busy() bool {
	return f.busy
}

// Renderer paints test frames into dumb buffers.
type Renderer struct {
	dev     Device
	painter *Painter
	format  pixel.Format
	frames  []*Frame
	next    int
	count   int
}

// NewRenderer allocates n buffers of width by height pixels in format on dev.
// XRGB8888 and RGB565 are supported.
func NewRenderer(dev Device, painter *Painter, format pixel.Format, width, height, n int) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("pattern: invalid frame size %dx%d", width, height)
	}
	if _, ok := formatBPP[format]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrFormat, format)
	}
	if n <= 0 {
		n = DefaultFrames
	}

	r := &Renderer{
		dev:     dev,
		painter: painter,
		format:  format,
	}
	for i := 0; i < n; i++ {
		f, err := r.allocate(uint32(i+1), width, height)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.frames = append(r.frames, f)
	}
	return r, nil
}

func (r *Renderer) allocate(id uint32, width, height int) (*Frame, error) {
	dumb, err := r.dev.CreateDumb(uint32(width), uint32(height), formatBPP[r.format])
	if err != nil {
		return nil, fmt.Errorf("pattern: create buffer: %w", err)
	}
	mem, err := r.dev.MapDumb(dumb)
	if err != nil {
		_ = r.dev.DestroyDumb(dumb.Handle)
		return nil, fmt.Errorf("pattern: map buffer: %w", err)
	}
	fd, err := r.dev.PrimeHandleToFD(dumb.Handle, drm.CloseOnExec|drm.ReadWrite)
	if err != nil {
		_ = r.dev.UnmapDumb(mem)
		_ = r.dev.DestroyDumb(dumb.Handle)
		return nil, fmt.Errorf("pattern: export buffer: %w", err)
	}
	return &Frame{
		ID:    id,
		Image: pixel.WrapImage(r.format, mem, width, height, int(dumb.Pitch)),
		Dmabuf: &alloc.Dmabuf{
			Width:    uint32(width),
			Height:   uint32(height),
			Format:   r.format,
			Modifier: pixel.ModLinear,
			Planes:   []alloc.Plane{{Fd: fd, Stride: dumb.Pitch}},
		},
		dumb: dumb,
		mem:  mem,
	}, nil
}

// Format of the frames.
func (r *Renderer) Format() pixel.Format {
	return r.format
}

// Frames in the renderer.
func (r *Renderer) Frames() []*Frame {
	return r.frames
}

// Count is the number of frames painted so far.
func (r *Renderer) Count() int {
	return r.count
}

// Next paints the next free frame and marks it busy.
func (r *Renderer) Next() (*Frame, error) {
	for i := range r.frames {
		f := r.frames[(r.next+i)%len(r.frames)]
		if f.busy {
			continue
		}
		r.next = (r.next + i + 1) % len(r.frames)
		r.painter.Paint(f.Image, r.count)
		r.count++
		f.busy = true
		return f, nil
	}
	return nil, ErrBusy
}

// Release marks frame id as free. It reports false for unknown ids.
func (r *Renderer) Release(id uint32) bool {
	for _, f := range r.frames {
		if f.ID == id {
			f.busy = false
			return true
		}
	}
	return false
}

// Close frees all buffers.
func (r *Renderer) Close() error {
	var errs []error
	for _, f := range r.frames {
		for _, p := range f.Dmabuf.Planes {
			if err := unix.Close(p.Fd); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.dev.UnmapDumb(f.mem); err != nil {
			errs = append(errs, err)
		}
		if err := r.dev.DestroyDumb(f.dumb.Handle); err != nil {
			errs = append(errs, err)
		}
	}
	r.frames = nil
	return errors.Join(errs...)
}
