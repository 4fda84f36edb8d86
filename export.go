package kms

import (
	"github.com/BeatGlow/kms/alloc"
	"github.com/rs/zerolog"
)

// Exportable is where a rendering client hands over finished frames.
type Exportable struct {
	log       zerolog.Logger
	allocator alloc.Allocator
	scheduler *Scheduler
	client    Client
	width     int
	height    int
	closed    bool
}

// NewExportable feeds frames imported by allocator to scheduler.
func NewExportable(allocator alloc.Allocator, scheduler *Scheduler, client Client, width, height int, log zerolog.Logger) *Exportable {
	return &Exportable{
		log:       log,
		allocator: allocator,
		scheduler: scheduler,
		client:    client,
		width:     width,
		height:    height,
	}
}

// Size of the frames the display expects.
func (e *Exportable) Size() (width, height int) {
	return e.width, e.height
}

// ExportDmabuf presents a dma-buf frame. The plane descriptors remain owned by
// the caller and may be closed once ExportDmabuf returns. Rejected frames are
// released right away.
func (e *Exportable) ExportDmabuf(frame *alloc.Dmabuf, resource Resource) error {
	if e.closed {
		e.drop(frame, resource, ErrNotReady)
		return ErrNotReady
	}
	if err := frame.Validate(); err != nil {
		e.drop(frame, resource, err)
		return err
	}

	object, err := e.allocator.Import(frame)
	if err != nil {
		e.drop(frame, resource, err)
		return err
	}
	if debug {
		e.log.Debug().Stringer("frame", frame).Msg("frame imported")
	}
	return e.scheduler.Submit(object, resource)
}

// ExportBufferResource would present a shared memory buffer. Only dma-bufs can
// be scanned out, so the resource is released unseen.
func (e *Exportable) ExportBufferResource(resource Resource) error {
	if e.closed {
		e.log.Warn().Err(ErrNotReady).Msg("buffer dropped")
		e.release(resource)
		return ErrNotReady
	}
	e.log.Error().Err(ErrBufferResourceUnsupported).Msg("frame dropped")
	e.release(resource)
	return ErrBufferResourceUnsupported
}

// Close detaches the exportable from the scheduler. Later frames are released
// without being shown.
func (e *Exportable) Close() {
	e.closed = true
}

func (e *Exportable) drop(frame *alloc.Dmabuf, resource Resource, err error) {
	e.log.Warn().Err(err).Stringer("frame", frame).Msg("frame dropped")
	e.release(resource)
}

func (e *Exportable) release(resource Resource) {
	if e.client != nil {
		e.client.ReleaseBuffer(resource)
	}
}
