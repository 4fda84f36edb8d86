package kms

import (
	"errors"
	"time"

	"github.com/BeatGlow/kms/drm"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// FlipQueueSize is the capacity of the completion queue.
const FlipQueueSize = 16

// FlipCompleted reports that a page flip took effect.
type FlipCompleted struct {
	Buffer   BufferID
	Sequence uint32
	Time     time.Duration // vblank timestamp
	CRTC     uint32
}

// FlipSource reads page flip events from the device descriptor and delivers
// them to a handler. It is a loop.Source.
type FlipSource struct {
	dev     Device
	log     zerolog.Logger
	handler func(FlipCompleted)
	queue   []FlipCompleted
	buf     [drm.EventBufferCapacity]byte
	closed  bool
}

// NewFlipSource returns a source for dev delivering to handler.
func NewFlipSource(dev Device, handler func(FlipCompleted), log zerolog.Logger) *FlipSource {
	return &FlipSource{
		dev:     dev,
		log:     log,
		handler: handler,
		queue:   make([]FlipCompleted, 0, FlipQueueSize),
	}
}

func (s *FlipSource) Fd() int {
	return s.dev.Fd()
}

func (s *FlipSource) Events() int16 {
	return unix.POLLIN | unix.POLLERR | unix.POLLHUP
}

// Dispatch reads and delivers queued events. An error or hang-up on the
// descriptor ends event delivery for good.
func (s *FlipSource) Dispatch(revents int16) bool {
	if s.closed {
		return false
	}
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		s.log.Error().Str("device", s.dev.Name()).Int16("revents", revents).Msg("display device hung up, no more page flip events")
		s.closed = true
		s.queue = s.queue[:0]
		return false
	}
	if revents&unix.POLLIN != 0 {
		s.read()
	}
	s.Drain()
	return true
}

// Closed reports whether the source stopped delivering events.
func (s *FlipSource) Closed() bool {
	return s.closed
}

func (s *FlipSource) read() {
	n, err := s.dev.Read(s.buf[:])
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			s.log.Warn().Err(err).Msg("read display events")
		}
		return
	}
	for _, event := range drm.ParseEvents(s.buf[:n]) {
		switch event.Type {
		case drm.EventFlipComplete:
			s.Push(FlipCompleted{
				Buffer:   BufferID(event.UserData),
				Sequence: event.Sequence,
				Time:     event.Time(),
				CRTC:     event.CrtcID,
			})
		default:
			if debug {
				s.log.Debug().Uint32("type", event.Type).Uint32("sequence", event.Sequence).Msg("ignoring event")
			}
		}
	}
}

// Push queues an event for the next Drain. When the queue is full the oldest
// event is lost.
func (s *FlipSource) Push(event FlipCompleted) {
	if len(s.queue) == FlipQueueSize {
		s.log.Warn().Uint64("buffer", uint64(s.queue[0].Buffer)).Msg("page flip queue full, dropping event")
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:FlipQueueSize-1]
	}
	s.queue = append(s.queue, event)
}

// Drain delivers all queued events.
func (s *FlipSource) Drain() {
	for len(s.queue) > 0 && !s.closed {
		event := s.queue[0]
		s.queue = append(s.queue[:0], s.queue[1:]...)
		s.handler(event)
	}
}

// Close stops delivery.
func (s *FlipSource) Close() {
	s.closed = true
	s.queue = s.queue[:0]
}
