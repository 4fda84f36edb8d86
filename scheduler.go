package kms

import (
	"fmt"

	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog"
)

// Client receives presentation feedback.
type Client interface {
	// FrameComplete is called when the last submitted frame is on screen
	// and the client may render the next one.
	FrameComplete()

	// ReleaseBuffer returns a frame the display no longer reads from.
	ReleaseBuffer(Resource)
}

// State of the Scheduler.
type State int

// Scheduler states.
const (
	Uninitialized State = iota
	ModesetPending
	Steady
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ModesetPending:
		return "modeset pending"
	case Steady:
		return "steady"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats are frame counters.
type Stats struct {
	Submitted uint64
	Presented uint64
	Dropped   uint64
	Modesets  uint64
}

// Scheduler presents buffers on a Target. One buffer is on screen
// (committed) and at most one page flip is in flight.
type Scheduler struct {
	log       zerolog.Logger
	target    *Target
	client    Client
	state     State
	nextID    BufferID
	pending   map[BufferID]*Buffer
	committed *Buffer
	stats     Stats
	closed    bool
}

// NewScheduler returns a scheduler for target. Without a target all frames are
// refused.
func NewScheduler(target *Target, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		log:     log,
		target:  target,
		pending: make(map[BufferID]*Buffer),
	}
	if target != nil {
		s.state = ModesetPending
	}
	return s
}

// SetClient sets the receiver of presentation feedback.
func (s *Scheduler) SetClient(client Client) {
	s.client = client
}

// State of the scheduler.
func (s *Scheduler) State() State { return s.state }

// Committed is the buffer on screen, if any.
func (s *Scheduler) Committed() *Buffer { return s.committed }

// Pending is the number of page flips in flight.
func (s *Scheduler) Pending() int { return len(s.pending) }

// Stats returns the frame counters.
func (s *Scheduler) Stats() Stats { return s.stats }

// Submit presents an imported buffer. The first buffer performs the modeset,
// every buffer is then page flipped. On error the frame is dropped: the
// buffer is destroyed and the resource released, but the client is not told
// the frame completed.
func (s *Scheduler) Submit(object *alloc.Buffer, resource Resource) error {
	s.stats.Submitted++
	s.nextID++
	b := &Buffer{
		ID:       s.nextID,
		Object:   object,
		Resource: resource,
	}

	if err := s.submit(b); err != nil {
		s.stats.Dropped++
		s.log.Warn().Err(err).Uint64("buffer", uint64(b.ID)).Msg("frame dropped")
		s.destroy(b)
		return err
	}
	return nil
}

func (s *Scheduler) submit(b *Buffer) error {
	if s.closed || s.state == Uninitialized {
		return ErrNotReady
	}
	if len(s.pending) > 0 {
		return ErrFlipPending
	}

	withModifier, err := s.useModifier(b.Object.Modifier)
	if err != nil {
		return err
	}

	dev := s.target.Device
	if b.FB, err = dev.AddFB2(b.Object.Framebuffer(withModifier)); err != nil {
		return fmt.Errorf("kms: register framebuffer: %w", err)
	}

	if s.state == ModesetPending {
		if err = dev.SetCrtc(s.target.CrtcID, b.FB, 0, 0, []uint32{s.target.ConnectorID}, &s.target.Mode); err != nil {
			// Stay in ModesetPending, the next frame tries again.
			return fmt.Errorf("kms: modeset %s: %w", s.target.Mode.String(), err)
		}
		s.state = Steady
		s.stats.Modesets++
		s.log.Info().Str("mode", s.target.Mode.String()).Uint32("fb", b.FB).Msg("modeset")

		if err = s.flip(b); err != nil {
			// The buffer is scanned out already, there just won't be an
			// event for it.
			s.log.Debug().Err(err).Msg("no page flip after modeset")
			s.present(b)
		}
		return nil
	}

	return s.flip(b)
}

// useModifier decides whether the modifier is passed to AddFB2.
func (s *Scheduler) useModifier(modifier uint64) (bool, error) {
	switch {
	case modifier == pixel.ModInvalid:
		return false, nil
	case s.target.ModifiersSupported:
		return true, nil
	case modifier == pixel.ModLinear:
		// Linear is the implicit layout without modifiers.
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrModifierUnsupported, pixel.ModifierString(modifier))
	}
}

func (s *Scheduler) flip(b *Buffer) error {
	s.pending[b.ID] = b
	if err := s.target.Device.PageFlip(s.target.CrtcID, b.FB, drm.PageFlipEvent, uint64(b.ID)); err != nil {
		delete(s.pending, b.ID)
		return fmt.Errorf("kms: page flip: %w", err)
	}
	if debug {
		s.log.Debug().Uint64("buffer", uint64(b.ID)).Uint32("fb", b.FB).Msg("page flip queued")
	}
	return nil
}

// HandleFlipCompleted retires the previously committed buffer and commits the
// flipped one.
func (s *Scheduler) HandleFlipCompleted(event FlipCompleted) {
	b, ok := s.pending[event.Buffer]
	if !ok {
		s.log.Warn().Uint64("buffer", uint64(event.Buffer)).Msg("page flip completed for unknown buffer")
		return
	}
	delete(s.pending, event.Buffer)
	if debug {
		s.log.Debug().Uint64("buffer", uint64(b.ID)).Uint32("sequence", event.Sequence).Dur("time", event.Time).Msg("page flip completed")
	}
	s.present(b)
}

func (s *Scheduler) present(b *Buffer) {
	if previous := s.committed; previous != nil {
		s.destroy(previous)
	}
	s.committed = b
	s.stats.Presented++
	if s.client != nil {
		s.client.FrameComplete()
	}
}

// destroy removes the framebuffer, frees the buffer object and returns the
// resource to the client. Destroying a buffer twice does nothing.
func (s *Scheduler) destroy(b *Buffer) {
	if b.destroyed {
		return
	}
	b.destroyed = true
	if b.FB != 0 {
		if err := s.target.Device.RmFB(b.FB); err != nil {
			s.log.Warn().Err(err).Uint32("fb", b.FB).Msg("remove framebuffer")
		}
	}
	if b.Object != nil {
		b.Object.Release()
	}
	if s.client != nil {
		s.client.ReleaseBuffer(b.Resource)
	}
}

// Reset destroys all buffers. The next frame performs a modeset again.
func (s *Scheduler) Reset() {
	for id, b := range s.pending {
		delete(s.pending, id)
		s.destroy(b)
	}
	if s.committed != nil {
		s.destroy(s.committed)
		s.committed = nil
	}
	if s.state == Steady {
		s.state = ModesetPending
	}
}

// Shutdown destroys all buffers and refuses further frames. It may be called
// more than once.
func (s *Scheduler) Shutdown() {
	if s.closed {
		return
	}
	s.Reset()
	s.closed = true
}
