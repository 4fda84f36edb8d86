package pattern

import (
	"github.com/BeatGlow/kms"
	"github.com/rs/zerolog"
)

// SubmitFunc hands a painted frame to the display. The frame id is the
// resource the display hands back on release.
type SubmitFunc func(*Frame) error

// Player keeps a display busy: every completed frame is followed by the next
// one. It is driven from a single goroutine, for in-process displays that is
// the display loop.
type Player struct {
	renderer  *Renderer
	submit    SubmitFunc
	limit     int
	log       zerolog.Logger
	presented int
	done      chan struct{}
	err       error
}

var _ kms.Client = (*Player)(nil)

// NewPlayer plays frames from r through submit. A positive limit stops the
// player after that many presented frames.
func NewPlayer(r *Renderer, submit SubmitFunc, limit int, log zerolog.Logger) *Player {
	return &Player{
		renderer: r,
		submit:   submit,
		limit:    limit,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start submits the first frame.
func (p *Player) Start() error {
	if err := p.advance(); err != nil {
		p.stop(err)
		return err
	}
	return nil
}

// Done is closed once the player stopped.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Err is the reason the player stopped, valid once Done is closed.
func (p *Player) Err() error {
	return p.err
}

// Presented is the number of completed frames.
func (p *Player) Presented() int {
	return p.presented
}

// FrameComplete submits the next frame.
func (p *Player) FrameComplete() {
	if p.stopped() {
		return
	}
	p.presented++
	if p.limit > 0 && p.presented >= p.limit {
		p.stop(nil)
		return
	}
	if err := p.advance(); err != nil {
		p.log.Error().Err(err).Int("presented", p.presented).Msg("test pattern stopped")
		p.stop(err)
	}
}

// ReleaseBuffer returns a frame to the renderer.
func (p *Player) ReleaseBuffer(resource kms.Resource) {
	id, ok := resource.(uint32)
	if !ok || !p.renderer.Release(id) {
		p.log.Warn().Interface("resource", resource).Msg("release of unknown frame")
	}
}

func (p *Player) advance() error {
	f, err := p.renderer.Next()
	if err != nil {
		return err
	}
	return p.submit(f)
}

func (p *Player) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Player) stop(err error) {
	if p.stopped() {
		return
	}
	p.err = err
	close(p.done)
}
