// Package loop is a single goroutine, poll(2) based event loop.
//
// Descriptors are registered as sources and dispatched on the loop goroutine
// when they become ready. Work from other goroutines enters the loop with Post.
package loop

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned when posting to a closed loop.
var ErrClosed = errors.New("kms: event loop closed")

// Source is a descriptor watched by the loop.
type Source interface {
	// Fd to poll.
	Fd() int

	// Events to poll for. Error and hang-up conditions are always reported.
	Events() int16

	// Dispatch is called on the loop goroutine with the returned events.
	// Returning false removes the source.
	Dispatch(revents int16) bool
}

// Loop dispatches sources and posted functions on one goroutine.
type Loop struct {
	log     zerolog.Logger
	wakefd  int
	sources []Source

	mu     sync.Mutex
	posted []func()
	closed bool
}

// New creates a loop.
func New(log zerolog.Logger) (*Loop, error) {
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Loop{
		log:    log,
		wakefd: wakefd,
	}, nil
}

// Add registers a source. It must be called on the loop goroutine, or before
// the loop runs.
func (l *Loop) Add(s Source) {
	if l.Has(s) {
		return
	}
	l.sources = append(l.sources, s)
}

// Remove unregisters a source. Removing an unknown source returns false.
func (l *Loop) Remove(s Source) bool {
	i := slices.Index(l.sources, s)
	if i < 0 {
		return false
	}
	l.sources = slices.Delete(slices.Clone(l.sources), i, i+1)
	return true
}

// Has reports whether s is registered.
func (l *Loop) Has(s Source) bool {
	return slices.Contains(l.sources, s)
}

// Sources is the number of registered sources.
func (l *Loop) Sources() int {
	return len(l.sources)
}

// Post schedules fn to run on the loop goroutine. It is safe for concurrent
// use.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.posted = append(l.posted, fn)
	return l.wake()
}

func (l *Loop) wake() error {
	var one = [8]byte{1}
	if _, err := unix.Write(l.wakefd, one[:]); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Iterate waits up to timeout for sources to become ready and dispatches them,
// then runs posted functions. A negative timeout waits indefinitely.
func (l *Loop) Iterate(timeout time.Duration) error {
	var (
		sources = l.sources
		fds     = make([]unix.PollFd, 0, len(sources)+1)
		ms      = -1
	)
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds = append(fds, unix.PollFd{Fd: int32(l.wakefd), Events: unix.POLLIN})
	for _, s := range sources {
		fds = append(fds, unix.PollFd{Fd: int32(s.Fd()), Events: s.Events()})
	}

	if _, err := unix.Poll(fds, ms); err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	if fds[0].Revents&unix.POLLIN != 0 {
		var buf [8]byte
		_, _ = unix.Read(l.wakefd, buf[:])
	}

	for i, s := range sources {
		revents := fds[i+1].Revents
		if revents == 0 || !l.Has(s) {
			continue
		}
		if !s.Dispatch(revents) {
			l.log.Debug().Int("fd", s.Fd()).Msg("source removed")
			l.Remove(s)
		}
	}

	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()
	for _, fn := range posted {
		fn()
	}
	return nil
}

// Run iterates until ctx is done and returns the context error.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.closed {
			_ = l.wake()
		}
	})
	defer stop()

	for ctx.Err() == nil {
		if err := l.Iterate(-1); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Close releases the wake descriptor. Functions posted but not yet run are
// discarded. Sources are not closed.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.posted = nil
	l.sources = nil
	return unix.Close(l.wakefd)
}
