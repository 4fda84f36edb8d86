package kms

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/loop"
	"github.com/BeatGlow/kms/render"
	"github.com/BeatGlow/kms/seat"
	"github.com/rs/zerolog"
)

var errAlreadySetUp = errors.New("kms: backend already set up")

// Host is the application embedding the backend.
type Host interface {
	// LoadBackend loads the rendering backend library by name.
	LoadBackend(name string) error

	// InitializeForDisplay hands the rendering context display to the
	// rendering backend. display is nil when no context was created.
	InitializeForDisplay(display unsafe.Pointer) error
}

// Backend presents frames on one display.
type Backend struct {
	config *Config
	host   Host
	loop   *loop.Loop
	log    zerolog.Logger
	params string

	session   *seat.Session
	device    Device
	target    *Target
	allocator alloc.Allocator
	context   *render.Context
	source    *FlipSource
	scheduler *Scheduler
	backlight *Backlight
	view      *ViewBackend
	ready     bool
	torn      bool

	openDevice    func(ctx context.Context) (Device, error)
	openAllocator func(fd int, log zerolog.Logger) (alloc.Allocator, error)
	openContext   func(native unsafe.Pointer) (*render.Context, error)
	openBacklight func(name string) (*Backlight, error)
}

// New returns a backend dispatching on l. A nil config uses DefaultConfig.
func New(config *Config, host Host, l *loop.Loop) *Backend {
	if config == nil {
		config = new(Config)
		*config = DefaultConfig
	}
	b := &Backend{
		config:        config,
		host:          host,
		loop:          l,
		log:           config.Logger,
		openAllocator: alloc.Open,
		openContext:   render.Open,
		openBacklight: OpenBacklight,
	}
	b.openDevice = b.openDeviceNode
	return b
}

func (b *Backend) openDeviceNode(ctx context.Context) (Device, error) {
	if !b.config.Logind {
		return OpenDevice(b.config.Device, b.log)
	}

	session, err := seat.Open(ctx, b.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}
	fd, err := session.TakeDevice(ctx, b.config.Device)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}
	b.session = session
	return drm.NewCard(fd, b.config.Device), nil
}

// Setup brings up the display: it loads the rendering backend, discovers the
// output, opens the allocator and rendering context and starts listening for
// page flip events. params is kept for the host and not interpreted.
//
// On error nothing is registered with the loop; Teardown releases whatever was
// set up.
func (b *Backend) Setup(ctx context.Context, params string) (err error) {
	// Only a Setup that failed before opening the device can be retried.
	if b.ready || b.torn || b.device != nil {
		return setupError("setup", errAlreadySetUp)
	}
	b.params = params

	if err = b.host.LoadBackend(b.config.BackendLibrary); err != nil {
		return setupError("load rendering backend", err)
	}

	if b.device, err = b.openDevice(ctx); err != nil {
		if !errors.Is(err, ErrDeviceOpen) {
			err = fmt.Errorf("%w: %w", ErrDeviceOpen, err)
		}
		return setupError("open device", err)
	}

	if b.target, err = Discover(b.device, b.log); err != nil {
		return setupError("discover display", err)
	}

	if b.allocator, err = b.openAllocator(b.device.Fd(), b.log); err != nil {
		return setupError("open allocator", fmt.Errorf("%w: %w", ErrAllocatorInit, err))
	}

	var display unsafe.Pointer
	if b.config.RenderContext {
		if b.context, err = b.openContext(b.allocator.NativeDevice()); err != nil {
			return setupError("initialize rendering context", fmt.Errorf("%w: %w", ErrContextInit, err))
		}
		display = b.context.Display()
		b.log.Debug().Int("major", b.context.Major).Int("minor", b.context.Minor).Msg("EGL initialized")
	}

	if b.loop == nil {
		return setupError("register event source", fmt.Errorf("%w: no event loop", ErrEventSourceInit))
	}
	b.scheduler = NewScheduler(b.target, b.log)
	b.source = NewFlipSource(b.device, b.scheduler.HandleFlipCompleted, b.log)
	b.loop.Add(b.source)

	if err = b.host.InitializeForDisplay(display); err != nil {
		b.source.Close()
		b.loop.Remove(b.source)
		b.source = nil
		return setupError("initialize rendering backend", err)
	}

	if b.config.BacklightPin != "" {
		if b.backlight, err = b.openBacklight(b.config.BacklightPin); err == nil {
			err = b.backlight.Set(true)
		}
		if err != nil {
			b.log.Warn().Err(err).Msg("backlight")
		}
	}

	b.ready = true
	b.log.Info().Str("output", b.target.String()).Msg("display ready")
	return nil
}

// Device is the opened display controller, nil before Setup.
func (b *Backend) Device() Device { return b.device }

// Target is the discovered output, nil before Setup.
func (b *Backend) Target() *Target { return b.target }

// Scheduler presenting frames, nil before Setup.
func (b *Backend) Scheduler() *Scheduler { return b.scheduler }

// Params passed to Setup.
func (b *Backend) Params() string { return b.params }

// Source is the page flip event source, nil before Setup.
func (b *Backend) Source() *FlipSource { return b.source }

// Teardown releases the display in reverse order of Setup. It may be called
// after a failed Setup and more than once; it must run on the loop goroutine.
func (b *Backend) Teardown() {
	if b.torn {
		return
	}
	b.torn = true
	b.ready = false

	if b.view != nil {
		b.view.Close()
	}
	if b.scheduler != nil {
		b.scheduler.Shutdown()
	}
	if b.source != nil {
		b.source.Close()
		b.loop.Remove(b.source)
	}
	if err := b.backlight.Set(false); err != nil {
		b.log.Warn().Err(err).Msg("backlight")
	}
	if b.context != nil {
		b.context.Close()
	}
	if b.allocator != nil {
		if err := b.allocator.Close(); err != nil {
			b.log.Warn().Err(err).Msg("close allocator")
		}
	}
	if b.device != nil {
		if b.session != nil {
			if err := b.session.ReleaseDevice(context.Background(), b.config.Device); err != nil {
				b.log.Warn().Err(err).Msg("release device")
			}
		}
		if err := b.device.Close(); err != nil {
			b.log.Warn().Err(err).Msg("close device")
		}
	}
	if b.session != nil {
		b.session.Close()
	}
	b.target = nil
	b.log.Debug().Msg("display torn down")
}

// ViewBackend connects a rendering client to the display.
type ViewBackend struct {
	*Exportable
	backend *Backend
	closed  bool
}

// NewViewBackend returns the exportable a client submits frames to, sized to
// the display. Only one view backend can be open at a time.
func (b *Backend) NewViewBackend(client Client) (*ViewBackend, error) {
	if !b.ready {
		return nil, ErrNotReady
	}
	if b.view != nil {
		return nil, errors.New("kms: display already has a view backend")
	}
	b.scheduler.SetClient(client)
	b.view = &ViewBackend{
		Exportable: NewExportable(b.allocator, b.scheduler, client, b.target.Width(), b.target.Height(), b.log),
		backend:    b,
	}
	return b.view, nil
}

// Close detaches the client. Its frames are released and the next view
// backend starts with a modeset.
func (v *ViewBackend) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	v.Exportable.Close()
	v.backend.scheduler.Reset()
	v.backend.scheduler.SetClient(nil)
	v.backend.view = nil
	return nil
}
