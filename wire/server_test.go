package wire

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/loop"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type exported struct {
	id     uint32
	frame  alloc.Dmabuf
	fdOpen bool
}

// fakeExporter keeps one frame on screen, like the scheduler does.
type fakeExporter struct {
	client   kms.Client
	previous kms.Resource
	frames   chan exported
	closed   chan struct{}
}

func (e *fakeExporter) ExportDmabuf(d *alloc.Dmabuf, r kms.Resource) error {
	var st unix.Stat_t
	e.frames <- exported{id: r.(uint32), frame: *d, fdOpen: unix.Fstat(d.Planes[0].Fd, &st) == nil}
	if e.previous != nil {
		e.client.ReleaseBuffer(e.previous)
	}
	e.previous = r
	e.client.FrameComplete()
	return nil
}

func (e *fakeExporter) Size() (int, int) { return 1280, 720 }

func (e *fakeExporter) Close() error {
	close(e.closed)
	return nil
}

func socketpair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	conn := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "wire")
		defer f.Close()
		c, err := net.FileConn(f)
		require.NoError(t, err)
		return c.(*net.UnixConn)
	}
	return conn(fds[0]), conn(fds[1])
}

func runLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New(zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		l.Close()
	})
	return l
}

func testFrame(t *testing.T) *alloc.Dmabuf {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return &alloc.Dmabuf{
		Width:    1280,
		Height:   720,
		Format:   pixel.XRGB8888,
		Modifier: pixel.ModLinear,
		Planes:   []alloc.Plane{{Fd: p[0], Stride: 1280 * 4}},
	}
}

func TestSession(t *testing.T) {
	var (
		l        = runLoop(t)
		exporter = &fakeExporter{frames: make(chan exported, 4), closed: make(chan struct{})}
		server   = NewServer(func(c kms.Client) (Exporter, error) {
			exporter.client = c
			return exporter, nil
		}, l, zerolog.Nop())
		serverConn, clientConn = socketpair(t)
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.ServeConn(ctx, serverConn) }()

	client, err := NewClient(clientConn)
	require.NoError(t, err)
	assert.Equal(t, 1280, client.Width)
	assert.Equal(t, 720, client.Height)

	// First frame completes.
	require.NoError(t, client.SendFrame(1, testFrame(t)))
	got := <-exporter.frames
	assert.Equal(t, uint32(1), got.id)
	assert.Equal(t, uint32(1280), got.frame.Width)
	assert.Equal(t, pixel.ModLinear, got.frame.Modifier)
	assert.Equal(t, uint32(1280*4), got.frame.Planes[0].Stride)
	assert.True(t, got.fdOpen, "plane descriptor valid during export")

	ev, err := client.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Type: MsgFrameComplete}, ev)

	// Second frame releases the first.
	require.NoError(t, client.SendFrame(2, testFrame(t)))
	<-exporter.frames
	ev, err = client.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Type: MsgRelease, BufferID: 1}, ev)
	ev, err = client.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Type: MsgFrameComplete}, ev)

	require.NoError(t, client.Close())
	require.NoError(t, <-served)
	select {
	case <-exporter.closed:
	case <-ctx.Done():
		t.Fatal("exporter not closed")
	}
}

func TestSessionBadFrame(t *testing.T) {
	var (
		l        = runLoop(t)
		exporter = &fakeExporter{frames: make(chan exported, 4), closed: make(chan struct{})}
		server   = NewServer(func(c kms.Client) (Exporter, error) {
			exporter.client = c
			return exporter, nil
		}, l, zerolog.Nop())
		serverConn, clientConn = socketpair(t)
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go server.ServeConn(ctx, serverConn)

	client, err := NewClient(clientConn)
	require.NoError(t, err)
	defer client.Close()

	// Two planes announced, none attached.
	require.NoError(t, client.conn.Send(MsgFrame, &FramePayload{BufferID: 9, Width: 64, Height: 64, PlaneCount: 2}))
	ev, err := client.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Type: MsgRelease, BufferID: 9}, ev)
	assert.Empty(t, exporter.frames, "never reaches the display")
}

func TestSessionRefused(t *testing.T) {
	var (
		l      = runLoop(t)
		server = NewServer(func(kms.Client) (Exporter, error) {
			return nil, kms.ErrNotReady
		}, l, zerolog.Nop())
		serverConn, clientConn = socketpair(t)
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.ServeConn(ctx, serverConn) }()

	_, err := NewClient(clientConn)
	assert.Error(t, err)
	assert.ErrorIs(t, <-served, kms.ErrNotReady)
	clientConn.Close()
}

func TestListen(t *testing.T) {
	var (
		l        = runLoop(t)
		exporter = &fakeExporter{frames: make(chan exported, 4), closed: make(chan struct{})}
		path     = t.TempDir() + "/export.sock"
	)
	server, err := Listen(path, func(c kms.Client) (Exporter, error) {
		exporter.client = c
		return exporter, nil
	}, l, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	client, err := Dial(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1280, client.Width)
	require.NoError(t, client.Close())
	<-exporter.closed

	cancel()
	assert.NoError(t, <-served)
}
