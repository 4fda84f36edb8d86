package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/BeatGlow/kms"
	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/loop"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Exporter presents frames of one client.
type Exporter interface {
	ExportDmabuf(*alloc.Dmabuf, kms.Resource) error
	Size() (width, height int)
	Close() error
}

// OpenFunc attaches a client to the display. It runs on the loop goroutine.
type OpenFunc func(kms.Client) (Exporter, error)

// ViewBackends attaches clients to view backends of b.
func ViewBackends(b *kms.Backend) OpenFunc {
	return func(client kms.Client) (Exporter, error) {
		view, err := b.NewViewBackend(client)
		if err != nil {
			return nil, err
		}
		return view, nil
	}
}

// Server accepts rendering clients.
type Server struct {
	log      zerolog.Logger
	open     OpenFunc
	loop     *loop.Loop
	listener *net.UnixListener
}

// Listen on a unix seqpacket socket at path. A stale socket file is removed.
func Listen(path string, open OpenFunc, l *loop.Loop, log zerolog.Logger) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	listener, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, err
	}
	s := NewServer(open, l, log)
	s.listener = listener
	return s, nil
}

// NewServer returns a server without listener, see ServeConn.
func NewServer(open OpenFunc, l *loop.Loop, log zerolog.Logger) *Server {
	return &Server{
		log:  log,
		open: open,
		loop: l,
	}
}

// Addr is the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts clients until ctx is done, then waits for open sessions to end.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	var wg conc.WaitGroup
	defer wg.Wait()

	for {
		c, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Go(func() {
			if err := s.ServeConn(ctx, c); err != nil {
				s.log.Warn().Err(err).Msg("client session")
			}
		})
	}
}

// Close the listener.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// ServeConn runs a client session on c until the client disconnects or ctx is
// done. The connection is closed on return.
func (s *Server) ServeConn(ctx context.Context, c *net.UnixConn) error {
	var (
		conn = NewConn(c)
		sess = &session{conn: conn, log: s.log, out: make(chan outgoing, 64), done: make(chan struct{})}
	)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	hello, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("kms: read hello: %w", err)
	}
	hello.CloseFds()
	if hello.Type != MsgHello {
		return fmt.Errorf("%w: expected hello, got %#02x", ErrProtocol, hello.Type)
	}

	exporter, err := s.attach(ctx, sess)
	if err != nil {
		_ = conn.Send(MsgError, nil)
		return err
	}
	width, height := exporter.Size()
	if err = conn.Send(MsgHello, &Hello{Width: uint32(width), Height: uint32(height)}); err != nil {
		s.post(func() { exporter.Close() })
		return err
	}
	s.log.Info().Int("width", width).Int("height", height).Msg("client attached")

	var wg conc.WaitGroup
	wg.Go(func() { sess.write(ctx) })
	defer func() {
		// Detach on the loop so no callback races the writer shutdown.
		if !s.post(func() {
			exporter.Close()
			close(sess.done)
		}) {
			close(sess.done)
		}
		wg.Wait()
	}()

	for {
		m, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.log.Info().Msg("client detached")
				return nil
			}
			return err
		}
		if m.Type != MsgFrame {
			m.CloseFds()
			s.log.Warn().Uint8("type", m.Type).Msg("unexpected message")
			continue
		}

		id, frame, err := m.Frame()
		if err != nil {
			m.CloseFds()
			s.log.Warn().Err(err).Uint32("buffer", id).Msg("bad frame")
			sess.ReleaseBuffer(id)
			continue
		}
		if !s.post(func() {
			defer m.CloseFds()
			_ = exporter.ExportDmabuf(frame, id)
		}) {
			m.CloseFds()
			return nil
		}
	}
}

func (s *Server) attach(ctx context.Context, sess *session) (Exporter, error) {
	type result struct {
		exporter Exporter
		err      error
	}
	ch := make(chan result, 1)
	if !s.post(func() {
		exporter, err := s.open(sess)
		ch <- result{exporter, err}
	}) {
		return nil, loop.ErrClosed
	}
	select {
	case r := <-ch:
		return r.exporter, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) post(fn func()) bool {
	if err := s.loop.Post(fn); err != nil {
		s.log.Debug().Err(err).Msg("event loop gone")
		return false
	}
	return true
}

type outgoing struct {
	typ     uint8
	payload any
}

// session is the kms.Client of a connection. Its callbacks run on the loop
// goroutine and hand messages to the writer.
type session struct {
	conn *Conn
	log  zerolog.Logger
	out  chan outgoing
	done chan struct{}
}

func (s *session) FrameComplete() {
	s.send(outgoing{typ: MsgFrameComplete})
}

func (s *session) ReleaseBuffer(r kms.Resource) {
	id, ok := r.(uint32)
	if !ok {
		s.log.Warn().Interface("resource", r).Msg("release of foreign resource")
		return
	}
	s.send(outgoing{typ: MsgRelease, payload: &Release{BufferID: id}})
}

func (s *session) send(m outgoing) {
	select {
	case s.out <- m:
	default:
		s.log.Warn().Uint8("type", m.typ).Msg("client not reading, message dropped")
	}
}

func (s *session) write(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.out:
			if err := s.conn.Send(m.typ, m.payload); err != nil {
				s.log.Debug().Err(err).Msg("send to client")
			}
		case <-s.done:
			// Flush what the detach released.
			for {
				select {
				case m := <-s.out:
					_ = s.conn.Send(m.typ, m.payload)
				default:
					return
				}
			}
		}
	}
}
