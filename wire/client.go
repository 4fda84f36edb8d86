package wire

import (
	"context"
	"fmt"
	"net"

	"github.com/BeatGlow/kms/alloc"
)

// Event received by a client.
type Event struct {
	Type     uint8
	BufferID uint32 // for MsgRelease
}

// Client submits frames to a display server.
type Client struct {
	conn   *Conn
	Width  int
	Height int
}

// Dial connects to the server listening at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unixpacket", path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	client, err := NewClient(c.(*net.UnixConn))
	if err != nil {
		c.Close()
		return nil, err
	}
	return client, nil
}

// NewClient performs the handshake on c.
func NewClient(c *net.UnixConn) (*Client, error) {
	conn := NewConn(c)
	if err := conn.Send(MsgHello, nil); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}
	m, err := conn.Receive()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	m.CloseFds()
	switch m.Type {
	case MsgHello:
	case MsgError:
		return nil, fmt.Errorf("kms: display refused client")
	default:
		return nil, fmt.Errorf("%w: expected hello, got %#02x", ErrProtocol, m.Type)
	}

	var hello Hello
	if err = m.Decode(&hello); err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		Width:  int(hello.Width),
		Height: int(hello.Height),
	}, nil
}

// SendFrame submits a frame. The plane descriptors stay owned by the caller;
// the buffer must not be reused before its release event.
func (c *Client) SendFrame(id uint32, d *alloc.Dmabuf) error {
	payload, fds, err := NewFrame(id, d)
	if err != nil {
		return err
	}
	return c.conn.Send(MsgFrame, payload, fds...)
}

// Next waits for the next event from the server.
func (c *Client) Next() (Event, error) {
	for {
		m, err := c.conn.Receive()
		if err != nil {
			return Event{}, err
		}
		m.CloseFds()
		switch m.Type {
		case MsgFrameComplete:
			return Event{Type: MsgFrameComplete}, nil
		case MsgRelease:
			var r Release
			if err = m.Decode(&r); err != nil {
				return Event{}, err
			}
			return Event{Type: MsgRelease, BufferID: r.BufferID}, nil
		case MsgError:
			return Event{}, fmt.Errorf("kms: server error")
		}
	}
}

// Close the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
