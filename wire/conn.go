package wire

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// Conn sends and receives messages on a seqpacket connection.
type Conn struct {
	c  *net.UnixConn
	mu sync.Mutex
	rb [maxMessageSize]byte
	ob []byte
}

// NewConn wraps a unix seqpacket connection.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		c:  c,
		ob: make([]byte, unix.CmsgSpace(MaxPlanes*4)),
	}
}

// Send a message with optional descriptors. Send is safe for concurrent use.
func (c *Conn) Send(typ uint8, payload any, fds ...int) error {
	b, err := encode(typ, payload)
	if err != nil {
		return err
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	n, oobn, err := c.c.WriteMsgUnix(b, oob, nil)
	if err != nil {
		return err
	}
	if n != len(b) || oobn != len(oob) {
		return fmt.Errorf("kms: short write of %d bytes", n)
	}
	return nil
}

// Receive the next message. Descriptors attached to it must be closed by the
// caller, see Message.CloseFds.
func (c *Conn) Receive() (*Message, error) {
	n, oobn, flags, _, err := c.c.ReadMsgUnix(c.rb[:], c.ob)
	if err != nil {
		return nil, err
	}
	fds, err := parseRights(c.ob[:oobn])
	if err != nil {
		return nil, err
	}
	if n == 0 && oobn == 0 {
		closeAll(fds)
		return nil, net.ErrClosed
	}
	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		closeAll(fds)
		return nil, fmt.Errorf("%w: message truncated by the kernel", ErrTruncated)
	}

	m, err := decode(c.rb[:n])
	if err != nil {
		closeAll(fds)
		return nil, err
	}
	// The payload must outlive the next Receive.
	m.Payload = append([]byte(nil), m.Payload...)
	m.Fds = fds
	return m, nil
}

// Close the connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for _, scm := range scms {
		rights, err := unix.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
