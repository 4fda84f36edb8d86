// Package wire carries dma-buf frames from a rendering process to the display
// backend over a unix seqpacket socket. Plane file descriptors travel as
// SCM_RIGHTS ancillary data.
//
// A session starts with HELLO from the client, answered by HELLO with the
// display size. The client then sends FRAME messages; the server reports
// FRAME_COMPLETE when a frame is on screen and RELEASE when the client may
// reuse a buffer.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/pixel"
	"golang.org/x/sys/unix"
)

// Magic is 'KMSF' little-endian.
const Magic = 0x46534d4b

// Message types.
const (
	MsgHello         = 0x01
	MsgFrame         = 0x10
	MsgFrameComplete = 0x11
	MsgRelease       = 0x12
	MsgError         = 0xff
)

// MaxPlanes per frame.
const MaxPlanes = 4

const (
	headerSize     = 12
	maxPayloadSize = 256
	maxMessageSize = headerSize + maxPayloadSize
)

// Errors.
var (
	ErrMagic     = errors.New("kms: bad message magic")
	ErrTruncated = errors.New("kms: truncated message")
	ErrProtocol  = errors.New("kms: protocol error")
)

// Header starts every message.
type Header struct {
	Magic    uint32
	Type     uint8
	Flags    uint8
	Reserved uint16
	Length   uint32 // payload bytes following the header
}

// Hello is the server's answer to a client HELLO.
type Hello struct {
	Width  uint32
	Height uint32
}

// PlaneLayout of one frame plane.
type PlaneLayout struct {
	Stride uint32
	Offset uint32
}

// FramePayload describes a FRAME. PlaneCount descriptors are attached.
type FramePayload struct {
	BufferID   uint32
	Width      uint32
	Height     uint32
	Format     uint32
	Modifier   uint64
	PlaneCount uint32
	Planes     [MaxPlanes]PlaneLayout
}

// Release tells the client a buffer is no longer used.
type Release struct {
	BufferID uint32
}

// Message is a received message.
type Message struct {
	Header
	Payload []byte
	Fds     []int
}

// CloseFds closes descriptors received with the message.
func (m *Message) CloseFds() {
	for _, fd := range m.Fds {
		unix.Close(fd)
	}
	m.Fds = nil
}

// Decode the payload into v.
func (m *Message) Decode(v any) error {
	if binary.Size(v) > len(m.Payload) {
		return fmt.Errorf("%w: type %#02x payload of %d bytes", ErrTruncated, m.Type, len(m.Payload))
	}
	return binary.Read(bytes.NewReader(m.Payload), binary.LittleEndian, v)
}

// Frame decodes a FRAME into the buffer id and dma-buf description. The plane
// descriptors are the ones received with the message.
func (m *Message) Frame() (uint32, *alloc.Dmabuf, error) {
	if m.Type != MsgFrame {
		return 0, nil, fmt.Errorf("%w: expected frame, got %#02x", ErrProtocol, m.Type)
	}
	var p FramePayload
	if err := m.Decode(&p); err != nil {
		return 0, nil, err
	}
	if p.PlaneCount > MaxPlanes {
		return p.BufferID, nil, fmt.Errorf("%w: %d", alloc.ErrPlaneCount, p.PlaneCount)
	}
	if int(p.PlaneCount) != len(m.Fds) {
		return p.BufferID, nil, fmt.Errorf("%w: %d planes but %d descriptors", ErrProtocol, p.PlaneCount, len(m.Fds))
	}

	d := &alloc.Dmabuf{
		Width:    p.Width,
		Height:   p.Height,
		Format:   pixel.Format(p.Format),
		Modifier: p.Modifier,
	}
	for i := 0; i < int(p.PlaneCount); i++ {
		d.Planes = append(d.Planes, alloc.Plane{
			Fd:     m.Fds[i],
			Stride: p.Planes[i].Stride,
			Offset: p.Planes[i].Offset,
		})
	}
	return p.BufferID, d, nil
}

// NewFrame encodes a FRAME payload and the descriptors to send with it.
func NewFrame(id uint32, d *alloc.Dmabuf) (*FramePayload, []int, error) {
	if len(d.Planes) > MaxPlanes {
		return nil, nil, fmt.Errorf("%w: %d", alloc.ErrPlaneCount, len(d.Planes))
	}
	p := &FramePayload{
		BufferID:   id,
		Width:      d.Width,
		Height:     d.Height,
		Format:     uint32(d.Format),
		Modifier:   d.Modifier,
		PlaneCount: uint32(len(d.Planes)),
	}
	fds := make([]int, len(d.Planes))
	for i, plane := range d.Planes {
		p.Planes[i] = PlaneLayout{Stride: plane.Stride, Offset: plane.Offset}
		fds[i] = plane.Fd
	}
	return p, fds, nil
}

func encode(typ uint8, payload any) ([]byte, error) {
	var (
		buf  bytes.Buffer
		size int
	)
	if payload != nil {
		if size = binary.Size(payload); size < 0 {
			return nil, fmt.Errorf("kms: can't encode %T", payload)
		}
	}
	if size > maxPayloadSize {
		return nil, fmt.Errorf("kms: payload of %d bytes too large", size)
	}
	buf.Grow(headerSize + size)
	hdr := Header{Magic: Magic, Type: typ, Length: uint32(size)}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if payload != nil {
		if err := binary.Write(&buf, binary.LittleEndian, payload); err != nil {
			return nil, fmt.Errorf("write payload: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decode(p []byte) (*Message, error) {
	if len(p) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(p))
	}
	var m Message
	if err := binary.Read(bytes.NewReader(p), binary.LittleEndian, &m.Header); err != nil {
		return nil, err
	}
	if m.Magic != Magic {
		return nil, fmt.Errorf("%w: %#x", ErrMagic, m.Magic)
	}
	if int(m.Length) > len(p)-headerSize {
		return nil, fmt.Errorf("%w: header announces %d bytes, got %d", ErrTruncated, m.Length, len(p)-headerSize)
	}
	m.Payload = p[headerSize : headerSize+int(m.Length)]
	return &m, nil
}
