package drm

import (
	"encoding/binary"
	"time"
)

// Event types.
const (
	EventVBlank         = 0x01
	EventFlipComplete   = 0x02
	EventCrtcSequence   = 0x03
	eventHeaderSize     = 8
	eventVBlankSize     = 32
	EventBufferCapacity = 1024 // libdrm reads at most this much per call
)

// VBlankEvent is struct drm_event_vblank, delivered for page flip completion
// and vblank requests.
type VBlankEvent struct {
	Type     uint32
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	CrtcID   uint32
}

// Time is the vblank timestamp.
func (e VBlankEvent) Time() time.Duration {
	return time.Duration(e.Sec)*time.Second + time.Duration(e.Usec)*time.Microsecond
}

// ParseEvents decodes the events in p, as read from the device file
// descriptor. Records of unknown type are skipped; a truncated trailing record
// ends parsing.
func ParseEvents(p []byte) []VBlankEvent {
	var events []VBlankEvent
	for len(p) >= eventHeaderSize {
		var (
			typ    = binary.NativeEndian.Uint32(p[0:])
			length = int(binary.NativeEndian.Uint32(p[4:]))
		)
		if length < eventHeaderSize || length > len(p) {
			break
		}
		switch typ {
		case EventVBlank, EventFlipComplete:
			if length >= eventVBlankSize {
				events = append(events, VBlankEvent{
					Type:     typ,
					UserData: binary.NativeEndian.Uint64(p[8:]),
					Sec:      binary.NativeEndian.Uint32(p[16:]),
					Usec:     binary.NativeEndian.Uint32(p[20:]),
					Sequence: binary.NativeEndian.Uint32(p[24:]),
					CrtcID:   binary.NativeEndian.Uint32(p[28:]),
				})
			}
		}
		p = p[length:]
	}
	return events
}

// AppendEvent encodes an event the way the kernel lays it out. It is used to
// synthesize device reads.
func AppendEvent(p []byte, e VBlankEvent) []byte {
	var b [eventVBlankSize]byte
	binary.NativeEndian.PutUint32(b[0:], e.Type)
	binary.NativeEndian.PutUint32(b[4:], eventVBlankSize)
	binary.NativeEndian.PutUint64(b[8:], e.UserData)
	binary.NativeEndian.PutUint32(b[16:], e.Sec)
	binary.NativeEndian.PutUint32(b[20:], e.Usec)
	binary.NativeEndian.PutUint32(b[24:], e.Sequence)
	binary.NativeEndian.PutUint32(b[28:], e.CrtcID)
	return append(p, b[:]...)
}
