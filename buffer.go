package kms

import (
	"fmt"

	"github.com/BeatGlow/kms/alloc"
)

// BufferID identifies a buffer while it is in flight; it is the user data of
// its page flip.
type BufferID uint64

// Resource is the client handle of a frame, handed back to the client when the
// frame is no longer displayed.
type Resource any

// Buffer is a frame in the presentation pipeline.
type Buffer struct {
	ID       BufferID
	Object   *alloc.Buffer
	FB       uint32 // framebuffer id, 0 until registered
	Resource Resource

	destroyed bool
}

// Destroyed reports whether the buffer was destroyed.
func (b *Buffer) Destroyed() bool {
	return b.destroyed
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer %d (fb %d, %dx%d %s)", b.ID, b.FB, b.Object.Width, b.Object.Height, b.Object.Format)
}
