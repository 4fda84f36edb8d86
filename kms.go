// Package kms drives a display directly through kernel mode setting.
//
// A Backend discovers the first connected output of a DRM device, imports the
// dma-buf frames a rendering client produces and presents them with page
// flips, reporting frame completion back to the client when the display
// controller has switched to the new frame.
//
// All state is owned by one event loop goroutine (see package loop); other
// goroutines hand work to the backend with loop.Post.
package kms

import (
	"errors"
	"fmt"
	"os"

	"github.com/BeatGlow/kms/alloc"
)

var debug bool

func init() {
	debug = os.Getenv("KMS_DEBUG") != ""
}

// Setup errors.
var (
	ErrDeviceOpen        = errors.New("kms: can't open display device")
	ErrResourceQuery     = errors.New("kms: can't query display resources")
	ErrNoConnectedOutput = errors.New("kms: no connected output")
	ErrNoMode            = errors.New("kms: connector has no modes")
	ErrNoEncoder         = errors.New("kms: connector has no encoder")
	ErrAllocatorInit     = errors.New("kms: can't open buffer allocator")
	ErrContextInit       = errors.New("kms: can't initialize rendering context")
	ErrEventSourceInit   = errors.New("kms: can't register page flip event source")
)

// Frame errors. These are logged and the frame is dropped.
var (
	ErrPlaneCount                = alloc.ErrPlaneCount
	ErrNotReady                  = errors.New("kms: display not set up")
	ErrFlipPending               = errors.New("kms: page flip already pending")
	ErrModifierUnsupported       = errors.New("kms: device can't scan out buffers with modifiers")
	ErrBufferResourceUnsupported = errors.New("kms: buffer resource export is not supported")
)

// SetupError is returned when a Backend can not be set up.
type SetupError struct {
	Domain string
	Step   string
	Err    error
}

func (err *SetupError) Error() string {
	return fmt.Sprintf("%s: %s: %v", err.Domain, err.Step, err.Err)
}

func (err *SetupError) Unwrap() error {
	return err.Err
}

func setupError(step string, err error) error {
	return &SetupError{Domain: "kms", Step: step, Err: err}
}
