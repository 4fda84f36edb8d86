package kms

import (
	"fmt"

	"github.com/BeatGlow/kms/drm"
	"github.com/rs/zerolog"
)

// Device is the DRM device interface used by the backend. *drm.Card
// implements it.
type Device interface {
	Name() string
	Fd() int
	Close() error

	GetCap(capability uint64) (uint64, error)
	Resources() (*drm.Resources, error)
	Connector(id uint32) (*drm.Connector, error)
	Encoder(id uint32) (*drm.Encoder, error)

	SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *drm.ModeInfo) error
	AddFB2(fb *drm.Framebuffer) (uint32, error)
	RmFB(fbID uint32) error
	PageFlip(crtcID, fbID, flags uint32, userData uint64) error

	// Read queued events.
	Read(p []byte) (int, error)
}

var _ Device = (*drm.Card)(nil)

// OpenDevice opens a DRM device node and tries to become DRM master.
func OpenDevice(name string, log zerolog.Logger) (Device, error) {
	card, err := drm.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceOpen, err)
	}
	becomeMaster(card, log)
	return card, nil
}

// becomeMaster is best effort: logind hands out descriptors that already are
// master, and a second master (a running compositor) makes modesetting fail
// later with a clearer error.
func becomeMaster(card *drm.Card, log zerolog.Logger) {
	if err := card.SetMaster(); err != nil {
		log.Debug().Err(err).Str("device", card.Name()).Msg("not DRM master")
	}
}
