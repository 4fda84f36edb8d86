package kms

import (
	"fmt"
	"math/bits"

	"github.com/BeatGlow/kms/drm"
	"github.com/rs/zerolog"
)

// Target is the output frames are presented on.
type Target struct {
	Device    Device
	Connector *drm.Connector
	Encoder   *drm.Encoder
	Mode      drm.ModeInfo

	ConnectorID uint32
	CrtcID      uint32
	CrtcIndex   int // position in the resources CRTC list

	// ModifiersSupported is set when framebuffers can be registered with
	// format modifiers.
	ModifiersSupported bool
}

// Width of the chosen mode.
func (t *Target) Width() int { return t.Mode.Width() }

// Height of the chosen mode.
func (t *Target) Height() int { return t.Mode.Height() }

func (t *Target) String() string {
	return fmt.Sprintf("connector %d, crtc %d (index %d), mode %s", t.ConnectorID, t.CrtcID, t.CrtcIndex, t.Mode.String())
}

// Discover picks the first connected connector of dev, its preferred mode and
// the CRTC driving it. Discovery only reads device state.
func Discover(dev Device, log zerolog.Logger) (*Target, error) {
	res, err := dev.Resources()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourceQuery, err)
	}
	if len(res.Connectors) == 0 || len(res.Crtcs) == 0 {
		return nil, fmt.Errorf("%w: device %s has no connectors or CRTCs", ErrResourceQuery, dev.Name())
	}

	var connector *drm.Connector
	for _, id := range res.Connectors {
		c, err := dev.Connector(id)
		if err != nil {
			log.Debug().Err(err).Uint32("connector", id).Msg("skipping connector")
			continue
		}
		if c.Connection == drm.Connected {
			connector = c
			break
		}
	}
	if connector == nil {
		return nil, ErrNoConnectedOutput
	}

	i, err := SelectMode(connector.Modes)
	if err != nil {
		return nil, fmt.Errorf("connector %d: %w", connector.ID, err)
	}

	if connector.EncoderID == 0 {
		return nil, fmt.Errorf("connector %d: %w", connector.ID, ErrNoEncoder)
	}
	encoder, err := dev.Encoder(connector.EncoderID)
	if err != nil {
		return nil, fmt.Errorf("connector %d: %w: %w", connector.ID, ErrNoEncoder, err)
	}

	target := &Target{
		Device:      dev,
		Connector:   connector,
		Encoder:     encoder,
		Mode:        connector.Modes[i],
		ConnectorID: connector.ID,
	}
	if target.CrtcIndex, target.CrtcID, err = resolveCrtc(encoder, res.Crtcs); err != nil {
		return nil, fmt.Errorf("encoder %d: %w", encoder.ID, err)
	}

	if value, err := dev.GetCap(drm.CapAddFB2Modifiers); err == nil {
		target.ModifiersSupported = value != 0
	}

	log.Info().
		Str("device", dev.Name()).
		Uint32("connector", target.ConnectorID).
		Uint32("crtc", target.CrtcID).
		Str("mode", target.Mode.String()).
		Bool("modifiers", target.ModifiersSupported).
		Msg("display discovered")
	return target, nil
}

// resolveCrtc returns the index and id of the CRTC the encoder drives. An
// encoder that is not driving any CRTC yet uses the first one it can drive.
func resolveCrtc(encoder *drm.Encoder, crtcs []uint32) (int, uint32, error) {
	if encoder.CrtcID != 0 {
		for i, id := range crtcs {
			if id == encoder.CrtcID {
				return i, id, nil
			}
		}
		return -1, 0, fmt.Errorf("%w: CRTC %d not in device resources", ErrNoEncoder, encoder.CrtcID)
	}

	if encoder.PossibleCrtcs != 0 {
		if i := bits.TrailingZeros32(encoder.PossibleCrtcs); i < len(crtcs) {
			return i, crtcs[i], nil
		}
	}
	return -1, 0, fmt.Errorf("%w: no usable CRTC", ErrNoEncoder)
}

// SelectMode returns the index of the first mode flagged as preferred, or the
// index of the largest mode. Of equally large modes the first one wins.
func SelectMode(modes []drm.ModeInfo) (int, error) {
	if len(modes) == 0 {
		return -1, ErrNoMode
	}
	best := 0
	for i := range modes {
		if modes[i].Preferred() {
			return i, nil
		}
		if modes[i].Area() > modes[best].Area() {
			best = i
		}
	}
	return best, nil
}
