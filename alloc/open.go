//go:build !(linux && cgo && gbm)

package alloc

import (
	"fmt"

	"github.com/BeatGlow/kms/drm"
	"github.com/rs/zerolog"
)

// Open a PRIME allocator on the DRM device descriptor fd. The descriptor stays
// owned by the caller.
func Open(fd int, log zerolog.Logger) (Allocator, error) {
	card := drm.Borrow(fd)
	caps, err := card.GetCap(drm.CapPrime)
	if err != nil {
		return nil, fmt.Errorf("%w: query PRIME capability: %w", ErrUnsupported, err)
	}
	if caps&drm.PrimeCapImport == 0 {
		return nil, fmt.Errorf("%w: no PRIME import", ErrUnsupported)
	}
	return NewPrime(card, log), nil
}
