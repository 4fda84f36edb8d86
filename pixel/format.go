package pixel

import (
	"fmt"
	"strings"
)

// Format is a DRM fourcc pixel format code.
type Format uint32

// Fourcc builds a format code from its four characters.
func Fourcc(a, b, c, d byte) Format {
	return Format(a) | Format(b)<<8 | Format(c)<<16 | Format(d)<<24
}

// Formats from <drm/drm_fourcc.h>.
var (
	RGB565   = Fourcc('R', 'G', '1', '6')
	XRGB8888 = Fourcc('X', 'R', '2', '4')
	ARGB8888 = Fourcc('A', 'R', '2', '4')
	XBGR8888 = Fourcc('X', 'B', '2', '4')
	ABGR8888 = Fourcc('A', 'B', '2', '4')
	NV12     = Fourcc('N', 'V', '1', '2')
	YUV420   = Fourcc('Y', 'U', '1', '2')
)

// Format modifiers.
const (
	ModLinear  uint64 = 0
	ModInvalid uint64 = 1<<56 - 1 // DRM_FORMAT_MOD_INVALID
)

var formatNames = map[string]Format{
	"RGB565":   RGB565,
	"XRGB8888": XRGB8888,
	"ARGB8888": ARGB8888,
	"XBGR8888": XBGR8888,
	"ABGR8888": ABGR8888,
	"NV12":     NV12,
	"YUV420":   YUV420,
}

var formatPlanes = map[Format]int{
	RGB565:   1,
	XRGB8888: 1,
	ARGB8888: 1,
	XBGR8888: 1,
	ABGR8888: 1,
	NV12:     2,
	YUV420:   3,
}

// Planes is the number of memory planes of a linear buffer in this format, or 0
// when the format is unknown.
func (f Format) Planes() int {
	return formatPlanes[f]
}

func (f Format) String() string {
	var b [4]byte
	for i := range b {
		c := byte(f >> (8 * i))
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
		b[i] = c
	}
	return string(b[:])
}

// ModifierString formats a modifier for logs.
func ModifierString(m uint64) string {
	switch m {
	case ModLinear:
		return "linear"
	case ModInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("0x%016x", m)
	}
}

// ParseFormat accepts a format name such as XRGB8888 or its four character
// code such as XR24.
func ParseFormat(s string) (Format, error) {
	if f, ok := formatNames[strings.ToUpper(s)]; ok {
		return f, nil
	}
	if len(s) == 4 {
		f := Fourcc(s[0], s[1], s[2], s[3])
		if _, ok := formatPlanes[f]; ok {
			return f, nil
		}
	}
	return 0, fmt.Errorf("pixel: unknown format %q", s)
}
