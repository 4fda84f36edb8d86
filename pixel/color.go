package pixel

import "image/color"

// Models for the scanout color types.
var (
	XRGB8888Model color.Model = color.ModelFunc(xrgbModel)
	RGB565Model   color.Model = color.ModelFunc(rgb565Model)
)

// XRGB is a 24-bit color stored in a 32-bit little-endian word, the top byte
// unused.
type XRGB struct {
	R, G, B uint8
}

func (c XRGB) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	return r, g, b, 0xffff
}

func (c XRGB) word() uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func xrgbModel(c color.Color) color.Color {
	if _, ok := c.(XRGB); ok {
		return c
	}
	r, g, b, a := c.RGBA()
	if a == 0 {
		return XRGB{}
	}
	// Scanout ignores alpha, flatten onto black.
	return XRGB{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// CRGB16 represents a 16-bit 5-6-5 RGB color.
type CRGB16 struct {
	// Red 5, green 6, blue 5, red in the high bits.
	V uint16
}

func (c CRGB16) RGBA() (r, g, b, a uint32) {
	// Build a 5- or 6-bit value at the top of the low byte of each component.
	red := (c.V & 0xF800) >> 8
	grn := (c.V & 0x07E0) >> 3
	blu := (c.V & 0x001F) << 3
	// Duplicate the high bits in the low bits.
	red |= red >> 5
	grn |= grn >> 6
	blu |= blu >> 5
	// Duplicate the whole value in the high byte.
	red |= red << 8
	grn |= grn << 8
	blu |= blu << 8
	return uint32(red), uint32(grn), uint32(blu), 0xffff
}

func rgb565Model(c color.Color) color.Color {
	switch c := c.(type) {
	case CRGB16:
		return c
	case XRGB:
		return CRGB16{uint16(c.R&0xF8)<<8 | uint16(c.G&0xFC)<<3 | uint16(c.B)>>3}
	default:
		r, g, b, _ := c.RGBA()
		r = r & 0xF800
		g = (g & 0xFC00) >> 5
		b = (b & 0xF800) >> 11
		return CRGB16{uint16(r | g | b)}
	}
}
