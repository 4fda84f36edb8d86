package pixel

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/draw"
)

type Image interface {
	draw.Image

	// Clear the image.
	Clear()

	// Fill the image with a single color.
	Fill(color.Color)
}

// Buffer holds the pixel values and is a container that is used by all image formats in this package.
type Buffer struct {
	// Rect is the image bounding box.
	Rect image.Rectangle

	// Pix are the image pixels, typically mapped buffer memory.
	Pix []byte

	// Stride is the Pix stride (in bytes) between vertically adjacent pixels.
	// Scanout buffers are often padded beyond the visible width.
	Stride int
}

func (p *Buffer) Bounds() image.Rectangle {
	return p.Rect
}

func (p *Buffer) Clear() {
	for i := range p.Pix {
		p.Pix[i] = 0x00
	}
}

func makeBuffer(w, h, stride, size int) Buffer {
	return Buffer{
		Rect:   image.Rect(0, 0, w, h),
		Pix:    make([]byte, size),
		Stride: stride,
	}
}

func wrapBuffer(pix []byte, w, h, stride int) Buffer {
	return Buffer{
		Rect:   image.Rect(0, 0, w, h),
		Pix:    pix,
		Stride: stride,
	}
}

// NewImage allocates an image in Go memory in format f, or returns nil if
// the format has no image type.
func NewImage(f Format, w, h int) Image {
	switch f {
	case XRGB8888:
		return NewXRGB8888Image(w, h)
	case RGB565:
		return NewRGB565Image(w, h)
	default:
		return nil
	}
}

// WrapImage uses pix as image memory in format f, or returns nil if the
// format has no image type.
func WrapImage(f Format, pix []byte, w, h, stride int) Image {
	switch f {
	case XRGB8888:
		return WrapXRGB8888(pix, w, h, stride)
	case RGB565:
		return WrapRGB565(pix, w, h, stride)
	default:
		return nil
	}
}

// XRGB8888Image is an image in the DRM XRGB8888 format.
type XRGB8888Image struct {
	Buffer
}

func NewXRGB8888Image(w, h int) *XRGB8888Image {
	return &XRGB8888Image{
		Buffer: makeBuffer(w, h, w*4, w*4*h),
	}
}

// WrapXRGB8888 uses pix, for example a mapped dumb buffer, as image memory.
func WrapXRGB8888(pix []byte, w, h, stride int) *XRGB8888Image {
	return &XRGB8888Image{
		Buffer: wrapBuffer(pix, w, h, stride),
	}
}

func (p *XRGB8888Image) ColorModel() color.Model {
	return XRGB8888Model
}

func (p *XRGB8888Image) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*4
}

func (p *XRGB8888Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return color.Transparent
	}
	v := binary.LittleEndian.Uint32(p.Pix[p.PixOffset(x, y):])
	return XRGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

func (p *XRGB8888Image) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return
	}
	binary.LittleEndian.PutUint32(p.Pix[p.PixOffset(x, y):], xrgbModel(c).(XRGB).word())
}

func (p *XRGB8888Image) Fill(c color.Color) {
	v := xrgbModel(c).(XRGB).word()
	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		i := p.PixOffset(p.Rect.Min.X, y)
		for x := p.Rect.Min.X; x < p.Rect.Max.X; x++ {
			binary.LittleEndian.PutUint32(p.Pix[i:], v)
			i += 4
		}
	}
}

// RGB565Image is an image in the DRM RGB565 format, 16-bit little-endian
// words.
type RGB565Image struct {
	Buffer
}

func NewRGB565Image(w, h int) *RGB565Image {
	return &RGB565Image{
		Buffer: makeBuffer(w, h, w*2, w*2*h),
	}
}

// WrapRGB565 uses pix as image memory.
func WrapRGB565(pix []byte, w, h, stride int) *RGB565Image {
	return &RGB565Image{
		Buffer: wrapBuffer(pix, w, h, stride),
	}
}

func (p *RGB565Image) ColorModel() color.Model {
	return RGB565Model
}

func (p *RGB565Image) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}

func (p *RGB565Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return color.Transparent
	}
	return CRGB16{binary.LittleEndian.Uint16(p.Pix[p.PixOffset(x, y):])}
}

func (p *RGB565Image) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}).In(p.Rect) {
		return
	}
	binary.LittleEndian.PutUint16(p.Pix[p.PixOffset(x, y):], rgb565Model(c).(CRGB16).V)
}

func (p *RGB565Image) Fill(c color.Color) {
	v := rgb565Model(c).(CRGB16).V
	for y := p.Rect.Min.Y; y < p.Rect.Max.Y; y++ {
		i := p.PixOffset(p.Rect.Min.X, y)
		for x := p.Rect.Min.X; x < p.Rect.Max.X; x++ {
			binary.LittleEndian.PutUint16(p.Pix[i:], v)
			i += 2
		}
	}
}

// Interface checks.
var (
	_ Image = (*XRGB8888Image)(nil)
	_ Image = (*RGB565Image)(nil)
)
