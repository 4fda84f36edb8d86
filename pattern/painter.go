package pattern

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/BeatGlow/kms/pixel"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

const (
	barWidth      = 16 // pixels
	barStep       = 8  // pixels per frame
	captionMargin = 4
	captionPad    = 3
)

var (
	borderColor       = pixel.XRGB{R: 0xff, G: 0xff, B: 0xff}
	diagonalColor     = pixel.XRGB{R: 0xff, G: 0xff}
	barColor          = pixel.XRGB{R: 0xc0, G: 0xc0, B: 0xc0}
	captionBackground = pixel.XRGB{}
	captionColor      = image.NewUniform(pixel.XRGB{R: 0xff, G: 0xff, B: 0xff})
)

// Painter draws an animated test card. The gradient moves every frame and a
// vertical bar sweeps across the screen, which makes tearing and dropped
// frames easy to spot.
type Painter struct {
	// Title starts the caption.
	Title string

	font     *truetype.Font
	face     font.Face
	faceSize float64
}

// NewPainter loads the caption font.
func NewPainter(title string) (*Painter, error) {
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("pattern: parse font: %w", err)
	}
	return &Painter{
		Title: title,
		font:  f,
	}, nil
}

// Paint draws frame number frame into dst.
func (p *Painter) Paint(dst draw.Image, frame int) {
	r := dst.Bounds()
	if r.Empty() {
		return
	}

	gradient(dst, frame)

	x := r.Min.X + (frame*barStep)%r.Dx()
	box(dst, image.Rect(x, r.Min.Y+1, x+barWidth, r.Max.Y-1).Intersect(r), barColor)

	line(dst, r.Min, r.Max.Sub(image.Pt(1, 1)), diagonalColor)
	line(dst, image.Pt(r.Max.X-1, r.Min.Y), image.Pt(r.Min.X, r.Max.Y-1), diagonalColor)

	rectangle(dst, r, borderColor)

	text := p.Caption(r, frame)
	if text == "" {
		return
	}
	face := p.faceFor(r.Dy())
	cr := p.captionBox(r, text)
	roundedBox(dst, cr, captionPad, captionBackground)
	d := &font.Drawer{
		Dst:  dst,
		Src:  captionColor,
		Face: face,
		Dot:  fixed.P(cr.Min.X+captionPad, cr.Min.Y+captionPad+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}

// Caption is the text drawn on frame number frame of an image bounded by r.
func (p *Painter) Caption(r image.Rectangle, frame int) string {
	return strings.TrimSpace(fmt.Sprintf("%s %dx%d #%d", p.Title, r.Dx(), r.Dy(), frame))
}

func (p *Painter) captionBox(r image.Rectangle, text string) image.Rectangle {
	var (
		face   = p.faceFor(r.Dy())
		m      = face.Metrics()
		width  = font.MeasureString(face, text).Ceil()
		height = (m.Ascent + m.Descent).Ceil()
		origin = r.Min.Add(image.Pt(captionMargin, captionMargin))
	)
	return image.Rectangle{
		Min: origin,
		Max: origin.Add(image.Pt(width+2*captionPad, height+2*captionPad)),
	}.Intersect(r)
}

func (p *Painter) faceFor(height int) font.Face {
	size := float64(max(12, height/24))
	if p.face == nil || p.faceSize != size {
		p.face = truetype.NewFace(p.font, &truetype.Options{
			Size:    size,
			Hinting: font.HintingFull,
		})
		p.faceSize = size
	}
	return p.face
}

// gradient fills dst with a diagonal color ramp shifted by offset.
func gradient(dst draw.Image, offset int) {
	r := dst.Bounds()
	if img, ok := dst.(*pixel.XRGB8888Image); ok {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			i := img.PixOffset(r.Min.X, y)
			for x := r.Min.X; x < r.Max.X; x++ {
				c := gradientAt(x, y, offset)
				binary.LittleEndian.PutUint32(img.Pix[i:], uint32(c.R)<<16|uint32(c.G)<<8|uint32(c.B))
				i += 4
			}
		}
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.Set(x, y, gradientAt(x, y, offset))
		}
	}
}

func gradientAt(x, y, offset int) color.RGBA {
	return color.RGBA{
		R: uint8(x + y + offset),
		G: uint8(x - y + offset),
		B: uint8(x + y - offset),
		A: 0xff,
	}
}
