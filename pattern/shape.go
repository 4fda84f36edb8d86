package pattern

import (
	"image"
	"image/color"
	"image/draw"
)

// line draws a line between two points, both inclusive.
func line(dst draw.Image, a, b image.Point, c color.Color) {
	dx, sx := abs(b.X-a.X), sign(b.X-a.X)
	dy, sy := -abs(b.Y-a.Y), sign(b.Y-a.Y)
	e := dx + dy
	for {
		dst.Set(a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

// rectangle draws the one pixel outline just inside r.
func rectangle(dst draw.Image, r image.Rectangle, c color.Color) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		dst.Set(x, r.Min.Y, c)
		dst.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dst.Set(r.Min.X, y, c)
		dst.Set(r.Max.X-1, y, c)
	}
}

// box fills r.
func box(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// roundedBox fills r, leaving out the corners outside a circle of radius pixels.
func roundedBox(dst draw.Image, r image.Rectangle, radius int, c color.Color) {
	r = r.Intersect(dst.Bounds())
	if radius*2 > r.Dx() {
		radius = r.Dx() / 2
	}
	if radius*2 > r.Dy() {
		radius = r.Dy() / 2
	}
	if radius <= 0 {
		box(dst, r, c)
		return
	}

	// Middle band, then the two side bands minus the corners.
	box(dst, image.Rect(r.Min.X+radius, r.Min.Y, r.Max.X-radius, r.Max.Y), c)
	box(dst, image.Rect(r.Min.X, r.Min.Y+radius, r.Min.X+radius, r.Max.Y-radius), c)
	box(dst, image.Rect(r.Max.X-radius, r.Min.Y+radius, r.Max.X, r.Max.Y-radius), c)

	rr := radius * radius
	for dy := 0; dy < radius; dy++ {
		for dx := 0; dx < radius; dx++ {
			// Distance from the corner circle center, measured at pixel centers.
			x, y := radius-dx, radius-dy
			if (2*x-1)*(2*x-1)+(2*y-1)*(2*y-1) > 4*rr {
				continue
			}
			dst.Set(r.Min.X+dx, r.Min.Y+dy, c)
			dst.Set(r.Max.X-1-dx, r.Min.Y+dy, c)
			dst.Set(r.Min.X+dx, r.Max.Y-1-dy, c)
			dst.Set(r.Max.X-1-dx, r.Max.Y-1-dy, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
