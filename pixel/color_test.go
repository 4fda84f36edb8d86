package pixel

import (
	"image/color"
	"testing"
)

func TestXRGB(t *testing.T) {
	c := XRGB{R: 0x12, G: 0x34, B: 0x56}
	r, g, b, a := c.RGBA()
	if r != 0x1212 || g != 0x3434 || b != 0x5656 || a != 0xffff {
		t.Errorf("unexpected RGBA %#04x %#04x %#04x %#04x", r, g, b, a)
	}

	if v := XRGB8888Model.Convert(color.Transparent); v != (XRGB{}) {
		t.Errorf("expected transparent to convert to black, got %v", v)
	}
	if v := XRGB8888Model.Convert(color.RGBA{R: 0xff, A: 0xff}); v != (XRGB{R: 0xff}) {
		t.Errorf("expected red, got %v", v)
	}
}

func TestRGB565(t *testing.T) {
	tests := []struct {
		name    string
		c       CRGB16
		r, g, b uint32
	}{
		{"black", CRGB16{0x0000}, 0x0000, 0x0000, 0x0000},
		{"white", CRGB16{0xffff}, 0xffff, 0xffff, 0xffff},
		{"red", CRGB16{0xf800}, 0xffff, 0x0000, 0x0000},
		{"green", CRGB16{0x07e0}, 0x0000, 0xffff, 0x0000},
		{"blue", CRGB16{0x001f}, 0x0000, 0x0000, 0xffff},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, g, b, a := test.c.RGBA()
			if r != test.r || g != test.g || b != test.b || a != 0xffff {
				t.Errorf("expected %#04x %#04x %#04x, got %#04x %#04x %#04x", test.r, test.g, test.b, r, g, b)
			}
			if v := RGB565Model.Convert(test.c); v != test.c {
				t.Errorf("expected %v to convert to itself, got %v", test.c, v)
			}
		})
	}

	// XRGB takes the same shortcut as the generic conversion.
	x := XRGB{R: 0x9a, G: 0x5e, B: 0x13}
	if v, w := RGB565Model.Convert(x), RGB565Model.Convert(color.RGBA{R: 0x9a, G: 0x5e, B: 0x13, A: 0xff}); v != w {
		t.Errorf("expected %v, got %v", w, v)
	}
}
