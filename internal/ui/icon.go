package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = renderIcon()

// renderIcon draws a 22px camera glyph: a rounded body with a lens ring.
func renderIcon() []byte {
	const size = 22
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	ink := color.NRGBA{R: 30, G: 30, B: 30, A: 255}

	for y := 6; y < 18; y++ {
		for x := 2; x < 20; x++ {
			if (y == 6 || y == 17) && (x == 2 || x == 19) {
				continue
			}
			img.SetNRGBA(x, y, ink)
		}
	}
	for y := 4; y < 6; y++ {
		for x := 7; x < 13; x++ {
			img.SetNRGBA(x, y, ink)
		}
	}
	for y := 6; y < 18; y++ {
		for x := 2; x < 20; x++ {
			dx, dy := x-11, y-12
			if d := dx*dx + dy*dy; d <= 16 && d > 4 {
				img.SetNRGBA(x, y, color.NRGBA{})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
