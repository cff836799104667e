// Package compose renders the photo strip and the video recap from a
// session's selected captures.
package compose

import (
	"context"
	"errors"
	"image"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/layout"
)

var (
	ErrNoPhotos       = errors.New("compose: no photos selected")
	ErrNoClips        = errors.New("compose: no selected photo has a clip")
	ErrLoadTimeout    = errors.New("compose: media load timed out")
	ErrAlreadyStarted = errors.New("compose: video generation already started")
)

// DefaultLoadTimeout bounds every asset and clip load.
const DefaultLoadTimeout = 10 * time.Second

func newCanvas(w, h int) *image.RGBA {
	c := image.NewRGBA(image.Rect(0, 0, w, h))
	fillWhite(c)
	return c
}

func fillWhite(c *image.RGBA) {
	for i := range c.Pix {
		c.Pix[i] = 0xff
	}
}

// slotRect converts a normalized slot to canvas pixels.
func slotRect(s layout.Slot, w, h int) image.Rectangle {
	x0 := int(s.X*float64(w) + 0.5)
	y0 := int(s.Y*float64(h) + 0.5)
	x1 := int((s.X+s.W)*float64(w) + 0.5)
	y1 := int((s.Y+s.H)*float64(h) + 0.5)
	return image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, w, h))
}

// coverCrop returns the centered source rectangle with the destination's
// aspect ratio, cropping the longer source dimension symmetrically.
func coverCrop(src image.Rectangle, dstW, dstH int) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 || dstW == 0 || dstH == 0 {
		return src
	}
	dstAspect := float64(dstW) / float64(dstH)
	srcAspect := float64(sw) / float64(sh)

	if srcAspect > dstAspect {
		cw := int(float64(sh)*dstAspect + 0.5)
		x0 := src.Min.X + (sw-cw)/2
		return image.Rect(x0, src.Min.Y, x0+cw, src.Max.Y)
	}
	ch := int(float64(sw)/dstAspect + 0.5)
	y0 := src.Min.Y + (sh-ch)/2
	return image.Rect(src.Min.X, y0, src.Max.X, y0+ch)
}

// drawCoverMirrored draws src into r cover-fit and flipped horizontally.
func drawCoverMirrored(dst *image.RGBA, r image.Rectangle, src image.Image, interp draw.Interpolator) {
	if r.Empty() {
		return
	}
	crop := coverCrop(src.Bounds(), r.Dx(), r.Dy())
	if crop.Empty() {
		return
	}
	sx := float64(r.Dx()) / float64(crop.Dx())
	sy := float64(r.Dy()) / float64(crop.Dy())

	// Maps source to destination: x' = r.Max.X - (x - crop.Min.X)*sx.
	m := f64.Aff3{
		-sx, 0, float64(r.Max.X) + float64(crop.Min.X)*sx,
		0, sy, float64(r.Min.Y) - float64(crop.Min.Y)*sy,
	}
	interp.Transform(dst, m, src, crop, draw.Src, nil)
}

// applyFilter rewrites img's pixels in place.
func applyFilter(img *image.RGBA, f booth.Filter) {
	switch f {
	case booth.FilterGrayscale:
		for i := 0; i+3 < len(img.Pix); i += 4 {
			r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
			y := clamp8(0.2126*r + 0.7152*g + 0.0722*b)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = y, y, y
		}
	case booth.FilterSepia:
		for i := 0; i+3 < len(img.Pix); i += 4 {
			r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
			img.Pix[i] = clamp8(0.393*r + 0.769*g + 0.189*b)
			img.Pix[i+1] = clamp8(0.349*r + 0.686*g + 0.168*b)
			img.Pix[i+2] = clamp8(0.272*r + 0.534*g + 0.131*b)
		}
	}
}

func clamp8(v float64) uint8 {
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(v + 0.5)
}

// fitInside returns the largest rectangle with src's aspect ratio that fits
// region, anchored bottom-left.
func fitInside(src image.Rectangle, region image.Rectangle) image.Rectangle {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	if sw == 0 || sh == 0 {
		return image.Rectangle{}
	}
	scale := min(float64(region.Dx())/sw, float64(region.Dy())/sh)
	w := int(sw*scale + 0.5)
	h := int(sh*scale + 0.5)
	return image.Rect(region.Min.X, region.Max.Y-h, region.Min.X+w, region.Max.Y)
}

// signatureRegion is the fixed bottom-left box the signature is fitted into.
func signatureRegion(w, h int) image.Rectangle {
	x0 := int(0.04 * float64(w))
	y1 := h - int(0.04*float64(h))
	return image.Rect(x0, y1-int(0.18*float64(h)), x0+int(0.30*float64(w)), y1)
}

// scaledCopy renders src into a new w×h image.
func scaledCopy(src image.Image, w, h int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), src, src.Bounds(), draw.Src, nil)
	return out
}

// loadWithTimeout runs load and gives up after timeout. The context passed
// to load is done once the timeout passes, so subprocesses it started are
// killed. A value that arrives late is handed to release.
func loadWithTimeout[T any](ctx context.Context, timeout time.Duration, load func(ctx context.Context) (T, error), release func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		v, err := load(loadCtx)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && loadCtx.Err() != nil {
			return zero, ErrLoadTimeout
		}
		return r.v, r.err
	case <-loadCtx.Done():
		go func() {
			if r := <-ch; r.err == nil && release != nil {
				release(r.v)
			}
		}()
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, ErrLoadTimeout
	}
}
