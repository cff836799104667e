package compose

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/snapbooth/photobooth-agent/internal/layout"
)

// TimestampLayout renders as HHhMM, DD/MM/YYYY.
const TimestampLayout = "15h04, 02/01/2006"

var fontFiles = map[string][]byte{
	"sans/normal":      goregular.TTF,
	"sans/bold":        gobold.TTF,
	"sans/italic":      goitalic.TTF,
	"sans/bold-italic": gobolditalic.TTF,
	"mono/normal":      gomono.TTF,
	"mono/bold":        gomonobold.TTF,
	"mono/italic":      gomonoitalic.TTF,
}

type faceKey struct {
	font string
	size int
}

// fontCache parses each font once and keeps faces per pixel size. Faces are
// not safe for concurrent use, so callers hold the lock while drawing.
type fontCache struct {
	mu    sync.Mutex
	fonts map[string]*opentype.Font
	faces map[faceKey]font.Face
}

// faces is shared by every compositor in the process.
var faces = newFontCache()

func newFontCache() *fontCache {
	return &fontCache{fonts: make(map[string]*opentype.Font), faces: make(map[faceKey]font.Face)}
}

func fontName(family, style string) string {
	family = strings.ToLower(family)
	if family != "mono" {
		family = "sans"
	}
	style = strings.ToLower(style)
	if style == "" {
		style = "normal"
	}
	name := family + "/" + style
	if _, ok := fontFiles[name]; ok {
		return name
	}
	return family + "/normal"
}

func (c *fontCache) faceLocked(name string, size int) (font.Face, error) {
	key := faceKey{name, size}
	if f, ok := c.faces[key]; ok {
		return f, nil
	}
	parsed, ok := c.fonts[name]
	if !ok {
		var err error
		parsed, err = opentype.Parse(fontFiles[name])
		if err != nil {
			return nil, fmt.Errorf("parse font %s: %w", name, err)
		}
		c.fonts[name] = parsed
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("face %s@%d: %w", name, size, err)
	}
	c.faces[key] = face
	return face, nil
}

// textStyle is the per-frame presentation looked up from the registry.
type textStyle struct {
	color color.RGBA
	nudge float64
}

func styleFor(reg *layout.Registry, frameID string) textStyle {
	col, err := layout.ParseHexColor(reg.TextColor(frameID))
	if err != nil {
		col, _ = layout.ParseHexColor(layout.DefaultTextColor)
	}
	return textStyle{color: col, nudge: reg.TextNudge(frameID)}
}

// truncateWords keeps the first n words; n <= 0 keeps all.
func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if n > 0 && len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// drawField renders one text field. The vertical position is the field's
// top plus the overlay offset; the horizontal anchor follows the alignment.
func (c *fontCache) drawField(dst *image.RGBA, ov *layout.Overlay, f layout.TextField, text string, st textStyle) error {
	text = truncateWords(text, f.MaxWords)
	if text == "" {
		return nil
	}
	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()

	scale := ov.FontScale
	if scale <= 0 {
		scale = 1
	}
	size := int(f.FontSizePercent*float64(h)*scale + 0.5)
	if size < 1 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	face, err := c.faceLocked(fontName(f.FontFamily, f.FontStyle), size)
	if err != nil {
		return err
	}

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(st.color), Face: face}
	advance := float64(d.MeasureString(text)) / 64

	x := f.AnchorX(w) + st.nudge*float64(w)
	switch f.Align {
	case layout.AlignCenter:
		x -= advance / 2
	case layout.AlignRight:
		x -= advance
	}
	top := (f.TopPercent + ov.TopOffsetPercent) * float64(h)
	ascent := float64(face.Metrics().Ascent) / 64

	d.Dot = fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6((top + ascent) * 64)}
	d.DrawString(text)
	return nil
}

// drawTextBlock renders the timestamp and message of a print frame.
func (c *fontCache) drawTextBlock(dst *image.RGBA, ov *layout.Overlay, st textStyle, now time.Time, message string) error {
	if ov == nil {
		return nil
	}
	if err := c.drawField(dst, ov, ov.Timestamp, now.Format(TimestampLayout), st); err != nil {
		return err
	}
	return c.drawField(dst, ov, ov.Message, message, st)
}
