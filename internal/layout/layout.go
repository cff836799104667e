// Package layout maps frame identifiers to slot geometry and text overlay
// placement. Lookups are pure and cheap; they run on every rendered frame
// of the video recap.
package layout

import (
	"errors"
	"fmt"
)

// MaxCaptureCount is the slot array capacity: the largest CaptureCount any
// layout may declare.
const MaxCaptureCount = 6

// DefaultFrameID is the layout used when a frame is unknown.
const DefaultFrameID = "default_3_photo"

var (
	ErrSlotOutOfBounds = errors.New("layout: slot outside the unit square")
	ErrTooFewSlots     = errors.New("layout: fewer slots than photos")
	ErrCaptureCount    = errors.New("layout: invalid capture count")
)

// Slot is a normalized [0,1] rectangle within the output canvas.
type Slot struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Valid reports whether the slot lies inside the unit square.
func (s Slot) Valid() bool {
	const eps = 1e-9
	return s.X >= 0 && s.Y >= 0 && s.W > 0 && s.H > 0 &&
		s.X+s.W <= 1+eps && s.Y+s.H <= 1+eps
}

// Align is the horizontal anchor of a text field.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// TextField places one line of text. Percent values are fractions of the
// canvas width (Left, Width) or height (Top, FontSize).
type TextField struct {
	TopPercent      float64 `json:"top_percent" yaml:"top_percent"`
	LeftPercent     float64 `json:"left_percent" yaml:"left_percent"`
	WidthPercent    float64 `json:"width_percent" yaml:"width_percent"`
	FontSizePercent float64 `json:"font_size_percent" yaml:"font_size_percent"`
	Align           Align   `json:"align" yaml:"align"`
	FontFamily      string  `json:"font_family" yaml:"font_family"`
	FontStyle       string  `json:"font_style" yaml:"font_style"`
	MaxWords        int     `json:"max_words,omitempty" yaml:"max_words"`
}

// AnchorX resolves the horizontal anchor in pixels for a canvas width.
func (f TextField) AnchorX(canvasWidth int) float64 {
	w := float64(canvasWidth)
	switch f.Align {
	case AlignCenter:
		return (f.LeftPercent + f.WidthPercent/2) * w
	case AlignRight:
		return (f.LeftPercent + f.WidthPercent) * w
	default:
		return f.LeftPercent * w
	}
}

// Overlay holds the timestamp and message fields of a print frame plus the
// export-time corrections.
type Overlay struct {
	Timestamp        TextField `json:"timestamp" yaml:"timestamp"`
	Message          TextField `json:"message" yaml:"message"`
	FontScale        float64   `json:"font_scale" yaml:"font_scale"`
	TopOffsetPercent float64   `json:"top_offset_percent" yaml:"top_offset_percent"`
}

// Config is the layout of one frame.
type Config struct {
	FrameID      string   `json:"frame_id" yaml:"id"`
	PhotoCount   int      `json:"photo_count" yaml:"photo_count"`
	CaptureCount int      `json:"capture_count" yaml:"capture_count"`
	Slots        []Slot   `json:"slots" yaml:"slots"`
	Overlay      *Overlay `json:"overlay,omitempty" yaml:"overlay"`
}

// Validate checks the layout invariants.
func (c Config) Validate() error {
	if c.FrameID == "" {
		return fmt.Errorf("layout: empty frame id")
	}
	if c.PhotoCount < 1 {
		return fmt.Errorf("%w: photo count %d", ErrTooFewSlots, c.PhotoCount)
	}
	if len(c.Slots) < c.PhotoCount {
		return fmt.Errorf("%w: %s has %d slots for %d photos", ErrTooFewSlots, c.FrameID, len(c.Slots), c.PhotoCount)
	}
	if c.CaptureCount < c.PhotoCount || c.CaptureCount > MaxCaptureCount {
		return fmt.Errorf("%w: %s captures %d for %d photos (max %d)", ErrCaptureCount, c.FrameID, c.CaptureCount, c.PhotoCount, MaxCaptureCount)
	}
	for i, s := range c.Slots {
		if !s.Valid() {
			return fmt.Errorf("%w: %s slot %d = %+v", ErrSlotOutOfBounds, c.FrameID, i, s)
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.Slots = append([]Slot(nil), c.Slots...)
	if c.Overlay != nil {
		ov := *c.Overlay
		out.Overlay = &ov
	}
	return out
}
