package layout

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

const (
	CustomCanvasWidth   = 2480
	CustomCanvasHeight  = 3508
	DefaultCanvasWidth  = 1080
	DefaultCanvasHeight = 1920
	VideoCanvasHeight   = 1280

	DefaultTextColor = "#333333"
)

var defaultSlots = []Slot{
	{X: 0.08, Y: 0.06, W: 0.84, H: 0.26},
	{X: 0.08, Y: 0.35, W: 0.84, H: 0.26},
	{X: 0.08, Y: 0.64, W: 0.84, H: 0.26},
}

var defaultConfig = Config{
	FrameID:      DefaultFrameID,
	PhotoCount:   3,
	CaptureCount: 6,
	Slots:        defaultSlots,
}

var printOverlay = Overlay{
	Timestamp: TextField{
		TopPercent:      0.845,
		LeftPercent:     0.1,
		WidthPercent:    0.8,
		FontSizePercent: 0.018,
		Align:           AlignCenter,
		FontFamily:      "sans",
		FontStyle:       "normal",
	},
	Message: TextField{
		TopPercent:      0.885,
		LeftPercent:     0.1,
		WidthPercent:    0.8,
		FontSizePercent: 0.026,
		Align:           AlignCenter,
		FontFamily:      "sans",
		FontStyle:       "bold",
		MaxWords:        12,
	},
	FontScale:        1.0,
	TopOffsetPercent: 0.004,
}

var calendarOverlay = Overlay{
	Timestamp: TextField{
		TopPercent:      0.79,
		LeftPercent:     0.06,
		WidthPercent:    0.42,
		FontSizePercent: 0.016,
		Align:           AlignLeft,
		FontFamily:      "mono",
		FontStyle:       "normal",
	},
	Message: TextField{
		TopPercent:      0.83,
		LeftPercent:     0.06,
		WidthPercent:    0.88,
		FontSizePercent: 0.022,
		Align:           AlignLeft,
		FontFamily:      "sans",
		FontStyle:       "italic",
		MaxWords:        10,
	},
	FontScale:        0.95,
	TopOffsetPercent: 0.003,
}

var gridSlots2x2 = []Slot{
	{X: 0.06, Y: 0.18, W: 0.42, H: 0.27},
	{X: 0.52, Y: 0.18, W: 0.42, H: 0.27},
	{X: 0.06, Y: 0.47, W: 0.42, H: 0.27},
	{X: 0.52, Y: 0.47, W: 0.42, H: 0.27},
}

func calendar(id, textColor string, nudge float64) Frame {
	ov := calendarOverlay
	return Frame{
		Config: Config{
			FrameID:      id,
			PhotoCount:   4,
			CaptureCount: 6,
			Slots:        gridSlots2x2,
			Overlay:      &ov,
		},
		Custom:    true,
		TextColor: textColor,
		Nudge:     nudge,
	}
}

var builtinFrames = []Frame{
	{Config: defaultConfig},
	{Config: Config{
		FrameID:      "default_2_photo",
		PhotoCount:   2,
		CaptureCount: 4,
		Slots: []Slot{
			{X: 0.08, Y: 0.08, W: 0.84, H: 0.4},
			{X: 0.08, Y: 0.52, W: 0.84, H: 0.4},
		},
	}},
	{Config: Config{
		FrameID:      "default_4_photo",
		PhotoCount:   4,
		CaptureCount: 6,
		Slots: []Slot{
			{X: 0.05, Y: 0.1, W: 0.43, H: 0.38},
			{X: 0.52, Y: 0.1, W: 0.43, H: 0.38},
			{X: 0.05, Y: 0.52, W: 0.43, H: 0.38},
			{X: 0.52, Y: 0.52, W: 0.43, H: 0.38},
		},
	}},
	{Config: Config{
		FrameID:      "default_6_photo",
		PhotoCount:   6,
		CaptureCount: 6,
		Slots: []Slot{
			{X: 0.05, Y: 0.06, W: 0.43, H: 0.28},
			{X: 0.52, Y: 0.06, W: 0.43, H: 0.28},
			{X: 0.05, Y: 0.36, W: 0.43, H: 0.28},
			{X: 0.52, Y: 0.36, W: 0.43, H: 0.28},
			{X: 0.05, Y: 0.66, W: 0.43, H: 0.28},
			{X: 0.52, Y: 0.66, W: 0.43, H: 0.28},
		},
	}},
	{
		Config: Config{
			FrameID:      "custom_classic_strip",
			PhotoCount:   3,
			CaptureCount: 6,
			Slots: []Slot{
				{X: 0.1, Y: 0.08, W: 0.8, H: 0.23},
				{X: 0.1, Y: 0.33, W: 0.8, H: 0.23},
				{X: 0.1, Y: 0.58, W: 0.8, H: 0.23},
			},
			Overlay: &printOverlay,
		},
		Custom: true,
	},
	{
		Config: Config{
			FrameID:      "custom_wedding",
			PhotoCount:   2,
			CaptureCount: 5,
			Slots: []Slot{
				{X: 0.1, Y: 0.1, W: 0.8, H: 0.34},
				{X: 0.1, Y: 0.46, W: 0.8, H: 0.34},
			},
			Overlay: &printOverlay,
		},
		Custom:    true,
		TextColor: "#8a6d3b",
	},
	calendar("calendar_spring", "#2e5e3a", 0.012),
	calendar("calendar_summer", "#b35a00", 0.012),
	calendar("calendar_autumn", "#6b2d0f", 0.008),
	calendar("calendar_winter", "#ffffff", 0),
}

// ParseHexColor parses #rgb or #rrggbb into an opaque colour.
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
