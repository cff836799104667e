package layout

import (
	"fmt"
	"sort"
	"sync"
)

// Frame is a registry entry: geometry plus the per-frame presentation data.
type Frame struct {
	Config
	// Custom frames are the high-resolution print frames that carry the
	// timestamp and message text block.
	Custom bool
	// TextColor is a #rrggbb colour for the text block; empty means the
	// neutral default.
	TextColor string
	// Nudge shifts text anchors horizontally, as a fraction of canvas width,
	// to correct misalignment baked into a frame asset.
	Nudge float64
}

// Registry is a concurrency-safe frame table.
type Registry struct {
	mu     sync.RWMutex
	frames map[string]Frame
}

// NewRegistry returns a registry seeded with the built-in frames.
func NewRegistry() *Registry {
	r := &Registry{frames: make(map[string]Frame, len(builtinFrames))}
	for _, f := range builtinFrames {
		r.frames[f.FrameID] = f
	}
	return r
}

// Register adds or replaces a frame after validating it.
func (r *Registry) Register(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.TextColor != "" {
		if _, err := ParseHexColor(f.TextColor); err != nil {
			return fmt.Errorf("layout: frame %s: %w", f.FrameID, err)
		}
	}
	f.Config = f.Config.clone()

	r.mu.Lock()
	r.frames[f.FrameID] = f
	r.mu.Unlock()
	return nil
}

// Get returns the layout registered for frameID, or the default geometry
// bearing the requested id. It never fails.
func (r *Registry) Get(frameID string) Config {
	r.mu.RLock()
	f, ok := r.frames[frameID]
	r.mu.RUnlock()
	if ok {
		return f.Config.clone()
	}
	cfg := defaultConfig.clone()
	cfg.FrameID = frameID
	return cfg
}

// Lookup returns the full frame entry.
func (r *Registry) Lookup(frameID string) (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.frames[frameID]
	if !ok {
		return Frame{}, false
	}
	f.Config = f.Config.clone()
	return f, true
}

// IsCustomFrame is the single classification of print frames used by both
// compositors and the HTTP surface.
func (r *Registry) IsCustomFrame(frameID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frames[frameID].Custom
}

// TextColor returns the text colour for a frame, defaulting to neutral.
func (r *Registry) TextColor(frameID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.frames[frameID].TextColor; c != "" {
		return c
	}
	return DefaultTextColor
}

// TextNudge returns the horizontal text correction for a frame.
func (r *Registry) TextNudge(frameID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frames[frameID].Nudge
}

// StripCanvas returns the photo strip canvas size for a frame.
func (r *Registry) StripCanvas(frameID string) (int, int) {
	if r.IsCustomFrame(frameID) {
		return CustomCanvasWidth, CustomCanvasHeight
	}
	return DefaultCanvasWidth, DefaultCanvasHeight
}

// VideoCanvas returns the recap canvas: a fixed height with the strip's
// aspect ratio, rounded to an even width for the encoder.
func (r *Registry) VideoCanvas(frameID string) (int, int) {
	w, h := r.StripCanvas(frameID)
	vw := int(float64(VideoCanvasHeight)*float64(w)/float64(h) + 0.5)
	vw -= vw % 2
	return vw, VideoCanvasHeight
}

// Frames lists registered frames sorted by id.
func (r *Registry) Frames() []Frame {
	r.mu.RLock()
	out := make([]Frame, 0, len(r.frames))
	for _, f := range r.frames {
		f.Config = f.Config.clone()
		out = append(out, f)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FrameID < out[j].FrameID })
	return out
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Get looks up frameID in the process-wide registry.
func Get(frameID string) Config {
	return defaultRegistry.Get(frameID)
}

// IsCustomFrame classifies frameID against the process-wide registry.
func IsCustomFrame(frameID string) bool {
	return defaultRegistry.IsCustomFrame(frameID)
}
