package api

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/compose"
)

const DefaultPreviewDebounce = 300 * time.Millisecond

// previewer renders the strip preview once the selection has been quiet for
// the debounce interval. Requests for the current inputs reuse the last
// render; otherwise they render synchronously.
type previewer struct {
	strip    *compose.StripCompositor
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	last    cachedPreview
}

type cachedPreview struct {
	key    string
	result *compose.StripResult
}

func newPreviewer(strip *compose.StripCompositor, debounce time.Duration, logger *slog.Logger) *previewer {
	if debounce <= 0 {
		debounce = DefaultPreviewDebounce
	}
	return &previewer{strip: strip, debounce: debounce, logger: logger}
}

// previewable reports whether s has anything to render.
func previewable(s booth.Session) bool {
	switch s.Step {
	case booth.StepSelection, booth.StepReview, booth.StepSigning:
		return len(s.SelectedPhotos()) > 0
	}
	return false
}

// previewKey identifies the inputs of a render.
func previewKey(s booth.Session) string {
	var b strings.Builder
	b.WriteString(s.SessionID)
	b.WriteByte('|')
	b.WriteString(s.SelectedFrameID)
	b.WriteByte('|')
	b.WriteString(string(s.SelectedFilter))
	b.WriteByte('|')
	b.WriteString(s.CustomMessage)
	for _, i := range s.SelectedPhotoIndices {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

// observe is registered with Machine.OnChange.
func (p *previewer) observe(s booth.Session) {
	if p.strip == nil || !previewable(s) {
		return
	}
	key := previewKey(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.last.key || key == p.pending {
		return
	}
	p.pending = key
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		current := p.pending == key
		p.mu.Unlock()
		if !current {
			return
		}
		if _, err := p.render(context.Background(), s, key); err != nil {
			p.logger.Warn("background preview failed", "session_id", s.SessionID, "error", err)
		}
	})
}

// get returns the preview for s, rendering it now if nothing cached matches.
func (p *previewer) get(ctx context.Context, s booth.Session) (*compose.StripResult, error) {
	if p.strip == nil {
		return nil, fmt.Errorf("preview: no compositor configured")
	}
	key := previewKey(s)
	p.mu.Lock()
	if p.last.key == key && p.last.result != nil {
		res := p.last.result
		p.mu.Unlock()
		return res, nil
	}
	p.mu.Unlock()
	return p.render(ctx, s, key)
}

func (p *previewer) render(ctx context.Context, s booth.Session, key string) (*compose.StripResult, error) {
	start := time.Now()
	res, err := p.strip.Compose(ctx, compose.ForSelection(s))
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.last = cachedPreview{key: key, result: res}
	if p.pending == key {
		p.pending = ""
	}
	p.mu.Unlock()

	p.logger.Debug("preview rendered", "session_id", s.SessionID, "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// stop cancels a scheduled render.
func (p *previewer) stop() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.pending = ""
	p.mu.Unlock()
}
