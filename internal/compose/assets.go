package compose

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
)

// FrameAssets loads frame overlay PNGs from <dir>/<frameID>.png. A frame
// without a file has no overlay. Decoded overlays are cached per size.
type FrameAssets struct {
	dir     string
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[assetKey]*image.RGBA
}

type assetKey struct {
	frameID string
	w, h    int
}

func NewFrameAssets(dir string, timeout time.Duration, logger *slog.Logger) *FrameAssets {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	return &FrameAssets{
		dir:     dir,
		timeout: timeout,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "frame-assets"),
		cache:   make(map[assetKey]*image.RGBA),
	}
}

// Path returns where the overlay for frameID is expected.
func (a *FrameAssets) Path(frameID string) string {
	return filepath.Join(a.dir, filepath.Base(frameID)+".png")
}

// Overlay returns the overlay scaled to w×h, or nil when the frame has none.
func (a *FrameAssets) Overlay(ctx context.Context, frameID string, w, h int) (*image.RGBA, error) {
	if a == nil || a.dir == "" || frameID == "" {
		return nil, nil
	}
	key := assetKey{frameID, w, h}

	a.mu.Lock()
	img, ok := a.cache[key]
	a.mu.Unlock()
	if ok {
		return img, nil
	}

	img, err := loadWithTimeout(ctx, a.timeout, func(context.Context) (*image.RGBA, error) {
		return a.load(frameID, w, h)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("overlay %s: %w", frameID, err)
	}

	a.mu.Lock()
	a.cache[key] = img
	a.mu.Unlock()
	return img, nil
}

func (a *FrameAssets) load(frameID string, w, h int) (*image.RGBA, error) {
	data, err := os.ReadFile(a.Path(frameID))
	if err != nil {
		if os.IsNotExist(err) {
			a.logger.Debug("frame has no overlay", "frame_id", frameID)
			return nil, nil
		}
		return nil, err
	}
	src, err := media.Decode(data)
	if err != nil {
		return nil, err
	}
	if b := src.Bounds(); b.Dx() == w && b.Dy() == h {
		return media.ToRGBA(src), nil
	}
	return scaledCopy(src, w, h), nil
}

// Invalidate drops every cached overlay so edited assets are re-read.
func (a *FrameAssets) Invalidate() {
	a.mu.Lock()
	clear(a.cache)
	a.mu.Unlock()
}
