package compose

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/image/draw"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/layout"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
)

// DefaultMessage is printed when the guest leaves the message empty.
const DefaultMessage = "Memories made here"

// StripRequest lists photos already ordered by selection.
type StripRequest struct {
	Photos  [][]byte
	FrameID string
	Filter  booth.Filter
	Message string
	Now     time.Time
}

type StripResult struct {
	PreviewURL string
	Blob       []byte
	Width      int
	Height     int
}

// StripCompositor renders photo strips. It holds no per-call state and may
// be used concurrently.
type StripCompositor struct {
	registry       *layout.Registry
	assets         *FrameAssets
	defaultMessage string
	logger         *slog.Logger
}

func NewStripCompositor(reg *layout.Registry, assets *FrameAssets, defaultMessage string, logger *slog.Logger) *StripCompositor {
	if reg == nil {
		reg = layout.Default()
	}
	if defaultMessage == "" {
		defaultMessage = DefaultMessage
	}
	return &StripCompositor{
		registry:       reg,
		assets:         assets,
		defaultMessage: defaultMessage,
		logger:         logging.WithComponent(logging.OrDiscard(logger), "strip"),
	}
}

// ForSelection builds a request from a session snapshot.
func ForSelection(s booth.Session) StripRequest {
	return StripRequest{
		Photos:  s.SelectedPhotos(),
		FrameID: s.SelectedFrameID,
		Filter:  s.SelectedFilter,
		Message: s.CustomMessage,
	}
}

func (c *StripCompositor) Compose(ctx context.Context, req StripRequest) (*StripResult, error) {
	cfg := c.registry.Get(req.FrameID)
	if len(req.Photos) == 0 {
		return nil, ErrNoPhotos
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	w, h := c.registry.StripCanvas(req.FrameID)
	canvas := newCanvas(w, h)

	for i, data := range req.Photos {
		if i >= len(cfg.Slots) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := media.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("photo %d: %w", i, err)
		}
		photo := media.ToRGBA(img)
		if req.Filter != booth.FilterNone && req.Filter != "" {
			// ToRGBA may return the decoded image itself; it is ours to mutate.
			applyFilter(photo, req.Filter)
		}
		drawCoverMirrored(canvas, slotRect(cfg.Slots[i], w, h), photo, draw.CatmullRom)
	}

	overlay, err := c.assets.Overlay(ctx, req.FrameID, w, h)
	if err != nil {
		return nil, err
	}
	if overlay != nil {
		draw.Draw(canvas, canvas.Bounds(), overlay, overlay.Bounds().Min, draw.Over)
	}

	if c.registry.IsCustomFrame(req.FrameID) {
		msg := req.Message
		if msg == "" {
			msg = c.defaultMessage
		}
		if err := faces.drawTextBlock(canvas, cfg.Overlay, styleFor(c.registry, req.FrameID), now, msg); err != nil {
			return nil, err
		}
	}

	preview, err := media.EncodeJPEG(canvas, media.PreviewQuality)
	if err != nil {
		return nil, err
	}
	blob, err := media.EncodeJPEG(canvas, media.UploadQuality)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("strip composed", "frame_id", req.FrameID, "photos", len(req.Photos), "width", w, "height", h)
	return &StripResult{
		PreviewURL: media.DataURL("image/jpeg", preview),
		Blob:       blob,
		Width:      w,
		Height:     h,
	}, nil
}
