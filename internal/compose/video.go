package compose

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/layout"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
)

const (
	DefaultFPS = 30
	// minClipDuration is the shortest duration trusted from a clip; anything
	// shorter or unknown counts as fallbackClipDuration.
	minClipDuration      = time.Second
	fallbackClipDuration = 5 * time.Second
)

// VideoState tracks a one-shot video generation.
type VideoState int32

const (
	VideoIdle VideoState = iota
	VideoGenerating
	VideoSuccess
	VideoError
)

func (s VideoState) String() string {
	switch s {
	case VideoIdle:
		return "idle"
	case VideoGenerating:
		return "generating"
	case VideoSuccess:
		return "success"
	case VideoError:
		return "error"
	default:
		return fmt.Sprintf("VideoState(%d)", int32(s))
	}
}

// ClipSource yields decoded frames of a clip, looping forever.
type ClipSource interface {
	// Duration is zero when unknown.
	Duration() time.Duration
	NextFrame() (image.Image, error)
	Close() error
}

// ClipOpener opens a clip for decoding. ctx bounds the open only; the
// returned source lives until Close.
type ClipOpener interface {
	Open(ctx context.Context, clip []byte, fps int) (ClipSource, error)
}

// FrameEncoder consumes frames and produces the encoded video on Close.
type FrameEncoder interface {
	WriteFrame(frame *image.RGBA) error
	Close() ([]byte, error)
}

type EncoderFactory interface {
	NewEncoder(ctx context.Context, width, height, fps int) (FrameEncoder, error)
}

// VideoRequest carries clips parallel to the selection order; nil entries
// are selections without a clip.
type VideoRequest struct {
	Clips     [][]byte
	FrameID   string
	Signature []byte
	Message   string
	Now       func() time.Time
}

type VideoResult struct {
	Blob     []byte
	Duration time.Duration
	Frames   int
	Width    int
	Height   int
}

type VideoOptions struct {
	Registry       *layout.Registry
	Assets         *FrameAssets
	Opener         ClipOpener
	Encoders       EncoderFactory
	FPS            int
	LoadTimeout    time.Duration
	DefaultMessage string
	Logger         *slog.Logger
}

// VideoCompositor renders one recap video. It is not restartable; build a
// new one for every session.
type VideoCompositor struct {
	opts   VideoOptions
	logger *slog.Logger

	state atomic.Int32
	mu    sync.Mutex
	err   error
}

func NewVideoCompositor(opts VideoOptions) *VideoCompositor {
	if opts.Registry == nil {
		opts.Registry = layout.Default()
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.DefaultMessage == "" {
		opts.DefaultMessage = DefaultMessage
	}
	return &VideoCompositor{
		opts:   opts,
		logger: logging.WithComponent(logging.OrDiscard(opts.Logger), "video"),
	}
}

func (v *VideoCompositor) State() VideoState { return VideoState(v.state.Load()) }

// Err returns the failure once State is VideoError.
func (v *VideoCompositor) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// VideoForSession builds a request from a session snapshot.
func VideoForSession(s booth.Session) VideoRequest {
	req := VideoRequest{
		Clips:   s.SelectedClips(),
		FrameID: s.SelectedFrameID,
		Message: s.CustomMessage,
	}
	if s.SignatureData != "" {
		if _, data, err := media.ParseDataURL(s.SignatureData); err == nil {
			req.Signature = data
		}
	}
	return req
}

// PlanSlots assigns a clip to each of photoCount slots, cycling through the
// available clip indices when there are fewer clips than slots.
func PlanSlots(available []int, photoCount int) []int {
	if len(available) == 0 || photoCount <= 0 {
		return nil
	}
	plan := make([]int, photoCount)
	for i := range plan {
		plan[i] = available[i%len(available)]
	}
	return plan
}

// recordingLength is twice the longest clip.
func recordingLength(durations []time.Duration) time.Duration {
	var longest time.Duration
	for _, d := range durations {
		if d < minClipDuration {
			d = fallbackClipDuration
		}
		longest = max(longest, d)
	}
	return 2 * longest
}

// Generate renders the video. A second call returns ErrAlreadyStarted.
func (v *VideoCompositor) Generate(ctx context.Context, req VideoRequest) (*VideoResult, error) {
	if !v.state.CompareAndSwap(int32(VideoIdle), int32(VideoGenerating)) {
		return nil, ErrAlreadyStarted
	}
	start := time.Now()
	res, err := v.generate(ctx, req)
	if err != nil {
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
		v.state.Store(int32(VideoError))
		v.logger.Warn("video generation failed", "frame_id", req.FrameID, "error", err)
		return nil, err
	}
	v.state.Store(int32(VideoSuccess))
	v.logger.Info("video generated",
		"frame_id", req.FrameID,
		"frames", res.Frames,
		"duration", res.Duration,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (v *VideoCompositor) generate(ctx context.Context, req VideoRequest) (*VideoResult, error) {
	reg := v.opts.Registry
	cfg := reg.Get(req.FrameID)

	var available []int
	for i, c := range req.Clips {
		if len(c) > 0 {
			available = append(available, i)
		}
	}
	// A clip that yields no first frame (e.g. stopped before the recorder
	// wrote one) counts as missing, so round-robin fills its slots.
	sources := make(map[int]ClipSource, len(available))
	defer func() {
		for _, s := range sources {
			s.Close()
		}
	}()
	current := make(map[int]image.Image, len(available))
	var playable []int
	var durations []time.Duration
	for _, idx := range available {
		if len(playable) == cfg.PhotoCount {
			break
		}
		clip := req.Clips[idx]
		src, err := loadWithTimeout(ctx, v.opts.LoadTimeout, func(ctx context.Context) (ClipSource, error) {
			return v.opts.Opener.Open(ctx, clip, v.opts.FPS)
		}, func(s ClipSource) { s.Close() })
		if err != nil {
			return nil, fmt.Errorf("open clip %d: %w", idx, err)
		}
		first, err := src.NextFrame()
		if err != nil {
			v.logger.Warn("skipping clip without frames", "clip", idx, "error", err)
			src.Close()
			continue
		}
		sources[idx] = src
		current[idx] = first
		playable = append(playable, idx)
		durations = append(durations, src.Duration())
	}
	plan := PlanSlots(playable, cfg.PhotoCount)
	if len(plan) == 0 {
		return nil, ErrNoClips
	}

	length := recordingLength(durations)
	frames := int(length.Seconds() * float64(v.opts.FPS))
	w, h := reg.VideoCanvas(req.FrameID)

	overlay, err := v.opts.Assets.Overlay(ctx, req.FrameID, w, h)
	if err != nil {
		return nil, err
	}

	var sig *image.RGBA
	var sigRect image.Rectangle
	if len(req.Signature) > 0 {
		img, err := media.Decode(req.Signature)
		if err != nil {
			v.logger.Warn("ignoring undecodable signature", "error", err)
		} else {
			sigRect = fitInside(img.Bounds(), signatureRegion(w, h))
			if !sigRect.Empty() {
				sig = scaledCopy(img, sigRect.Dx(), sigRect.Dy())
			}
		}
	}

	custom := reg.IsCustomFrame(req.FrameID)
	style := styleFor(reg, req.FrameID)
	msg := req.Message
	if msg == "" {
		msg = v.opts.DefaultMessage
	}
	now := req.Now
	if now == nil {
		now = time.Now
	}

	enc, err := v.opts.Encoders.NewEncoder(ctx, w, h, v.opts.FPS)
	if err != nil {
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	abort := func(err error) (*VideoResult, error) {
		enc.Close()
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	for n := 0; n < frames; n++ {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		// Frame 0 was read when the clips were opened.
		if n > 0 {
			for idx, src := range sources {
				frame, err := src.NextFrame()
				if err != nil {
					return abort(fmt.Errorf("decode clip %d frame %d: %w", idx, n, err))
				}
				current[idx] = frame
			}
		}

		fillWhite(canvas)
		for i, idx := range plan {
			if i >= len(cfg.Slots) {
				break
			}
			drawCoverMirrored(canvas, slotRect(cfg.Slots[i], w, h), current[idx], draw.ApproxBiLinear)
		}
		if overlay != nil {
			draw.Draw(canvas, canvas.Bounds(), overlay, image.Point{}, draw.Over)
		}
		if custom {
			if err := faces.drawTextBlock(canvas, cfg.Overlay, style, now(), msg); err != nil {
				return abort(err)
			}
		}
		if sig != nil {
			draw.Draw(canvas, sigRect, sig, image.Point{}, draw.Over)
		}
		if err := enc.WriteFrame(canvas); err != nil {
			return abort(fmt.Errorf("encode frame %d: %w", n, err))
		}
	}

	blob, err := enc.Close()
	if err != nil {
		return nil, fmt.Errorf("finish video: %w", err)
	}
	return &VideoResult{Blob: blob, Duration: length, Frames: frames, Width: w, Height: h}, nil
}
