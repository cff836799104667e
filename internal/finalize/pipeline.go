package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/artifacts"
	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/compose"
	"github.com/snapbooth/photobooth-agent/internal/history"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/signal"
)

// HistoryRecorder stores finished sessions locally.
type HistoryRecorder interface {
	Add(ctx context.Context, e *history.Entry) error
}

type PipelineOptions struct {
	Strip        *compose.StripCompositor
	Video        compose.VideoOptions
	Store        *artifacts.Store
	Orchestrator *Orchestrator
	History      HistoryRecorder
	Broadcaster  booth.Broadcaster
	Room         string
	DeviceType   string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Pipeline composes the strip and the video of a finished session, keeps
// local copies, uploads everything and announces the result.
type Pipeline struct {
	opts   PipelineOptions
	logger *slog.Logger

	bmu         sync.RWMutex
	broadcaster booth.Broadcaster
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		opts:        opts,
		logger:      logging.WithComponent(logging.OrDiscard(opts.Logger), "pipeline"),
		broadcaster: opts.Broadcaster,
	}
}

func (p *Pipeline) SetBroadcaster(b booth.Broadcaster) {
	p.bmu.Lock()
	p.broadcaster = b
	p.bmu.Unlock()
}

type composed struct {
	preview string
	local   string
}

func hasClip(clips [][]byte) bool {
	for _, c := range clips {
		if len(c) > 0 {
			return true
		}
	}
	return false
}

// guard converts a panic in fn into an error on p.
func guard(p *Pending[[]byte], fn func() ([]byte, error)) {
	defer func() {
		if r := recover(); r != nil {
			p.Resolve(nil, fmt.Errorf("panic: %v", r))
		}
	}()
	p.Resolve(fn())
}

func (p *Pipeline) Finalize(ctx context.Context, s booth.Session, progress func(int)) booth.Result {
	logger := logging.WithSessionID(p.logger, s.SessionID)
	start := time.Now()

	var strip composed
	stripP := NewPending[[]byte]()
	go guard(stripP, func() ([]byte, error) {
		res, err := p.opts.Strip.Compose(ctx, compose.ForSelection(s))
		if err != nil {
			return nil, err
		}
		strip.preview = res.PreviewURL
		strip.local = p.keep(logger, s.SessionID, artifacts.StripName, res.Blob)
		return res.Blob, nil
	})

	var video composed
	var videoP *Pending[[]byte]
	req := compose.VideoForSession(s)
	if hasClip(req.Clips) {
		videoP = NewPending[[]byte]()
		go guard(videoP, func() ([]byte, error) {
			res, err := compose.NewVideoCompositor(p.opts.Video).Generate(ctx, req)
			if err != nil {
				return nil, err
			}
			video.local = p.keep(logger, s.SessionID, artifacts.VideoName, res.Blob)
			return res.Blob, nil
		})
	} else {
		logger.Info("no clips recorded, skipping video")
	}

	out := p.opts.Orchestrator.Run(ctx, Job{
		SessionID: s.SessionID,
		Strip:     stripP,
		Video:     videoP,
		Originals: s.SelectedPhotos(),
		Signature: s.SignatureData,
	}, progress)

	// A compositor that missed the wait may still be writing its output.
	var stripOut, videoOut composed
	if stripP.Done() {
		stripOut = strip
	}
	if videoP != nil && videoP.Done() {
		videoOut = video
	}

	res := booth.Result{
		StripURL:      out.StripURL,
		VideoURL:      out.VideoURL,
		ShareURL:      out.ShareURL,
		LocalStrip:    stripOut.local,
		LocalVideo:    videoOut.local,
		FailedUploads: out.Failed,
	}
	imageURL := firstNonEmpty(res.StripURL, res.LocalStrip)
	videoURL := firstNonEmpty(res.VideoURL, res.LocalVideo)

	p.announce(logger, signal.ShowResult{
		RoomID:       p.opts.Room,
		ImageURL:     imageURL,
		VideoURL:     videoURL,
		PreviewReady: stripOut.preview != "",
	})

	if p.opts.History != nil && stripOut.preview != "" {
		err := p.opts.History.Add(context.WithoutCancel(ctx), &history.Entry{
			ID:           s.SessionID,
			Timestamp:    p.opts.Now(),
			PhotoDataURL: stripOut.preview,
			DeviceType:   p.opts.DeviceType,
			FrameID:      s.SelectedFrameID,
			StripURL:     imageURL,
			VideoURL:     videoURL,
			ShareURL:     res.ShareURL,
		})
		if err != nil {
			logger.Warn("failed to record history", "error", err)
		}
	}

	logger.Info("session finalized",
		"strip", imageURL != "",
		"video", videoURL != "",
		"failed_uploads", res.FailedUploads,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (p *Pipeline) keep(logger *slog.Logger, sessionID, name string, data []byte) string {
	if p.opts.Store == nil {
		return ""
	}
	url, err := p.opts.Store.Put(sessionID, name, data)
	if err != nil {
		logger.Warn("failed to store artifact", "name", name, "error", err)
		return ""
	}
	return url
}

func (p *Pipeline) announce(logger *slog.Logger, msg signal.ShowResult) {
	p.bmu.RLock()
	b := p.broadcaster
	p.bmu.RUnlock()
	if b == nil {
		return
	}
	if err := b.Send(signal.EventShowResult, msg); err != nil && !errors.Is(err, signal.ErrHubClosed) {
		logger.Warn("failed to announce result", "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
