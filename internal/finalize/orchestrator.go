// Package finalize turns a completed booth session into uploaded artifacts.
package finalize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/cloud"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/media"
)

const (
	DefaultWaitTimeout = 2 * time.Minute
	maxParallelUploads = 4
	// progressCeiling holds progress below 100 until the final step.
	progressCeiling = 95
)

// Uploader is the part of the session API the orchestrator needs.
type Uploader interface {
	UploadMedia(ctx context.Context, sessionID string, mediaType cloud.MediaType, filename string, data io.Reader) (*cloud.Media, error)
	CompleteSession(ctx context.Context, sessionID string) error
}

// Job is one finished session. Strip and Video may be nil when the
// artifact was never requested.
type Job struct {
	SessionID string
	Strip     *Pending[[]byte]
	Video     *Pending[[]byte]
	Originals [][]byte
	Signature string
}

type Outcome struct {
	StripURL     string
	VideoURL     string
	SignatureURL string
	OriginalURLs []string
	Uploaded     int
	Failed       int
	Skipped      bool
	Completed    bool
	ShareURL     string
}

type OrchestratorOptions struct {
	WaitTimeout  time.Duration
	ShareBaseURL string
	Logger       *slog.Logger
}

type Orchestrator struct {
	uploader  Uploader
	wait      time.Duration
	shareBase string
	logger    *slog.Logger
}

func NewOrchestrator(uploader Uploader, opts OrchestratorOptions) *Orchestrator {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	return &Orchestrator{
		uploader:  uploader,
		wait:      opts.WaitTimeout,
		shareBase: strings.TrimRight(opts.ShareBaseURL, "/"),
		logger:    logging.WithComponent(logging.OrDiscard(opts.Logger), "finalize"),
	}
}

// ShareURL is where guests can fetch a session's artifacts.
func (o *Orchestrator) ShareURL(sessionID string) string {
	if o.shareBase == "" || booth.IsLocalSession(sessionID) {
		return ""
	}
	return o.shareBase + "/" + sessionID
}

type unit struct {
	mediaType cloud.MediaType
	filename  string
	index     int
	prepare   func() ([]byte, error)
}

// Run waits for the compositors, uploads every artifact concurrently and
// marks the remote session complete. It never fails; failures are counted.
func (o *Orchestrator) Run(ctx context.Context, job Job, progress func(int)) Outcome {
	if progress == nil {
		progress = func(int) {}
	}
	logger := logging.WithSessionID(o.logger, job.SessionID)

	waitCtx, cancel := context.WithTimeout(ctx, o.wait)
	strip := o.await(waitCtx, logger, "strip", job.Strip)
	video := o.await(waitCtx, logger, "video", job.Video)
	cancel()

	if booth.IsLocalSession(job.SessionID) {
		logger.Info("local session, skipping uploads")
		progress(100)
		return Outcome{Skipped: true}
	}

	units := o.plan(job, strip, video)
	out := Outcome{OriginalURLs: make([]string, len(job.Originals))}

	var mu sync.Mutex
	done := 0
	report := func(ok bool, u unit, url string) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if !ok {
			out.Failed++
		} else {
			out.Uploaded++
			switch u.mediaType {
			case cloud.MediaProcessed:
				out.StripURL = url
			case cloud.MediaVideo:
				out.VideoURL = url
			case cloud.MediaSignature:
				out.SignatureURL = url
			case cloud.MediaOriginal:
				out.OriginalURLs[u.index] = url
			}
		}
		progress(min(progressCeiling, done*100/len(units)))
	}

	var g errgroup.Group
	g.SetLimit(maxParallelUploads)
	for _, u := range units {
		g.Go(func() error {
			url, err := o.upload(ctx, job.SessionID, u)
			if err != nil {
				logger.Warn("upload failed", "type", u.mediaType, "file", u.filename, "error", err)
			}
			report(err == nil, u, url)
			return nil
		})
	}
	g.Wait()

	if err := o.uploader.CompleteSession(ctx, job.SessionID); err != nil {
		logger.Warn("failed to mark session complete", "error", err)
	} else {
		out.Completed = true
	}
	out.ShareURL = o.ShareURL(job.SessionID)
	progress(100)

	logger.Info("finalization finished",
		"uploaded", out.Uploaded,
		"failed", out.Failed,
		"completed", out.Completed,
	)
	return out
}

func (o *Orchestrator) await(ctx context.Context, logger *slog.Logger, name string, p *Pending[[]byte]) []byte {
	if p == nil {
		return nil
	}
	data, err := p.Wait(ctx)
	if err != nil {
		logger.Warn("artifact unavailable", "artifact", name, "error", err)
		return nil
	}
	return data
}

func (o *Orchestrator) plan(job Job, strip, video []byte) []unit {
	var units []unit
	if len(strip) > 0 {
		units = append(units, unit{mediaType: cloud.MediaProcessed, filename: "strip.jpg", prepare: bytesOf(strip)})
	}
	if len(video) > 0 {
		units = append(units, unit{mediaType: cloud.MediaVideo, filename: "recap.mp4", prepare: bytesOf(video)})
	}
	for i, photo := range job.Originals {
		// Captures are stored as seen in the mirrored preview.
		units = append(units, unit{
			mediaType: cloud.MediaOriginal,
			filename:  fmt.Sprintf("original-%d.jpg", i+1),
			index:     i,
			prepare:   func() ([]byte, error) { return media.MirrorJPEG(photo, media.UploadQuality) },
		})
	}
	if job.Signature != "" {
		units = append(units, unit{
			mediaType: cloud.MediaSignature,
			filename:  "signature.png",
			prepare: func() ([]byte, error) {
				_, data, err := media.ParseDataURL(job.Signature)
				return data, err
			},
		})
	}
	return units
}

func bytesOf(b []byte) func() ([]byte, error) {
	return func() ([]byte, error) { return b, nil }
}

func (o *Orchestrator) upload(ctx context.Context, sessionID string, u unit) (string, error) {
	data, err := u.prepare()
	if err != nil {
		return "", fmt.Errorf("prepare %s: %w", u.filename, err)
	}
	o.logger.Debug("uploading", "type", u.mediaType, "size", humanize.Bytes(uint64(len(data))))
	m, err := o.uploader.UploadMedia(ctx, sessionID, u.mediaType, u.filename, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return m.URL, nil
}
