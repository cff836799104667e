// Package monitor implements the camera-holder role: it mirrors the
// controller's configuration and answers each capture request with a photo
// and a short clip.
package monitor

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/signal"
)

type Options struct {
	Room string
	// DisableClips captures stills only.
	DisableClips bool
	Logger       *slog.Logger
	// After replaces time.After in tests.
	After func(d time.Duration) <-chan time.Time
}

type Monitor struct {
	camera       Camera
	room         string
	disableClips bool
	logger       *slog.Logger
	after        func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	sessionID string
	timer     int
	shotIndex int
	current   string
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

func New(camera Camera, opts Options) *Monitor {
	m := &Monitor{
		camera:       camera,
		room:         opts.Room,
		disableClips: opts.DisableClips,
		logger:       logging.WithRoom(logging.WithComponent(logging.OrDiscard(opts.Logger), "monitor"), opts.Room),
		after:        opts.After,
	}
	if m.after == nil {
		m.after = time.After
	}
	return m
}

// Run handles signaling until ctx is done or conn closes.
func (m *Monitor) Run(ctx context.Context, conn signal.Conn) {
	defer m.wg.Wait()
	defer m.cancelCapture()

	m.logger.Info("monitor listening")
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-conn.Messages():
			if !ok {
				m.logger.Info("signaling connection closed")
				return
			}
			if env.Event != signal.EventUpdateConfig {
				continue
			}
			var u signal.ConfigUpdate
			if err := env.Decode(&u); err != nil {
				m.logger.Warn("bad config update", "error", err)
				continue
			}
			m.apply(ctx, conn, u)
		}
	}
}

func (m *Monitor) apply(ctx context.Context, conn signal.Conn, u signal.ConfigUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.Reset {
		m.cancelLocked()
		m.shotIndex = 0
		m.current = ""
	}
	if u.SessionID != nil {
		m.sessionID = *u.SessionID
	}
	if u.TimerDuration != nil {
		m.timer = *u.TimerDuration
	}
	if !u.CaptureRequestID.Set {
		return
	}

	id := u.CaptureRequestID.Value
	if id == m.current {
		return
	}
	if id == "" {
		// Cleared by the controller: answered, expired or reset.
		m.cancelLocked()
		m.current = ""
		return
	}

	m.cancelLocked()
	m.current = id
	capCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	job := captureJob{requestID: id, sessionID: m.sessionID, timer: m.timer, shot: m.shotIndex}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.capture(capCtx, conn, job)
	}()
}

func (m *Monitor) cancelLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// advanceShot moves to the next shot index if requestID is still current.
func (m *Monitor) advanceShot(requestID string) {
	m.mu.Lock()
	if m.current == requestID {
		m.shotIndex++
	}
	m.mu.Unlock()
}

func (m *Monitor) cancelCapture() {
	m.mu.Lock()
	m.cancelLocked()
	m.mu.Unlock()
}

type captureJob struct {
	requestID string
	sessionID string
	timer     int
	shot      int
}

// capture runs countdown, clip and still for one request. It reports
// whether a photo was delivered.
func (m *Monitor) capture(ctx context.Context, conn signal.Conn, job captureJob) bool {
	log := m.logger.With("request_id", job.requestID, "shot", job.shot)

	send := func(event string, payload any) {
		if err := conn.Send(event, payload); err != nil {
			log.Warn("send failed", "event", event, "error", err)
		}
	}

	send(signal.EventStartCountdown, signal.Countdown{
		RoomID:    m.room,
		ShotIndex: job.shot,
		Seconds:   job.timer,
		RequestID: job.requestID,
	})

	var clip Clip
	if !m.disableClips {
		c, err := m.camera.StartClip(ctx)
		if err != nil {
			log.Warn("clip recorder unavailable, capturing still only", "error", err)
		} else {
			clip = c
		}
	}

	select {
	case <-m.after(time.Duration(job.timer) * time.Second):
	case <-ctx.Done():
		if clip != nil {
			clip.Stop()
		}
		log.Info("capture cancelled")
		return false
	}

	var clipData []byte
	if clip != nil {
		data, err := clip.Stop()
		if err != nil {
			log.Warn("clip recording failed, sending still only", "error", err)
		} else {
			clipData = data
		}
	}

	photo, err := m.camera.Still(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Error("still capture failed", "error", err)
		send(signal.EventCaptureFailed, signal.CaptureFailed{RequestID: job.requestID, Error: err.Error()})
		return false
	}

	taken := signal.PhotoTaken{
		SessionID: job.sessionID,
		Image:     base64.StdEncoding.EncodeToString(photo),
		Slot:      job.shot,
		RequestID: job.requestID,
	}
	if clipData != nil {
		taken.Video = base64.StdEncoding.EncodeToString(clipData)
	}
	m.advanceShot(job.requestID)
	send(signal.EventPhotoTaken, taken)
	send(signal.EventCaptureDone, signal.CaptureDone{RoomID: m.room, ShotIndex: job.shot})
	log.Info("capture delivered", "photo_bytes", len(photo), "clip_bytes", len(clipData))
	return true
}
