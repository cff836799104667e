package booth

import (
	"context"
	"encoding/base64"
	"errors"
	"slices"
	"time"

	"github.com/snapbooth/photobooth-agent/internal/signal"
)

// ApplyRemote applies the fields present in a peer's update. It never
// re-broadcasts. A reset starts a fresh session before the other fields are
// applied.
func (m *Machine) ApplyRemote(u signal.ConfigUpdate) {
	m.mu.Lock()
	if u.Reset {
		m.s = freshSession()
		m.pendingSince = time.Time{}
	}
	if u.SessionID != nil {
		m.s.SessionID = *u.SessionID
	}
	if u.SelectedFrameID != nil {
		m.s.SelectedFrameID = *u.SelectedFrameID
	}
	if u.SelectedFilter != nil {
		if f, ok := ParseFilter(*u.SelectedFilter); ok {
			m.s.SelectedFilter = f
		}
	}
	if u.CustomMessage != nil {
		m.s.CustomMessage = *u.CustomMessage
	}
	if u.TimerDuration != nil && *u.TimerDuration >= 0 && *u.TimerDuration <= MaxTimerSeconds {
		m.s.TimerDuration = *u.TimerDuration
	}
	if u.SelectedPhotoIndices != nil {
		cfg := m.registry.Get(m.s.SelectedFrameID)
		m.s.SelectedPhotoIndices = sanitizeIndices(*u.SelectedPhotoIndices, cfg.PhotoCount, cfg.CaptureCount)
	}
	if u.CaptureRequestID.Set {
		m.s.CaptureRequestID = u.CaptureRequestID.Value
		if u.CaptureRequestID.Value == "" {
			m.pendingSince = time.Time{}
		} else {
			m.pendingSince = m.now()
		}
	}
	if u.Step != nil {
		if st, ok := ParseStep(*u.Step); ok {
			m.s.Step = st
		} else {
			m.logger.Warn("ignoring unknown remote step", "step", *u.Step)
		}
	}
	snap := m.s.clone()
	m.mu.Unlock()

	m.publish(snap)
}

// sanitizeIndices drops duplicates and out-of-range entries and caps the
// list at photoCount, keeping order.
func sanitizeIndices(in []int, photoCount, captureCount int) []int {
	out := make([]int, 0, len(in))
	for _, i := range in {
		if i < 0 || i >= captureCount || slices.Contains(out, i) {
			continue
		}
		if len(out) == photoCount {
			break
		}
		out = append(out, i)
	}
	return out
}

// applySignature stores a peer's signature without echoing it back.
func (m *Machine) applySignature(dataURL string) {
	m.mu.Lock()
	m.s.SignatureData = dataURL
	snap := m.s.clone()
	m.mu.Unlock()
	m.publish(snap)
}

// Listen dispatches inbound envelopes until ctx is done or conn closes.
func (m *Machine) Listen(ctx context.Context, conn signal.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-conn.Messages():
			if !ok {
				m.logger.Info("signaling connection closed")
				return
			}
			m.handle(env)
		}
	}
}

func (m *Machine) handle(env signal.Envelope) {
	log := m.logger.With("event", env.Event, "from", env.From)

	switch env.Event {
	case signal.EventUpdateConfig:
		var u signal.ConfigUpdate
		if err := env.Decode(&u); err != nil {
			log.Warn("bad config update", "error", err)
			return
		}
		m.ApplyRemote(u)

	case signal.EventPhotoTaken:
		var p signal.PhotoTaken
		if err := env.Decode(&p); err != nil {
			log.Warn("bad photo_taken", "error", err)
			return
		}
		photo, err := base64.StdEncoding.DecodeString(p.Image)
		if err != nil {
			log.Warn("photo is not base64", "error", err)
			m.CaptureFailed(p.RequestID)
			return
		}
		var clip []byte
		if p.Video != "" {
			if clip, err = base64.StdEncoding.DecodeString(p.Video); err != nil {
				log.Warn("clip is not base64, keeping photo only", "error", err)
				clip = nil
			}
		}
		if _, err := m.RegisterCapture(p.RequestID, photo, clip); err != nil {
			if errors.Is(err, ErrStaleCapture) {
				log.Debug("ignoring stale capture", "request_id", p.RequestID)
				return
			}
			log.Warn("capture rejected", "request_id", p.RequestID, "error", err)
		}

	case signal.EventCaptureFailed:
		var f signal.CaptureFailed
		if err := env.Decode(&f); err != nil {
			log.Warn("bad capture_failed", "error", err)
			return
		}
		log.Warn("monitor reported capture failure", "request_id", f.RequestID, "error", f.Error)
		m.CaptureFailed(f.RequestID)

	case signal.EventTriggerCountdown:
		if _, err := m.RequestCapture(); err != nil {
			log.Debug("trigger ignored", "error", err)
		}

	case signal.EventSyncSignature:
		var s signal.SyncSignature
		if err := env.Decode(&s); err != nil {
			log.Warn("bad sync_signature", "error", err)
			return
		}
		m.applySignature(s.SignatureImage)

	case signal.EventStartCountdown, signal.EventCaptureDone, signal.EventShowResult:
		log.Debug("peer progress")

	default:
		log.Debug("ignoring event")
	}
}
