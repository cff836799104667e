package booth

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/snapbooth/photobooth-agent/internal/signal"
)

// RequestCapture issues a capture request if the gate allows one: step is
// CAPTURE, nothing is pending and slots remain.
func (m *Machine) RequestCapture() (string, error) {
	m.mu.Lock()
	if err := m.requireStep(StepCapture); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if m.s.CaptureRequestID != "" {
		m.mu.Unlock()
		return "", ErrCapturePending
	}
	cfg := m.registry.Get(m.s.SelectedFrameID)
	if m.s.CapturedCount >= cfg.CaptureCount {
		m.mu.Unlock()
		return "", ErrCapturesComplete
	}

	id := uuid.NewString()
	m.s.CaptureRequestID = id
	m.pendingSince = m.now()
	snap := m.s.clone()
	m.mu.Unlock()

	m.logger.Debug("capture requested", "request_id", id, "shot", snap.CapturedCount)
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.CaptureRequestID = signal.Some(id)
	}))
	return id, nil
}

// RegisterCapture stores a photo answering the pending request. It returns
// the slot used, or -1 when every slot was full and the photo was dropped.
func (m *Machine) RegisterCapture(requestID string, photo, clip []byte) (int, error) {
	if len(photo) == 0 {
		return -1, invalid("empty photo")
	}

	m.mu.Lock()
	pending := m.s.CaptureRequestID
	m.mu.Unlock()
	if pending == "" || requestID != pending {
		return -1, fmt.Errorf("%w: got %q, pending %q", ErrStaleCapture, requestID, pending)
	}

	var preview string
	if m.preview != nil {
		p, err := m.preview(photo)
		if err != nil {
			m.logger.Warn("capture could not be decoded", "request_id", requestID, "error", err)
			m.CaptureFailed(requestID)
			return -1, fmt.Errorf("decode capture: %w", err)
		}
		preview = p
	}

	m.mu.Lock()
	// The pending id may have changed while decoding.
	if m.s.CaptureRequestID == "" || m.s.CaptureRequestID != requestID {
		m.mu.Unlock()
		return -1, fmt.Errorf("%w: request %q superseded", ErrStaleCapture, requestID)
	}

	cfg := m.registry.Get(m.s.SelectedFrameID)
	slot := assignSlot(&m.s, cfg.CaptureCount)

	m.s.CaptureRequestID = ""
	m.pendingSince = time.Time{}
	if slot >= 0 {
		m.s.RawPhotos[slot] = photo
		m.s.RawVideoClips[slot] = clip
		m.s.PhotoPreviews[slot] = preview
		m.s.CapturedCount = min(m.s.CapturedCount+1, cfg.CaptureCount)
	}
	advanced := false
	if m.s.Step == StepCapture && m.s.CapturedCount >= cfg.CaptureCount {
		m.s.Step = StepSelection
		advanced = true
	}
	snap := m.s.clone()
	m.mu.Unlock()

	if slot < 0 {
		m.logger.Warn("no free slot, capture dropped", "request_id", requestID)
	} else {
		m.logger.Info("capture registered", "slot", slot, "captured", snap.CapturedCount, "has_clip", clip != nil)
	}
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.CaptureRequestID = signal.Cleared()
		if advanced {
			u.Step = ptr(string(StepSelection))
		}
	}))
	return slot, nil
}

// assignSlot picks min(capturedCount, captureCount-1), falling back to the
// first empty slot. It returns -1 when none is free.
func assignSlot(s *Session, captureCount int) int {
	slot := min(s.CapturedCount, captureCount-1)
	if slot >= 0 && s.RawPhotos[slot] == nil {
		return slot
	}
	for i := 0; i < captureCount && i < len(s.RawPhotos); i++ {
		if s.RawPhotos[i] == nil {
			return i
		}
	}
	return -1
}

// CaptureFailed clears the pending gate for requestID so the next tick can
// retry.
func (m *Machine) CaptureFailed(requestID string) error {
	m.mu.Lock()
	if m.s.CaptureRequestID == "" || m.s.CaptureRequestID != requestID {
		m.mu.Unlock()
		return ErrStaleCapture
	}
	m.s.CaptureRequestID = ""
	m.pendingSince = time.Time{}
	snap := m.s.clone()
	m.mu.Unlock()

	m.logger.Warn("capture failed, will retry", "request_id", requestID)
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.CaptureRequestID = signal.Cleared()
	}))
	return nil
}

// expirePending clears a request that has waited longer than its countdown
// plus the capture timeout. It reports whether one was cleared.
func (m *Machine) expirePending() bool {
	m.mu.Lock()
	id := m.s.CaptureRequestID
	if id == "" || m.pendingSince.IsZero() {
		m.mu.Unlock()
		return false
	}
	waited := m.now().Sub(m.pendingSince)
	deadline := time.Duration(m.s.TimerDuration)*time.Second + m.timeout
	m.mu.Unlock()
	if waited < deadline {
		return false
	}

	m.logger.Warn("capture request timed out", "request_id", id, "waited", waited, "deadline", deadline)
	return m.CaptureFailed(id) == nil
}

// AutoCapture drives the capture loop: one request per interval while the
// gate allows.
type AutoCapture struct {
	machine *Machine
	running atomic.Bool
	paused  atomic.Bool
}

func NewAutoCapture(m *Machine) *AutoCapture {
	return &AutoCapture{machine: m}
}

// Start blocks until ctx is done.
func (a *AutoCapture) Start(ctx context.Context) {
	if a.running.Swap(true) {
		return
	}
	m := a.machine
	m.logger.Info("auto-capture started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("auto-capture stopping")
			a.running.Store(false)
			return
		case <-ticker.C:
			if !a.paused.Load() {
				a.tick()
			}
		}
	}
}

func (a *AutoCapture) tick() {
	a.machine.expirePending()
	a.machine.RequestCapture()
}

func (a *AutoCapture) Pause()          { a.paused.Store(true) }
func (a *AutoCapture) Resume()         { a.paused.Store(false) }
func (a *AutoCapture) IsPaused() bool  { return a.paused.Load() }
func (a *AutoCapture) IsRunning() bool { return a.running.Load() }

// RunAutoCapture runs the capture loop until ctx is done.
func (m *Machine) RunAutoCapture(ctx context.Context) {
	NewAutoCapture(m).Start(ctx)
}
