package booth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/snapbooth/photobooth-agent/internal/signal"
)

// MaxMessageLength bounds the custom message in runes.
const MaxMessageLength = 120

// ToggleSelection removes index if selected, otherwise adds it while the
// layout has room. Adding past capacity is a no-op.
func (m *Machine) ToggleSelection(index int) error {
	m.mu.Lock()
	if err := m.requireStep(StepSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	cfg := m.registry.Get(m.s.SelectedFrameID)
	if index < 0 || index >= cfg.CaptureCount || index >= len(m.s.RawPhotos) || m.s.RawPhotos[index] == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}

	sel := m.s.SelectedPhotoIndices
	if pos := slices.Index(sel, index); pos >= 0 {
		m.s.SelectedPhotoIndices = slices.Delete(slices.Clone(sel), pos, pos+1)
	} else if len(sel) < cfg.PhotoCount {
		m.s.SelectedPhotoIndices = append(slices.Clone(sel), index)
	} else {
		m.mu.Unlock()
		return nil
	}
	snap := m.s.clone()
	m.mu.Unlock()

	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		indices := slices.Clone(snap.SelectedPhotoIndices)
		if indices == nil {
			indices = []int{}
		}
		u.SelectedPhotoIndices = &indices
	}))
	return nil
}

// ConfirmSelection moves to REVIEW when exactly photoCount photos are
// selected.
func (m *Machine) ConfirmSelection() error {
	m.mu.Lock()
	if err := m.requireStep(StepSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	cfg := m.registry.Get(m.s.SelectedFrameID)
	if n := len(m.s.SelectedPhotoIndices); n != cfg.PhotoCount {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d selected, need %d", ErrSelectionIncomplete, n, cfg.PhotoCount)
	}
	m.s.Step = StepReview
	snap := m.s.clone()
	m.mu.Unlock()

	m.logger.Info("selection confirmed", "indices", snap.SelectedPhotoIndices)
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.Step = ptr(string(StepReview))
	}))
	return nil
}

func (m *Machine) SetFilter(name string) error {
	f, ok := ParseFilter(name)
	if !ok {
		return invalid("unknown filter %q", name)
	}

	m.mu.Lock()
	if m.s.Step == StepCompleted {
		m.mu.Unlock()
		return wrongStep(m.s.Step, []Step{StepConfig, StepCapture, StepSelection, StepReview, StepSigning})
	}
	m.s.SelectedFilter = f
	snap := m.s.clone()
	m.mu.Unlock()

	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.SelectedFilter = ptr(string(f))
	}))
	return nil
}

func (m *Machine) SetMessage(msg string) error {
	msg = strings.TrimSpace(msg)
	if len([]rune(msg)) > MaxMessageLength {
		return invalid("message longer than %d characters", MaxMessageLength)
	}

	m.mu.Lock()
	if m.s.Step == StepCompleted {
		m.mu.Unlock()
		return wrongStep(m.s.Step, []Step{StepConfig, StepCapture, StepSelection, StepReview, StepSigning})
	}
	m.s.CustomMessage = msg
	snap := m.s.clone()
	m.mu.Unlock()

	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.CustomMessage = ptr(msg)
	}))
	return nil
}

// SetSignature stores a signature data URL and syncs it to the room.
func (m *Machine) SetSignature(dataURL string) error {
	if !strings.HasPrefix(dataURL, "data:image/") {
		return invalid("signature must be an image data URL")
	}

	m.mu.Lock()
	if err := m.requireStep(StepReview, StepSigning); err != nil {
		m.mu.Unlock()
		return err
	}
	m.s.SignatureData = dataURL
	snap := m.s.clone()
	m.mu.Unlock()

	m.publish(snap, outbound{
		event:   signal.EventSyncSignature,
		payload: signal.SyncSignature{SignatureImage: dataURL},
	})
	return nil
}

// EnterSigning moves REVIEW to SIGNING.
func (m *Machine) EnterSigning() error {
	m.mu.Lock()
	if err := m.requireStep(StepReview); err != nil {
		m.mu.Unlock()
		return err
	}
	m.s.Step = StepSigning
	snap := m.s.clone()
	m.mu.Unlock()

	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.Step = ptr(string(StepSigning))
	}))
	return nil
}

// Finalize completes the session and runs the finalizer in the background.
// The processing flag stays set until the finalizer returns.
func (m *Machine) Finalize(ctx context.Context) error {
	m.mu.Lock()
	if err := m.requireStep(StepReview, StepSigning); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.s.IsProcessing {
		m.mu.Unlock()
		return ErrProcessing
	}
	m.s.Step = StepCompleted
	m.s.IsProcessing = true
	m.s.Result = &Result{}
	snap := m.s.clone()
	fin := m.finalizer
	m.mu.Unlock()

	m.logger.Info("finalizing session", "session_id", snap.SessionID, "frame_id", snap.SelectedFrameID)
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.Step = ptr(string(StepCompleted))
	}))

	bg := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var res Result
		if fin != nil {
			res = fin.Finalize(bg, snap, func(pct int) { m.ReportProgress(snap.SessionID, pct) })
		}
		m.FinishProcessing(snap.SessionID, res)
	}()
	return nil
}

// FinishProcessing clears the processing flag and records the result. A
// result for a session that has since been reset is discarded.
func (m *Machine) FinishProcessing(sessionID string, res Result) error {
	m.mu.Lock()
	if m.s.SessionID != sessionID || !m.s.IsProcessing {
		m.mu.Unlock()
		m.logger.Debug("discarding result for replaced session", "session_id", sessionID)
		return ErrSessionChanged
	}
	res.Progress = 100
	m.s.IsProcessing = false
	m.s.Result = &res
	snap := m.s.clone()
	m.mu.Unlock()

	m.logger.Info("session finished", "session_id", sessionID, "failed_uploads", res.FailedUploads)
	m.publish(snap)
	return nil
}
