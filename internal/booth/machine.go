// Package booth owns the capture session state machine. Every mutation goes
// through a Machine command; readers get snapshots.
package booth

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapbooth/photobooth-agent/internal/layout"
	"github.com/snapbooth/photobooth-agent/internal/logging"
	"github.com/snapbooth/photobooth-agent/internal/signal"
)

const (
	DefaultCaptureInterval = time.Second
	DefaultCaptureTimeout  = 30 * time.Second
	MaxTimerSeconds        = 30
)

// SessionCreator creates the remote session backing a booth run.
type SessionCreator interface {
	CreateSession(ctx context.Context) (string, error)
}

// Broadcaster sends to the remote peer without waiting for it.
type Broadcaster interface {
	Send(event string, payload any) error
}

// Finalizer composes and uploads a finished session. It must not panic and
// always returns a result, however partial.
type Finalizer interface {
	Finalize(ctx context.Context, s Session, progress func(int)) Result
}

// PreviewFunc turns a raw photo into a lightweight display reference.
type PreviewFunc func(photo []byte) (string, error)

type Options struct {
	Registry        *layout.Registry
	Sessions        SessionCreator
	Broadcaster     Broadcaster
	Finalizer       Finalizer
	Preview         PreviewFunc
	Room            string
	CaptureInterval time.Duration
	CaptureTimeout  time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

type outbound struct {
	event   string
	payload any
}

type Machine struct {
	registry  *layout.Registry
	sessions  SessionCreator
	finalizer Finalizer
	preview   PreviewFunc
	room      string
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	s            Session
	pendingSince time.Time

	bmu         sync.RWMutex
	broadcaster Broadcaster

	omu       sync.RWMutex
	observers []func(Session)

	wg sync.WaitGroup
}

func NewMachine(opts Options) *Machine {
	m := &Machine{
		registry:    opts.Registry,
		sessions:    opts.Sessions,
		finalizer:   opts.Finalizer,
		preview:     opts.Preview,
		room:        opts.Room,
		interval:    opts.CaptureInterval,
		timeout:     opts.CaptureTimeout,
		logger:      logging.WithComponent(logging.OrDiscard(opts.Logger), "booth"),
		now:         opts.Now,
		broadcaster: opts.Broadcaster,
		s:           freshSession(),
	}
	if m.registry == nil {
		m.registry = layout.Default()
	}
	if m.interval <= 0 {
		m.interval = DefaultCaptureInterval
	}
	if m.timeout <= 0 {
		m.timeout = DefaultCaptureTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// SetBroadcaster replaces the outbound channel, e.g. once a hub peer exists.
func (m *Machine) SetBroadcaster(b Broadcaster) {
	m.bmu.Lock()
	m.broadcaster = b
	m.bmu.Unlock()
}

// SetFinalizer installs the finalizer. It must be called before Finalize.
func (m *Machine) SetFinalizer(f Finalizer) {
	m.mu.Lock()
	m.finalizer = f
	m.mu.Unlock()
}

// OnChange registers an observer called with a snapshot after each change.
func (m *Machine) OnChange(fn func(Session)) {
	m.omu.Lock()
	m.observers = append(m.observers, fn)
	m.omu.Unlock()
}

// Snapshot returns a copy of the current session.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.clone()
}

// Layout returns the layout of the selected frame.
func (m *Machine) Layout() layout.Config {
	m.mu.Lock()
	id := m.s.SelectedFrameID
	m.mu.Unlock()
	return m.registry.Get(id)
}

// Registry exposes the frame registry the machine validates against.
func (m *Machine) Registry() *layout.Registry { return m.registry }

// Room is the signaling room this booth publishes to.
func (m *Machine) Room() string { return m.room }

// Wait blocks until background finalization has returned.
func (m *Machine) Wait() { m.wg.Wait() }

// publish runs after the lock is released.
func (m *Machine) publish(snap Session, msgs ...outbound) {
	m.bmu.RLock()
	b := m.broadcaster
	m.bmu.RUnlock()

	if b != nil {
		for _, msg := range msgs {
			if err := b.Send(msg.event, msg.payload); err != nil {
				m.logger.Warn("broadcast failed", "event", msg.event, "error", err)
			}
		}
	}

	m.omu.RLock()
	obs := slices.Clone(m.observers)
	m.omu.RUnlock()
	for _, fn := range obs {
		fn(snap)
	}
}

func (m *Machine) requireStep(allowed ...Step) error {
	for _, st := range allowed {
		if m.s.Step == st {
			return nil
		}
	}
	return wrongStep(m.s.Step, allowed)
}

func configUpdate(fn func(u *signal.ConfigUpdate)) outbound {
	var u signal.ConfigUpdate
	fn(&u)
	return outbound{event: signal.EventUpdateConfig, payload: u}
}

func ptr[T any](v T) *T { return &v }

// SelectFrame confirms the frame and creates the remote session. A remote
// failure degrades to a local fallback id.
func (m *Machine) SelectFrame(ctx context.Context, frameID string) error {
	if frameID == "" {
		return invalid("frame id is required")
	}

	m.mu.Lock()
	if err := m.requireStep(StepFrameSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	sessionID := m.createSession(ctx)

	m.mu.Lock()
	if err := m.requireStep(StepFrameSelection); err != nil {
		m.mu.Unlock()
		return err
	}
	m.s.SessionID = sessionID
	m.s.SelectedFrameID = frameID
	m.s.Step = StepConfig
	snap := m.s.clone()
	m.mu.Unlock()

	m.logger.Info("frame selected", "frame_id", frameID, "session_id", sessionID)
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.SelectedFrameID = ptr(frameID)
		u.SessionID = ptr(sessionID)
		u.Step = ptr(string(StepConfig))
	}))
	return nil
}

func (m *Machine) createSession(ctx context.Context) string {
	if m.sessions != nil {
		id, err := m.sessions.CreateSession(ctx)
		if err == nil && id != "" {
			return id
		}
		m.logger.Warn("remote session unavailable, continuing locally", "error", err)
	}
	return LocalSessionPrefix + uuid.NewString()
}

// StartCapture clears the slots and starts a capture run with the given
// countdown.
func (m *Machine) StartCapture(timerSeconds int) error {
	if timerSeconds < 0 || timerSeconds > MaxTimerSeconds {
		return invalid("timer must be between 0 and %d seconds", MaxTimerSeconds)
	}

	m.mu.Lock()
	if err := m.requireStep(StepConfig); err != nil {
		m.mu.Unlock()
		return err
	}
	m.s.RawPhotos = [layout.MaxCaptureCount][]byte{}
	m.s.RawVideoClips = [layout.MaxCaptureCount][]byte{}
	m.s.PhotoPreviews = [layout.MaxCaptureCount]string{}
	m.s.CapturedCount = 0
	m.s.SelectedPhotoIndices = nil
	m.s.CaptureRequestID = ""
	m.s.TimerDuration = timerSeconds
	m.s.Step = StepCapture
	snap := m.s.clone()
	m.mu.Unlock()

	m.logger.Info("capture started", "session_id", snap.SessionID, "timer", timerSeconds)
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.Reset = true
		u.SessionID = ptr(snap.SessionID)
		u.SelectedFrameID = ptr(snap.SelectedFrameID)
		u.SelectedFilter = ptr(string(snap.SelectedFilter))
		u.CustomMessage = ptr(snap.CustomMessage)
		u.TimerDuration = ptr(timerSeconds)
		u.Step = ptr(string(StepCapture))
	}))
	return nil
}

// Reset discards the session and starts over at frame selection.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.s = freshSession()
	m.pendingSince = time.Time{}
	snap := m.s.clone()
	m.mu.Unlock()

	m.logger.Info("session reset")
	m.publish(snap, configUpdate(func(u *signal.ConfigUpdate) {
		u.Reset = true
		u.Step = ptr(string(StepFrameSelection))
	}))
}

// ReportProgress records upload progress for the session still on screen.
func (m *Machine) ReportProgress(sessionID string, pct int) {
	m.mu.Lock()
	if m.s.SessionID != sessionID || !m.s.IsProcessing {
		m.mu.Unlock()
		return
	}
	if m.s.Result == nil {
		m.s.Result = &Result{}
	}
	m.s.Result.Progress = pct
	snap := m.s.clone()
	m.mu.Unlock()

	m.publish(snap)
}
