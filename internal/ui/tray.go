package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/layout"
)

// Booth is the part of the state machine the tray drives.
type Booth interface {
	Snapshot() booth.Session
	Layout() layout.Config
	OnChange(fn func(booth.Session))
	Reset()
}

// Pauser pauses the auto-capture loop.
type Pauser interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	booth   Booth
	capture Pauser
	logger  *slog.Logger

	statusItem  *systray.MenuItem
	photosItem  *systray.MenuItem
	pauseItem   *systray.MenuItem
	sessionItem *systray.MenuItem

	mu    sync.Mutex
	ready bool

	onQuit func()
}

type TrayConfig struct {
	Booth   Booth
	Capture Pauser
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		booth:   cfg.Booth,
		capture: cfg.Capture,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
	}
}

// Run blocks on the platform event loop; call it from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Photobooth")
	systray.SetTooltip("Photobooth Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Choose a frame", "Current booth step")
	t.statusItem.Disable()

	t.photosItem = systray.AddMenuItem("Photos: 0", "Captured photos")
	t.photosItem.Disable()

	t.sessionItem = systray.AddMenuItem("Session: none", "Current session id")
	t.sessionItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause auto-capture", "Stop issuing capture requests")

	resetItem := systray.AddMenuItem("New session", "Discard the current session and start over")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Photobooth Agent")
	t.ready = true
	t.mu.Unlock()

	if t.booth != nil {
		t.booth.OnChange(func(s booth.Session) { t.Update(s, t.booth.Layout()) })
		t.Update(t.booth.Snapshot(), t.booth.Layout())
	}

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-resetItem.ClickedCh:
				t.logger.Info("new session requested from tray")
				if t.booth != nil {
					t.booth.Reset()
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.capture == nil {
		return
	}

	if t.capture.IsPaused() {
		t.capture.Resume()
		t.pauseItem.SetTitle("Pause auto-capture")
	} else {
		t.capture.Pause()
		t.pauseItem.SetTitle("Resume auto-capture")
	}
}

// Update refreshes the menu from a session snapshot. Calls before the tray
// is ready are ignored.
func (t *Tray) Update(s booth.Session, cfg layout.Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}
	t.statusItem.SetTitle("Status: " + StatusLine(s))
	t.photosItem.SetTitle(PhotosLine(s, cfg))
	t.sessionItem.SetTitle(SessionLine(s))
}

func (t *Tray) Quit() {
	systray.Quit()
}

// StatusLine describes the step for an operator glancing at the tray.
func StatusLine(s booth.Session) string {
	switch s.Step {
	case booth.StepFrameSelection:
		return "Choose a frame"
	case booth.StepConfig:
		return "Setting up"
	case booth.StepCapture:
		if s.CapturePending() {
			return "Capturing..."
		}
		return "Capture"
	case booth.StepSelection:
		return "Selecting photos"
	case booth.StepReview:
		return "Review"
	case booth.StepSigning:
		return "Signing"
	case booth.StepCompleted:
		if s.IsProcessing {
			if s.Result != nil && s.Result.Progress > 0 {
				return fmt.Sprintf("Uploading %d%%", s.Result.Progress)
			}
			return "Processing"
		}
		if s.Result != nil && s.Result.FailedUploads > 0 {
			return fmt.Sprintf("Done (%d failed)", s.Result.FailedUploads)
		}
		return "Done"
	}
	return string(s.Step)
}

func PhotosLine(s booth.Session, cfg layout.Config) string {
	switch s.Step {
	case booth.StepSelection, booth.StepReview, booth.StepSigning, booth.StepCompleted:
		return fmt.Sprintf("Photos: %d selected of %d", len(s.SelectedPhotoIndices), s.CapturedCount)
	}
	return fmt.Sprintf("Photos: %d/%d", s.CapturedCount, cfg.CaptureCount)
}

func SessionLine(s booth.Session) string {
	switch {
	case s.SessionID == "":
		return "Session: none"
	case booth.IsLocalSession(s.SessionID):
		return "Session: offline"
	}
	id := s.SessionID
	if len(id) > 12 {
		id = id[:12] + "..."
	}
	return "Session: " + id
}
