package booth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/snapbooth/photobooth-agent/internal/layout"
)

type Step string

const (
	StepFrameSelection Step = "FRAME_SELECTION"
	StepConfig         Step = "CONFIG"
	StepCapture        Step = "CAPTURE"
	StepSelection      Step = "SELECTION"
	StepReview         Step = "REVIEW"
	StepSigning        Step = "SIGNING"
	StepCompleted      Step = "COMPLETED"
)

var steps = []Step{StepFrameSelection, StepConfig, StepCapture, StepSelection, StepReview, StepSigning, StepCompleted}

// ParseStep validates a step name received from a peer.
func ParseStep(s string) (Step, bool) {
	for _, st := range steps {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type Filter string

const (
	FilterNone      Filter = "none"
	FilterGrayscale Filter = "grayscale"
	FilterSepia     Filter = "sepia"
)

// ParseFilter accepts a filter name; empty means none.
func ParseFilter(s string) (Filter, bool) {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterNone:
		return FilterNone, true
	case FilterGrayscale:
		return FilterGrayscale, true
	case FilterSepia:
		return FilterSepia, true
	}
	return "", false
}

// LocalSessionPrefix marks fallback ids that have no remote session.
const LocalSessionPrefix = "local-"

// IsLocalSession reports whether id is a fallback id.
func IsLocalSession(id string) bool {
	return id == "" || strings.HasPrefix(id, LocalSessionPrefix)
}

var (
	ErrWrongStep           = errors.New("booth: command not allowed in current step")
	ErrSelectionIncomplete = errors.New("booth: selection does not match photo count")
	ErrStaleCapture        = errors.New("booth: capture does not match pending request")
	ErrCapturePending      = errors.New("booth: a capture is already pending")
	ErrCapturesComplete    = errors.New("booth: all captures taken")
	ErrInvalidIndex        = errors.New("booth: index does not reference a captured photo")
	ErrInvalidArgument     = errors.New("booth: invalid argument")
	ErrProcessing          = errors.New("booth: session is processing")
	ErrSessionChanged      = errors.New("booth: session was reset")
)

func wrongStep(cur Step, allowed []Step) error {
	return fmt.Errorf("%w: step is %s, want one of %v", ErrWrongStep, cur, allowed)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Result records where the finished artifacts ended up.
type Result struct {
	StripURL      string `json:"strip_url,omitempty"`
	VideoURL      string `json:"video_url,omitempty"`
	ShareURL      string `json:"share_url,omitempty"`
	LocalStrip    string `json:"local_strip,omitempty"`
	LocalVideo    string `json:"local_video,omitempty"`
	FailedUploads int    `json:"failed_uploads"`
	Progress      int    `json:"progress"`
}

// Session is the booth aggregate. Photo and clip buffers are never written
// after registration, so snapshots share them.
type Session struct {
	SessionID            string
	Step                 Step
	RawPhotos            [layout.MaxCaptureCount][]byte
	RawVideoClips        [layout.MaxCaptureCount][]byte
	PhotoPreviews        [layout.MaxCaptureCount]string
	CapturedCount        int
	SelectedPhotoIndices []int
	SelectedFrameID      string
	SelectedFilter       Filter
	CustomMessage        string
	SignatureData        string
	CaptureRequestID     string
	TimerDuration        int
	IsProcessing         bool
	Result               *Result
}

func freshSession() Session {
	return Session{Step: StepFrameSelection, SelectedFilter: FilterNone}
}

func (s Session) clone() Session {
	out := s
	out.SelectedPhotoIndices = append([]int(nil), s.SelectedPhotoIndices...)
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return out
}

// CapturePending reports whether a capture request awaits its photo.
func (s Session) CapturePending() bool { return s.CaptureRequestID != "" }

// FilledSlots counts non-nil photos.
func (s Session) FilledSlots() int {
	n := 0
	for _, p := range s.RawPhotos {
		if p != nil {
			n++
		}
	}
	return n
}

// SelectedPhotos returns the selected photos in selection order.
func (s Session) SelectedPhotos() [][]byte {
	out := make([][]byte, 0, len(s.SelectedPhotoIndices))
	for _, i := range s.SelectedPhotoIndices {
		if i >= 0 && i < len(s.RawPhotos) && s.RawPhotos[i] != nil {
			out = append(out, s.RawPhotos[i])
		}
	}
	return out
}

// SelectedClips returns the clips parallel to SelectedPhotoIndices; entries
// are nil where no clip was recorded.
func (s Session) SelectedClips() [][]byte {
	out := make([][]byte, 0, len(s.SelectedPhotoIndices))
	for _, i := range s.SelectedPhotoIndices {
		if i >= 0 && i < len(s.RawVideoClips) {
			out = append(out, s.RawVideoClips[i])
		}
	}
	return out
}
