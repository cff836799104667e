// Package signal carries the booth's coordination messages between the
// controller and the camera-holding monitor. Delivery is fire-and-forget:
// senders never wait for receivers and peers converge eventually.
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event names.
const (
	EventJoin             = "join"
	EventUpdateConfig     = "update_config"
	EventPhotoTaken       = "photo_taken"
	EventTriggerCountdown = "trigger_countdown"
	EventStartCountdown   = "start_countdown"
	EventCaptureDone      = "capture_done"
	EventCaptureFailed    = "capture_failed"
	EventShowResult       = "show_result"
	EventSyncSignature    = "sync_signature"
)

// Envelope is one message on the wire.
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload leaves
// Payload empty.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Join subscribes the sender to a room.
type Join struct {
	SessionID string `json:"sessionId"`
	Role      string `json:"role,omitempty"`
}

// OptionalString distinguishes an absent field from one explicitly set,
// including an explicit null.
type OptionalString struct {
	Value string
	Set   bool
}

// Some returns a set value.
func Some(v string) OptionalString { return OptionalString{Value: v, Set: true} }

// Cleared returns a value that is set to null.
func Cleared() OptionalString { return OptionalString{Set: true} }

// IsZero reports whether the field is absent, for omitzero.
func (o OptionalString) IsZero() bool { return !o.Set }

func (o OptionalString) MarshalJSON() ([]byte, error) {
	if o.Value == "" {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// ConfigUpdate is a partial update; receivers apply only present fields.
type ConfigUpdate struct {
	SelectedFrameID      *string        `json:"selectedFrameId,omitempty"`
	SelectedFilter       *string        `json:"selectedFilter,omitempty"`
	CustomMessage        *string        `json:"customMessage,omitempty"`
	TimerDuration        *int           `json:"timerDuration,omitempty"`
	SelectedPhotoIndices *[]int         `json:"selectedPhotoIndices,omitempty"`
	CaptureRequestID     OptionalString `json:"captureRequestId,omitzero"`
	Step                 *string        `json:"step,omitempty"`
	SessionID            *string        `json:"sessionId,omitempty"`
	Reset                bool           `json:"reset,omitempty"`
}

// PhotoTaken reports a completed capture. Image and Video are base64.
type PhotoTaken struct {
	SessionID string `json:"sessionId"`
	Image     string `json:"image"`
	Video     string `json:"video,omitempty"`
	Slot      int    `json:"slot"`
	RequestID string `json:"requestId"`
}

// Countdown drives the camera holder's on-screen countdown.
type Countdown struct {
	RoomID    string `json:"roomId"`
	ShotIndex int    `json:"shotIndex"`
	Seconds   int    `json:"seconds"`
	RequestID string `json:"requestId,omitempty"`
}

// CaptureDone reports completion per shot index.
type CaptureDone struct {
	RoomID    string `json:"roomId"`
	ShotIndex int    `json:"shotIndex"`
}

// CaptureFailed tells the controller a request will never be answered.
type CaptureFailed struct {
	RequestID string `json:"requestId"`
	Error     string `json:"error"`
}

// ShowResult announces the final artifacts.
type ShowResult struct {
	RoomID       string `json:"roomId"`
	ImageURL     string `json:"imageUrl"`
	VideoURL     string `json:"videoUrl"`
	PreviewReady bool   `json:"previewReady"`
}

// SyncSignature propagates a signature image as a data URL.
type SyncSignature struct {
	SignatureImage string `json:"signatureImage"`
}

// Conn is one peer's view of a room.
type Conn interface {
	Send(event string, payload any) error
	Messages() <-chan Envelope
	Close() error
}
