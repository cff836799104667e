package api

import (
	"github.com/snapbooth/photobooth-agent/internal/booth"
	"github.com/snapbooth/photobooth-agent/internal/history"
	"github.com/snapbooth/photobooth-agent/internal/layout"
	"github.com/snapbooth/photobooth-agent/internal/media"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
	BoothID  string `json:"booth_id"`
	Peers    int    `json:"peers"`

	Toolchain *media.Capabilities `json:"toolchain,omitempty"`
}

type FrameResponse struct {
	ID           string        `json:"id"`
	PhotoCount   int           `json:"photo_count"`
	CaptureCount int           `json:"capture_count"`
	Custom       bool          `json:"custom"`
	Slots        []layout.Slot `json:"slots"`
}

type FramesResponse struct {
	Frames []FrameResponse `json:"frames"`
}

type SessionResponse struct {
	SessionID            string        `json:"session_id"`
	Local                bool          `json:"local"`
	Step                 string        `json:"step"`
	FrameID              string        `json:"frame_id,omitempty"`
	PhotoCount           int           `json:"photo_count"`
	CaptureCount         int           `json:"capture_count"`
	CapturedCount        int           `json:"captured_count"`
	Previews             []string      `json:"previews"`
	SelectedPhotoIndices []int         `json:"selected_photo_indices"`
	Filter               string        `json:"filter"`
	Message              string        `json:"message"`
	HasSignature         bool          `json:"has_signature"`
	TimerDuration        int           `json:"timer_duration"`
	CapturePending       bool          `json:"capture_pending"`
	IsProcessing         bool          `json:"is_processing"`
	Result               *booth.Result `json:"result,omitempty"`
}

type SelectFrameRequest struct {
	FrameID string `json:"frame_id"`
}

type StartCaptureRequest struct {
	TimerSeconds int `json:"timer_seconds"`
}

type CaptureResponse struct {
	RequestID string `json:"request_id"`
}

type FilterRequest struct {
	Filter string `json:"filter"`
}

type MessageRequest struct {
	Message string `json:"message"`
}

type SignatureRequest struct {
	DataURL string `json:"data_url"`
}

type PreviewResponse struct {
	PreviewURL string `json:"preview_url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type HistoryResponse struct {
	Entries []*history.Entry `json:"entries"`
	Total   int              `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SessionToResponse flattens a snapshot for the controller UI. Raw media
// never leaves the process; previews stand in for it.
func SessionToResponse(s booth.Session, cfg layout.Config) SessionResponse {
	previews := make([]string, 0, cfg.CaptureCount)
	for i := 0; i < cfg.CaptureCount && i < len(s.PhotoPreviews); i++ {
		previews = append(previews, s.PhotoPreviews[i])
	}
	indices := s.SelectedPhotoIndices
	if indices == nil {
		indices = []int{}
	}
	return SessionResponse{
		SessionID:            s.SessionID,
		Local:                s.SessionID != "" && booth.IsLocalSession(s.SessionID),
		Step:                 string(s.Step),
		FrameID:              s.SelectedFrameID,
		PhotoCount:           cfg.PhotoCount,
		CaptureCount:         cfg.CaptureCount,
		CapturedCount:        s.CapturedCount,
		Previews:             previews,
		SelectedPhotoIndices: indices,
		Filter:               string(s.SelectedFilter),
		Message:              s.CustomMessage,
		HasSignature:         s.SignatureData != "",
		TimerDuration:        s.TimerDuration,
		CapturePending:       s.CapturePending(),
		IsProcessing:         s.IsProcessing,
		Result:               s.Result,
	}
}

func FrameToResponse(f layout.Frame) FrameResponse {
	return FrameResponse{
		ID:           f.FrameID,
		PhotoCount:   f.PhotoCount,
		CaptureCount: f.CaptureCount,
		Custom:       f.Custom,
		Slots:        f.Slots,
	}
}
