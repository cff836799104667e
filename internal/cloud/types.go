package cloud

import "time"

// MediaType tags an uploaded artifact.
type MediaType string

const (
	MediaOriginal  MediaType = "ORIGINAL"
	MediaProcessed MediaType = "PROCESSED"
	MediaVideo     MediaType = "VIDEO"
	MediaSignature MediaType = "SIGNATURE"
)

// SessionStatus is the remote processing state of a session.
type SessionStatus string

const (
	StatusUploading  SessionStatus = "UPLOADING"
	StatusProcessing SessionStatus = "PROCESSING"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusFailed     SessionStatus = "FAILED"
)

type Media struct {
	ID   string    `json:"id"`
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
}

type Session struct {
	ID         string        `json:"id"`
	Status     SessionStatus `json:"status"`
	BoothID    string        `json:"boothId,omitempty"`
	DeviceType string        `json:"deviceType,omitempty"`
	CreatedAt  time.Time     `json:"createdAt,omitzero"`
	Medias     []Media       `json:"medias"`
}

// MediaURL returns the URL of the first media of type t.
func (s *Session) MediaURL(t MediaType) string {
	for _, m := range s.Medias {
		if m.Type == t {
			return m.URL
		}
	}
	return ""
}

type createSessionRequest struct {
	BoothID    string `json:"boothId,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
}

type SessionPage struct {
	Sessions []Session `json:"sessions"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	Total    int       `json:"total"`
}

type Stats struct {
	TotalSessions     int            `json:"totalSessions"`
	CompletedSessions int            `json:"completedSessions"`
	TotalMedia        int            `json:"totalMedia"`
	MediaByType       map[string]int `json:"mediaByType,omitempty"`
}
