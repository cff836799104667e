// Package history keeps the booth's local list of finished sessions.
package history

import "time"

// StorageKey groups the entries of this booth's history.
const StorageKey = "photobooth_history"

const configDeviceID = "device_id"

type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	PhotoDataURL string    `json:"photoDataUrl"`
	DeviceType   string    `json:"deviceType"`
	FrameID      string    `json:"frameId,omitempty"`
	StripURL     string    `json:"stripUrl,omitempty"`
	VideoURL     string    `json:"videoUrl,omitempty"`
	ShareURL     string    `json:"shareUrl,omitempty"`
}
