package models

import (
	"time"

	"github.com/oxygenupdater/ota-agent/internal/constants"
)

// UIEvent is a dialog, banner or status change raised by the coordinator.
type UIEvent struct {
	Kind      constants.UIEventKind `json:"kind"`
	Severity  string                `json:"severity"`
	Message   string                `json:"message,omitempty"`
	Timestamp time.Time             `json:"timestamp"`

	// Populated for download status events
	DownloadStatus constants.DownloadStatus `json:"download_status,omitempty"`
	BytesDone      int64                    `json:"bytes_done,omitempty"`
	TotalBytes     int64                    `json:"total_bytes,omitempty"`
	Percent        int                      `json:"percent,omitempty"`
}
