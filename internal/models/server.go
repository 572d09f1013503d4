package models

import "github.com/oxygenupdater/ota-agent/internal/constants"

// ServerStatus is the backend health as declared by the server.
type ServerStatus struct {
	Status                       constants.ServerStatusCode `json:"status"`
	LatestAppVersion             string                     `json:"latest_app_version"`
	AutomaticInstallationEnabled bool                       `json:"automatic_installation_enabled"`
}

// ServerMessage is a banner text published by the server for a device and update method.
type ServerMessage struct {
	ID             int64                     `json:"id"`
	Text           string                    `json:"text"`
	DeviceID       *int64                    `json:"device_id,omitempty"`
	UpdateMethodID *int64                    `json:"update_method_id,omitempty"`
	Priority       constants.MessagePriority `json:"priority"`
}

// AppliesTo reports whether the message targets the given device and update method.
// A missing device or update method id matches everything.
func (m ServerMessage) AppliesTo(deviceID, updateMethodID int64) bool {
	if m.DeviceID != nil && *m.DeviceID != deviceID {
		return false
	}
	if m.UpdateMethodID != nil && *m.UpdateMethodID != updateMethodID {
		return false
	}
	return true
}
