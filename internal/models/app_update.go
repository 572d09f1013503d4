package models

// AppUpdateInfo describes availability of a newer version of the agent itself.
// It is tracked independently of the firmware DownloadStatus.
type AppUpdateInfo struct {
	Available      bool   `json:"available"`
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version,omitempty"`
	Immediate      bool   `json:"immediate"` // Blocks usage until updated; otherwise flexible
}
