package models

// UpdateData describes a firmware update available for the selected device and update method.
type UpdateData struct {
	ID                         int64  `json:"id"`
	VersionNumber              string `json:"version_number"`               // Human readable version label
	OTAVersionNumber           string `json:"ota_version_number"`           // Vendor OTA version label
	Description                string `json:"description,omitempty"`        // Short release description
	Changelog                  string `json:"changelog,omitempty"`          // Full changelog text
	DownloadURL                string `json:"download_url"`                 // Location of the update package
	DownloadSize               int64  `json:"download_size"`                // Size of the package in bytes
	Filename                   string `json:"filename"`                     // File name of the package on disk
	MD5Sum                     string `json:"md5sum,omitempty"`             // Expected MD5 of the package
	UpdateInformationAvailable bool   `json:"update_information_available"` // False when the server knows nothing for this device
	SystemIsUpToDate           bool   `json:"system_is_up_to_date"`         // True when no newer update exists
}

// IsDownloadable reports whether the update carries enough information to be downloaded.
func (u *UpdateData) IsDownloadable() bool {
	return u != nil && u.DownloadURL != "" && u.Filename != ""
}

// DownloadErrorReport is sent to the server when a download fails with an HTTP error.
type DownloadErrorReport struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	Version     string `json:"version"`
	OTAVersion  string `json:"ota_version"`
	HTTPCode    int    `json:"http_code"`
	HTTPMessage string `json:"http_message"`
}
