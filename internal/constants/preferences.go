package constants

// Preference keys persisted in the preference store.
const (
	PrefDeviceID                        = "device_id"
	PrefDeviceName                      = "device"
	PrefUpdateMethodID                  = "update_method_id"
	PrefUpdateMethodName                = "update_method"
	PrefDownloadBytesDone               = "download_bytes_done"
	PrefUpdateIgnoreCount               = "update_ignore_count"
	PrefUnsupportedDeviceIgnoreCount    = "unsupported_device_ignore_count"
	PrefIgnoreUnsupportedDeviceWarnings = "ignore_unsupported_device_warnings"
	PrefIgnoreIncorrectDeviceWarnings   = "ignore_incorrect_device_warnings"
	PrefLastCheckedDate                 = "last_checked_date"
	PrefLastVersionSeen                 = "last_version_seen"
	PrefLastPage                        = "last_page"
	PrefAutoDownload                    = "auto_download"
)

// DefaultID is returned for id preferences that have never been set.
const DefaultID int64 = -1
