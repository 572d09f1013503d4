package constants

// DownloadStatus is the user-facing state of the firmware download and its verification.
type DownloadStatus string

const (
	DownloadStatusNotDownloading        DownloadStatus = "NOT_DOWNLOADING"
	DownloadStatusQueued                DownloadStatus = "DOWNLOAD_QUEUED"
	DownloadStatusDownloading           DownloadStatus = "DOWNLOADING"
	DownloadStatusPaused                DownloadStatus = "DOWNLOAD_PAUSED"
	DownloadStatusCompleted             DownloadStatus = "DOWNLOAD_COMPLETED"
	DownloadStatusFailed                DownloadStatus = "DOWNLOAD_FAILED"
	DownloadStatusVerifying             DownloadStatus = "VERIFYING"
	DownloadStatusVerificationCompleted DownloadStatus = "VERIFICATION_COMPLETED"
	DownloadStatusVerificationFailed    DownloadStatus = "VERIFICATION_FAILED"
)

// AllDownloadStatuses lists every status in declaration order.
var AllDownloadStatuses = []DownloadStatus{
	DownloadStatusNotDownloading,
	DownloadStatusQueued,
	DownloadStatusDownloading,
	DownloadStatusPaused,
	DownloadStatusCompleted,
	DownloadStatusFailed,
	DownloadStatusVerifying,
	DownloadStatusVerificationCompleted,
	DownloadStatusVerificationFailed,
}

// InProgress reports whether work is queued or running for the download.
func (s DownloadStatus) InProgress() bool {
	return s == DownloadStatusQueued || s == DownloadStatusDownloading || s == DownloadStatusVerifying
}

// Successful reports whether the update file is on disk and usable.
func (s DownloadStatus) Successful() bool {
	return s == DownloadStatusCompleted || s == DownloadStatusVerificationCompleted
}

// Failed reports whether the last download or verification attempt ended in failure.
func (s DownloadStatus) Failed() bool {
	return s == DownloadStatusFailed || s == DownloadStatusVerificationFailed
}

func (s DownloadStatus) String() string {
	return string(s)
}

// Download failure reasons reported in the worker output payload.
const (
	FailureReasonHTTP             = "HTTP_ERROR"
	FailureReasonNotEnoughStorage = "NOT_ENOUGH_STORAGE"
	FailureReasonFileSystem       = "FILE_SYSTEM_ERROR"
	FailureReasonChecksumMismatch = "CHECKSUM_MISMATCH"
	FailureReasonMissingInput     = "MISSING_INPUT"
	FailureReasonTooManyAttempts  = "TOO_MANY_ATTEMPTS"
)
