package constants

import "time"

// Unique work slot names. At most one work item is active per slot.
const (
	WorkUniqueDownload        = "WORK_UNIQUE_DOWNLOAD"
	WorkUniqueMD5Verification = "WORK_UNIQUE_MD5_VERIFICATION"
)

// WorkTagVerification marks work whose lifecycle maps onto the verification statuses.
const WorkTagVerification = "verification"

// Input payload keys passed to the download and verification workers.
const (
	WorkDataFilename     = "filename"
	WorkDataVersion      = "version"
	WorkDataOTAVersion   = "otaVersion"
	WorkDataDownloadURL  = "downloadUrl"
	WorkDataDownloadSize = "downloadSize"
	WorkDataMD5Sum       = "md5sum"
)

// Output payload keys reported by the workers on failure.
const (
	WorkDataFailureReason = "failureReason"
	WorkDataURL           = "url"
	WorkDataHTTPCode      = "httpCode"
	WorkDataHTTPMessage   = "httpMessage"
)

// Progress payload keys reported while a download is running.
const (
	WorkDataBytesDone  = "bytesDone"
	WorkDataTotalBytes = "totalBytes"
	WorkDataPercent    = "percent"
	WorkDataETA        = "eta"
)

const (
	DefaultBackoffDelay     = 10 * time.Second
	DefaultMaxWorkAttempts  = 5
	DefaultProgressInterval = time.Second
)
