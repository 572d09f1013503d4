package constants

// UIEventKind identifies a dialog, banner or status update raised by the coordinator.
type UIEventKind string

const (
	UIEventNetworkBanner           UIEventKind = "NETWORK_BANNER"
	UIEventNetworkBannerDismiss    UIEventKind = "NETWORK_BANNER_DISMISS"
	UIEventMaintenanceDialog       UIEventKind = "MAINTENANCE_DIALOG"
	UIEventAppOutdatedDialog       UIEventKind = "APP_OUTDATED_DIALOG"
	UIEventAppUpdateBanner         UIEventKind = "APP_UPDATE_BANNER"
	UIEventUnsupportedDeviceDialog UIEventKind = "UNSUPPORTED_DEVICE_DIALOG"
	UIEventIncorrectDeviceDialog   UIEventKind = "INCORRECT_DEVICE_DIALOG"
	UIEventServerMessageBanner     UIEventKind = "SERVER_MESSAGE_BANNER"
	UIEventDownloadStatus          UIEventKind = "DOWNLOAD_STATUS"
	UIEventUpdateAvailable         UIEventKind = "UPDATE_AVAILABLE"
)

// Severity of a UI event.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityBlocking = "blocking"
)

// Page is a top-level section of the main screen.
type Page int

const (
	PageUpdate Page = iota
	PageNews
	PageDevice
	PageAbout
	PageSettings
)

var pageNames = map[Page]string{
	PageUpdate:   "update",
	PageNews:     "news",
	PageDevice:   "device",
	PageAbout:    "about",
	PageSettings: "settings",
}

func (p Page) String() string {
	if name, ok := pageNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePage returns the page with the given name.
func ParsePage(name string) (Page, bool) {
	for p, n := range pageNames {
		if n == name {
			return p, true
		}
	}
	return PageUpdate, false
}
