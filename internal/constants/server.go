package constants

// ServerStatusCode is the server-declared health of the update backend.
type ServerStatusCode string

const (
	ServerStatusNormal      ServerStatusCode = "NORMAL"
	ServerStatusWarning     ServerStatusCode = "WARNING"
	ServerStatusError       ServerStatusCode = "ERROR"
	ServerStatusMaintenance ServerStatusCode = "MAINTENANCE"
	ServerStatusOutdated    ServerStatusCode = "OUTDATED"
	ServerStatusUnreachable ServerStatusCode = "UNREACHABLE"
)

// IsUserRecoverable reports whether the agent keeps working normally under this status.
func (s ServerStatusCode) IsUserRecoverable() bool {
	return s == ServerStatusNormal || s == ServerStatusWarning || s == ServerStatusError || s == ServerStatusUnreachable
}

// MessagePriority orders server banner messages.
type MessagePriority string

const (
	MessagePriorityLow    MessagePriority = "LOW"
	MessagePriorityMedium MessagePriority = "MEDIUM"
	MessagePriorityHigh   MessagePriority = "HIGH"
)
