package domain

// SessionState represents the lifecycle position of a download session.
type SessionState string

const (
	SessionStateNotStarted SessionState = "not_started"
	SessionStateRunning    SessionState = "running"
	SessionStateCompleted  SessionState = "completed"
	SessionStateFailed     SessionState = "failed"
	SessionStateCancelled  SessionState = "cancelled"
)

// IsTerminal reports whether the state can no longer change.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed || s == SessionStateCancelled
}

// FileStatus represents the outcome of a single file download.
type FileStatus string

const (
	FileStatusDownloaded FileStatus = "downloaded"
	FileStatusSkipped    FileStatus = "skipped"
	FileStatusFailed     FileStatus = "failed"
)
