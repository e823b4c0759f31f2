package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreateSessionRequest represents the request body for starting a download session.
type CreateSessionRequest struct {
	URL string `json:"url" validate:"required,source_url"`
}

// SessionRecord is the persisted summary of a session.
type SessionRecord struct {
	ID           uuid.UUID    `json:"id"`
	SourceURL    string       `json:"source_url"`
	State        SessionState `json:"state"`
	DownloadPath string       `json:"download_path,omitempty"`
	TotalFiles   int          `json:"total_files"`
	FailedFiles  int          `json:"failed_files"`
	Percentage   int          `json:"percentage"`
	LastMessage  string       `json:"last_message,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// SessionResponse is returned by the session endpoints. Messages holds the
// status lines queued since the previous poll; LastMessage is the most recent
// status and survives after the session has finished.
type SessionResponse struct {
	ID           uuid.UUID    `json:"session_id"`
	State        SessionState `json:"state"`
	Percentage   int          `json:"percentage"`
	Messages     []string     `json:"messages"`
	LastMessage  string       `json:"last_message,omitempty"`
	DownloadPath string       `json:"download_path,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
