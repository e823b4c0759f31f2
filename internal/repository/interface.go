package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/veranemoloko/study-downloader/internal/domain"
)

// SessionRepo defines the storage operations for session records.
type SessionRepo interface {
	CreateSession(ctx context.Context, record *domain.SessionRecord) error
	GetSession(ctx context.Context, id uuid.UUID) (*domain.SessionRecord, error)
	UpdateSession(ctx context.Context, record *domain.SessionRecord) error
	GetSessionsByState(ctx context.Context, state domain.SessionState) ([]*domain.SessionRecord, error)
}
