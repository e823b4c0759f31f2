package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/veranemoloko/study-downloader/internal/domain"
	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
)

// SessionStorage keeps session records in memory and mirrors them to a JSON file.
type SessionStorage struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]domain.SessionRecord
	file     string

	// writeMu serializes writers of the temporary state file.
	writeMu sync.Mutex
}

// NewSessionStorage creates a SessionStorage and loads records from filePath if it exists.
func NewSessionStorage(filePath string) (*SessionStorage, error) {
	repo := &SessionStorage{
		sessions: make(map[uuid.UUID]domain.SessionRecord),
		file:     filepath.Clean(filePath),
	}

	if err := repo.restoreSessions(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("Session repository initialized", "file_path", repo.file, "sessions_count", len(repo.sessions))
	return repo, nil
}

func (r *SessionStorage) restoreSessions() error {
	data, err := os.ReadFile(r.file)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("State file does not exist, starting with empty state", "file_path", r.file)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("State file is empty", "file_path", r.file)
		return nil
	}

	var records []domain.SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	for _, record := range records {
		r.sessions[record.ID] = record
	}

	slog.Info("State loaded from file", "sessions_count", len(records), "file_path", r.file)
	return nil
}

func (r *SessionStorage) persistSessions() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	records := make([]domain.SessionRecord, 0, len(r.sessions))
	for _, record := range r.sessions {
		records = append(records, record)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	tempFile := r.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, r.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("State saved to file", "sessions_count", len(records), "file_path", r.file)
	return nil
}

// CreateSession adds a record and persists it to the file.
func (r *SessionStorage) CreateSession(ctx context.Context, record *domain.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.sessions[record.ID] = *record
	r.mu.Unlock()

	if err := r.persistSessions(); err != nil {
		return fmt.Errorf("failed to save state after creating session: %w", err)
	}

	slog.Debug("Session created and saved", "session_id", record.ID)
	return nil
}

// GetSession retrieves a copy of the record with the given ID.
func (r *SessionStorage) GetSession(ctx context.Context, id uuid.UUID) (*domain.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	record, exists := r.sessions[id]
	r.mu.RUnlock()

	if !exists {
		return nil, errpkg.ErrSessionNotFound
	}
	return &record, nil
}

// UpdateSession replaces an existing record and persists it to the file.
func (r *SessionStorage) UpdateSession(ctx context.Context, record *domain.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.sessions[record.ID]; !exists {
		r.mu.Unlock()
		return errpkg.ErrSessionNotFound
	}
	r.sessions[record.ID] = *record
	r.mu.Unlock()

	if err := r.persistSessions(); err != nil {
		return fmt.Errorf("failed to save state after updating session: %w", err)
	}

	slog.Debug("Session updated and saved", "session_id", record.ID, "state", record.State)
	return nil
}

// GetSessionsByState returns copies of all records in the given state.
func (r *SessionStorage) GetSessionsByState(ctx context.Context, state domain.SessionState) ([]*domain.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	var filtered []*domain.SessionRecord
	for _, record := range r.sessions {
		if record.State == state {
			record := record
			filtered = append(filtered, &record)
		}
	}
	r.mu.RUnlock()

	return filtered, nil
}
