package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/veranemoloko/study-downloader/internal/domain"
	"github.com/veranemoloko/study-downloader/internal/repository"
	"github.com/veranemoloko/study-downloader/internal/storage"
	"github.com/veranemoloko/study-downloader/internal/validation"
)

// SessionService runs download sessions by ID and keeps their records in a
// repository so interrupted sessions can be resumed after a restart.
type SessionService struct {
	repo        repository.SessionRepo
	manifests   ManifestSource
	fetcher     FileFetcher
	fileStorage *storage.FileStorage
	hook        PostProcessHook
	opts        SessionOptions
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewSessionService creates a service. hook may be nil.
func NewSessionService(
	repo repository.SessionRepo,
	manifests ManifestSource,
	fetcher FileFetcher,
	fileStorage *storage.FileStorage,
	hook PostProcessHook,
	opts SessionOptions,
	logger *slog.Logger,
) *SessionService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		repo:        repo,
		manifests:   manifests,
		fetcher:     fetcher,
		fileStorage: fileStorage,
		hook:        hook,
		opts:        opts,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[uuid.UUID]*Session),
	}
}

// CreateSession starts a new download session for the request's URL.
func (s *SessionService) CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.SessionRecord, error) {
	if err := validation.ValidateSourceURL(req.URL); err != nil {
		return nil, err
	}

	session, err := s.launch(ctx, uuid.Nil, validation.NormalizeSourceURL(req.URL), true)
	if err != nil {
		return nil, err
	}

	record := session.Record()
	s.logger.Info("session created", "session_id", record.ID, "source_url", record.SourceURL)
	return &record, nil
}

func (s *SessionService) launch(ctx context.Context, id uuid.UUID, sourceURL string, create bool) (*Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("service is shutting down")
	}

	if id == uuid.Nil {
		id = uuid.New()
	}
	opts := s.opts
	opts.ID = id
	session := NewSession(s.ctx, s.manifests, s.fetcher, s.fileStorage, opts, s.logger.With("session_id", id))
	s.sessions[session.ID()] = session
	s.wg.Add(1)
	s.mu.Unlock()

	startErr := session.Start(sourceURL, s.hook)

	record := session.Record()
	var persistErr error
	if create {
		persistErr = s.repo.CreateSession(ctx, &record)
	} else {
		persistErr = s.repo.UpdateSession(ctx, &record)
	}
	if persistErr != nil {
		s.logger.Error("failed to persist session", "session_id", record.ID, "error", persistErr)
	}

	go s.watch(session)

	if startErr != nil {
		return nil, startErr
	}
	return session, nil
}

// watch persists the final record once the session goroutine exits and
// drops the session from memory.
func (s *SessionService) watch(session *Session) {
	defer s.wg.Done()

	session.Join()

	record := session.Record()
	if err := s.repo.UpdateSession(context.Background(), &record); err != nil {
		s.logger.Error("failed to save session result", "session_id", record.ID, "error", err)
		return
	}

	// The stored record answers later polls.
	s.mu.Lock()
	delete(s.sessions, record.ID)
	s.mu.Unlock()

	s.logger.Info("session finished",
		"session_id", record.ID,
		"state", record.State,
		"total_files", record.TotalFiles,
		"failed_files", record.FailedFiles,
	)
}

// GetSession returns the current state of a session and the status messages
// queued since the previous call.
func (s *SessionService) GetSession(ctx context.Context, id uuid.UUID) (*domain.SessionResponse, error) {
	s.mu.RLock()
	session, live := s.sessions[id]
	s.mu.RUnlock()

	if live {
		messages := session.Status()
		record := session.Record()
		return toResponse(&record, messages), nil
	}

	record, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return toResponse(record, nil), nil
}

func toResponse(record *domain.SessionRecord, messages []string) *domain.SessionResponse {
	if messages == nil {
		messages = []string{}
	}
	return &domain.SessionResponse{
		ID:           record.ID,
		State:        record.State,
		Percentage:   record.Percentage,
		Messages:     messages,
		LastMessage:  record.LastMessage,
		DownloadPath: record.DownloadPath,
		Error:        record.LastError,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

// CancelSession requests cooperative cancellation of a running session.
// Cancelling a finished session is a no-op.
func (s *SessionService) CancelSession(ctx context.Context, id uuid.UUID) error {
	s.mu.RLock()
	session, live := s.sessions[id]
	s.mu.RUnlock()

	if !live {
		if _, err := s.repo.GetSession(ctx, id); err != nil {
			return err
		}
		return nil
	}

	session.Cancel()
	s.logger.Info("session cancel requested", "session_id", id)
	return nil
}

// RecoverInterrupted restarts sessions left running by a previous process.
// Files already present in the staging directory are skipped.
func (s *SessionService) RecoverInterrupted(ctx context.Context) error {
	records, err := s.repo.GetSessionsByState(ctx, domain.SessionStateRunning)
	if err != nil {
		return fmt.Errorf("failed to list interrupted sessions: %w", err)
	}

	var errs []error
	for _, record := range records {
		if _, err := s.launch(ctx, record.ID, record.SourceURL, false); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", record.ID, err))
			continue
		}
		s.logger.Info("resumed interrupted session", "session_id", record.ID, "source_url", record.SourceURL)
	}

	return errors.Join(errs...)
}

// Shutdown cancels every live session and waits for them to stop. When ctx
// expires first, in-flight transfers are aborted.
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down session service")

	s.mu.Lock()
	s.closed = true
	live := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		live = append(live, session)
	}
	s.mu.Unlock()

	for _, session := range live {
		session.Cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("session service shutdown completed")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("session service shutdown timed out")
		return ctx.Err()
	}
}
