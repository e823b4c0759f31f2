package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/study-downloader/internal/domain"
	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
	"github.com/veranemoloko/study-downloader/internal/manifest"
	"github.com/veranemoloko/study-downloader/internal/repository"
	"github.com/veranemoloko/study-downloader/internal/storage"
	"github.com/veranemoloko/study-downloader/internal/worker"
)

func newTestService(t *testing.T, root string, repo repository.SessionRepo, hook PostProcessHook) *SessionService {
	t.Helper()
	logger := newTestLogger()
	fileStorage := storage.NewFileStorage(root)
	fetcher := worker.NewFileFetcher(fileStorage, worker.FetcherOptions{Timeout: 5 * time.Second}, logger)

	svc := NewSessionService(
		repo,
		manifest.NewClient(5*time.Second, logger),
		fetcher,
		fileStorage,
		hook,
		SessionOptions{Concurrency: 2, StatusCapacity: 64},
		logger,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func newTestRepo(t *testing.T) *repository.SessionStorage {
	t.Helper()
	repo, err := repository.NewSessionStorage(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, err)
	return repo
}

func TestSessionService_CreateSession_Completes(t *testing.T) {
	pacs := newFakePACS(t, studyFiles)
	repo := newTestRepo(t)
	svc := newTestService(t, t.TempDir(), repo, nil)

	record, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: pacs.manifestURL()})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, record.ID)
	assert.Equal(t, pacs.manifestURL(), record.SourceURL)

	var last *domain.SessionResponse
	waitFor(t, 5*time.Second, func() bool {
		resp, err := svc.GetSession(context.Background(), record.ID)
		require.NoError(t, err)
		last = resp
		return resp.State == domain.SessionStateCompleted
	})
	assert.Equal(t, "Download Complete", last.LastMessage)

	waitFor(t, 5*time.Second, func() bool {
		stored, err := repo.GetSession(context.Background(), record.ID)
		return err == nil && stored.State == domain.SessionStateCompleted
	})

	stored, err := repo.GetSession(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.TotalFiles)
	assert.Equal(t, 100, stored.Percentage)
	assert.NotEmpty(t, stored.DownloadPath)
}

func TestSessionService_CreateSession_NormalizesURL(t *testing.T) {
	pacs := newFakePACS(t, studyFiles)
	svc := newTestService(t, t.TempDir(), newTestRepo(t), nil)

	record, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: "dldicom:" + pacs.manifestURL()})
	require.NoError(t, err)
	assert.Equal(t, pacs.manifestURL(), record.SourceURL)
}

func TestSessionService_CreateSession_InvalidURL(t *testing.T) {
	svc := newTestService(t, t.TempDir(), newTestRepo(t), nil)

	for _, url := range []string{"", "ftp://pacs/manifest", "not a url"} {
		_, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: url})
		assert.ErrorIs(t, err, errpkg.ErrValidation, url)
	}
}

func TestSessionService_GetSession_NotFound(t *testing.T) {
	svc := newTestService(t, t.TempDir(), newTestRepo(t), nil)

	_, err := svc.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errpkg.ErrSessionNotFound)
}

func TestSessionService_GetSession_FromRepository(t *testing.T) {
	repo := newTestRepo(t)
	svc := newTestService(t, t.TempDir(), repo, nil)

	record := &domain.SessionRecord{
		ID:           uuid.New(),
		SourceURL:    "http://pacs/manifest",
		State:        domain.SessionStateCompleted,
		DownloadPath: "/cache/DOE.1",
		Percentage:   100,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, repo.CreateSession(context.Background(), record))

	resp, err := svc.GetSession(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateCompleted, resp.State)
	assert.Equal(t, 100, resp.Percentage)
	assert.Equal(t, "/cache/DOE.1", resp.DownloadPath)
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)
}

func TestSessionService_CancelSession(t *testing.T) {
	files := map[string]string{"a": "a", "b": "b", "c": "c"}
	pacs := newFakePACS(t, files)
	pacs.gate = make(chan struct{})
	pacs.started = make(chan string, len(files))

	repo := newTestRepo(t)
	svc := newTestService(t, t.TempDir(), repo, nil)

	record, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: pacs.manifestURL()})
	require.NoError(t, err)

	<-pacs.started
	require.NoError(t, svc.CancelSession(context.Background(), record.ID))
	close(pacs.gate)

	waitFor(t, 5*time.Second, func() bool {
		stored, err := repo.GetSession(context.Background(), record.ID)
		return err == nil && stored.State == domain.SessionStateCancelled
	})
}

func TestSessionService_CancelSession_Unknown(t *testing.T) {
	svc := newTestService(t, t.TempDir(), newTestRepo(t), nil)

	err := svc.CancelSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errpkg.ErrSessionNotFound)
}

func TestSessionService_RecoverInterrupted(t *testing.T) {
	pacs := newFakePACS(t, studyFiles)
	repo := newTestRepo(t)

	interrupted := &domain.SessionRecord{
		ID:        uuid.New(),
		SourceURL: pacs.manifestURL(),
		State:     domain.SessionStateRunning,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	finished := &domain.SessionRecord{
		ID:        uuid.New(),
		SourceURL: pacs.manifestURL(),
		State:     domain.SessionStateFailed,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, repo.CreateSession(context.Background(), interrupted))
	require.NoError(t, repo.CreateSession(context.Background(), finished))

	svc := newTestService(t, t.TempDir(), repo, nil)
	require.NoError(t, svc.RecoverInterrupted(context.Background()))

	waitFor(t, 5*time.Second, func() bool {
		stored, err := repo.GetSession(context.Background(), interrupted.ID)
		return err == nil && stored.State == domain.SessionStateCompleted
	})

	stored, err := repo.GetSession(context.Background(), finished.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateFailed, stored.State, "finished sessions are not resumed")
}

func TestSessionService_Shutdown(t *testing.T) {
	pacs := newFakePACS(t, studyFiles)
	svc := newTestService(t, t.TempDir(), newTestRepo(t), nil)

	_, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: pacs.manifestURL()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	_, err = svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: pacs.manifestURL()})
	assert.Error(t, err)
}

func TestSessionService_RunsHook(t *testing.T) {
	pacs := newFakePACS(t, studyFiles)
	hook := &recordingHook{}
	svc := newTestService(t, t.TempDir(), newTestRepo(t), hook)

	record, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: pacs.manifestURL()})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		resp, err := svc.GetSession(context.Background(), record.ID)
		return err == nil && resp.State == domain.SessionStateCompleted
	})
	assert.Len(t, hook.calls(), 1)
}

func (s *SessionService) liveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func TestSessionService_EvictsFinishedSessions(t *testing.T) {
	pacs := newFakePACS(t, studyFiles)
	svc := newTestService(t, t.TempDir(), newTestRepo(t), nil)

	record, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{URL: pacs.manifestURL()})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool { return svc.liveSessions() == 0 })

	resp, err := svc.GetSession(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStateCompleted, resp.State)
	assert.Equal(t, 100, resp.Percentage)
	assert.Equal(t, "Download Complete", resp.LastMessage)
	assert.Empty(t, resp.Messages)

	assert.NoError(t, svc.CancelSession(context.Background(), record.ID), "cancelling a stored session is a no-op")
}
