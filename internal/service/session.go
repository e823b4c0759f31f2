package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veranemoloko/study-downloader/internal/domain"
	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
	"github.com/veranemoloko/study-downloader/internal/manifest"
	"github.com/veranemoloko/study-downloader/internal/metrics"
	"github.com/veranemoloko/study-downloader/internal/status"
	"github.com/veranemoloko/study-downloader/internal/storage"
	"github.com/veranemoloko/study-downloader/internal/worker"
)

const defaultConcurrency = 10

// ManifestSource retrieves and decodes a study manifest.
type ManifestSource interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Parse(body []byte) (*manifest.Manifest, error)
}

// FileFetcher downloads one file of a study.
type FileFetcher interface {
	Fetch(ctx context.Context, task domain.DownloadTask) (domain.FileStatus, error)
}

// PostProcessHook runs after a study has been published.
type PostProcessHook interface {
	Run(ctx context.Context, dir string) error
}

// SessionOptions tunes a Session.
type SessionOptions struct {
	// ID identifies the session; a new one is generated when zero.
	ID             uuid.UUID
	Concurrency    int
	StatusCapacity int
}

// Session drives one study download from manifest to published directory.
// Consumers poll Status, CompletedPercentage and the Has* flags; nothing is
// reported through panics or callbacks.
type Session struct {
	ctx         context.Context
	manifests   ManifestSource
	fetcher     FileFetcher
	fileStorage *storage.FileStorage
	opts        SessionOptions
	logger      *slog.Logger

	status *status.Channel
	pool   *worker.Pool

	// publishMu orders Cancel against the cancellation check before publish.
	publishMu sync.Mutex

	id        uuid.UUID
	createdAt time.Time

	mu           sync.RWMutex
	updatedAt    time.Time
	state        domain.SessionState
	sourceURL    string
	downloadPath string
	lastMessage  string
	lastErr      error
	done         chan struct{}
}

// NewSession creates a session in the NotStarted state. ctx bounds every
// network call the session makes.
func NewSession(
	ctx context.Context,
	manifests ManifestSource,
	fetcher FileFetcher,
	fileStorage *storage.FileStorage,
	opts SessionOptions,
	logger *slog.Logger,
) *Session {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	now := time.Now()

	s := &Session{
		ctx:         ctx,
		manifests:   manifests,
		fetcher:     fetcher,
		fileStorage: fileStorage,
		opts:        opts,
		logger:      logger,
		id:          opts.ID,
		createdAt:   now,
		updatedAt:   now,
		status:      status.NewChannel(opts.StatusCapacity),
		state:       domain.SessionStateNotStarted,
		done:        make(chan struct{}),
	}

	s.pool = worker.NewPool(ctx,
		worker.WithLogger(logger),
		worker.WithErrorHandler(func(e worker.TaskError) {
			s.publish(fmt.Sprintf("Failed to download %s (%v)", e.Task, e.Err))
		}),
	)

	return s
}

// Start validates sourceURL and launches the session in the background. hook
// may be nil. An empty URL fails the session immediately; the returned error
// mirrors what the status channel reports.
func (s *Session) Start(sourceURL string, hook PostProcessHook) error {
	s.mu.Lock()
	if s.state != domain.SessionStateNotStarted {
		s.mu.Unlock()
		return errpkg.ErrSessionStarted
	}
	sourceURL = strings.TrimSpace(sourceURL)
	s.state = domain.SessionStateRunning
	s.sourceURL = sourceURL
	s.mu.Unlock()

	metrics.SessionsStarted.Inc()
	s.publish("Starting Download...")

	if sourceURL == "" {
		err := fmt.Errorf("%w: empty source URL", errpkg.ErrValidation)
		s.fail(err, "Source URL is not valid")
		close(s.done)
		return err
	}

	metrics.SessionsActive.Inc()
	go s.run(sourceURL, hook)
	return nil
}

func (s *Session) run(sourceURL string, hook PostProcessHook) {
	defer close(s.done)
	defer metrics.SessionsActive.Dec()

	started := time.Now()
	s.logger.Info("session started", "source_url", sourceURL)

	s.publish("Getting DICOM file list...")
	body, err := s.manifests.Fetch(s.ctx, sourceURL)
	if err != nil {
		s.fail(err, fmt.Sprintf("Could not get file list (%v)", err))
		return
	}

	m, err := s.manifests.Parse(body)
	if err != nil {
		s.fail(err, fmt.Sprintf("Failed to parse the file list (%v)", err))
		return
	}

	entries := m.Entries()
	s.publish(fmt.Sprintf("Found %d DICOM files", len(entries)))
	if len(entries) == 0 {
		s.fail(errpkg.ErrNoFiles, "No DICOM files found")
		return
	}

	studyID := m.StudyID()
	if studyID == "" {
		s.fail(errpkg.ErrMissingStudyID, "No Study Id Found")
		return
	}
	label := m.Label()

	finalDir := s.fileStorage.StudyDir(label, studyID)
	stagingDir := storage.StagingDir(finalDir)
	s.setDownloadPath(finalDir)

	if s.fileStorage.Exists(finalDir) {
		s.publish("Study already downloaded")
		s.finish(domain.SessionStateCompleted)
		return
	}

	if s.pool.Cancelled() {
		s.cancelled()
		return
	}

	tasks, err := planTasks(stagingDir, entries)
	if err != nil {
		s.fail(err, fmt.Sprintf("Conflicting file names in file list (%v)", err))
		return
	}

	if err := s.fileStorage.EnsureDir(stagingDir); err != nil {
		s.fail(err, fmt.Sprintf("Could not create download directory (%v)", err))
		return
	}

	for _, task := range tasks {
		task := task
		if err := s.pool.AddTask(worker.Task{
			Name: task.Entry.SourceURL,
			Run: func(ctx context.Context) error {
				_, err := s.fetcher.Fetch(ctx, task)
				return err
			},
		}); err != nil {
			s.fail(err, fmt.Sprintf("Could not queue downloads (%v)", err))
			return
		}
	}

	// Tasks queued after an early Cancel would otherwise run.
	if s.pool.Cancelled() {
		s.pool.Cancel()
	}

	s.publish(fmt.Sprintf("Downloading %d DICOM files of %s", len(entries), label))
	if err := s.pool.Start(s.opts.Concurrency); err != nil {
		s.fail(err, fmt.Sprintf("Could not start downloads (%v)", err))
		return
	}
	s.pool.Join()

	if failures := s.pool.Failures(); len(failures) > 0 && !s.pool.Cancelled() {
		err := fmt.Errorf("%d of %d files failed: %w", len(failures), len(entries), errors.Join(taskErrors(failures)...))
		s.fail(err, fmt.Sprintf("%d of %d files failed to download", len(failures), len(entries)))
		return
	}

	if !s.publishStudy(stagingDir, finalDir) {
		return
	}

	if hook != nil {
		s.publish("Creating DICOMDIR")
		if err := hook.Run(s.ctx, finalDir); err != nil {
			s.logger.Warn("post-process hook failed", "dir", finalDir, "error", err)
			s.publish(fmt.Sprintf("Error Creating DICOMDIR (%v)", err))
		}
	}

	s.publish("Download Complete")
	s.finish(domain.SessionStateCompleted)
	s.logger.Info("session completed", "source_url", sourceURL, "files", len(entries), "duration", time.Since(started))
}

// planTasks pairs every entry with its destination. Repeated URLs share a
// destination; distinct URLs that map to the same file are rejected.
func planTasks(stagingDir string, entries []domain.ManifestEntry) ([]domain.DownloadTask, error) {
	owners := make(map[string]string, len(entries))
	tasks := make([]domain.DownloadTask, 0, len(entries))
	for _, entry := range entries {
		dest := storage.DestinationPath(stagingDir, entry.SourceURL)
		if prev, ok := owners[dest]; ok && prev != entry.SourceURL {
			return nil, fmt.Errorf("%w: %s and %s both map to %s", errpkg.ErrValidation, prev, entry.SourceURL, dest)
		}
		owners[dest] = entry.SourceURL
		tasks = append(tasks, domain.DownloadTask{Entry: entry, DestinationPath: dest})
	}
	return tasks, nil
}

// publishStudy renames staging to final unless the session was cancelled.
// It returns false when the session ended here.
func (s *Session) publishStudy(stagingDir, finalDir string) bool {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if s.pool.Cancelled() {
		s.cancelled()
		return false
	}

	s.publish("Moving from temporary location")
	if err := s.fileStorage.Publish(stagingDir, finalDir); err != nil {
		s.fail(err, fmt.Sprintf("Could not move download into place (%v)", err))
		return false
	}
	return true
}

func taskErrors(failures []worker.TaskError) []error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errs
}

func (s *Session) publish(msg string) {
	s.mu.Lock()
	s.lastMessage = msg
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.status.Publish(msg)
	s.logger.Debug("session status", "message", msg)
}

func (s *Session) fail(err error, msg string) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Error("session failed", "source_url", s.SourceURL(), "error", err)
	s.publish(msg)
	s.finish(domain.SessionStateFailed)
}

func (s *Session) cancelled() {
	s.publish("Download cancelled")
	s.finish(domain.SessionStateCancelled)
	s.logger.Info("session cancelled", "source_url", s.SourceURL())
}

func (s *Session) finish(state domain.SessionState) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	metrics.SessionsFinished.WithLabelValues(string(state)).Inc()
}

func (s *Session) setDownloadPath(path string) {
	s.mu.Lock()
	s.downloadPath = path
	s.mu.Unlock()
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Record returns a snapshot of the session suitable for persistence.
func (s *Session) Record() domain.SessionRecord {
	total := s.pool.Total()
	failed := len(s.pool.Failures())
	percentage := s.CompletedPercentage()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastErr string
	if s.lastErr != nil {
		lastErr = s.lastErr.Error()
	}

	return domain.SessionRecord{
		ID:           s.id,
		SourceURL:    s.sourceURL,
		State:        s.state,
		DownloadPath: s.downloadPath,
		TotalFiles:   total,
		FailedFiles:  failed,
		Percentage:   percentage,
		LastMessage:  s.lastMessage,
		LastError:    lastErr,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

// Status returns and clears every message queued since the previous call,
// or nil when nothing new was published.
func (s *Session) Status() []string {
	return s.status.Drain()
}

// CompletedPercentage returns the share of files fetched successfully,
// rounded to the nearest integer. It is 0 while the file count is unknown.
func (s *Session) CompletedPercentage() int {
	total := s.pool.Total()
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(s.pool.Succeeded()) / float64(total) * 100))
}

// TotalFiles returns the number of files queued for download.
func (s *Session) TotalFiles() int {
	return s.pool.Total()
}

// RemainingFiles returns the number of queued files not yet finished.
func (s *Session) RemainingFiles() int {
	return s.pool.Remaining()
}

// Failures returns the per-file errors recorded so far.
func (s *Session) Failures() []worker.TaskError {
	return s.pool.Failures()
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) HasCompleted() bool { return s.State() == domain.SessionStateCompleted }
func (s *Session) HasFailed() bool    { return s.State() == domain.SessionStateFailed }
func (s *Session) HasCancelled() bool { return s.State() == domain.SessionStateCancelled }

// Finished reports whether the session reached any terminal state.
func (s *Session) Finished() bool {
	return s.State().IsTerminal()
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// SourceURL returns the manifest URL passed to Start.
func (s *Session) SourceURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceURL
}

// DownloadPath returns the final study directory once the manifest has been read.
func (s *Session) DownloadPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.downloadPath
}

// LastMessage returns the most recent status message without draining the channel.
func (s *Session) LastMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMessage
}

// Cancel stops queued downloads and prevents publication. Transfers already
// in progress run to completion.
func (s *Session) Cancel() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.pool.Cancel()
}

// Join blocks until the session goroutine exits. It returns at once for a
// session that was never started.
func (s *Session) Join() {
	if s.State() == domain.SessionStateNotStarted {
		return
	}
	<-s.done
}
