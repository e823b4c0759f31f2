package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/veranemoloko/study-downloader/internal/manifest"
	"github.com/veranemoloko/study-downloader/internal/storage"
	"github.com/veranemoloko/study-downloader/internal/worker"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// fakePACS serves a manifest at /manifest and file bodies at /wado?file=/<name>.
type fakePACS struct {
	t        *testing.T
	server   *httptest.Server
	patient  string
	studyID  string
	files    map[string]string
	fileHits atomic.Int64

	// repeat lists names listed again after the sorted file set.
	repeat []string

	mu      sync.Mutex
	failing map[string]bool

	// gate, when set, holds every file request until closed. started
	// receives one value per file request that reached the gate.
	gate    chan struct{}
	started chan string
}

func newFakePACS(t *testing.T, files map[string]string) *fakePACS {
	t.Helper()
	p := &fakePACS{
		t:       t,
		patient: "DOE^JANE",
		studyID: "1.2.840.1",
		files:   files,
		failing: make(map[string]bool),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePACS) manifestURL() string {
	return p.server.URL + "/manifest"
}

func (p *fakePACS) setFailing(name string, failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[name] = failing
}

func (p *fakePACS) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/manifest":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, p.manifestJSON())
	case "/wado":
		name := strings.TrimPrefix(r.URL.Query().Get("file"), "/")
		p.fileHits.Add(1)

		if p.started != nil {
			p.started <- name
		}
		if p.gate != nil {
			<-p.gate
		}

		p.mu.Lock()
		failing := p.failing[name]
		p.mu.Unlock()

		body, ok := p.files[name]
		if failing || !ok {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, body)
	default:
		http.NotFound(w, r)
	}
}

func (p *fakePACS) manifestJSON() string {
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	sort.Strings(names)
	names = append(names, p.repeat...)

	instances := make([]string, len(names))
	for i, name := range names {
		instances[i] = fmt.Sprintf(`{"url": "dicomweb:%s/wado?file=/%s"}`, p.server.URL, name)
	}

	return fmt.Sprintf(`{"studies": [{"PatientID": "P1", "PatientName": %q, "StudyInstanceUID": %q, "series": [{"instances": [%s]}]}]}`,
		p.patient, p.studyID, strings.Join(instances, ","))
}

func newTestSession(t *testing.T, root string, concurrency int) *Session {
	t.Helper()
	logger := newTestLogger()
	fileStorage := storage.NewFileStorage(root)
	fetcher := worker.NewFileFetcher(fileStorage, worker.FetcherOptions{
		Timeout:     5 * time.Second,
		MaxFileSize: 1 << 20,
	}, logger)

	return NewSession(
		context.Background(),
		manifest.NewClient(5*time.Second, logger),
		fetcher,
		fileStorage,
		SessionOptions{Concurrency: concurrency, StatusCapacity: 64},
		logger,
	)
}

func joinSession(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("session did not finish in time")
	}
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

type recordingHook struct {
	mu   sync.Mutex
	dirs []string
	err  error
}

func (h *recordingHook) Run(_ context.Context, dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirs = append(h.dirs, dir)
	return h.err
}

func (h *recordingHook) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.dirs...)
}
