package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/veranemoloko/study-downloader/internal/domain"
	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
	"github.com/veranemoloko/study-downloader/internal/metrics"
	"github.com/veranemoloko/study-downloader/internal/storage"
)

const minLimiterBurst = 256 * 1024

// FetcherOptions configures a FileFetcher.
type FetcherOptions struct {
	// Timeout bounds one file transfer, including reading the body.
	Timeout time.Duration

	// MaxFileSize rejects bodies larger than this many bytes. Zero disables the check.
	MaxFileSize int64

	// RateLimitBytes caps combined throughput in bytes per second. Zero disables limiting.
	RateLimitBytes int
}

// FileFetcher downloads single files into FileStorage, skipping files that
// are already present.
type FileFetcher struct {
	fileStorage *storage.FileStorage
	httpClient  *http.Client
	limiter     *rate.Limiter
	opts        FetcherOptions
	logger      *slog.Logger
}

// NewFileFetcher creates a new FileFetcher with the provided FileStorage and logger.
func NewFileFetcher(fileStorage *storage.FileStorage, opts FetcherOptions, logger *slog.Logger) *FileFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	f := &FileFetcher{
		fileStorage: fileStorage,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		opts:        opts,
		logger:      logger,
	}

	if opts.RateLimitBytes > 0 {
		burst := opts.RateLimitBytes
		if burst < minLimiterBurst {
			burst = minLimiterBurst
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitBytes), burst)
	}

	return f
}

// Fetch downloads task.Entry.SourceURL to task.DestinationPath. An existing
// destination is left untouched and reported as skipped.
func (f *FileFetcher) Fetch(ctx context.Context, task domain.DownloadTask) (domain.FileStatus, error) {
	dest := task.DestinationPath
	url := task.Entry.SourceURL

	if f.fileStorage.Exists(dest) {
		metrics.FilesSkipped.Inc()
		f.logger.Debug("file already present", "url", url, "file_path", dest)
		return domain.FileStatusSkipped, nil
	}

	startTime := time.Now()
	n, err := f.download(ctx, url, dest)
	metrics.DownloadsTotal.Inc()
	if err != nil {
		metrics.DownloadsFailed.Inc()
		return domain.FileStatusFailed, err
	}

	metrics.DownloadsSuccess.Inc()
	metrics.DownloadDuration.Observe(time.Since(startTime).Seconds())
	metrics.DownloadBytes.Add(float64(n))

	f.logger.Debug("file downloaded successfully", "url", url, "bytes", n, "file_path", dest)
	return domain.FileStatusDownloaded, nil
}

func (f *FileFetcher) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %v", errpkg.ErrTransport, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errpkg.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: bad status: %s", errpkg.ErrTransport, resp.Status)
	}

	var body io.Reader = resp.Body
	if f.limiter != nil {
		body = &rateLimitedReader{reader: resp.Body, limiter: f.limiter, ctx: ctx}
	}

	return f.fileStorage.CopyFile(body, dest, f.opts.MaxFileSize)
}

type rateLimitedReader struct {
	reader  io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	if len(p) > r.limiter.Burst() {
		p = p[:r.limiter.Burst()]
	}
	n, err := r.reader.Read(p)
	if n > 0 {
		if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
