package manifest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
)

const maxManifestSize = 64 << 20

// Client retrieves manifests over HTTP.
type Client struct {
	httpClient *http.Client
	maxSize    int64
	logger     *slog.Logger
}

// NewClient creates a Client whose requests are bounded by timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxSize:    maxManifestSize,
		logger:     logger,
	}
}

// Fetch returns the raw manifest body served at url.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", errpkg.ErrTransport, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errpkg.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d %s", errpkg.ErrTransport, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errpkg.ErrTransport, err)
	}
	if int64(len(body)) > c.maxSize {
		return nil, fmt.Errorf("%w: manifest too large: exceeds %d bytes", errpkg.ErrTransport, c.maxSize)
	}

	c.logger.Debug("manifest fetched", "url", url, "bytes", len(body))
	return body, nil
}

// Parse decodes body. It lets Client serve as the orchestrator's manifest source.
func (c *Client) Parse(body []byte) (*Manifest, error) {
	return Parse(body)
}
