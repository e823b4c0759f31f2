package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort    int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`

	Concurrency     int           `envconfig:"CONCURRENCY" default:"10"`
	ManifestTimeout time.Duration `envconfig:"MANIFEST_TIMEOUT" default:"30s"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"5m"`
	MaxFileSize     int64         `envconfig:"MAX_FILE_SIZE" default:"2147483648"`
	RateLimitBytes  int           `envconfig:"RATE_LIMIT_BYTES" default:"0"`
	StatusCapacity  int           `envconfig:"STATUS_CAPACITY" default:"1024"`

	// CacheRoot is where studies are published. Empty means DefaultCacheRoot.
	CacheRoot string `envconfig:"CACHE_ROOT"`
	StateFile string `envconfig:"STATE_FILE" default:"./state/sessions.json"`

	PostProcessCommand string   `envconfig:"POST_PROCESS_COMMAND"`
	PostProcessArgs    []string `envconfig:"POST_PROCESS_ARGS" default:"+r,*"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive: %d", c.Concurrency)
	}

	if c.ManifestTimeout <= 0 || c.DownloadTimeout <= 0 {
		return fmt.Errorf("fetch timeouts must be positive: manifest=%s download=%s", c.ManifestTimeout, c.DownloadTimeout)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.MaxFileSize)
	}

	if c.RateLimitBytes < 0 {
		return fmt.Errorf("rate limit cannot be negative: %d", c.RateLimitBytes)
	}

	if c.StatusCapacity <= 0 {
		return fmt.Errorf("status capacity must be positive: %d", c.StatusCapacity)
	}

	if c.CacheRoot == "" {
		return fmt.Errorf("cache root cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}

	return nil
}
