package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/veranemoloko/study-downloader/internal/config"
	"github.com/veranemoloko/study-downloader/internal/manifest"
	"github.com/veranemoloko/study-downloader/internal/postprocess"
	"github.com/veranemoloko/study-downloader/internal/service"
	"github.com/veranemoloko/study-downloader/internal/storage"
	"github.com/veranemoloko/study-downloader/internal/validation"
	"github.com/veranemoloko/study-downloader/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dldicom: %v\n", err)
		return 1
	}
	if os.Getenv("FD_LOG_LEVEL") == "" {
		cfg.LogLevel = "warn"
	}
	if os.Getenv("FD_LOG_FORMAT") == "" {
		cfg.LogFormat = "text"
	}

	concurrency := flag.Int("concurrency", cfg.Concurrency, "number of files downloaded in parallel")
	cacheRoot := flag.String("cache", cfg.CacheRoot, "directory studies are saved under")
	dcmmkdir := flag.String("dcmmkdir", cfg.PostProcessCommand, "dcmmkdir executable run in the study directory after download (optional)")
	viewer := flag.String("viewer", "", "program used to open the study directory when finished (optional)")
	rateLimit := flag.Int("rate", cfg.RateLimitBytes, "bandwidth limit in bytes per second, 0 for unlimited")
	pollEvery := flag.Duration("poll", time.Second, "status refresh interval")
	flag.Parse()

	cfg.Concurrency = *concurrency
	cfg.CacheRoot = *cacheRoot
	cfg.PostProcessCommand = *dcmmkdir
	cfg.RateLimitBytes = *rateLimit
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "dldicom: %v\n", err)
		return 2
	}

	logger := config.SetupLogger(cfg)

	rawURL, err := readSourceURL(flag.Args(), os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dldicom: %v\n", err)
		return 1
	}
	if !validation.IsSourceURL(rawURL) {
		fmt.Fprintln(os.Stderr, "Source URL is not valid")
		return 1
	}
	sourceURL := validation.NormalizeSourceURL(rawURL)
	if err := validation.ValidateSourceURL(sourceURL); err != nil {
		fmt.Fprintln(os.Stderr, "Source URL is not valid")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fileStorage := storage.NewFileStorage(cfg.CacheRoot)
	fetcher := worker.NewFileFetcher(fileStorage, worker.FetcherOptions{
		Timeout:        cfg.DownloadTimeout,
		MaxFileSize:    cfg.MaxFileSize,
		RateLimitBytes: cfg.RateLimitBytes,
	}, logger)

	session := service.NewSession(
		context.Background(),
		manifest.NewClient(cfg.ManifestTimeout, logger),
		fetcher,
		fileStorage,
		service.SessionOptions{Concurrency: cfg.Concurrency, StatusCapacity: cfg.StatusCapacity},
		logger,
	)

	var hook service.PostProcessHook
	if cmd := postprocess.NewCommand(cfg.PostProcessCommand, cfg.PostProcessArgs, logger); cmd != nil {
		hook = cmd
	}

	if err := session.Start(sourceURL, hook); err != nil {
		printMessages(os.Stdout, session.Status())
		return 1
	}

	bar := newProgressBar(os.Stderr)
	watch(ctx, session, bar, os.Stdout, *pollEvery)

	switch {
	case session.HasCompleted():
		if *viewer != "" {
			if err := openViewer(*viewer, session.DownloadPath(), logger); err != nil {
				fmt.Fprintf(os.Stderr, "dldicom: %v\n", err)
			}
		}
		return 0
	case session.HasCancelled():
		return 130
	default:
		return 1
	}
}

// readSourceURL takes the URL from the first argument or prompts for it.
func readSourceURL(args []string, in io.Reader, out io.Writer) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}

	fmt.Fprint(out, "Download Url: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read url: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no download url given")
	}
	return line, nil
}

// progressSource is the part of a session the poll loop needs.
type progressSource interface {
	Finished() bool
	CompletedPercentage() int
	Status() []string
	Cancel()
	Join()
}

// watch polls s until it finishes, printing every status message prefixed
// with the current percentage. The first signal on ctx cancels the session.
func watch(ctx context.Context, s progressSource, bar *progressbar.ProgressBar, out io.Writer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for !s.Finished() {
		select {
		case <-interrupted:
			interrupted = nil
			s.Cancel()
		case <-ticker.C:
		}
		report(s, bar, out)
	}

	s.Join()
	report(s, bar, out)
	_ = bar.Finish()
	fmt.Fprintln(out)
}

func report(s progressSource, bar *progressbar.ProgressBar, out io.Writer) {
	pct := s.CompletedPercentage()
	messages := s.Status()
	if len(messages) > 0 {
		_ = bar.Clear()
		for _, msg := range messages {
			fmt.Fprintf(out, "%d%% : %s\n", pct, msg)
		}
	}
	_ = bar.Set(pct)
}

func printMessages(out io.Writer, messages []string) {
	for _, msg := range messages {
		fmt.Fprintln(out, msg)
	}
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("study"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// openViewer launches viewer on dir without waiting for it to exit.
func openViewer(viewer, dir string, logger *slog.Logger) error {
	cmd := exec.Command(viewer, dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open viewer %s: %w", viewer, err)
	}
	logger.Info("viewer started", "viewer", viewer, "dir", dir, "pid", cmd.Process.Pid)
	return cmd.Process.Release()
}
