package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "study_downloader_sessions_started_total",
		Help: "Total number of download sessions started",
	})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "study_downloader_sessions_finished_total",
		Help: "Total number of download sessions by terminal state",
	}, []string{"state"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "study_downloader_sessions_active",
		Help: "Number of sessions currently running",
	})

	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "study_downloader_downloads_total",
		Help: "Total number of file download attempts",
	})

	DownloadsSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "study_downloader_downloads_success_total",
		Help: "Total number of successful file downloads",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "study_downloader_downloads_failed_total",
		Help: "Total number of failed file downloads",
	})

	FilesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "study_downloader_files_skipped_total",
		Help: "Total number of files skipped because they were already present",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "study_downloader_download_duration_seconds",
		Help:    "File download duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "study_downloader_download_bytes_total",
		Help: "Total bytes downloaded",
	})
)
