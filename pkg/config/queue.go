package config

import "time"

// QueueConfig contains queue and worker pool configuration shared by both
// the research job queue (C9) and the PDF background worker (C10). These
// values control how jobs are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/process.
	WorkerCount int `yaml:"worker_count"`

	// BatchSize is the max number of jobs claimed per poll cycle.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is the base interval between poll cycles.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// JobTimeout is the maximum time a single job execution may take. The
	// lease_deadline is computed separately, from the worker's fixed lease
	// duration.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// GracefulShutdownTimeout bounds how long Stop() waits for in-flight
	// jobs to finish.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// MaxRetries is the total number of failed attempts after which a job
	// is marked permanently failed (it is requeued at most MaxRetries-1
	// times).
	MaxRetries int `yaml:"max_retries"`

	// BackoffBaseSeconds and BackoffCapSeconds parametrize the retry
	// backoff: delay = min(BackoffCapSeconds, BackoffBaseSeconds*2^attempts).
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds  int `yaml:"backoff_cap_seconds"`
}

// DefaultResearchQueueConfig returns the research job queue defaults from
// spec.md §6/§11 (max retries = 2, backoff = min(180, 10*2^attempts)).
func DefaultResearchQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		BatchSize:               2,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      300 * time.Millisecond,
		JobTimeout:              20 * time.Minute,
		GracefulShutdownTimeout: 20 * time.Minute,
		MaxRetries:              2,
		BackoffBaseSeconds:      10,
		BackoffCapSeconds:       180,
	}
}

// DefaultPdfQueueConfig returns the PDF background worker defaults from
// spec.md §6 (max retries = 3, backoff = min(300, 15*2^attempts), poll = 2s).
func DefaultPdfQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             2,
		BatchSize:               2,
		PollInterval:            2 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		JobTimeout:              5 * time.Minute,
		GracefulShutdownTimeout: 5 * time.Minute,
		MaxRetries:              3,
		BackoffBaseSeconds:      15,
		BackoffCapSeconds:       300,
	}
}
