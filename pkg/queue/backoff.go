package queue

import (
	"time"

	"github.com/deepresearch/researchd/pkg/config"
)

// backoffDelay implements delay = min(cap, base*2^attempts), shared by the
// research and PDF job executors. attempts is the job's attempt count
// *before* the failure just observed is recorded.
func backoffDelay(cfg *config.QueueConfig, attempts int) time.Duration {
	seconds := cfg.BackoffBaseSeconds << attempts
	if seconds > cfg.BackoffCapSeconds || seconds <= 0 {
		seconds = cfg.BackoffCapSeconds
	}
	return time.Duration(seconds) * time.Second
}
