package queue

import (
	"context"
	"log/slog"
	"time"
)

// LeaseReclaimer requeues jobs whose lease has expired without a heartbeat
// — the worker that held them is presumed dead (crashed pod, killed
// process). Implemented per job domain by ResearchJobExecutor and
// PdfJobExecutor in this package against the `lease_deadline` column (see
// Open Question #1).
type LeaseReclaimer interface {
	ReclaimExpiredLeases(ctx context.Context) (recovered int, err error)
}

// RunLeaseReclaim runs r on interval until ctx is done or stopCh fires.
// All pods run this independently; reclaiming is idempotent since a job
// already reclaimed by another pod simply won't match the stale-lease
// predicate anymore.
func RunLeaseReclaim(ctx context.Context, stopCh <-chan struct{}, r LeaseReclaimer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			recovered, err := r.ReclaimExpiredLeases(ctx)
			if err != nil {
				slog.Error("lease reclaim failed", "error", err)
				continue
			}
			if recovered > 0 {
				slog.Warn("reclaimed jobs with expired leases", "count", recovered)
			}
		}
	}
}
