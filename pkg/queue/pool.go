package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepresearch/researchd/pkg/config"
)

// WorkerPool manages a fixed-size pool of Workers against one JobExecutor
// (research jobs or PDF jobs).
type WorkerPool struct {
	podID    string
	executor JobExecutor
	config   *config.QueueConfig
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, executor JobExecutor, cfg *config.QueueConfig) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		executor: executor,
		config:   cfg,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns worker goroutines. Safe to call once; subsequent calls are
// no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.executor, p.config)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("worker pool started")
}

// Stop signals all workers to stop and waits (up to
// config.GracefulShutdownTimeout) for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool stopped")
	case <-time.After(p.config.GracefulShutdownTimeout):
		slog.Warn("worker pool stop timed out, some jobs may be mid-execution")
	}
}

// Health reports per-worker status.
func (p *WorkerPool) Health() PoolHealth {
	stats := make([]WorkerHealth, 0, len(p.workers))
	active := 0
	for _, w := range p.workers {
		h := w.Health()
		stats = append(stats, h)
		if h.Status == string(WorkerStatusWorking) {
			active++
		}
	}
	return PoolHealth{
		PodID:         p.podID,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		WorkerStats:   stats,
	}
}
