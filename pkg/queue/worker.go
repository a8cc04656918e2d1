package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/deepresearch/researchd/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// leaseDuration is how far into the future a claim/heartbeat pushes a
// job's lease_deadline. It must comfortably exceed the heartbeat interval
// so a single missed tick never causes a live job to be reclaimed.
const leaseDuration = 45 * time.Second

const heartbeatInterval = 15 * time.Second

// Worker polls one JobExecutor for claimable jobs and drives each through
// claim, heartbeat, execute, and finalize. It carries no job-domain logic
// of its own.
type Worker struct {
	id       string
	podID    string
	executor JobExecutor
	config   *config.QueueConfig
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, executor JobExecutor, cfg *config.QueueConfig) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		executor:     executor,
		config:       cfg,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoJobsAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing job", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	handle, err := w.executor.ClaimNext(ctx, w.id, leaseDuration)
	if err != nil {
		return err
	}

	log := slog.With("job_id", handle.JobID(), "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, handle.JobID())
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancelJob()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, handle)

	outcome := w.executor.Execute(jobCtx, handle)
	cancelHeartbeat()

	if err := w.executor.Finalize(context.Background(), handle, outcome); err != nil {
		log.Error("failed to finalize job", "error", err)
		return err
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete", "completed", outcome.Completed)
	return nil
}

func (w *Worker) runHeartbeat(ctx context.Context, handle JobHandle) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.executor.Heartbeat(ctx, handle, leaseDuration); err != nil {
				slog.Warn("heartbeat update failed", "job_id", handle.JobID(), "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
