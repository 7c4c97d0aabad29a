package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/slack"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes jobs.
type Worker struct {
	id       string
	podID    string
	store    *Store
	cfg      *config.QueueConfig
	handlers map[models.JobType]Handler
	notifier *slack.Service
	metrics  *metrics.Registry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker builds a Worker. metricsReg may be nil.
func NewWorker(id, podID string, store *Store, cfg *config.QueueConfig, handlers map[models.JobType]Handler, notifier *slack.Service, metricsReg *metrics.Registry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        store,
		cfg:          cfg,
		handlers:     handlers,
		notifier:     notifier,
		metrics:      metricsReg,
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

// Stop signals the worker to stop and waits for it to finish. Safe to
// call multiple times.
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
				if errors.Is(err, ErrNoJobsAvailable) || errors.Is(err, ErrAtCapacity) {
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

// pollAndProcess claims the next eligible job and runs its registered
// Handler, retrying with backoff or dead-lettering on failure.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.store.Claim(ctx, w.id)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "job_type", job.Type, "tenant_id", job.TenantID, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx := ctx
	var cancel context.CancelFunc
	if job.Deadline != nil {
		jobCtx, cancel = context.WithDeadline(ctx, *job.Deadline)
		defer cancel()
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	handler, ok := w.handlers[job.Type]
	if !ok {
		cancelHeartbeat()
		log.Error("no handler registered for job type")
		return w.fail(context.Background(), job, fmt.Errorf("no handler registered for job type %s", job.Type), true)
	}

	start := time.Now()
	handleErr := handler.Handle(jobCtx, job)
	duration := time.Since(start).Seconds()
	cancelHeartbeat()

	if handleErr == nil {
		w.mu.Lock()
		w.jobsProcessed++
		w.mu.Unlock()
		log.Info("job succeeded")
		w.metrics.ObserveJob(string(job.Type), "succeeded", duration)
		return w.store.Succeed(context.Background(), job.ID)
	}

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		log.Warn("job cancelled on deadline", "error", handleErr)
		w.metrics.ObserveJob(string(job.Type), "cancelled_deadline", duration)
		return w.fail(context.Background(), job, errors.New("CANCELLED_DEADLINE"), true)
	}

	permanent := errors.Is(handleErr, ErrPermanent)
	log.Warn("job failed", "error", handleErr, "permanent", permanent)
	outcome := "failed_retryable"
	if permanent {
		outcome = "failed_permanent"
	}
	w.metrics.ObserveJob(string(job.Type), outcome, duration)
	return w.fail(context.Background(), job, handleErr, permanent)
}

// fail records the failed attempt and notifies operators when the job
// was handed to the dead-letter queue.
func (w *Worker) fail(ctx context.Context, job *models.Job, cause error, permanent bool) error {
	wentDead, err := w.store.Fail(ctx, job, cause, permanent)
	if err != nil {
		return err
	}
	if wentDead {
		w.notifier.NotifyDeadLetter(ctx, slack.DeadLetterInput{
			JobID:     job.ID,
			TenantID:  job.TenantID,
			JobType:   string(job.Type),
			LastError: cause.Error(),
		})
	}
	return nil
}

// runHeartbeat periodically refreshes the claimed job's visibility
// deadline for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID); err != nil {
				slog.Warn("heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
