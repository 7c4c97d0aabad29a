package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/slack"
)

// WorkerPool manages a pool of queue workers that share a Store and a
// type-to-Handler dispatch table.
type WorkerPool struct {
	podID    string
	store    *Store
	cfg      *config.QueueConfig
	handlers map[models.JobType]Handler
	notifier *slack.Service
	metrics  *metrics.Registry

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	orphans orphanState
}

// NewWorkerPool creates a new worker pool. handlers maps each job type
// this process can execute to its Handler; job types with no handler
// are left pending for another process. metricsReg may be nil.
func NewWorkerPool(podID string, store *Store, cfg *config.QueueConfig, handlers map[models.JobType]Handler, notifier *slack.Service, metricsReg *metrics.Registry) *WorkerPool {
	return &WorkerPool{
		podID:    podID,
		store:    store,
		cfg:      cfg,
		handlers: handlers,
		notifier: notifier,
		metrics:  metricsReg,
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
	}
}

// Start spawns worker goroutines and the orphan/deadline-cancellation
// background task. Safe to call multiple times; later calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.store, p.cfg, p.handlers, p.notifier, p.metrics)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runMaintenance(ctx)
	}()

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to
// finish (graceful shutdown); a job left in_flight past
// GracefulShutdownTimeout is picked up again by orphan recovery.
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// runMaintenance periodically recovers orphaned jobs and cancels jobs
// past their soft deadline.
func (p *WorkerPool) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.detectAndRecoverOrphans(ctx)
			if _, err := p.store.CancelOnDeadline(ctx); err != nil {
				slog.Warn("deadline cancellation scan failed", "error", err)
			}
			p.reportQueueDepth(ctx)
		}
	}
}

// reportQueueDepth refreshes the per-job-type queue_depth gauge
// on the same tick as orphan detection and deadline cancellation.
func (p *WorkerPool) reportQueueDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	depths, err := p.store.QueueDepthByType(ctx)
	if err != nil {
		slog.Warn("queue depth metrics scan failed", "error", err)
		return
	}
	for jobType, n := range depths {
		p.metrics.SetQueueDepth(jobType, n)
	}
}

func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) {
	n, err := p.store.RecoverOrphans(ctx)
	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	if err == nil {
		p.orphans.orphansRecovered += n
	}
	p.orphans.mu.Unlock()

	if err != nil {
		slog.Error("orphan detection failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("recovered orphaned jobs", "count", n)
	}
}

// CleanupStartupOrphans runs a one-time orphan sweep at process start,
// covering jobs left in_flight by a pod that was killed without a
// graceful shutdown.
func (p *WorkerPool) CleanupStartupOrphans(ctx context.Context) error {
	n, err := p.store.RecoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("startup orphan cleanup: %w", err)
	}
	if n > 0 {
		slog.Info("recovered orphaned jobs at startup", "count", n)
	}
	return nil
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	queueDepth, errQ := p.store.QueueDepth(ctx)
	inFlight, errF := p.store.InFlightCount(ctx, p.podID)
	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "pod_id", p.podID, "error", errQ)
	}
	if errF != nil {
		slog.Error("failed to query in-flight jobs for health check", "pod_id", p.podID, "error", errF)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errF == nil
	isHealthy := len(p.workers) > 0 && dbHealthy

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errF != nil {
			dbError = fmt.Sprintf("in-flight query failed: %v", errF)
		}
	}

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		InFlightJobs:     inFlight,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}
