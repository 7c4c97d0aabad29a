// Package queue implements the Job Queue: a durable, Postgres-backed
// queue with priority ordering, retry with backoff, per-tenant fairness,
// and dead-lettering on exhausted attempts.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/chatbridge-hq/chatbridge/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no pending jobs are currently claimable.
	ErrNoJobsAvailable = errors.New("no jobs available")

	// ErrAtCapacity indicates the claiming tenant has reached its
	// per-tenant concurrency cap.
	ErrAtCapacity = errors.New("at capacity")
)

// Handler executes a single job of a given type. It returns an error
// to trigger retry/backoff, or nil on success. A Handler that wants to
// force immediate dead-lettering (rather than retrying) should return
// an error wrapping ErrPermanent.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(ctx context.Context, job *models.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) error {
	return f(ctx, job)
}

// ErrPermanent, when wrapped by a Handler's returned error, causes the
// job to be dead-lettered immediately rather than retried.
var ErrPermanent = errors.New("permanent failure")

// PoolHealth reports the aggregate state of a worker pool, surfaced on
// the /health endpoint.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	InFlightJobs     int            `json:"in_flight_jobs"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth reports the current state of a single worker goroutine.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
