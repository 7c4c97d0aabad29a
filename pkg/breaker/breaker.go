// Package breaker implements the Circuit Breaker: one
// Closed/Open/Half-Open state machine per upstream endpoint class,
// built on sony/gobreaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
)

// ErrOpen is returned (wrapping gobreaker.ErrOpenState) when a call is
// rejected because the breaker for that key is open.
var ErrOpen = gobreaker.ErrOpenState

// NonRetryable, when wrapped by a guarded call's error, signals that
// the failure was a semantic 4xx rejection and must NOT count toward
// tripping the breaker.
var NonRetryable = errors.New("non-retryable")

// Registry holds one breaker per upstream endpoint class, created
// lazily on first use.
type Registry struct {
	cfg     *config.BreakerConfig
	metrics *metrics.Registry

	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	cooldown  map[string]time.Duration // current cooldown per key, doubles on repeated half-open failure
	openUntil map[string]time.Time     // external gate enforcing that (possibly doubled) cooldown past gobreaker's own fixed Settings.Timeout
}

// NewRegistry builds a breaker Registry. metricsReg may be nil.
func NewRegistry(cfg *config.BreakerConfig, metricsReg *metrics.Registry) *Registry {
	return &Registry{
		cfg:       cfg,
		metrics:   metricsReg,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		cooldown:  make(map[string]time.Duration),
		openUntil: make(map[string]time.Time),
	}
}

// Execute runs fn under the breaker for key, tripping it on ≥5
// consecutive failures or, once at least 20 requests have been counted
// since the breaker last changed state, a ≥50% failure ratio over all
// of them; the ratio is cumulative, not over a rolling window of the
// most recent 20. Failures wrapping NonRetryable are still reported to
// the caller but counted as successes in the trip calculation.
func (r *Registry) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	cb := r.breakerFor(key)

	if r.gatedOpen(key) {
		return ErrOpen
	}

	var nonRetryableErr error
	_, err := cb.Execute(func() (any, error) {
		callErr := fn(ctx)
		if callErr != nil && errors.Is(callErr, NonRetryable) {
			// Report success to gobreaker's internal counters so a
			// client-side 4xx never counts toward tripping, while still
			// surfacing the real error to the caller below.
			nonRetryableErr = callErr
			return nil, nil
		}
		return nil, callErr
	})

	if nonRetryableErr != nil {
		return nonRetryableErr
	}
	return err
}

func (r *Registry) breakerFor(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= r.cfg.FailThreshold {
				return true
			}
			if counts.Requests >= uint32(r.cfg.MinRequestsForRatio) {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= r.cfg.FailRatio
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				if from == gobreaker.StateHalfOpen {
					// a half-open probe failed: double the cooldown, up
					// to the ceiling, before the next probe is admitted.
					r.growCooldown(name)
				} else {
					// the initial Closed -> Open trip: start at the base
					// cooldown.
					r.armCooldown(name, r.cfg.Cooldown)
				}
			case gobreaker.StateClosed:
				r.clearCooldown(name)
			}
			r.metrics.SetBreakerState(name, stateLabel(to))
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	r.breakers[key] = cb
	return cb
}

// growCooldown doubles key's cooldown up to MaxCooldown and re-arms the
// external gate for that duration from now. gobreaker's own
// Settings.Timeout is fixed at construction to the base Cooldown, so
// without this gate a reopened breaker would admit a probe again after
// only the base cooldown even on repeated failures; gatedOpen enforces
// the longer, doubled wait instead.
func (r *Registry) growCooldown(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.cooldown[key]
	if !ok {
		cur = r.cfg.Cooldown
	}
	next := cur * 2
	if next > r.cfg.MaxCooldown {
		next = r.cfg.MaxCooldown
	}
	r.cooldown[key] = next
	r.openUntil[key] = time.Now().Add(next)
}

// armCooldown sets key's cooldown to d and gates retries for d from
// now. Used on the initial Closed -> Open trip, before any escalation.
func (r *Registry) armCooldown(key string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldown[key] = d
	r.openUntil[key] = time.Now().Add(d)
}

// clearCooldown drops key's tracked cooldown once the breaker closes
// again, so its next trip starts back at the base cooldown.
func (r *Registry) clearCooldown(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cooldown, key)
	delete(r.openUntil, key)
}

// gatedOpen reports whether key is still within its (possibly doubled)
// cooldown window, which may extend past gobreaker's own fixed
// Settings.Timeout.
func (r *Registry) gatedOpen(key string) bool {
	r.mu.Lock()
	until, ok := r.openUntil[key]
	r.mu.Unlock()
	return ok && time.Now().Before(until)
}

// State reports the current state of the breaker for key, for
// /health reporting. Returns "closed" if the breaker has never
// been used.
func (r *Registry) State(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		return "closed"
	}
	return stateLabel(cb.State())
}

// stateLabel converts a gobreaker.State to the closed/half-open/open
// label used for both /health reporting and the breaker_state metric.
func stateLabel(state gobreaker.State) string {
	switch state {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Snapshot returns the state of every breaker created so far, keyed
// by upstream endpoint class.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.breakers))
	for key, cb := range r.breakers {
		out[key] = stateLabel(cb.State())
	}
	return out
}
