// Package ratelimit implements the Rate Limiter: a token bucket
// per (tenant, upstream, endpoint_class), adaptive to upstream usage
// telemetry. Modeled on the per-key map-of-buckets-with-cleanup
// pattern used for per-user rate limiting elsewhere in the ecosystem,
// built on golang.org/x/time/rate instead of a hand-rolled bucket.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
)

// Limiter manages per-key token buckets, each adaptively shrunk when
// the upstream reports high usage.
type Limiter struct {
	cfg     *config.RateLimitConfig
	metrics *metrics.Registry

	mu      sync.RWMutex
	buckets map[string]*bucket
}

type bucket struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	baseBurst   int
	baseRefill  float64
	shrunk      bool
	lastUsed    time.Time
	usageSample float64 // last reported upstream usage fraction, 0 if unknown
}

// New builds a Limiter. metricsReg may be nil.
func New(cfg *config.RateLimitConfig, metricsReg *metrics.Registry) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		metrics: metricsReg,
		buckets: make(map[string]*bucket),
	}
	go l.cleanupLoop()
	return l
}

func key(tenantID, upstream, endpointClass string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, upstream, endpointClass)
}

func (l *Limiter) getBucket(k string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[k]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[k]; ok {
		return b
	}

	b = &bucket{
		limiter:    rate.NewLimiter(rate.Limit(l.cfg.DefaultRefillPerSecond), int(l.cfg.DefaultCapacity)),
		baseBurst:  int(l.cfg.DefaultCapacity),
		baseRefill: l.cfg.DefaultRefillPerSecond,
		lastUsed:   time.Now(),
	}
	l.buckets[k] = b
	return b
}

// Acquire attempts to take n tokens for (tenantID, upstream,
// endpointClass). On success it returns (true, 0). On failure it
// returns (false, wait) where wait is how long until the next token
// would be available, with adaptive jitter applied when the bucket is
// in its shrunk state.
func (l *Limiter) Acquire(ctx context.Context, tenantID, upstream, endpointClass string, n int) (bool, time.Duration) {
	b := l.getBucket(key(tenantID, upstream, endpointClass))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = time.Now()

	reservation := b.limiter.ReserveN(time.Now(), n)
	if !reservation.OK() {
		l.metrics.ObserveRateLimitAcquire(upstream, endpointClass, false)
		return false, 0
	}
	delay := reservation.Delay()
	if delay <= 0 {
		l.metrics.ObserveRateLimitAcquire(upstream, endpointClass, true)
		return true, 0
	}
	reservation.Cancel()

	if b.shrunk {
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
	}
	l.metrics.ObserveRateLimitAcquire(upstream, endpointClass, false)
	return false, delay
}

// ReportUsage feeds upstream usage telemetry (e.g. Graph API's
// X-App-Usage percentage, 0..1) into the bucket for (tenantID,
// upstream, endpointClass), shrinking capacity 50% above the high
// watermark and restoring it once usage drops below the low
// watermark.
func (l *Limiter) ReportUsage(tenantID, upstream, endpointClass string, usageFraction float64) {
	b := l.getBucket(key(tenantID, upstream, endpointClass))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.usageSample = usageFraction

	switch {
	case !b.shrunk && usageFraction > l.cfg.UsageHighWatermark:
		b.shrunk = true
		newBurst := b.baseBurst / 2
		newRefill := b.baseRefill / 2
		b.limiter.SetBurst(newBurst)
		b.limiter.SetLimit(rate.Limit(newRefill))
	case b.shrunk && usageFraction < l.cfg.UsageLowWatermark:
		b.shrunk = false
		b.limiter.SetBurst(b.baseBurst)
		b.limiter.SetLimit(rate.Limit(b.baseRefill))
	}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		for k, b := range l.buckets {
			b.mu.Lock()
			idle := time.Since(b.lastUsed) > time.Hour
			b.mu.Unlock()
			if idle {
				delete(l.buckets, k)
			}
		}
		l.mu.Unlock()
	}
}
