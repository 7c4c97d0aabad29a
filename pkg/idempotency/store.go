// Package idempotency provides "seen event-id" admission for inbound
// webhooks: an atomic claim keyed by event id with a 72h TTL, backed
// by Redis, with a degraded in-process fallback when Redis is
// unreachable.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of a claim attempt.
type Result string

const (
	ResultNew       Result = "new"
	ResultDuplicate Result = "duplicate"
)

const keyPrefix = "idem:"

// claimGrace bounds how long an unconfirmed claim is treated as truly
// in-flight. A claiming process that crashes between Claim and
// MarkProcessed never gets to record the outcome, which would
// otherwise strand the key as a permanent "duplicate" for the rest of
// its TTL with no observed side effect to show for it. Past this
// grace period with no MarkProcessed call, Claim treats the original
// attempt as abandoned and lets a retry through.
const claimGrace = 5 * time.Minute

// Store is the Idempotency Store. It is safe for concurrent use.
type Store struct {
	rdb      *redis.Client
	ttl      time.Duration
	degraded *degradedFilter
}

// New constructs a Store backed by rdb with the given claim TTL
// (72h by default).
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb:      rdb,
		ttl:      ttl,
		degraded: newDegradedFilter(),
	}
}

// Claim performs an atomic test-and-set on eventID. On ResultNew the
// caller should proceed with processing; on ResultDuplicate the caller
// MUST return 200 without processing.
//
// If Redis is unreachable, Claim degrades to a best-effort in-process
// bloom filter and the caller should treat the degraded-health signal
// (DegradedModeActive) as a metric to alert on.
func (s *Store) Claim(ctx context.Context, eventID string) (Result, error) {
	key := keyPrefix + eventID
	now := time.Now().UTC()

	ok, err := s.rdb.SetNX(ctx, key, now.Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		slog.Warn("idempotency store degraded: redis unreachable, falling back to bloom filter",
			"error", err, "event_id", eventID)
		if s.degraded.testAndSet(eventID) {
			return ResultDuplicate, nil
		}
		return ResultNew, nil
	}
	s.degraded.used.Store(false)
	if ok {
		return ResultNew, nil
	}

	return s.reclaimIfAbandoned(ctx, key, now)
}

// reclaimIfAbandoned is reached once an existing claim blocks a fresh
// SetNX. If MarkProcessed already ran for it, the side effect was
// observed and this really is a duplicate. Otherwise, past
// claimGrace, the original claimant is presumed to have crashed before
// the send happened, and the key is re-armed for a fresh attempt.
func (s *Store) reclaimIfAbandoned(ctx context.Context, key string, now time.Time) (Result, error) {
	confirmed, err := s.rdb.Exists(ctx, key+":outcome").Result()
	if err != nil {
		return ResultDuplicate, nil
	}
	if confirmed > 0 {
		return ResultDuplicate, nil
	}

	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return ResultDuplicate, nil
	}
	claimedAt, err := time.Parse(time.RFC3339, raw)
	if err != nil || now.Sub(claimedAt) < claimGrace {
		return ResultDuplicate, nil
	}

	if err := s.rdb.Set(ctx, key, now.Format(time.RFC3339), s.ttl).Err(); err != nil {
		return ResultDuplicate, nil
	}
	return ResultNew, nil
}

// MarkProcessed records that eventID's claimed side effect was
// actually observed (a send succeeded, a webhook was fully enqueued).
// Its absence past claimGrace is what lets Claim distinguish a real
// duplicate from an abandoned, never-completed claim.
func (s *Store) MarkProcessed(ctx context.Context, eventID, outcome string) error {
	key := keyPrefix + eventID + ":outcome"
	if err := s.rdb.Set(ctx, key, outcome, s.ttl).Err(); err != nil {
		return err
	}
	return nil
}

// DegradedModeActive reports whether the last Claim call fell back to
// the in-process filter, for health/metrics reporting.
func (s *Store) DegradedModeActive() bool {
	return s.degraded.wasUsed()
}

// IsUnavailable reports whether err indicates the backing Redis
// instance is unreachable, as opposed to a logical error.
func IsUnavailable(err error) bool {
	return errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
