// Package convlock implements the per-conversation outbound lock
// guaranteeing at most one reply (generate_reply +
// deliver_outbound) may be in flight for a given conversation at a
// time. Because the two jobs are dequeued independently, possibly by
// different worker processes, the lock can't be a plain in-process
// mutex — it's a short-lived Redis lock spanning both job handlers,
// acquired when generate_reply starts and released once
// deliver_outbound reaches a terminal outcome (or generate_reply
// itself fails before enqueuing deliver_outbound).
package convlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the advisory lock timeout: a short-lived lock that
// expires on its own if a holder dies mid-reply.
const DefaultTTL = 30 * time.Second

const keyPrefix = "convlock:"

// ErrHeld is returned by Acquire when another reply is already in
// flight for the conversation. Callers should treat this as a
// retryable condition (re-enqueue / let the job's own retry schedule
// try again), not a permanent failure.
var ErrHeld = errors.New("conversation outbound lock held")

// Locker guards a conversation's outbound pipeline with a Redis-backed
// lock identified by a random token, so only the holder can release
// or extend it.
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb, ttl: DefaultTTL}
}

// Token identifies one lock acquisition so it can be released or
// extended only by its own holder.
type Token string

// Acquire attempts to take the outbound lock for conversationID,
// returning ErrHeld if another reply is already in flight.
func (l *Locker) Acquire(ctx context.Context, conversationID string) (Token, error) {
	token := Token(uuid.NewString())
	ok, err := l.rdb.SetNX(ctx, keyPrefix+conversationID, string(token), l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire conversation lock: %w", err)
	}
	if !ok {
		return "", ErrHeld
	}
	return token, nil
}

// Extend refreshes the lock's TTL, used by deliver_outbound when it
// picks up a lock that generate_reply already holds on its behalf
// (the lock key is reused across the two jobs via the conversation
// id, not re-acquired).
func (l *Locker) Extend(ctx context.Context, conversationID string, token Token) error {
	key := keyPrefix + conversationID
	cur, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// lock already expired; nothing to extend, caller proceeds
		// without serialization rather than blocking a delivery.
		return nil
	}
	if err != nil {
		return fmt.Errorf("extend conversation lock: %w", err)
	}
	if cur != string(token) {
		return nil
	}
	return l.rdb.Expire(ctx, key, l.ttl).Err()
}

// Release drops the lock iff it is still held by token, using a
// compare-and-delete so one handler can never release a lock a later
// acquisition already holds (e.g. after this one's TTL expired).
func (l *Locker) Release(ctx context.Context, conversationID string, token Token) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`
	if err := l.rdb.Eval(ctx, script, []string{keyPrefix + conversationID}, string(token)).Err(); err != nil {
		return fmt.Errorf("release conversation lock: %w", err)
	}
	return nil
}
