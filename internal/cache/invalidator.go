package cache

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
)

// InvalidationChannel is the pub/sub channel callers subscribe to. The engine
// holds no cache of its own; after any successful mutation it announces the
// keys whose cached views are now stale so callers re-query.
const InvalidationChannel = "cache:invalidate"

// Invalidator publishes stale-view notifications. A nil client disables
// publishing, so the engine works without Redis.
type Invalidator struct {
	rdb *redis.Client
}

func NewInvalidator(rdb *redis.Client) *Invalidator {
	return &Invalidator{rdb: rdb}
}

// Invalidate publishes one event per key. Failures are logged and swallowed;
// a missed notification only delays a caller's re-fetch, it never affects the
// committed state.
func (i *Invalidator) Invalidate(ctx context.Context, keys ...string) {
	if i == nil || i.rdb == nil {
		return
	}
	for _, key := range keys {
		if err := i.rdb.Publish(ctx, InvalidationChannel, key).Err(); err != nil {
			log.Printf("[CACHE] Failed to publish invalidation for %s: %v", key, err)
		}
	}
}

// Key helpers keep the channel vocabulary in one place.

func AccountKey(id string) string { return "accounts:" + id }
func ItemKey(id string) string    { return "items:" + id }
func LedgerKey() string           { return "ledger" }
func AuditLogKey() string         { return "audit_log" }
