package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/levtrade/corebot/internal/domain"
)

// releaseLua deletes the lock key only when its value still matches the
// holder's token, so a holder whose TTL already expired cannot release a
// lock someone else re-acquired.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SETNX plus a token-checked
// release. The engine uses it to keep one instance per account.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		release: redis.NewScript(releaseLua),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for key, or returns domain.ErrLockHeld when another
// holder has it. The returned unlock is idempotent and works even after the
// caller's context is gone.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	full := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var released bool
	unlock := func() {
		if released {
			return
		}
		released = true

		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lm.release.Run(relCtx, lm.rdb, []string{full}, token).Err()
	}
	return unlock, nil
}
