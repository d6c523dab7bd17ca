package redis

import (
	"context"
	"strings"
	"time"
)

// releaseScript deletes the lock only while it still holds the caller's
// token, so a holder whose TTL lapsed cannot free someone else's lock.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Release frees a lock taken by Acquire.
type Release func(ctx context.Context) error

// Acquire takes the lock on scope/id for ttl, storing owner as its token.
// ok is false when somebody else holds it.
func (c *Client) Acquire(ctx context.Context, scope, id, owner string, ttl time.Duration) (Release, bool, error) {
	if c.store == nil {
		return nil, false, errNotInitialized
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = "anonymous"
	}
	key := c.LockKey(scope, id)
	ok, err := c.store.SetNX(ctx, key, owner, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) error {
		return c.store.Eval(ctx, releaseScript, []string{key}, owner).Err()
	}
	return release, true, nil
}
