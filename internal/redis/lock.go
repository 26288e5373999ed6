package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("subject lock not acquired")
)

// Locker guards check-then-write sections per booking subject. Every key in
// the set must be held before fn runs.
type Locker interface {
	WithSubjectLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type redisSubjectLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSubjectLocker creates a locker that uses one Redis key per subject.
func NewRedisSubjectLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisSubjectLocker{
		client: client,
		ttl:    ttl,
	}
}

// SubjectKey builds the lock key for one subject inside one organization.
func SubjectKey(organizationID uuid.UUID, kind string, subjectID uuid.UUID) string {
	return fmt.Sprintf("lock:%s:%s:%s", organizationID, kind, subjectID)
}

func (l *redisSubjectLocker) WithSubjectLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	// Sorted acquisition so two callers sharing keys never hold them crosswise.
	ordered := dedupeSorted(keys)
	token := uuid.NewString()

	held := make([]string, 0, len(ordered))
	defer func() {
		// Release with a fresh context so a cancelled request still frees its keys.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = l.release(releaseCtx, held[i], token)
		}
	}()

	for _, key := range ordered {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire subject lock %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
		held = append(held, key)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSubjectLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release subject lock: %w", err)
	}
	return nil
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
