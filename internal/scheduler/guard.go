package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Guard prevents a job from running twice at once. TryAcquire returns ok=false
// when the job is already held; release must be called exactly once after a
// successful acquire.
type Guard interface {
	TryAcquire(ctx context.Context, jobID string) (release func(), ok bool, err error)
}

// MemoryGuard holds locks in process.
type MemoryGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{running: make(map[string]bool)}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, jobID string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[jobID] {
		return nil, false, nil
	}
	g.running[jobID] = true
	return func() {
		g.mu.Lock()
		delete(g.running, jobID)
		g.mu.Unlock()
	}, true, nil
}

// Running reports whether jobID is currently held.
func (g *MemoryGuard) Running(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[jobID]
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisGuard shares job locks between instances through SET NX PX. The TTL
// bounds how long a crashed holder can block a job.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "ingestd:job-lock:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (g *RedisGuard) key(jobID string) string { return g.prefix + jobID }

func (g *RedisGuard) TryAcquire(ctx context.Context, jobID string) (func(), bool, error) {
	token := ulid.Make().String()
	ok, err := g.client.SetNX(ctx, g.key(jobID), token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", jobID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// On failure the TTL expires the lock.
		_ = releaseScript.Run(ctx, g.client, []string{g.key(jobID)}, token).Err()
	}, true, nil
}
