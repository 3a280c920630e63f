// Package lock provides the mutual exclusion that keeps two instances from
// running retention cleanup at the same time.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"pharmaudit/pkg/platform/sentinel"
)

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Guard is proof of ownership returned by Acquire.
type Guard struct {
	Key   string
	Token string
}

// Locker acquires named locks with a TTL. Acquire returns sentinel.ErrLocked
// when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Guard, error)
	Release(ctx context.Context, g *Guard) error
}

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// Redis is a single-instance Redis lock: SET NX PX to acquire, a token
// checked release.
type Redis struct {
	client redis.Cmdable
	prefix string
}

func NewRedis(client redis.Cmdable, prefix string) *Redis {
	if prefix == "" {
		prefix = "pharmaudit:lock"
	}
	return &Redis{client: client, prefix: prefix}
}

func (l *Redis) key(name string) string {
	return l.prefix + ":" + name
}

func (l *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (*Guard, error) {
	token := newToken()
	ok, err := l.client.SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, sentinel.ErrLocked
	}
	return &Guard{Key: key, Token: token}, nil
}

func (l *Redis) Release(ctx context.Context, g *Guard) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{l.key(g.Key)}, g.Token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", g.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

type entry struct {
	token     string
	expiresAt time.Time
}

// Memory is a process-local Locker for single-instance deployments.
type Memory struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{locks: make(map[string]entry), now: time.Now}
}

func (l *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (*Guard, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expiresAt) {
		return nil, sentinel.ErrLocked
	}
	token := newToken()
	l.locks[key] = entry{token: token, expiresAt: now.Add(ttl)}
	return &Guard{Key: key, Token: token}, nil
}

func (l *Memory) Release(_ context.Context, g *Guard) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[g.Key]
	if !ok || e.token != g.Token || !l.now().Before(e.expiresAt) {
		return ErrNotHeld
	}
	delete(l.locks, g.Key)
	return nil
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
