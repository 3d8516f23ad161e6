package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shutterfeed/backend/internal/pkg/logger"
)

const revokedKeyPrefix = "session:revoked:"

// RevocationList remembers logged-out session ids until they would have
// expired anyway. Redis carries revocations across instances when configured;
// the local map always keeps its own copy.
type RevocationList struct {
	redis *redis.Client
	log   *logger.Logger
	now   func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewRevocationList accepts a nil client, in which case revocations are local only.
func NewRevocationList(client *redis.Client, log *logger.Logger) *RevocationList {
	return &RevocationList{
		redis:   client,
		log:     log.With("component", "RevocationList"),
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
}

// NewRedisClient builds the client used for revocations. An unreachable server
// is reported but not fatal.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return client, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (l *RevocationList) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(l.now())
	if jti == "" || ttl <= 0 {
		return nil
	}

	l.mu.Lock()
	l.revoked[jti] = until
	l.mu.Unlock()

	if l.redis == nil {
		return nil
	}
	if err := l.redis.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke session %s: %w", jti, err)
	}
	return nil
}

func (l *RevocationList) Revoked(ctx context.Context, jti string) bool {
	l.mu.RLock()
	until, ok := l.revoked[jti]
	l.mu.RUnlock()
	if ok {
		if l.now().Before(until) {
			return true
		}
		l.mu.Lock()
		delete(l.revoked, jti)
		l.mu.Unlock()
	}

	if l.redis == nil {
		return false
	}
	n, err := l.redis.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		// fail open: only revocations made on other instances are affected
		l.log.Warn("revocation lookup failed", "jti", jti, "err", err)
		return false
	}
	return n > 0
}
