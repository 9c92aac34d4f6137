package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"fyzo-chat/internal/observability"
)

// LocalPresence reports connections held by this instance.
type LocalPresence interface {
	IsOnline(userID string) bool
}

// Presence counts live connections per user in Redis so that every instance
// agrees on when a user comes online and when the last connection goes away.
// It satisfies ws.PresenceTracker and service.Presence.
type Presence struct {
	client  *redis.Client
	prefix  string
	local   LocalPresence
	logger  *slog.Logger
	timeout time.Duration
	ttl     time.Duration
}

// NewPresence builds a tracker whose counters live under prefix.
func NewPresence(client *redis.Client, prefix string, local LocalPresence, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		client:  client,
		prefix:  prefix,
		local:   local,
		logger:  logger,
		timeout: 2 * time.Second,
		// Counters left behind by a crashed instance expire instead of pinning a user online.
		ttl: 24 * time.Hour,
	}
}

func (p *Presence) key(userID string) string {
	return p.prefix + ":presence:" + userID
}

// Connected counts a new connection and reports whether it is the user's
// first anywhere. Without Redis it falls back to the local verdict.
func (p *Presence) Connected(ctx context.Context, userID string, firstLocal bool) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	key := p.key(userID)
	var incr *redis.IntCmd
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		observability.IncRelayError("presence")
		p.logger.Warn("presence connect failed, using local state", "user_id", userID, "error", err)
		return firstLocal
	}
	return incr.Val() == 1
}

// Disconnected releases a connection and reports whether it was the user's
// last anywhere.
func (p *Presence) Disconnected(ctx context.Context, userID string, lastLocal bool) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	key := p.key(userID)
	n, err := p.client.Decr(ctx, key).Result()
	if err != nil {
		observability.IncRelayError("presence")
		p.logger.Warn("presence disconnect failed, using local state", "user_id", userID, "error", err)
		return lastLocal
	}
	if n > 0 {
		return false
	}
	if err := p.client.Del(ctx, key).Err(); err != nil {
		observability.IncRelayError("presence")
		p.logger.Warn("presence cleanup failed", "user_id", userID, "error", err)
	}
	// A negative count means the matching increment never reached Redis.
	if n < 0 {
		return lastLocal
	}
	return true
}

// IsOnline reports whether the user holds a connection on any instance.
func (p *Presence) IsOnline(userID string) bool {
	if p.local != nil && p.local.IsOnline(userID) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	n, err := p.client.Get(ctx, p.key(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		observability.IncRelayError("presence")
		p.logger.Warn("presence lookup failed", "user_id", userID, "error", err)
		return false
	}
	return n > 0
}
