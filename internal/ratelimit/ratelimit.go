// Package ratelimit enforces per-user fixed-window counters in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
	"github.com/capitalize-ai/botchat/pkg/metrics"
)

// Kind names a family of counters. The value doubles as the Redis key prefix.
type Kind string

const (
	KindMessage Kind = "ws_message_rate_limit"
	KindBot     Kind = "chatbot_rate_limit"
)

// incrScript increments the counter and arms the window only on the 0->1
// transition, so the window is fixed from first use.
var incrScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return current
`)

// Limits configures the two counter kinds.
type Limits struct {
	MessageLimit    int
	MessageWindow   time.Duration
	BotLimit        int
	PremiumBotLimit int
	BotWindow       time.Duration
}

// Limiter checks and reports rate limit counters.
type Limiter struct {
	client redis.UniversalClient
	limits Limits
	log    *logger.Logger
}

// New creates a limiter backed by client.
func New(client redis.UniversalClient, limits Limits, log *logger.Logger) *Limiter {
	return &Limiter{client: client, limits: limits, log: log}
}

// CheckAndIncrement atomically bumps the (kind, userID) counter and reports
// whether the post-increment value is within limit. Storage errors fail
// closed: the result is false and the error is returned.
func (l *Limiter) CheckAndIncrement(ctx context.Context, kind Kind, userID string, limit int, window time.Duration) (bool, error) {
	current, err := incrScript.Run(ctx, l.client, []string{key(kind, userID)}, window.Milliseconds()).Int64()
	if err != nil {
		metrics.RateLimitErrorsTotal.WithLabelValues(string(kind)).Inc()
		l.log.Error("rate limit check failed",
			zap.String("kind", string(kind)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false, fmt.Errorf("rate limit %s: %w", kind, err)
	}
	return current <= int64(limit), nil
}

// RemainingQuota returns limit minus the current count, floored at zero.
// It is informational only and reports zero when the store is unreachable.
func (l *Limiter) RemainingQuota(ctx context.Context, kind Kind, userID string, limit int) int {
	current, err := l.client.Get(ctx, key(kind, userID)).Int()
	if err == redis.Nil {
		current = 0
	} else if err != nil {
		l.log.Warn("failed to read remaining quota",
			zap.String("kind", string(kind)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0
	}
	return max(limit-current, 0)
}

// AllowMessage applies the message-send limit.
func (l *Limiter) AllowMessage(ctx context.Context, userID string) (bool, error) {
	return l.CheckAndIncrement(ctx, KindMessage, userID, l.limits.MessageLimit, l.limits.MessageWindow)
}

// RemainingMessages reports the message-send allowance left in the window.
func (l *Limiter) RemainingMessages(ctx context.Context, userID string) int {
	return l.RemainingQuota(ctx, KindMessage, userID, l.limits.MessageLimit)
}

// AllowBot applies the bot-invocation limit, using the premium variant for
// admins and premium users.
func (l *Limiter) AllowBot(ctx context.Context, u *model.User) (bool, error) {
	return l.CheckAndIncrement(ctx, KindBot, u.ID, l.botLimit(u), l.limits.BotWindow)
}

// RemainingBot reports the bot-invocation allowance left in the window.
func (l *Limiter) RemainingBot(ctx context.Context, u *model.User) int {
	return l.RemainingQuota(ctx, KindBot, u.ID, l.botLimit(u))
}

func (l *Limiter) botLimit(u *model.User) int {
	if u.IsPremium() {
		return l.limits.PremiumBotLimit
	}
	return l.limits.BotLimit
}

func key(kind Kind, userID string) string {
	return string(kind) + ":" + userID
}
