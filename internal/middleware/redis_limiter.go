package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter はRedisのINCRによる固定ウィンドウ方式のレート制限。
// 同じRedisを参照する全インスタンスで上限を共有する。
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

var _ SharedLimiter = (*RedisLimiter)(nil)

// NewRedisLimiter はwindowあたりlimit回までを許可するRedisLimiterを生成する。
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "campusnest:rl",
		now:    time.Now,
	}
}

// Allow はkeyの現在ウィンドウのカウンタを加算し、上限以内かを返す。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	windowSec := int64(l.window / time.Second)
	bucket := now.Unix() / windowSec
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("increment rate limit counter: %w", err)
	}

	if incr.Val() > l.limit {
		next := time.Unix((bucket+1)*windowSec, 0)
		return false, next.Sub(now), nil
	}
	return true, 0, nil
}
