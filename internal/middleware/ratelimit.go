package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/campusnest/internal/model"
)

const (
	tierGeneral   = "general"
	tierMessaging = "messaging"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	MessagingRate   rate.Limit    // メッセージ送信・チャネル認可のレート（req/sec）
	MessagingBurst  int           // メッセージ系のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、メッセージ系 30 req/min/user。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 30)
}

// NewRateLimiterConfig は1分あたりのリクエスト数から設定を生成する。
func NewRateLimiterConfig(generalPerMinute, messagingPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		MessagingRate:   rate.Limit(float64(messagingPerMinute) / 60.0),
		MessagingBurst:  messagingPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// SharedLimiter は複数インスタンスで共有するレート制限。
// retryAfterは拒否時に次のウィンドウまでの待ち時間を返す。
type SharedLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimitRecorder はレート制限による拒否を記録する。
type RateLimitRecorder interface {
	RecordRateLimited(tier string)
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は1つのティアに属するユーザー別リミッターの集合。
type limiterSet struct {
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

func newLimiterSet(r rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*userLimiter),
	}
}

// get はユーザーのリミッターを取得または作成する。
func (s *limiterSet) get(userID string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ul, ok := s.limiters[userID]; ok {
		ul.lastAccess = now
		return ul.limiter
	}

	limiter := rate.NewLimiter(s.rate, s.burst)
	s.limiters[userID] = &userLimiter{
		limiter:    limiter,
		lastAccess: now,
	}
	return limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// evict は最終アクセスがttlより古いエントリを削除する。
func (s *limiterSet) evict(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, ul := range s.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(s.limiters, userID)
		}
	}
}

// RateLimiter はユーザーごとのレート制限を管理する。
// API全般とメッセージ系の2種類を提供する。
// SharedLimiterが設定されている場合、API全般はそちらで判定する。
type RateLimiter struct {
	config    RateLimiterConfig
	general   *limiterSet
	messaging *limiterSet
	shared    SharedLimiter
	recorder  RateLimitRecorder

	stopOnce sync.Once
	stopCh   chan struct{}
}

// RateLimiterOption はRateLimiterのオプション。
type RateLimiterOption func(*RateLimiter)

// WithSharedLimiter はAPI全般のレート制限に共有リミッターを使う。
func WithSharedLimiter(shared SharedLimiter) RateLimiterOption {
	return func(rl *RateLimiter) { rl.shared = shared }
}

// WithRateLimitRecorder は拒否をメトリクスに記録する。
func WithRateLimitRecorder(recorder RateLimitRecorder) RateLimiterOption {
	return func(rl *RateLimiter) { rl.recorder = recorder }
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		config:    config,
		general:   newLimiterSet(config.GeneralRate, config.GeneralBurst),
		messaging: newLimiterSet(config.MessagingRate, config.MessagingBurst),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにユーザーIDが含まれている必要がある（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if rl.shared != nil {
				allowed, retryAfter, err := rl.shared.Allow(r.Context(), userID)
				if err != nil {
					// 共有ストア障害時はプロセス内のリミッターで判定する
					slog.Warn("shared rate limiter unavailable",
						slog.String("user_id", userID),
						slog.String("error", err.Error()),
					)
				} else {
					if !allowed {
						rl.reject(w, userID, tierGeneral, retryAfter)
						return
					}
					next.ServeHTTP(w, r)
					return
				}
			}

			if !rl.general.get(userID, time.Now()).Allow() {
				rl.reject(w, userID, tierGeneral, retryAfterFor(rl.config.GeneralRate))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MessagingMiddleware はメッセージ送信とチャネル認可のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) MessagingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if !rl.messaging.get(userID, time.Now()).Allow() {
				rl.reject(w, userID, tierMessaging, retryAfterFor(rl.config.MessagingRate))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// MessagingLimiterCount は現在管理されているメッセージ系リミッターのエントリ数を返す。
func (rl *RateLimiter) MessagingLimiterCount() int {
	return rl.messaging.len()
}

func (rl *RateLimiter) reject(w http.ResponseWriter, userID, tier string, retryAfter time.Duration) {
	slog.Warn("rate limit exceeded",
		slog.String("user_id", userID),
		slog.String("limit_type", tier),
	)
	if rl.recorder != nil {
		rl.recorder.RecordRateLimited(tier)
	}
	writeRateLimitResponse(w, retryAfter)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evict(now, ttl)
	rl.messaging.evict(now, ttl)
}

// retryAfterFor は1トークンが補充されるまでの時間を返す。
func retryAfterFor(r rate.Limit) time.Duration {
	if r <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(r))
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには秒単位（切り上げ、最小1）を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
