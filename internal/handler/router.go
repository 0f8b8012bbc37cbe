package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/model"
	"github.com/hitoshi/campusnest/internal/onboarding"
)

// HealthChecker はDB接続の疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder
	HealthChecker     HealthChecker
	SessionResolver   middleware.SessionResolver
	SessionCookie     middleware.SessionCookieConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	OnboardingChecker middleware.OnboardingChecker
	OnboardingCookies OnboardingCookieCodec
	MetricsHandler    http.Handler
	FrontendDir       string

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメインサービス
	OnboardingService   OnboardingServiceInterface
	MessagingService    MessagingServiceInterface
	ChannelAuthorizer   ChannelAuthorizerInterface
	ListingService      ListingServiceInterface
	MaxPhotoSize        int64
	NotificationService NotificationServiceInterface
	UserService         UserServiceInterface
	Buckets             BucketInitializer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS
//	  /api/*     : Session → RateLimit(General) → CSRF
//	  それ以外   : Gate → フロントエンド配信
//
// OAuthの開始とコールバックはセッション不要のルートに配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRF.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.OnboardingCookies, deps.AuthConfig)
	onboardingHandler := NewOnboardingHandler(deps.OnboardingService, deps.OnboardingCookies)
	messagingHandler := NewMessagingHandler(deps.MessagingService, deps.ChannelAuthorizer)
	propertyHandler := NewPropertyHandler(deps.ListingService, deps.MaxPhotoSize)
	notificationHandler := NewNotificationHandler(deps.NotificationService)
	userHandler := NewUserHandler(deps.UserService, deps.OnboardingCookies, deps.SessionCookie)
	storageHandler := NewStorageHandler(deps.Buckets)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/auth/google/login", authHandler.Login)
	r.Get("/auth/callback", authHandler.Callback)

	// --- APIルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionResolver, deps.SessionCookie))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/user", authHandler.User)
			r.Post("/logout", authHandler.Logout)
		})

		r.Route("/onboarding", func(r chi.Router) {
			r.Get("/status", onboardingHandler.Status)
			r.Get("/check-status", onboardingHandler.CheckStatus)
			r.Post("/complete", onboardingHandler.Complete)
		})

		// メッセージングはメッセージング用レート制限を追加
		r.Route("/messaging", func(r chi.Router) {
			r.Use(deps.RateLimiter.MessagingMiddleware())

			r.Post("/auth", messagingHandler.Auth)
			r.Get("/conversation", messagingHandler.ListConversations)
			r.Post("/conversation", messagingHandler.CreateConversation)
			r.Get("/conversation/{id}/messages", messagingHandler.ListMessages)
			r.Post("/conversation/{id}/messages", messagingHandler.SendMessage)
		})

		r.Route("/properties", func(r chi.Router) {
			r.Post("/", propertyHandler.Create)
			r.Get("/search", propertyHandler.Search)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", propertyHandler.Get)
				r.Post("/publish", propertyHandler.Publish)
				r.Get("/steps/{step}", propertyHandler.LoadStep)
				r.Put("/steps/{step}", propertyHandler.SaveStep)
				r.Patch("/draft", propertyHandler.EnqueueDraft)
				r.Post("/draft/flush", propertyHandler.FlushDraft)
				r.Post("/photos", propertyHandler.UploadPhoto)
				r.Post("/photos/import", propertyHandler.ImportPhoto)
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.List)
			r.Post("/", notificationHandler.MarkRead)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/search", userHandler.Search)
			r.Delete("/me", userHandler.Withdraw)
		})

		r.Post("/storage/init", storageHandler.Init)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			middleware.WriteErrorResponse(w, http.StatusNotFound,
				model.NewNotFoundError("route_not_found", "指定されたAPIは存在しません。"))
		})
	})

	// --- ページ遷移 ---
	// /api 以外のリクエストはゲートを通してフロントエンドを配信する
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewGateMiddleware(middleware.GateConfig{
			Sessions:      deps.SessionResolver,
			SessionCookie: deps.SessionCookie,
			Checker:       deps.OnboardingChecker,
			Cookies:       deps.OnboardingCookies,
			CookieName:    onboarding.CookieName,
		}))
		r.Handle("/*", frontendHandler(deps.FrontendDir))
	})

	return r
}

// healthHandler はDBへのPingで疎通確認を行うハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// frontendHandler はビルド済みフロントエンドを配信する。
// dirが未設定の場合はゲート通過後に空の200を返す。
func frontendHandler(dir string) http.Handler {
	if dir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	return http.FileServer(http.Dir(dir))
}
