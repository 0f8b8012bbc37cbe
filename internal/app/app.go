package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pusher/pusher-http-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/campusnest/internal/auth"
	"github.com/hitoshi/campusnest/internal/config"
	"github.com/hitoshi/campusnest/internal/database"
	"github.com/hitoshi/campusnest/internal/handler"
	"github.com/hitoshi/campusnest/internal/listing"
	"github.com/hitoshi/campusnest/internal/logger"
	"github.com/hitoshi/campusnest/internal/messaging"
	"github.com/hitoshi/campusnest/internal/metrics"
	"github.com/hitoshi/campusnest/internal/middleware"
	"github.com/hitoshi/campusnest/internal/notification"
	"github.com/hitoshi/campusnest/internal/onboarding"
	"github.com/hitoshi/campusnest/internal/repository"
	"github.com/hitoshi/campusnest/internal/security"
	"github.com/hitoshi/campusnest/internal/storage"
	"github.com/hitoshi/campusnest/internal/user"
	"github.com/hitoshi/campusnest/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視する）
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		_, err := io.WriteString(w, Usage())
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("app_env", cfg.AppEnv),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config, pool database.PoolConfig) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetrics はプロセス用のレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	customerRepo := repository.NewPostgresCustomerRepo(db)
	roleRepo := repository.NewPostgresRoleRepo(db)
	conversationRepo := repository.NewPostgresConversationRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)
	propertyRepo := repository.NewPostgresPropertyRepo(db)
	photoRepo := repository.NewPostgresPhotoRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	reg, collector := newMetrics()
	sanitizer := security.NewContentSanitizer()
	ssrfGuard := security.NewSSRFGuard()

	// 4. 認証とオンボーディング
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:       cfg.GoogleClientID,
		ClientSecret:   cfg.GoogleClientSecret,
		RedirectURL:    cfg.GoogleRedirectURL,
		AllowedDomains: cfg.GoogleAllowedDomains,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{
			SessionMaxAge: cfg.SessionMaxAge,
			RefreshWindow: cfg.SessionRefreshWindow,
		},
	)

	statusChecker := onboarding.NewStatusChecker(userRepo, customerRepo)
	onboardingCookies := onboarding.NewCookieCodec(onboarding.CookieConfig{
		Secret: cfg.SessionSecret,
		TTL:    cfg.OnboardingCookieTTL,
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	})
	onboardingService := onboarding.NewService(userRepo, roleRepo, statusChecker, collector)

	// 5. メッセージング（Pusher未設定時は配信せず、チャネル認可は503を返す）
	var trigger messaging.EventTrigger
	var signer messaging.ChannelSigner
	if cfg.PusherEnabled() {
		client := &pusher.Client{
			AppID:   cfg.PusherAppID,
			Key:     cfg.PusherKey,
			Secret:  cfg.PusherSecret,
			Cluster: cfg.PusherCluster,
			Secure:  true,
		}
		trigger = client
		signer = client
	} else {
		slog.Warn("pusher is not configured; realtime delivery disabled")
	}
	messagingService := messaging.NewService(
		userRepo, conversationRepo, messageRepo, sanitizer,
		messaging.NewPublisher(trigger), collector,
	)
	channelAuthorizer := messaging.NewChannelAuthorizer(signer, conversationRepo, collector)

	// 6. 物件登録ウィザードと写真ストレージ
	listingService := listing.NewService(
		propertyRepo, photoRepo, roleRepo, sanitizer, collector, cfg.AutosaveDebounce,
	)
	var buckets handler.BucketInitializer
	if cfg.StorageEnabled() {
		store, err := storage.New(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
		}, cfg.StoragePropertyBucket, cfg.StorageAvatarBucket)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		listingService.SetPhotoImporter(listing.NewPhotoImporter(
			store, cfg.StoragePropertyBucket, ssrfGuard,
			cfg.PhotoImportTimeout, cfg.PhotoImportMaxSize,
		))
		buckets = store
	} else {
		slog.Warn("object storage is not configured; photo upload disabled")
	}

	// 7. 通知とユーザー
	notificationService := notification.NewService(notificationRepo, collector)
	userService := user.NewService(userRepo, sessionRepo)

	// 8. レート制限（REDIS_URL設定時は全インスタンスで共有する）
	var limiterOpts []middleware.RateLimiterOption
	limiterOpts = append(limiterOpts, middleware.WithRateLimitRecorder(collector))
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		limiterOpts = append(limiterOpts, middleware.WithSharedLimiter(
			middleware.NewRedisLimiter(redisClient, cfg.RateLimitGeneral, time.Minute),
		))
		slog.Info("shared rate limiter enabled")
	}
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMessaging),
		limiterOpts...,
	)
	defer rateLimiter.Stop()

	// 9. ルーターの構築
	handler.SetErrorDetail(cfg.IsDevelopment())
	sessionCookie := middleware.SessionCookieConfig{
		MaxAge: cfg.SessionMaxAge,
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	}

	deps := &handler.RouterDeps{
		Logger:          slog.Default(),
		HTTPRecorder:    collector,
		HealthChecker:   db,
		SessionResolver: authService,
		SessionCookie:   sessionCookie,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		OnboardingChecker: statusChecker,
		OnboardingCookies: onboardingCookies,
		MetricsHandler:    metrics.Handler(reg),
		FrontendDir:       cfg.FrontendDir,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			SessionCookie: sessionCookie,
		},

		OnboardingService:   onboardingService,
		MessagingService:    messagingService,
		ChannelAuthorizer:   channelAuthorizer,
		ListingService:      listingService,
		MaxPhotoSize:        cfg.PhotoImportMaxSize,
		NotificationService: notificationService,
		UserService:         userService,
		Buckets:             buckets,
	}

	router := handler.NewRouter(deps)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// 保留中の自動保存を書き出してから終了する
	if err := listingService.Close(ctx); err != nil {
		slog.Error("failed to flush pending drafts", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションと古い既読通知の削除を日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続（ワーカーは少数の接続で足りる）
	db, err := openDB(cfg, database.PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリとメトリクスの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)
	_, collector := newMetrics()

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, notificationRepo, collector, slog.Default())
	if cfg.NotificationRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.NotificationRetentionDays
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("notification_retention_days", cleanupJob.RetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, 24*time.Hour)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Uint64("from_version", uint64(status.From)),
		slog.Uint64("to_version", uint64(status.To)),
		slog.Bool("applied", status.Applied()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
