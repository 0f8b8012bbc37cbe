package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv   string
	LogLevel string

	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// GoogleAllowedDomains はサインインを許可するドメイン（空の場合は制限なし）
	GoogleAllowedDomains []string

	// Session
	SessionSecret        string
	SessionMaxAge        int
	SessionRefreshWindow time.Duration
	OnboardingCookieTTL  time.Duration

	// Rate Limit
	RateLimitGeneral   int
	RateLimitMessaging int
	RedisURL           string

	// Realtime (Pusher)
	PusherAppID   string
	PusherKey     string
	PusherSecret  string
	PusherCluster string

	// Object storage (MinIO / S3)
	MinioEndpoint         string
	MinioAccessKey        string
	MinioSecretKey        string
	MinioUseSSL           bool
	StoragePropertyBucket string
	StorageAvatarBucket   string
	PhotoImportTimeout    time.Duration
	PhotoImportMaxSize    int64

	// Listing
	AutosaveDebounce time.Duration

	// Cleanup
	NotificationRetentionDays int

	// Server
	ServerPort  string
	BaseURL     string
	FrontendDir string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// IsDevelopment は開発モードで起動しているかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// PusherEnabled はリアルタイム配信の資格情報が揃っているかを返す。
func (c *Config) PusherEnabled() bool {
	return c.PusherAppID != "" && c.PusherKey != "" && c.PusherSecret != ""
}

// StorageEnabled はオブジェクトストレージの接続先が設定されているかを返す。
func (c *Config) StorageEnabled() bool {
	return c.MinioEndpoint != ""
}

// LoadDotEnv はpathの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = getEnvString("APP_ENV", "production")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.SessionRefreshWindow = getEnvDuration("SESSION_REFRESH_WINDOW", 720*time.Hour)
	cfg.OnboardingCookieTTL = getEnvDuration("ONBOARDING_COOKIE_TTL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMessaging = getEnvInt("RATE_LIMIT_MESSAGING", 30)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.PusherAppID = getEnvString("PUSHER_APP_ID", "")
	cfg.PusherKey = getEnvString("PUSHER_KEY", "")
	cfg.PusherSecret = getEnvString("PUSHER_SECRET", "")
	cfg.PusherCluster = getEnvString("PUSHER_CLUSTER", "mt1")
	cfg.MinioEndpoint = getEnvString("MINIO_ENDPOINT", "")
	cfg.MinioAccessKey = getEnvString("MINIO_ACCESS_KEY", "")
	cfg.MinioSecretKey = getEnvString("MINIO_SECRET_KEY", "")
	cfg.MinioUseSSL = getEnvBool("MINIO_USE_SSL", false)
	cfg.StoragePropertyBucket = getEnvString("STORAGE_PROPERTY_BUCKET", "property-images")
	cfg.StorageAvatarBucket = getEnvString("STORAGE_AVATAR_BUCKET", "avatars")
	cfg.PhotoImportTimeout = getEnvDuration("PHOTO_IMPORT_TIMEOUT", 10*time.Second)
	cfg.PhotoImportMaxSize = getEnvInt64("PHOTO_IMPORT_MAX_SIZE", 10485760)
	cfg.AutosaveDebounce = getEnvDuration("AUTOSAVE_DEBOUNCE", 2*time.Second)
	cfg.NotificationRetentionDays = getEnvInt("NOTIFICATION_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.FrontendDir = getEnvString("FRONTEND_DIR", "")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.GoogleAllowedDomains = getEnvList("GOOGLE_ALLOWED_DOMAINS")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
