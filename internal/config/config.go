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

// ユーザーストアの種類。
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	UserStore     string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// Token
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenSecret string
	RefreshTokenExpiry time.Duration

	// Cloudinary
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	UploadTimeout       time.Duration
	UploadTempDir       string
	AvatarMaxSize       int64

	// Rate Limit
	RateLimitAuth    int
	RateLimitGeneral int

	// Server
	ServerPort string
	LogLevel   string

	// Cookie
	CookieSecure bool
	CookieDomain string
	CSRFEnabled  bool

	// プロキシ
	TrustProxyHeaders bool

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	cfg.UserStore = strings.ToLower(getEnvString("USER_STORE", StorePostgres))
	switch cfg.UserStore {
	case StorePostgres, StoreMongo, StoreMemory:
	default:
		return nil, fmt.Errorf("unsupported USER_STORE %q (want postgres, mongo or memory)", cfg.UserStore)
	}

	// Required fields
	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	switch cfg.UserStore {
	case StorePostgres:
		cfg.DatabaseURL = require("DATABASE_URL")
	case StoreMongo:
		cfg.MongoURI = require("MONGODB_URI")
	}
	cfg.AccessTokenSecret = require("ACCESS_TOKEN_SECRET")
	cfg.RefreshTokenSecret = require("REFRESH_TOKEN_SECRET")
	cfg.CloudinaryCloudName = require("CLOUDINARY_CLOUD_NAME")
	cfg.CloudinaryAPIKey = require("CLOUDINARY_API_KEY")
	cfg.CloudinaryAPISecret = require("CLOUDINARY_API_SECRET")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	cfg.MongoDatabase = getEnvString("MONGODB_DATABASE", "accounts")
	cfg.AccessTokenExpiry = getEnvDuration("ACCESS_TOKEN_EXPIRY", 24*time.Hour)
	cfg.RefreshTokenExpiry = getEnvDuration("REFRESH_TOKEN_EXPIRY", 240*time.Hour)
	cfg.UploadTimeout = getEnvDuration("UPLOAD_TIMEOUT", 30*time.Second)
	cfg.UploadTempDir = getEnvString("UPLOAD_TEMP_DIR", os.TempDir())
	cfg.AvatarMaxSize = getEnvInt64("AVATAR_MAX_SIZE", 5242880)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", true)
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", false)
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
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
