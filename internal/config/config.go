package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
	ModeTesting     = "testing"
)

type Config struct {
	Mode          string
	Addr          string
	StoreDriver   string
	DatabaseURL   string
	MongoDatabase string
	MigrationsDir string
	SecretKey     string
	TokenTTL      time.Duration
	BcryptCost    int
	CORSOrigin    string
	// Login/signup throttling
	RateLimit       int
	RateLimitWindow time.Duration
	// Redis - token denylist and throttling; in-memory fallbacks when empty
	RedisURL string
	// Meilisearch - question search; store scan fallback when empty
	MeiliURL       string
	MeiliMasterKey string
	// MinIO - avatar mirror, disabled when endpoint is empty
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP - welcome and new-answer notices, disabled when host is empty
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	AppURL       string
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	mode := normalizeMode(os.Getenv("NODE_ENV"))
	return Config{
		Mode:            mode,
		Addr:            getenv("API_ADDR", ":"+getenv("PORT", "5000")),
		StoreDriver:     strings.ToLower(getenv("STORE_DRIVER", "mongo")),
		DatabaseURL:     databaseURL(mode),
		MongoDatabase:   getenv("MONGO_DB", "qahub"),
		MigrationsDir:   getenv("MIGRATIONS_DIR", "./db/migrations"),
		SecretKey:       getenv("SECRET_KEY", "qahub-dev-secret"),
		TokenTTL:        time.Duration(getenvInt("TOKEN_TTL_SECONDS", 3600)) * time.Second,
		BcryptCost:      getenvInt("BCRYPT_COST", 10),
		CORSOrigin:      getenv("CORS_ORIGIN", "*"),
		RateLimit:       getenvInt("LOGIN_RATE_LIMIT", 20),
		RateLimitWindow: time.Duration(getenvInt("LOGIN_RATE_WINDOW_SECONDS", 60)) * time.Second,
		RedisURL:        getenv("REDIS_URL", ""),
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:   getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getenv("MINIO_BUCKET", "avatars"),
		MinioUseSSL:     getenvBool("MINIO_USE_SSL", false),
		SMTPHost:        getenv("SMTP_HOST", ""),
		SMTPPort:        getenv("SMTP_PORT", "587"),
		SMTPUsername:    getenv("SMTP_USERNAME", ""),
		SMTPPassword:    getenv("SMTP_PASSWORD", ""),
		SMTPFrom:        getenv("SMTP_FROM", ""),
		SMTPFromName:    getenv("SMTP_FROM_NAME", "QAHub"),
		AppURL:          getenv("APP_URL", ""),
	}
}

func normalizeMode(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ModeProduction:
		return ModeProduction
	case ModeTesting:
		return ModeTesting
	default:
		return ModeDevelopment
	}
}

// databaseURL picks the connection string for the deployment mode.
func databaseURL(mode string) string {
	switch mode {
	case ModeProduction:
		return getenv("DB_URL", "")
	case ModeTesting:
		return getenv("TEST_DB_URL", "mongodb://localhost:27017/qahub_test")
	default:
		return getenv("DEV_DB_URL", "mongodb://localhost:27017/qahub")
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
