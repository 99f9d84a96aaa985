package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	AllowedOrigin string
	AppEnv        string
	LogLevel      string
	LogEncoding   string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	FacetCacheTTL time.Duration

	AuthSecret            string
	AccessTokenTTLMinutes int

	WarehouseID string
	AdminEmail  string

	RazorpayKeyID     string
	RazorpayKeySecret string

	GCSBucket          string
	GCSCredentialsJSON string
	PubSubProjectID    string
	PubSubEmailTopic   string

	CouponSweepInterval time.Duration
	OrderPurgeInterval  time.Duration
	UnpaidOrderTTL      time.Duration
	CourierSyncInterval time.Duration
}

func Load() Config {
	return Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		AppEnv:        getEnv("APP_ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogEncoding:   getEnv("LOG_ENCODING", "json"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		FacetCacheTTL: getEnvDuration("FACET_CACHE_TTL", 5*time.Minute),

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480),

		WarehouseID: getEnv("WAREHOUSE_ID", "WAREHOUSE"),
		AdminEmail:  os.Getenv("ADMIN_EMAIL"),

		RazorpayKeyID:     strings.TrimSpace(os.Getenv("RAZORPAY_KEY_ID")),
		RazorpayKeySecret: strings.TrimSpace(os.Getenv("RAZORPAY_KEY_SECRET")),

		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSCredentialsJSON: os.Getenv("GCS_CREDENTIALS_JSON"),
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubEmailTopic:   getEnv("PUBSUB_EMAIL_TOPIC", "dresscode-emails"),

		CouponSweepInterval: getEnvDuration("COUPON_SWEEP_INTERVAL", time.Hour),
		OrderPurgeInterval:  getEnvDuration("ORDER_PURGE_INTERVAL", 30*time.Minute),
		UnpaidOrderTTL:      getEnvDuration("UNPAID_ORDER_TTL", 24*time.Hour),
		CourierSyncInterval: getEnvDuration("COURIER_SYNC_INTERVAL", 15*time.Minute),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Development() bool {
	return c.AppEnv == "development"
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings; non-positive values fall back.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
