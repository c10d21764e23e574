package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the API and runner services.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProviderAPIKey  string
	ProviderBaseURL string
	TextModel       string
	ImageModel      string
	ImageSize       string
	ProviderTimeout time.Duration

	MaxAttempts      int
	MaxTopicsPerRun  int
	InterJobDelay    time.Duration
	RateLimitBackoff time.Duration
	PaymentBackoff   time.Duration
	MaxHolds         int
	StaleJobTTL      time.Duration

	RateLimitCapacity int
	RateLimitRefill   float64

	ImageS3Bucket    string
	ImageS3Region    string
	ImageS3Endpoint  string
	ImageS3PathStyle bool
	ImageOutputDir   string
	CoverImageWidth  int
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		PostgresDSN: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ProviderAPIKey:  getEnv("OPENAI_API_KEY", ""),
		ProviderBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		TextModel:       getEnv("TEXT_MODEL", "gpt-4o-mini"),
		ImageModel:      getEnv("IMAGE_MODEL", "dall-e-3"),
		ImageSize:       getEnv("IMAGE_SIZE", "1024x1024"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 3*time.Minute),

		MaxAttempts:      getEnvInt("MAX_ATTEMPTS", 3),
		MaxTopicsPerRun:  getEnvInt("MAX_TOPICS_PER_RUN", 20),
		InterJobDelay:    getEnvDuration("INTER_JOB_DELAY", 30*time.Second),
		RateLimitBackoff: getEnvDuration("RATE_LIMIT_BACKOFF", time.Minute),
		PaymentBackoff:   getEnvDuration("PAYMENT_BACKOFF", 5*time.Minute),
		MaxHolds:         getEnvInt("MAX_HOLDS", 5),
		StaleJobTTL:      getEnvDuration("STALE_JOB_TTL", 15*time.Minute),

		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 0.5),

		ImageS3Bucket:    getEnv("IMAGE_S3_BUCKET", ""),
		ImageS3Region:    getEnv("IMAGE_S3_REGION", "us-east-1"),
		ImageS3Endpoint:  getEnv("IMAGE_S3_ENDPOINT", ""),
		ImageS3PathStyle: getEnvBool("IMAGE_S3_PATH_STYLE", false),
		ImageOutputDir:   getEnv("IMAGE_OUTPUT_DIR", "./output"),
		CoverImageWidth:  getEnvInt("COVER_IMAGE_WIDTH", 1200),
	}
}

// Validate reports missing required secrets. Both services refuse to
// start without them rather than failing on the first job.
func (c Config) Validate() error {
	if c.PostgresDSN == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.ProviderAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
