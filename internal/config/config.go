package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort            string
	BackendBaseURL      string
	RequestTimeout      time.Duration
	NotificationTimeout time.Duration
	ShutdownTimeout     time.Duration
	MaxRequestBodySize  int64

	StateBackend string // redis | mongo | memory
	RedisAddr    string
	RedisPass    string
	StateTTL     time.Duration
	MongoURI     string
	MongoDBName  string

	LedgerDSN    string
	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret       string
	TokenizationKey string

	FreeShippingThreshold float64
	FlatShippingFee       float64
	TaxFallbackPercent    float64
	TaxDebounce           time.Duration
	CartIdleTTL           time.Duration

	LogLevel string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		BackendBaseURL:      getEnv("BACKEND_BASE_URL", "http://localhost:5000/api"),
		RequestTimeout:      getDuration("REQUEST_TIMEOUT", 30*time.Second),
		NotificationTimeout: getDuration("NOTIFICATION_TIMEOUT", 15*time.Second),
		ShutdownTimeout:     getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize:  1 << 20, // 1MB

		StateBackend: getEnv("STATE_BACKEND", "redis"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:    getEnv("REDIS_PASSWORD", ""),
		StateTTL:     getDuration("STATE_TTL", 30*24*time.Hour),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:  getEnv("MONGO_DB_NAME", "storefront"),

		LedgerDSN:    getEnv("LEDGER_DSN", "./storefront.db"),
		KafkaBrokers: getList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "checkout-outcomes"),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenizationKey: getEnv("COLLECT_TOKENIZATION_KEY", ""),

		FreeShippingThreshold: getFloat("FREE_SHIPPING_THRESHOLD", 100),
		FlatShippingFee:       getFloat("FLAT_SHIPPING_FEE", 9.99),
		TaxFallbackPercent:    getFloat("TAX_FALLBACK_PERCENT", 8),
		TaxDebounce:           getDuration("TAX_DEBOUNCE", 300*time.Millisecond),
		CartIdleTTL:           getDuration("CART_IDLE_TTL", 30*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
