package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort        string
	JWTSecret       string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	MigrationsDirPath string

	RedisAddr  string
	SessionTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	OrderServiceURL     string
	OrderServiceTimeout time.Duration

	VNPTmnCode    string
	VNPHashSecret string
	VNPPayURL     string
	VNPReturnURL  string

	ShippingFee int64
}

func Load() *Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "storefront"),
		MigrationsDirPath: getEnv("MIGRATIONS_DIR", "internal/store/migrations"),

		RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
		SessionTTL: 24 * time.Hour,

		KafkaBrokers: splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "order-events"),

		OrderServiceURL:     getEnv("ORDER_SERVICE_URL", "http://localhost:8081"),
		OrderServiceTimeout: 10 * time.Second,

		VNPTmnCode:    getEnv("VNP_TMN_CODE", ""),
		VNPHashSecret: getEnv("VNP_HASH_SECRET", ""),
		VNPPayURL:     getEnv("VNP_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
		VNPReturnURL:  getEnv("VNP_RETURN_URL", "http://localhost:8080/api/v1/payment/return"),

		ShippingFee: getEnvInt64("SHIPPING_FEE", 30000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
