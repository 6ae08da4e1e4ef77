package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации приложения
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	Loyalty    LoyaltyConfig
	Reconciler ReconcilerConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig конфигурация базы данных
type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Database      string
	SSLMode       string
	MigrationsDir string
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// KafkaConfig конфигурация Kafka
type KafkaConfig struct {
	Brokers         []string
	ConsumerGroupID string
	Enabled         bool
}

// AuthConfig конфигурация аутентификации
type AuthConfig struct {
	JWTSecret string
}

// LoyaltyConfig правила начисления баллов
type LoyaltyConfig struct {
	// PointsPerDollar базовая ставка начисления за доллар суммы заказа
	PointsPerDollar float64

	// PointExpirationEnabled флаг сгорания баллов; сам механизм сгорания
	// пока не реализован, флаг зарезервирован
	PointExpirationEnabled bool
}

// ReconcilerConfig настройки пакетного реконсилятора
type ReconcilerConfig struct {
	PollInterval  time.Duration
	RetryInterval time.Duration
	RetryWindow   time.Duration
	EventTimeout  time.Duration
	BatchSize     int
	MaxRetries    int
}

// RateLimitConfig настройки лимитера запросов
type RateLimitConfig struct {
	RequestsPerMinute int
	Enabled           bool
}

// LoggingConfig конфигурация логгера
type LoggingConfig struct {
	Level string
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetMigrateURL возвращает URL подключения для golang-migrate
func (c *DatabaseConfig) GetMigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Load загружает конфигурацию из переменных окружения.
// Вне production переменные дополняются из .env, если он есть.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", "postgres"),
			Database:      getEnv("DB_NAME", "loyalty_service"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers:         getEnvAsSlice("KAFKA_BROKERS", nil),
			ConsumerGroupID: getEnv("KAFKA_CONSUMER_GROUP", "loyalty-service"),
			Enabled:         getEnvAsBool("KAFKA_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Loyalty: LoyaltyConfig{
			PointsPerDollar:        getEnvAsFloat("LOYALTY_POINTS_PER_DOLLAR", 1.0),
			PointExpirationEnabled: getEnvAsBool("LOYALTY_POINT_EXPIRATION_ENABLED", false),
		},
		Reconciler: ReconcilerConfig{
			PollInterval:  getEnvAsDuration("RECONCILER_POLL_INTERVAL", 10*time.Second),
			RetryInterval: getEnvAsDuration("RECONCILER_RETRY_INTERVAL", time.Minute),
			RetryWindow:   getEnvAsDuration("RECONCILER_RETRY_WINDOW", 24*time.Hour),
			EventTimeout:  getEnvAsDuration("RECONCILER_EVENT_TIMEOUT", 10*time.Second),
			BatchSize:     getEnvAsInt("RECONCILER_BATCH_SIZE", 50),
			MaxRetries:    getEnvAsInt("RECONCILER_MAX_RETRIES", 3),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 300),
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

// getEnv получает значение переменной окружения или значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration получает значение переменной окружения как time.Duration
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsSlice получает значение переменной окружения как список через запятую
func getEnvAsSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
