package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	Backtest   BacktestConfig
	Profiling  ProfilingConfig
	Migrations string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// KafkaConfig holds Kafka configuration. An empty broker list disables
// both the event producer and the request consumer.
type KafkaConfig struct {
	Brokers       []string
	EventsTopic   string
	RequestsTopic string
	GroupID       string
}

// RedisConfig holds the market data cache configuration. An empty address
// disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// BacktestConfig holds defaults applied to run requests that omit them
type BacktestConfig struct {
	Commission  decimal.Decimal
	Slippage    decimal.Decimal
	InitialCash decimal.Decimal
	ListLimit   int
}

// ProfilingConfig holds continuous profiling configuration
type ProfilingConfig struct {
	ServerAddress   string
	ApplicationName string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "backtester"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			EventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "backtest-events"),
			RequestsTopic: getEnv("KAFKA_REQUESTS_TOPIC", "backtest-requests"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "stock-backtester"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_TTL", time.Hour),
		},
		Backtest: BacktestConfig{
			Commission:  getEnvDecimal("BACKTEST_COMMISSION", "0.003"),
			Slippage:    getEnvDecimal("BACKTEST_SLIPPAGE", "0.001"),
			InitialCash: getEnvDecimal("BACKTEST_INITIAL_CASH", "1000000"),
			ListLimit:   getEnvInt("BACKTEST_LIST_LIMIT", 50),
		},
		Profiling: ProfilingConfig{
			ServerAddress:   getEnv("PYROSCOPE_SERVER", ""),
			ApplicationName: getEnv("PYROSCOPE_APP_NAME", "stock-backtester"),
		},
		Migrations: getEnv("MIGRATIONS_PATH", "file://db/migrations"),
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	if v, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return v
	}
	return decimal.RequireFromString(defaultValue)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
