package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Auth    AuthConfig
	Gateway GatewayConfig
	API     APIConfig
	Kafka   KafkaConfig
	Redis   RedisConfig
	Scylla  ScyllaConfig
	Client  ClientConfig
	Logging LoggingConfig
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type GatewayConfig struct {
	Addr   string
	NodeID int64
}

type APIConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ScyllaConfig struct {
	Hosts    []string
	Keyspace string
}

// ClientConfig drives the chat client session.
type ClientConfig struct {
	GatewayURL     string
	APIURL         string
	Token          string
	PageSize       int
	ReconnectDelay time.Duration
	SettleDelay    time.Duration

	// Exponential backoff is used instead of the fixed delay when enabled.
	BackoffEnabled     bool
	BackoffMax         time.Duration
	BackoffMaxAttempts int
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Auth: AuthConfig{
			Secret:   getEnv("JWT_SECRET", "campus-chat-dev-secret"),
			TokenTTL: getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		Gateway: GatewayConfig{
			Addr:   getEnv("GATEWAY_ADDR", ":8080"),
			NodeID: int64(getEnvAsInt("GATEWAY_NODE_ID", 1)),
		},
		API: APIConfig{
			Addr: getEnv("API_ADDR", ":8081"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:19092"}),
			Topic:   getEnv("KAFKA_TOPIC", "chat-messages"),
			GroupID: getEnv("KAFKA_GROUP_ID", "messaging-service-group"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Scylla: ScyllaConfig{
			Hosts:    getEnvAsList("SCYLLA_HOSTS", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "chat"),
		},
		Client: ClientConfig{
			GatewayURL:         getEnv("CHAT_GATEWAY_URL", "ws://localhost:8080/ws"),
			APIURL:             getEnv("CHAT_API_URL", "http://localhost:8081"),
			Token:              getEnv("CHAT_TOKEN", ""),
			PageSize:           getEnvAsInt("CHAT_PAGE_SIZE", 50),
			ReconnectDelay:     getEnvAsDuration("CHAT_RECONNECT_DELAY", 3000*time.Millisecond),
			SettleDelay:        getEnvAsDuration("CHAT_SETTLE_DELAY", 1500*time.Millisecond),
			BackoffEnabled:     getEnvAsBool("CHAT_BACKOFF_ENABLED", false),
			BackoffMax:         getEnvAsDuration("CHAT_BACKOFF_MAX", time.Minute),
			BackoffMaxAttempts: getEnvAsInt("CHAT_BACKOFF_MAX_ATTEMPTS", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
