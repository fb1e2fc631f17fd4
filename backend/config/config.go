package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultSigningKey = "dev-signing-key-change-me"

// Config holds application configuration loaded from environment variables.
type Config struct {
	ServerURL          string
	JWTSigningKey      string
	MongoURI           string
	DBName             string
	RedisURL           string
	RabbitMQURL        string
	SMTPEmail          string
	SMTPPassword       string
	ReminderServiceURL string
	ReminderTimeout    time.Duration
	Timezone           string
	LogLevel           string
	LogFormat          string
	Registrar          string // "redis" or "memory"
	Storage            string // "mongo" or "memory"
	ReminderConsumers  int
	DispatchInterval   time.Duration
}

// Load reads the optional .env files and then the environment.
// A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := &Config{
		ServerURL:          getEnvWithDefault("SERVER_URL", "http://localhost:8080"),
		JWTSigningKey:      os.Getenv("JWT_SIGNING_KEY"),
		MongoURI:           getEnvWithDefault("MONGODB_URI", "mongodb://localhost:27017"),
		DBName:             getEnvWithDefault("DB_NAME", "goalnudge"),
		RedisURL:           getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		SMTPEmail:          os.Getenv("SMTP_EMAIL"),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		ReminderServiceURL: os.Getenv("REMINDER_SERVICE_URL"),
		Timezone:           getEnvWithDefault("TIMEZONE", "Local"),
		LogLevel:           getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvWithDefault("LOG_FORMAT", "text"),
		Registrar:          getEnvWithDefault("REGISTRAR", "redis"),
		Storage:            getEnvWithDefault("STORAGE", "mongo"),
	}

	var err error
	if cfg.ReminderTimeout, err = durationEnv("REMINDER_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.DispatchInterval, err = durationEnv("DISPATCH_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReminderConsumers, err = intEnv("REMINDER_CONSUMERS", 2); err != nil {
		return nil, err
	}

	if cfg.JWTSigningKey == "" {
		cfg.JWTSigningKey = defaultSigningKey
		slog.Warn("using default JWT_SIGNING_KEY; set a real key outside development")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the backend cannot start with.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	switch c.Registrar {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid REGISTRAR %q: want redis or memory", c.Registrar)
	}
	switch c.Storage {
	case "mongo", "memory":
	default:
		return fmt.Errorf("invalid STORAGE %q: want mongo or memory", c.Storage)
	}
	if c.ReminderConsumers < 0 {
		return fmt.Errorf("REMINDER_CONSUMERS must not be negative")
	}
	if c.DispatchInterval <= 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must be positive")
	}
	return nil
}

// Location returns the time zone used to decide the local calendar day.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func intEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}
