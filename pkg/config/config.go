package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Call     CallConfig
	Log      LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CallConfig holds call orchestration configuration
type CallConfig struct {
	// GraceDelay is how long a session lingers in the ending state before
	// teardown, so the terminal outcome can still be reported.
	GraceDelay time.Duration

	// STUNServers are the ICE servers handed to peer connections.
	STUNServers []string

	// RelayURL is the WebSocket endpoint call clients dial.
	RelayURL string

	// DisplayName is the human-readable name announced when dialing.
	DisplayName string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("PORT", 8080),
			Environment: getEnv("ENV", "development"),
			ServiceName: getEnv("SERVICE_NAME", "voicelink"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 26257),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "voicelink"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			Timeout:  time.Duration(getEnvAsInt("REDIS_TIMEOUT", 5)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_EXPIRY", 15)) * time.Minute,
		},
		Call: CallConfig{
			GraceDelay:  time.Duration(getEnvAsInt("CALL_GRACE_DELAY_MS", 2000)) * time.Millisecond,
			STUNServers: getEnvAsSlice("STUN_SERVERS", []string{"stun:stun.l.google.com:19302"}),
			RelayURL:    getEnv("RELAY_URL", "ws://localhost:8080/v1/signals/ws"),
			DisplayName: getEnv("CALL_DISPLAY_NAME", ""),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "json"),
			Output:   getEnv("LOG_OUTPUT", "stdout"),
			FilePath: getEnv("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate JWT secret in production
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	// Warn about weak secrets even in development
	if c.JWT.Secret == "" || c.JWT.Secret == "super-secret-key-change-in-production" {
		fmt.Println("⚠️  WARNING: Using default/weak JWT secret. This is INSECURE for production!")
	}

	if c.Call.GraceDelay < 0 {
		return fmt.Errorf("CALL_GRACE_DELAY_MS must not be negative")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	// Simple comma-separated string parsing
	var result []string
	for i := 0; i < len(valueStr); {
		j := i
		for j < len(valueStr) && valueStr[j] != ',' {
			j++
		}
		if i < j {
			result = append(result, valueStr[i:j])
		}
		i = j + 1
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
