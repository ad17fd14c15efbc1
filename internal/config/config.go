// Package config loads bridge configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all bridge server configuration.
type Config struct {
	// Listeners
	TCPListen  string // client-facing TCP listener
	HTTPListen string // observer-facing HTTP/WebSocket listener

	// Handshake
	SharedSecret string // secret clients must prove knowledge of

	// Lifecycle timing
	HandshakeTimeout     time.Duration // deadline for the challenge response
	HeartbeatTimeout     time.Duration // eviction threshold for silent clients
	SweepInterval        time.Duration // liveness sweep period
	UsernamePollInterval time.Duration // username poller period

	// Buffers
	LogCapacity int // per-client and master log ring capacity

	// Observer authentication
	PasswordHash    string // bcrypt hash for observer login
	TOTPSecret      string // optional, for 2FA
	SessionDuration time.Duration

	// Login rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Storage
	DatabasePath string
	DataDir      string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dataDir := getEnv("BOTBRIDGE_DATA_DIR", "/data")

	cfg := &Config{
		TCPListen:  getEnv("BOTBRIDGE_TCP_LISTEN", ":7777"),
		HTTPListen: getEnv("BOTBRIDGE_HTTP_LISTEN", ":8000"),

		SharedSecret: os.Getenv("BOTBRIDGE_SECRET"),

		HandshakeTimeout:     parseDuration("BOTBRIDGE_HANDSHAKE_TIMEOUT", 10*time.Second),
		HeartbeatTimeout:     parseDuration("BOTBRIDGE_HEARTBEAT_TIMEOUT", 30*time.Second),
		SweepInterval:        parseDuration("BOTBRIDGE_SWEEP_INTERVAL", 5*time.Second),
		UsernamePollInterval: parseDuration("BOTBRIDGE_POLL_INTERVAL", 1*time.Second),

		LogCapacity: parseInt("BOTBRIDGE_LOG_CAPACITY", 1000),

		PasswordHash:    os.Getenv("BOTBRIDGE_PASSWORD_HASH"),
		TOTPSecret:      os.Getenv("BOTBRIDGE_TOTP_SECRET"), // optional
		SessionDuration: parseDuration("BOTBRIDGE_SESSION_DURATION", 24*time.Hour),

		RateLimitRequests: parseInt("BOTBRIDGE_RATE_LIMIT", 5),
		RateLimitWindow:   parseDuration("BOTBRIDGE_RATE_WINDOW", 1*time.Minute),

		DatabasePath: getEnv("BOTBRIDGE_DB_PATH", dataDir+"/botbridge.db"),
		DataDir:      dataDir,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.SharedSecret == "" {
		errs = append(errs, "BOTBRIDGE_SECRET is required")
	}
	if c.PasswordHash == "" {
		errs = append(errs, "BOTBRIDGE_PASSWORD_HASH is required")
	}
	if c.HandshakeTimeout < time.Second {
		errs = append(errs, "handshake timeout must be at least 1 second")
	}
	if c.LogCapacity < 1 {
		errs = append(errs, "log capacity must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// HasTOTP returns true if TOTP is configured for observer login.
func (c *Config) HasTOTP() bool {
	return c.TOTPSecret != ""
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
