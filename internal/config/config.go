// Package config collects the GATEKIT_* environment into a validated
// runtime configuration. An optional JSON env file can pre-populate
// the environment for containerized deployments.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultAddr          = ":8080"
	DefaultKeyPath       = "."
	DefaultKeyName       = "gatekit"
	DefaultTokenTTL      = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Config is the full runtime configuration of the server.
type Config struct {
	// Issuer, Subject and Audience identify this token authority and end
	// up inside every issued token.
	Issuer   string
	Subject  string
	Audience string

	// KeyPath/KeyName locate the signing keypair files
	// (<KeyPath>/<KeyName>.key and .pub).
	KeyPath string
	KeyName string

	// PostgresDSN selects persistent storage. Empty means in-memory dev
	// mode with a seeded admin account.
	PostgresDSN string

	Addr          string
	TokenTTL      time.Duration
	SweepInterval time.Duration

	// SecureCookies marks session cookies Secure with SameSite=None.
	SecureCookies bool

	// AdminPassword seeds the dev-mode admin account. Ignored when
	// PostgresDSN is set.
	AdminPassword string
}

// Load reads GATEKIT_ENV_FILE (if set), then the environment, and
// validates the result.
func Load() (Config, error) {
	if path := os.Getenv("GATEKIT_ENV_FILE"); path != "" {
		if err := loadEnvFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		Issuer:        os.Getenv("GATEKIT_ISSUER"),
		Subject:       os.Getenv("GATEKIT_SUBJECT"),
		Audience:      os.Getenv("GATEKIT_AUDIENCE"),
		KeyPath:       envOr("GATEKIT_KEY_PATH", DefaultKeyPath),
		KeyName:       envOr("GATEKIT_KEY_NAME", DefaultKeyName),
		PostgresDSN:   os.Getenv("GATEKIT_PG_DSN"),
		Addr:          envOr("GATEKIT_ADDR", DefaultAddr),
		TokenTTL:      DefaultTokenTTL,
		SweepInterval: DefaultSweepInterval,
		AdminPassword: os.Getenv("GATEKIT_ADMIN_PASSWORD"),
	}

	var err error
	if cfg.TokenTTL, err = envDuration("GATEKIT_TOKEN_TTL", DefaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDuration("GATEKIT_SWEEP_INTERVAL", DefaultSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.SecureCookies, err = envBool("GATEKIT_SECURE_COOKIES", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the identity strings are present and durations
// are sane.
func (c Config) Validate() error {
	if c.Issuer == "" || c.Subject == "" || c.Audience == "" {
		return fmt.Errorf("config: GATEKIT_ISSUER, GATEKIT_SUBJECT and GATEKIT_AUDIENCE are required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("config: token ttl must be positive, got %s", c.TokenTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep interval must be positive, got %s", c.SweepInterval)
	}
	return nil
}

// loadEnvFile reads a flat JSON object of string values and sets each
// key into the process environment. Existing variables win.
func loadEnvFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read env file: %w", err)
	}
	var kv map[string]string
	if err := json.Unmarshal(raw, &kv); err != nil {
		return fmt.Errorf("config: parse env file %s: %w", path, err)
	}
	for k, v := range kv {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("config: set %s from env file: %w", k, err)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
