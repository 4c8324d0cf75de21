package account

import (
	"os"
	"strconv"
	"time"
)

// Config tunes sign-in and token issuance.
type Config struct {
	Issuer      string        `toml:"issuer"`
	TokenSecret string        `toml:"token_secret"`
	TokenTTL    time.Duration `toml:"token_ttl"`
	RefreshTTL  time.Duration `toml:"refresh_ttl"`
	// MaxFailed failed attempts lock the account for LockoutMinutes.
	MaxFailed      int `toml:"max_failed"`
	LockoutMinutes int `toml:"lockout_minutes"`
	RecoveryCodes  int `toml:"recovery_codes"`
	BcryptCost     int `toml:"bcrypt_cost"`
}

// DefaultConfig is used for anything not set in the environment or config file.
func DefaultConfig() Config {
	return Config{
		Issuer:         "pitchfork-identity",
		TokenTTL:       time.Hour,
		RefreshTTL:     30 * 24 * time.Hour,
		MaxFailed:      6,
		LockoutMinutes: 15,
		RecoveryCodes:  10,
		BcryptCost:     12,
	}
}

// ConfigFromEnv reads IDENTITY_* variables over DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("IDENTITY_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	cfg.TokenSecret = os.Getenv("IDENTITY_TOKEN_SECRET")
	if d, err := time.ParseDuration(os.Getenv("IDENTITY_TOKEN_TTL")); err == nil && d > 0 {
		cfg.TokenTTL = d
	}
	if d, err := time.ParseDuration(os.Getenv("IDENTITY_REFRESH_TTL")); err == nil && d > 0 {
		cfg.RefreshTTL = d
	}
	if n, err := strconv.Atoi(os.Getenv("IDENTITY_MAX_FAILED")); err == nil && n > 0 {
		cfg.MaxFailed = n
	}
	if n, err := strconv.Atoi(os.Getenv("IDENTITY_LOCKOUT_MINUTES")); err == nil && n > 0 {
		cfg.LockoutMinutes = n
	}
	return cfg
}

func (c Config) lockout() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}
