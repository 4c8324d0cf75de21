package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

const defaultAddr = "0.0.0.0:8431"

type HTTP struct {
	Addr string `toml:"addr"`
}

type Identity struct {
	// Schema holds the identity tables on PostgreSQL; ignored by SQLite.
	Schema  string         `toml:"schema"`
	Account account.Config `toml:"account"`
}

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTP             `toml:"http"`
	Database database.Config  `toml:"database"`
	Log      utilities.Config `toml:"log"`
	Identity Identity         `toml:"identity"`
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	schema := os.Getenv("IDENTITY_SCHEMA")
	if schema == "" {
		schema = repo.DefaultSchema
	}
	return Config{
		HTTP:     HTTP{Addr: addr},
		Database: database.ConfigFromEnv(),
		Log:      utilities.ConfigFromEnv(),
		Identity: Identity{Schema: schema, Account: account.ConfigFromEnv()},
	}
}

// Load reads .env if present, then the environment, then the TOML file at
// path when path is non-empty. Keys present in the file win.
func Load(path string) (Config, error) {
	// best-effort: a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := FromEnv()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}
