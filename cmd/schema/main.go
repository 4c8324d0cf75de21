// Command schema creates the identity tables and indexes if they do not exist.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/config"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity-go/pkg/utilities"
)

func main() {
	configPath := flag.String("config", os.Getenv("IDENTITY_CONFIG"), "optional TOML config file")
	timeout := flag.Duration("timeout", 30*time.Second, "time allowed for the whole bootstrap")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := repo.NewContext(db,
		repo.WithSchema(cfg.Identity.Schema),
		repo.WithLogger(lg),
	)
	if err := c.EnsureSchema(ctx); err != nil {
		sugar.Fatalf("ensure schema: %v", err)
	}
	sugar.Infow("identity schema ready", "schema", cfg.Identity.Schema, "driver", cfg.Database.Driver)
}
