// seed inserts development drivers for local testing. Safe to rerun: drivers are upserted,
// which also resets their passwords to the values below.
package main

import (
	"context"
	"fmt"
	"os"

	"warehouse-service/backend/internal/config"
	"warehouse-service/backend/internal/db"
	"warehouse-service/backend/internal/driver/domain"
	"warehouse-service/backend/internal/driver/repository"
	"warehouse-service/backend/internal/logger"
	"warehouse-service/backend/internal/security"
)

const devPassword = "password123"

var devDrivers = []domain.Driver{
	{Username: "dev", PowerUnit: "PU-100", Active: true},
	{Username: "dev2", PowerUnit: "PU-200", Active: true},
	{Username: "retired", PowerUnit: "", Active: false},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel).With("component", "seed")
	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db open", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	repo := repository.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Error("hash password", "error", err)
		os.Exit(1)
	}

	for _, d := range devDrivers {
		d.PasswordHash = hash
		if err := repo.Upsert(ctx, &d); err != nil {
			log.Error("upsert driver", "username", d.Username, "error", err)
			os.Exit(1)
		}
		log.Info("seeded driver", "username", d.Username, "active", d.Active)
	}
}
