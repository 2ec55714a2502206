// Package cli implements sessionctl, the operator CLI for the session store.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"warehouse-service/backend/internal/config"
	"warehouse-service/backend/internal/db"
	driverrepo "warehouse-service/backend/internal/driver/repository"
	"warehouse-service/backend/internal/logger"
	"warehouse-service/backend/internal/security"
	sessionrepo "warehouse-service/backend/internal/session/repository"
	"warehouse-service/backend/internal/session/service"
)

// Env is what a command operates on.
type Env struct {
	Sessions    sessionrepo.Repository
	Drivers     driverrepo.Repository
	Hasher      *security.Hasher
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
	Close       func() error
}

func (e *Env) coordinator() *service.Coordinator {
	return service.NewCoordinator(e.Sessions, nil, nil, service.Options{Logger: e.Logger, Now: e.Now})
}

// Opener builds the Env for one command invocation.
type Opener func(ctx context.Context, logLevel string) (*Env, error)

// OpenFromConfig connects to the database named by DATABASE_URL.
func OpenFromConfig(ctx context.Context, logLevel string) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return &Env{
		Sessions:    sessionrepo.NewPostgresRepository(conn),
		Drivers:     driverrepo.NewPostgresRepository(conn),
		Hasher:      security.NewHasher(cfg.BcryptCost),
		IdleTimeout: cfg.IdleTimeout(),
		Logger:      logger.New(logLevel),
		Now:         time.Now,
		Close:       conn.Close,
	}, nil
}

// NewRootCmd creates the root cobra command. open is called once per invocation, before the subcommand runs.
func NewRootCmd(open Opener) *cobra.Command {
	var (
		flagLogLevel string
		env          *Env
	)
	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Inspect and maintain warehouse driver sessions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context(), flagLogLevel)
			if err != nil {
				return err
			}
			if e.Now == nil {
				e.Now = time.Now
			}
			if e.Logger == nil {
				e.Logger = slog.Default()
			}
			env = e
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if env != nil && env.Close != nil {
				return env.Close()
			}
			return nil
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")

	getEnv := func() *Env { return env }
	root.AddCommand(
		newListCmd(getEnv),
		newReleaseCmd(getEnv),
		newDeleteCmd(getEnv),
		newSweepCmd(getEnv),
		newDriverCmd(getEnv),
	)
	return root
}
