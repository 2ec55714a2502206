// Server runs the warehouse session HTTP API, the gRPC health endpoint and the expired-session sweeper.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warehouse-service/backend/internal/audit"
	auditrepo "warehouse-service/backend/internal/audit/repository"
	"warehouse-service/backend/internal/config"
	"warehouse-service/backend/internal/db"
	"warehouse-service/backend/internal/db/migrate"
	driverdomain "warehouse-service/backend/internal/driver/domain"
	driverrepo "warehouse-service/backend/internal/driver/repository"
	healthhandler "warehouse-service/backend/internal/health/handler"
	"warehouse-service/backend/internal/logger"
	"warehouse-service/backend/internal/metrics"
	"warehouse-service/backend/internal/policy/engine"
	"warehouse-service/backend/internal/security"
	"warehouse-service/backend/internal/server"
	"warehouse-service/backend/internal/server/middleware"
	sessionhandler "warehouse-service/backend/internal/session/handler"
	sessionrepo "warehouse-service/backend/internal/session/repository"
	"warehouse-service/backend/internal/session/service"
	"warehouse-service/backend/internal/session/sweeper"
	"warehouse-service/backend/internal/telemetry"
	telemetryotel "warehouse-service/backend/internal/telemetry/otel"
	"warehouse-service/backend/internal/telemetry/producer"
)

const (
	serviceName         = "warehouse-session-service"
	shutdownTimeout     = 15 * time.Second
	healthCheckInterval = 10 * time.Second

	devDriverUsername = "dev"
	devDriverPassword = "password123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTelEndpoint, serviceName, cfg.OTelInsecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	st, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	tokens, err := newTokenProvider(cfg, log)
	if err != nil {
		return err
	}
	hasher := security.NewHasher(cfg.BcryptCost)
	if st.seedDevDriver {
		if err := seedDevDriver(ctx, st.drivers, hasher); err != nil {
			return err
		}
		log.Warn("no DATABASE_URL; using in-memory session store", "dev_driver", devDriverUsername)
	}

	policy, err := newConflictPolicy(ctx, cfg, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	m.MustRegister(metrics.NewSessionCollector(st.sessions, log))

	var auditLogger audit.AuditLogger
	if st.audit != nil {
		auditLogger = audit.NewLogger(st.audit, nil, log)
	}
	kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SessionEventsTopic, log)
	var kafkaEmitter telemetry.EventEmitter
	if kp != nil {
		kafkaEmitter = kp
		defer func() {
			if err := kp.Close(); err != nil {
				log.Warn("kafka producer close", "error", err)
			}
		}()
	}
	var otelEmitter telemetry.EventEmitter
	if cfg.OTelEndpoint != "" {
		otelEmitter = telemetryotel.NewEventEmitter(providers.LoggerProvider)
	}
	events := telemetry.NewMultiEmitter(kafkaEmitter, otelEmitter)

	opts := service.Options{Logger: log, Audit: auditLogger, Events: events, Metrics: m}
	issuer := service.NewIssuer(st.sessions, tokens, cfg.RefreshGrace(), opts)
	coordinator := service.NewCoordinator(st.sessions, policy, tokens, opts)
	guard := service.NewGuard(st.sessions, opts)
	auth := service.NewAuthService(st.drivers, hasher, issuer, coordinator, opts)

	cookies := middleware.Cookies{Domain: cfg.CookieDomain, Secure: cfg.CookieSecure}
	health := healthhandler.NewServer(st.sessions, policy, log)
	router := server.NewRouter(server.HTTPDeps{
		Sessions: sessionhandler.NewHandler(auth, coordinator, cookies, cfg.IsDevelopment(), log),
		Issuer:   issuer,
		Guard:    guard,
		Cookies:  cookies,
		Health:   health,
		Metrics:  m,
		Logger:   log,
	})

	sw := sweeper.New(st.sessions, sweeper.Config{
		Interval:    cfg.SweepInterval(),
		IdleTimeout: cfg.IdleTimeout(),
	}, log, sweeper.WithMetrics(m), sweeper.WithEvents(events), sweeper.WithAudit(auditLogger))

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	go sw.Run(bgCtx)
	go health.Run(bgCtx, healthCheckInterval)

	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
	}

	errCh := make(chan error, 2)

	grpcServer := server.NewGRPCServer()
	server.RegisterServices(grpcServer, server.Deps{Health: health})
	if grpcLis != nil {
		go func() {
			log.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("listener failed; shutting down", "error", err)
	}

	// Stop the health loop first so load balancers see NOT_SERVING while requests drain.
	cancelBackground()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	if events != nil {
		// Let in-flight async emits finish before the Kafka writer and OTel providers close.
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	log.Info("server stopped")
	return nil
}

type stores struct {
	sessions sessionrepo.Repository
	drivers  driverrepo.Repository
	// audit is nil for the in-memory store.
	audit         auditrepo.Repository
	seedDevDriver bool
}

func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stores, func(), error) {
	if cfg.DatabaseURL == "" {
		// config.Load only allows this in development.
		return &stores{
			sessions:      sessionrepo.NewMemoryRepository(),
			drivers:       driverrepo.NewMemoryRepository(),
			seedDevDriver: true,
		}, func() {}, nil
	}

	if cfg.MigrateOnStart {
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied")
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	closeFn := func() {
		if err := conn.Close(); err != nil {
			log.Warn("db close", "error", err)
		}
	}
	return newPostgresStores(conn), closeFn, nil
}

func newPostgresStores(conn *sql.DB) *stores {
	return &stores{
		sessions: sessionrepo.NewPostgresRepository(conn),
		drivers:  driverrepo.NewPostgresRepository(conn),
		audit:    auditrepo.NewPostgresRepository(conn),
	}
}

func newTokenProvider(cfg *config.Config, log *slog.Logger) (*security.TokenProvider, error) {
	priv, pub, err := security.ParseKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		if !cfg.IsDevelopment() || cfg.JWTPrivateKey != "" || cfg.JWTPublicKey != "" {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
		priv, pub, err = security.GenerateEphemeralKeyPair()
		if err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
		log.Warn("JWT keys not configured; using an ephemeral key pair, tokens will not survive a restart")
	}
	log.Info("token signing configured", "alg", security.KeyAlg(pub), "issuer", cfg.JWTIssuer)
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.Audiences(), cfg.AccessTTL(), cfg.RefreshTTL()), nil
}

func newConflictPolicy(ctx context.Context, cfg *config.Config, log *slog.Logger) (engine.ConflictEvaluator, error) {
	module := engine.DefaultConflictPolicy
	if cfg.ConflictPolicyFile != "" {
		b, err := os.ReadFile(cfg.ConflictPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("conflict policy: %w", err)
		}
		module = string(b)
		log.Info("loaded conflict policy", "file", cfg.ConflictPolicyFile)
	}
	ev, err := engine.NewOPAEvaluator(ctx, module, log)
	if err != nil {
		return nil, fmt.Errorf("conflict policy: %w", err)
	}
	return ev, nil
}

func seedDevDriver(ctx context.Context, drivers driverrepo.Repository, hasher *security.Hasher) error {
	hash, err := hasher.Hash([]byte(devDriverPassword))
	if err != nil {
		return err
	}
	return drivers.Upsert(ctx, &driverdomain.Driver{
		Username:     devDriverUsername,
		PasswordHash: hash,
		Active:       true,
	})
}
