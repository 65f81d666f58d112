package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"attestor/internal/attestation"
	"attestor/internal/audit"
	"attestor/internal/ledger"
	"attestor/internal/platform/config"
	"attestor/internal/platform/httpserver"
	"attestor/internal/platform/logger"
	"attestor/internal/platform/postgres"
	"attestor/internal/platform/redis"
	httptransport "attestor/internal/transport/http"
	"attestor/internal/verification/cache"
	"attestor/internal/verification/handler"
	"attestor/internal/verification/metrics"
	"attestor/internal/verification/service"
	"attestor/internal/verification/store"
)

// statusStore is what main needs from either store implementation: the
// coordinator contract plus a health probe.
type statusStore interface {
	service.Store
	Ping(ctx context.Context) error
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, err := attestation.NewSigner(cfg.IssuerKey)
	if err != nil {
		log.Error("load issuer key", "error", err)
		os.Exit(1)
	}

	var st statusStore
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pg := store.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("ensure schema", "error", err)
			os.Exit(1)
		}
		st = pg
	} else {
		log.Warn("no database configured, using in-memory store")
		st = store.NewInMemory()
	}

	var statusCache service.Cache
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		statusCache = cache.New(redisClient.Client, cfg.StatusCacheTTL)
	}

	var publisher audit.Publisher = audit.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := audit.NewKafka(cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		publisher = kafka
	}

	ledgerClient := ledger.New(ledger.Config{
		BaseURL:        cfg.LedgerURL,
		SubmitTimeout:  cfg.LedgerSubmitTimeout,
		ConfirmTimeout: cfg.LedgerConfirmTimeout,
		PollInterval:   cfg.LedgerPollInterval,
	}, log)

	svc := service.New(st, ledgerClient, signer, statusCache, publisher, metrics.New(), log, service.Config{
		ValidityWindow: cfg.ValidityWindow,
		ReviewDelay:    cfg.ReviewDelay,
		ProcessTimeout: cfg.ProcessTimeout,
		MaxConcurrent:  cfg.MaxConcurrentIssuance,
	})

	router := httptransport.NewRouter(httptransport.Deps{
		Verifications: handler.New(svc, log),
		Store:         st,
		Logger:        log,
		JWTSigningKey: cfg.JWTSigningKey,
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting attestor", "addr", cfg.Addr, "issuer", signer.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first, then let in-flight issuance finish so
	// accepted submissions still reach a terminal state.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := svc.Drain(shutdownCtx); err != nil {
		log.Warn("issuance tasks still in flight at shutdown", "error", err)
	}
}
