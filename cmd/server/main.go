package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/auth"
	"github.com/example/itdrive/internal/config"
	"github.com/example/itdrive/internal/dispatch"
	httpapi "github.com/example/itdrive/internal/http"
	"github.com/example/itdrive/internal/ingest"
	"github.com/example/itdrive/internal/logging"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/stats"
	"github.com/example/itdrive/internal/storage"
)

func main() {
	addr := pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	migrate := pflag.Bool("migrate", false, "apply the embedded schema before serving")
	pflag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations || *migrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migration applied")
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	if cfg.AdminEmail != "" {
		if err := ensureAdmin(ctx, store, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			logger.Error("admin seeding failed", "error", err)
			os.Exit(1)
		}
	}

	hub := dispatch.NewWSHub(logger)
	sinks := []dispatch.Sink{hub}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		sinks = append(sinks, producer)
		logger.Info("publishing trip events", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.WebhookURL))
	}

	var ranking httpapi.RouteRanking
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		ranking = stats.NewRouteStats(rdb)
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL, nil)
	api := httpapi.NewServer(httpapi.Options{
		Store:   store,
		Issuer:  issuer,
		Events:  dispatch.NewFanout(logger, sinks...),
		Hub:     hub,
		Ranking: ranking,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("itdrive listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// ensureAdmin creates the administrator account unless the email is taken.
func ensureAdmin(ctx context.Context, store storage.Store, email, password string) error {
	if _, err := store.UserByEmail(ctx, email); err == nil {
		return nil
	} else if !apperr.IsNotFound(err) {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = store.CreateUser(ctx, models.User{Email: email, FirstName: "Admin", Role: models.RoleAdmin, PasswordHash: hash})
	return err
}
