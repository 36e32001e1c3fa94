package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/pflag"

	"github.com/example/itdrive/internal/config"
	"github.com/example/itdrive/internal/ingest"
	"github.com/example/itdrive/internal/logging"
	"github.com/example/itdrive/internal/models"
	"github.com/example/itdrive/internal/stats"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total trip event messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	statsUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_stats_updates_total",
		Help: "Total successful route statistics updates",
	})
	statsErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_stats_errors_total",
		Help: "Total route statistics updates abandoned after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, statsUpdates, statsErrors)
}

func main() {
	metricsAddr := pflag.String("metrics-addr", "", "address to serve prometheus metrics on (overrides METRICS_ADDR)")
	pflag.Parse()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	logger := logging.NewLogger(cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	routeStats := stats.NewRouteStats(rc)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		ev, err := ingest.DecodeEvent(m)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "offset", m.Offset, "error", err)
			continue
		}
		if ev.Type != models.EventTripCreated {
			continue
		}
		if err := updateStatsWithRetry(ctx, routeStats, ev, 3, 200*time.Millisecond); err != nil {
			statsErrors.Inc()
			logger.Error("route stats update failed", "trip_id", ev.TripID, "error", err)
			continue
		}
		statsUpdates.Inc()
	}
}

// StatsUpdater is the subset of stats.RouteStats the consumer writes through.
type StatsUpdater interface {
	IncrRoute(ctx context.Context, from, to int64) error
	IncrDaily(ctx context.Context, day string) error
}

// updateStatsWithRetry records a created trip. Each step is retried on its
// own so a failure in the daily counter never counts the route twice.
func updateStatsWithRetry(ctx context.Context, su StatsUpdater, ev models.TripEvent, attempts int, delay time.Duration) error {
	steps := []func() error{
		func() error { return su.IncrRoute(ctx, ev.FromBuildingID, ev.ToBuildingID) },
		func() error { return su.IncrDaily(ctx, ev.At.UTC().Format(time.DateOnly)) },
	}
	for _, step := range steps {
		if err := retry(ctx, attempts, delay, step); err != nil {
			return err
		}
	}
	return nil
}

func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if !sleep(ctx, delay) {
			return errors.Join(err, ctx.Err())
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
