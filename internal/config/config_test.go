package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HTTP_READ_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.WriteTimeout != 10*time.Second || cfg.JWTTTL != 24*time.Hour {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if !cfg.RunMigrations || cfg.LogLevel != "debug" || cfg.KafkaTopic != "trip-events" {
		t.Fatalf("unexpected flags %+v", cfg)
	}
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("HTTP_IDLE_TIMEOUT", "forever")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "HTTP_IDLE_TIMEOUT") || !strings.Contains(msg, "JWT_SECRET") {
		t.Fatalf("expected both problems reported, got %q", msg)
	}
}

func TestLoadClientConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.env")
	body := "API_URL=http://carpool.test/api/\nMAP_API_KEY=secret\nMAP_LOAD_TIMEOUT=4s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ITDRIVE_CONFIG", path)
	t.Setenv("OSRM_URL", "http://osrm.test/")

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != "http://carpool.test/api" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.APIURL)
	}
	if cfg.MapAPIKey != "secret" || cfg.MapLoadTimeout != 4*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.OSRMURL != "http://osrm.test" || cfg.RouteCacheSize != 512 {
		t.Fatalf("unexpected routing config: %+v", cfg)
	}
}

func TestLoadConsumerDefaults(t *testing.T) {
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KafkaBrokers[0] != "localhost:9092" || cfg.KafkaGroup != "itdrive-route-stats" || cfg.MetricsAddr != ":2112" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadServerConfigAdminPair(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("ADMIN_EMAIL", "admin@itmo.ru")

	if _, err := LoadServerConfig(); err == nil || !strings.Contains(err.Error(), "ADMIN_PASSWORD") {
		t.Fatalf("expected admin pair error, got %v", err)
	}
	t.Setenv("ADMIN_PASSWORD", "changeme")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AdminEmail != "admin@itmo.ru" {
		t.Fatalf("unexpected admin email %q", cfg.AdminEmail)
	}
}
