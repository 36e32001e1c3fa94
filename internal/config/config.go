package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig captures all tunable parameters for the REST backend process.
// Values are loaded from environment variables (optionally a .env file or the
// file named by ITDRIVE_CONFIG) with sane defaults so the binary can run
// locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	JWTSecret string
	JWTTTL    time.Duration

	// WebhookURL receives every trip event as JSON when set.
	WebhookURL string

	// AdminEmail and AdminPassword seed an administrator account at startup.
	AdminEmail    string
	AdminPassword string

	LogLevel      string
	RunMigrations bool
}

// ConsumerConfig drives cmd/consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	LogLevel      string
}

// ClientConfig drives cmd/itdrive and the map controller.
type ClientConfig struct {
	APIURL         string
	APIToken       string
	RequestTimeout time.Duration

	MapLoaderURL   string
	MapAPIKey      string
	MapLoadTimeout time.Duration

	OSRMURL       string
	RouteCacheSize int
	RouteCacheTTL  time.Duration
	RedisAddr      string

	LogLevel string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KAFKA_TOPIC", "trip-events")
	return v
}

// readConfigFile merges ITDRIVE_CONFIG or ./.env into v. A missing file is
// not an error; env vars always win.
func readConfigFile(v *viper.Viper) error {
	if path := strings.TrimSpace(v.GetString("ITDRIVE_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read .env: %w", err)
		}
	}
	return nil
}

func defaultServerConfig(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("HTTP_READ_TIMEOUT", "5s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "10s")
	v.SetDefault("HTTP_IDLE_TIMEOUT", "120s")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("JWT_TTL", "24h")
}

func LoadServerConfig() (ServerConfig, error) {
	v := newViper()
	defaultServerConfig(v)
	var errs []error
	if err := readConfigFile(v); err != nil {
		errs = append(errs, err)
	}

	cfg := ServerConfig{
		HTTPAddr:      strings.TrimSpace(v.GetString("HTTP_ADDR")),
		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		KafkaBrokers:  splitAndTrim(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:    strings.TrimSpace(v.GetString("KAFKA_TOPIC")),
		PGDSN:         v.GetString("PG_DSN"),
		JWTSecret:     v.GetString("JWT_SECRET"),
		WebhookURL:    strings.TrimSpace(v.GetString("WEBHOOK_URL")),
		AdminEmail:    strings.TrimSpace(v.GetString("ADMIN_EMAIL")),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),
		LogLevel:      strings.ToLower(v.GetString("LOG_LEVEL")),
		RunMigrations: strings.EqualFold(v.GetString("MIGRATE"), "true"),
	}
	setDuration(v, &cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDuration(v, &cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDuration(v, &cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDuration(v, &cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setDuration(v, &cfg.JWTTTL, "JWT_TTL", &errs)

	if len(cfg.JWTSecret) < 16 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 16 characters"))
	}
	if cfg.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("JWT_TTL must be > 0"))
	}
	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		errs = append(errs, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	v := newViper()
	v.SetDefault("METRICS_ADDR", ":2112")
	v.SetDefault("KAFKA_GROUP", "itdrive-route-stats")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	var errs []error
	if err := readConfigFile(v); err != nil {
		errs = append(errs, err)
	}

	cfg := ConsumerConfig{
		MetricsAddr:   strings.TrimSpace(v.GetString("METRICS_ADDR")),
		KafkaBrokers:  splitAndTrim(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:    strings.TrimSpace(v.GetString("KAFKA_TOPIC")),
		KafkaGroup:    strings.TrimSpace(v.GetString("KAFKA_GROUP")),
		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		LogLevel:      strings.ToLower(v.GetString("LOG_LEVEL")),
	}
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	return cfg, errors.Join(errs...)
}

func LoadClientConfig() (ClientConfig, error) {
	v := newViper()
	v.SetDefault("API_URL", "http://localhost:8080/api")
	v.SetDefault("API_TIMEOUT", "10s")
	v.SetDefault("MAP_LOAD_TIMEOUT", "10s")
	v.SetDefault("ROUTE_CACHE_SIZE", 512)
	v.SetDefault("ROUTE_CACHE_TTL", "1h")
	v.SetDefault("LOG_LEVEL", "warn")
	var errs []error
	if err := readConfigFile(v); err != nil {
		errs = append(errs, err)
	}

	cfg := ClientConfig{
		APIURL:         strings.TrimRight(strings.TrimSpace(v.GetString("API_URL")), "/"),
		APIToken:       strings.TrimSpace(v.GetString("API_TOKEN")),
		MapLoaderURL:   strings.TrimSpace(v.GetString("MAP_LOADER_URL")),
		MapAPIKey:      v.GetString("MAP_API_KEY"),
		OSRMURL:        strings.TrimRight(strings.TrimSpace(v.GetString("OSRM_URL")), "/"),
		RouteCacheSize: v.GetInt("ROUTE_CACHE_SIZE"),
		RedisAddr:      strings.TrimSpace(v.GetString("REDIS_ADDR")),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
	}
	setDuration(v, &cfg.RequestTimeout, "API_TIMEOUT", &errs)
	setDuration(v, &cfg.MapLoadTimeout, "MAP_LOAD_TIMEOUT", &errs)
	setDuration(v, &cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)

	if cfg.APIURL == "" {
		errs = append(errs, fmt.Errorf("API_URL must not be empty"))
	}
	if cfg.MapLoadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("MAP_LOAD_TIMEOUT must be > 0"))
	}
	if cfg.RouteCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("ROUTE_CACHE_SIZE must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDuration(v *viper.Viper, target *time.Duration, key string, errs *[]error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*target = d
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
