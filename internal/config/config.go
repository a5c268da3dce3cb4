// Package config reads service settings from the environment, after loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

var ErrInvalid = errors.New("invalid configuration")

type Storefront struct {
	Port           string
	ServiceVersion string
	OTLPEndpoint   string

	StorageBackend string
	PostgresURL    string
	RedisURL       string
	RedisTTL       time.Duration
	MongoURL       string
	MongoDatabase  string

	KafkaBrokers       []string
	AuthDelay          time.Duration
	SessionIdleTimeout time.Duration
}

type Worker struct {
	ServiceVersion   string
	OTLPEndpoint     string
	KafkaBrokers     []string
	StorefrontURL    string
	FulfillmentDelay time.Duration
}

type Mailer struct {
	ServiceVersion string
	OTLPEndpoint   string
	KafkaBrokers   []string
}

// LoadDotEnv reads path (default .env) into the environment. A missing file is not an error and
// variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func LoadStorefront() (Storefront, error) {
	authDelay, err := duration("AUTH_DELAY", 500*time.Millisecond)
	if err != nil {
		return Storefront{}, err
	}
	redisTTL, err := duration("REDIS_TTL", 0)
	if err != nil {
		return Storefront{}, err
	}
	idle, err := duration("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	if err != nil {
		return Storefront{}, err
	}
	if idle <= 0 {
		return Storefront{}, fmt.Errorf("%w: SESSION_IDLE_TIMEOUT must be positive", ErrInvalid)
	}

	cfg := Storefront{
		Port:           getEnv("PORT", "8080"),
		ServiceVersion: getEnv("SERVICE_VERSION", "0.1.0"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
		PostgresURL:    os.Getenv("POSTGRES_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisTTL:       redisTTL,
		MongoURL:       os.Getenv("MONGO_URL"),
		MongoDatabase:  getEnv("MONGO_DATABASE", "storefront"),
		KafkaBrokers:   brokers(os.Getenv("KAFKA_BROKERS")),
		AuthDelay:      authDelay,

		SessionIdleTimeout: idle,
	}

	required := map[string]struct{ name, value string }{
		BackendMemory:   {},
		BackendPostgres: {"POSTGRES_URL", cfg.PostgresURL},
		BackendRedis:    {"REDIS_URL", cfg.RedisURL},
		BackendMongo:    {"MONGO_URL", cfg.MongoURL},
	}
	req, ok := required[cfg.StorageBackend]
	if !ok {
		return Storefront{}, fmt.Errorf("%w: unknown STORAGE_BACKEND %q", ErrInvalid, cfg.StorageBackend)
	}
	if req.name != "" && req.value == "" {
		return Storefront{}, fmt.Errorf("%w: %s is required for the %s backend", ErrInvalid, req.name, cfg.StorageBackend)
	}

	return cfg, nil
}

func LoadWorker() (Worker, error) {
	delay, err := duration("FULFILLMENT_DELAY", 10*time.Second)
	if err != nil {
		return Worker{}, err
	}

	cfg := Worker{
		ServiceVersion:   getEnv("SERVICE_VERSION", "0.1.0"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		KafkaBrokers:     brokers(os.Getenv("KAFKA_BROKERS")),
		StorefrontURL:    strings.TrimRight(getEnv("STOREFRONT_URL", "http://localhost:8080"), "/"),
		FulfillmentDelay: delay,
	}
	if len(cfg.KafkaBrokers) == 0 {
		return Worker{}, fmt.Errorf("%w: KAFKA_BROKERS is required", ErrInvalid)
	}
	return cfg, nil
}

func LoadMailer() (Mailer, error) {
	cfg := Mailer{
		ServiceVersion: getEnv("SERVICE_VERSION", "0.1.0"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		KafkaBrokers:   brokers(os.Getenv("KAFKA_BROKERS")),
	}
	if len(cfg.KafkaBrokers) == 0 {
		return Mailer{}, fmt.Errorf("%w: KAFKA_BROKERS is required", ErrInvalid)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// duration accepts Go duration strings or a bare number of milliseconds.
func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	return d, nil
}

func brokers(v string) []string {
	var out []string
	for _, b := range strings.Split(v, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
