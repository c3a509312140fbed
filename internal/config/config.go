package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	MatcherTopN int

	StripeAPIKey string
	Currency     string

	PushEndpoint string
	FCMEndpoint  string
	FCMKey       string

	LogLevel      string
	RunMigrations bool
}

// LoadServerConfig reads the environment once and reports every bad
// variable at the same time via errors.Join, rather than failing on
// the first one.
func LoadServerConfig() (ServerConfig, error) {
	var errs []error
	cfg := ServerConfig{
		HTTPAddr:        envString("HTTP_ADDR", ":8080"),
		ReadTimeout:     envDuration("HTTP_READ_TIMEOUT", 5*time.Second, &errs),
		WriteTimeout:    envDuration("HTTP_WRITE_TIMEOUT", 10*time.Second, &errs),
		IdleTimeout:     envDuration("HTTP_IDLE_TIMEOUT", 120*time.Second, &errs),
		ShutdownTimeout: envDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second, &errs),

		RedisAddr:     envString("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisGeoKey:   envString("REDIS_GEO_KEY", "rides_geo"),

		KafkaBrokers: envList("KAFKA_BROKERS"),
		KafkaTopic:   envString("KAFKA_TOPIC", "ride-locations"),

		PGDSN: os.Getenv("PG_DSN"),

		MatcherTopN: envInt("MATCHER_TOP_N", 20, &errs),

		StripeAPIKey: os.Getenv("STRIPE_API_KEY"),
		Currency:     envString("CURRENCY", "usd"),

		PushEndpoint: envString("PUSH_ENDPOINT", ""),
		FCMEndpoint:  envString("FCM_ENDPOINT", ""),
		FCMKey:       os.Getenv("FCM_KEY"),

		LogLevel:      strings.ToLower(envString("LOG_LEVEL", "info")),
		RunMigrations: strings.EqualFold(os.Getenv("MIGRATE"), "true"),
	}

	if cfg.MatcherTopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig holds the settings for the location consumer process.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	RedisAddr     string
	RedisPassword string

	MetricsAddr string
	LogLevel    string
}

func LoadConsumerConfig() ConsumerConfig {
	brokers := envList("KAFKA_BROKERS")
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	return ConsumerConfig{
		KafkaBrokers:  brokers,
		KafkaTopic:    envString("KAFKA_TOPIC", "ride-locations"),
		KafkaGroup:    envString("KAFKA_GROUP", "carpool-tracking-consumer"),
		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		MetricsAddr:   envString("METRICS_ADDR", ":2112"),
		LogLevel:      strings.ToLower(envString("LOG_LEVEL", "info")),
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return i
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
