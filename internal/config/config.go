package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	TransportSimulated = "simulated"
	TransportWebhook   = "webhook"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Transport TransportConfig
	Send      SendConfig
	Templates TemplatesConfig
}

type ServerConfig struct {
	Address string
}

// DatabaseConfig is optional; an empty URL disables the result store.
type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type TransportConfig struct {
	Kind              string
	WebhookURL        string
	WebhookRatePerSec int
}

type SendConfig struct {
	LatencyMin     time.Duration
	LatencyMax     time.Duration
	SuccessPercent int
	Pacing         time.Duration
	AttemptTimeout time.Duration
	ContentMax     int
}

// TemplatesConfig points at an optional YAML catalog replacing the built-in one.
type TemplatesConfig struct {
	File string
}

func LoadAll() (*Config, error) {
	var errs []error

	intEnv := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: os.Getenv("POSTGRES_URL"),
		},
		Transport: TransportConfig{
			Kind:              getEnv("TRANSPORT", TransportSimulated),
			WebhookURL:        os.Getenv("WEBHOOK_URL"),
			WebhookRatePerSec: intEnv("WEBHOOK_RATE_PER_SEC", 20),
		},
		Send: SendConfig{
			LatencyMin:     time.Duration(intEnv("SEND_LATENCY_MIN_MS", 1000)) * time.Millisecond,
			LatencyMax:     time.Duration(intEnv("SEND_LATENCY_MAX_MS", 3000)) * time.Millisecond,
			SuccessPercent: intEnv("SEND_SUCCESS_PERCENT", 90),
			Pacing:         time.Duration(intEnv("SEND_PACING_MS", 200)) * time.Millisecond,
			AttemptTimeout: time.Duration(intEnv("SEND_ATTEMPT_TIMEOUT_SECONDS", 30)) * time.Second,
			ContentMax:     intEnv("CONTENT_MAX", 4096),
		},
		Templates: TemplatesConfig{
			File: os.Getenv("TEMPLATES_FILE"),
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis = RedisConfig{
			Enabled:  true,
			Address:  addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intEnv("REDIS_DB", 0),
			TTL:      time.Duration(intEnv("REDIS_TTL_SECONDS", 86400)) * time.Second,
		}
	}

	if cfg.Transport.Kind == TransportWebhook {
		url, err := requireEnv("WEBHOOK_URL")
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Transport.WebhookURL = url
	}

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) []error {
	var errs []error

	switch cfg.Transport.Kind {
	case TransportSimulated, TransportWebhook:
	default:
		errs = append(errs, fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportSimulated, TransportWebhook, cfg.Transport.Kind))
	}
	if cfg.Transport.WebhookRatePerSec <= 0 {
		errs = append(errs, errors.New("WEBHOOK_RATE_PER_SEC must be > 0"))
	}
	if cfg.Send.LatencyMin < 0 {
		errs = append(errs, errors.New("SEND_LATENCY_MIN_MS must be >= 0"))
	}
	if cfg.Send.LatencyMax < cfg.Send.LatencyMin {
		errs = append(errs, errors.New("SEND_LATENCY_MAX_MS must be >= SEND_LATENCY_MIN_MS"))
	}
	if cfg.Send.SuccessPercent < 0 || cfg.Send.SuccessPercent > 100 {
		errs = append(errs, errors.New("SEND_SUCCESS_PERCENT must be between 0 and 100"))
	}
	if cfg.Send.Pacing < 0 {
		errs = append(errs, errors.New("SEND_PACING_MS must be >= 0"))
	}
	if cfg.Send.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("SEND_ATTEMPT_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Send.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
