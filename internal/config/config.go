// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from "5m"-style YAML strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds everything both processes (server and worker) need. Values are
// resolved defaults -> optional YAML file -> environment.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	DBDSN    string `yaml:"db_dsn"`
	AMQPURL  string `yaml:"amqp_url"`
	LogFile  string `yaml:"log_file"`

	Worker  WorkerConfig  `yaml:"worker"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Retry   RetryConfig   `yaml:"retry"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type WorkerConfig struct {
	Count           int           `yaml:"count"`
	PollInterval    Duration `yaml:"poll_interval"`
	ProviderTimeout Duration `yaml:"provider_timeout"`
}

type SweepConfig struct {
	Interval          Duration `yaml:"interval"`
	StaleAfter        Duration `yaml:"stale_after"`
	RetryFailedAfter  Duration `yaml:"retry_failed_after"`
	QueueRetention    Duration `yaml:"queue_retention"`
	DeliveryRetention Duration `yaml:"delivery_retention"`
	LogRetention      Duration `yaml:"log_retention"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialBackoff    Duration `yaml:"initial_backoff"`
	MaxBackoff        Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

type WebhookConfig struct {
	Timeout Duration `yaml:"timeout"`
}

func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogFile:  "agrinotify.log",
		Worker: WorkerConfig{
			Count:           4,
			PollInterval:    Duration(2 * time.Second),
			ProviderTimeout: Duration(10 * time.Second),
		},
		Sweep: SweepConfig{
			Interval:          Duration(time.Minute),
			StaleAfter:        Duration(5 * time.Minute),
			RetryFailedAfter:  Duration(10 * time.Minute),
			QueueRetention:    Duration(7 * 24 * time.Hour),
			DeliveryRetention: Duration(30 * 24 * time.Hour),
			LogRetention:      Duration(90 * 24 * time.Hour),
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    Duration(time.Second),
			MaxBackoff:        Duration(5 * time.Minute),
			BackoffMultiplier: 2.0,
		},
		Webhook: WebhookConfig{Timeout: Duration(10 * time.Second)},
	}
}

// Load builds the configuration. A missing config file is not an error; a
// missing DB DSN is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("AGRINOTIFY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.DBDSN == "" {
		cfg.DBDSN = dsnFromParts()
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("missing required setting: DB_DSN")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.Worker.Count = getEnvInt("WORKER_COUNT", cfg.Worker.Count)
	cfg.Worker.PollInterval = getEnvDuration("WORKER_POLL_INTERVAL", cfg.Worker.PollInterval)
	cfg.Worker.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", cfg.Worker.ProviderTimeout)

	cfg.Sweep.Interval = getEnvDuration("SWEEP_INTERVAL", cfg.Sweep.Interval)
	cfg.Sweep.StaleAfter = getEnvDuration("SWEEP_STALE_AFTER", cfg.Sweep.StaleAfter)
	cfg.Retry.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
}

// dsnFromParts keeps compatibility with deployments that configure the
// database piecewise instead of with a single DSN.
func dsnFromParts() string {
	user := os.Getenv("DB_USER")
	name := os.Getenv("DB_NAME")
	if user == "" || name == "" {
		return ""
	}
	pass := os.Getenv("DB_PASSWORD")
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback Duration) Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return Duration(d)
		}
	}
	return fallback
}
