package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "LIVESCORE_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Stream   StreamConfig   `koanf:"stream"`
	Rates    RatesConfig    `koanf:"rates"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Storage  StorageConfig  `koanf:"storage"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Redis    RedisConfig    `koanf:"redis"`
	NATS     NATSConfig     `koanf:"nats"`
	Sinks    SinksConfig    `koanf:"sinks"`
	Logging  LoggingConfig  `koanf:"logging"`
	Callsign CallsignConfig `koanf:"callsign"`
}

type ServerConfig struct {
	HTTPPort        string        `koanf:"http_port"`
	GRPCPort        string        `koanf:"grpc_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// SubmitRate is the per-address submission rate in requests per second.
	SubmitRate  float64 `koanf:"submit_rate"`
	SubmitBurst int     `koanf:"submit_burst"`
}

type StreamConfig struct {
	TickInterval   time.Duration `koanf:"tick_interval"`
	MinInterval    time.Duration `koanf:"min_interval"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	SendTimeout    time.Duration `koanf:"send_timeout"`
	ReconnectGrace time.Duration `koanf:"reconnect_grace"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
}

type RatesConfig struct {
	LongWindow  time.Duration `koanf:"long_window"`
	ShortWindow time.Duration `koanf:"short_window"`
}

type IngestConfig struct {
	QueueSize     int           `koanf:"queue_size"`
	MaxBatch      int           `koanf:"max_batch"`
	Retention     time.Duration `koanf:"retention"`
	PruneInterval time.Duration `koanf:"prune_interval"`
}

type StorageConfig struct {
	// PostgresURL is a gorm DSN. Empty disables snapshot persistence and warm start.
	PostgresURL string        `koanf:"postgres_url"`
	WarmStart   time.Duration `koanf:"warm_start"`
}

type MongoConfig struct {
	URL      string `koanf:"url"`
	Database string `koanf:"database"`
}

type RedisConfig struct {
	URL      string        `koanf:"url"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type SinksConfig struct {
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

type CallsignConfig struct {
	// TablePath points at a YAML prefix table. Empty uses the built-in table.
	TablePath string `koanf:"table_path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        "3333",
			GRPCPort:        "50057",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			SubmitRate:      20,
			SubmitBurst:     40,
		},
		Stream: StreamConfig{
			TickInterval:   5 * time.Second,
			MinInterval:    2 * time.Minute,
			IdleTimeout:    30 * time.Minute,
			SendTimeout:    10 * time.Second,
			ReconnectGrace: 2 * time.Minute,
			BackoffInitial: time.Second,
			BackoffMax:     30 * time.Second,
		},
		Rates: RatesConfig{
			LongWindow:  60 * time.Minute,
			ShortWindow: 15 * time.Minute,
		},
		Ingest: IngestConfig{
			QueueSize:     1024,
			MaxBatch:      256,
			Retention:     72 * time.Hour,
			PruneInterval: 10 * time.Minute,
		},
		Storage: StorageConfig{
			WarmStart: 72 * time.Hour,
		},
		Mongo: MongoConfig{
			Database: "livescore",
		},
		Redis: RedisConfig{
			TTL: 6 * time.Hour,
		},
		NATS: NATSConfig{
			SubjectPrefix: "contest.live.v1",
		},
		Sinks: SinksConfig{
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			WriteTimeout:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads configuration with increasing precedence:
// built-in defaults, an optional YAML file, then environment variables.
// A .env file in the working directory is loaded into the environment first when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	for _, path := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// legacyEnv keeps the variable names of earlier deployments working.
var legacyEnv = map[string]string{
	"httpport":      "server.http_port",
	"grpcport":      "server.grpc_port",
	"psqlurl":       "storage.postgres_url",
	"mongourl":      "mongo.url",
	"redisurl":      "redis.url",
	"redispassword": "redis.password",
	"redisdb":       "redis.db",
	"natsurl":       "nats.url",
	"log_level":     "logging.level",
	"log_format":    "logging.format",
}

// envTransformFunc maps LIVESCORE_SERVER_HTTP_PORT to server.http_port.
// Variables that are neither prefixed nor legacy names are ignored.
func envTransformFunc(key string) string {
	if path, ok := legacyEnv[strings.ToLower(key)]; ok {
		return path
	}
	if !strings.HasPrefix(key, envPrefix) {
		return ""
	}
	rest := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, field, ok := strings.Cut(rest, "_")
	if !ok {
		return ""
	}
	return section + "." + field
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPPort == "" {
		errs = append(errs, errors.New("server.http_port is required"))
	}
	if c.Rates.LongWindow <= 0 || c.Rates.ShortWindow <= 0 {
		errs = append(errs, errors.New("rate windows must be positive"))
	}
	if c.Rates.ShortWindow >= c.Rates.LongWindow {
		errs = append(errs, fmt.Errorf("rates.short_window %s must be shorter than rates.long_window %s", c.Rates.ShortWindow, c.Rates.LongWindow))
	}
	if c.Stream.TickInterval <= 0 {
		errs = append(errs, errors.New("stream.tick_interval must be positive"))
	}
	if c.Stream.MinInterval < 0 {
		errs = append(errs, errors.New("stream.min_interval must not be negative"))
	}
	if c.Ingest.QueueSize <= 0 || c.Ingest.MaxBatch <= 0 {
		errs = append(errs, errors.New("ingest.queue_size and ingest.max_batch must be positive"))
	}
	if c.Server.SubmitRate <= 0 || c.Server.SubmitBurst <= 0 {
		errs = append(errs, errors.New("server.submit_rate and server.submit_burst must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
