package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"registration-system/utils"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	PropagationHTTP  = "http"
	PropagationKafka = "kafka"
)

type Config struct {
	Port           int
	AppEnv         string
	LogLevel       string
	AllowedOrigins []string

	StoreDriver  string
	DatabaseURL  string
	ServiceToken string
	RedisURL     string
	// DirectorySeedFile is the JSON family directory used by the memory store.
	DirectorySeedFile string

	PropagationDriver string
	SyncServiceURL    string
	SyncServiceToken  string
	KafkaBrokers      []string
	KafkaTopic        string

	SyncInterval    time.Duration
	SyncBatchSize   int
	SyncConcurrency int
	SyncTimeout     time.Duration

	R2 utils.R2Options
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", 5200)
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("PROPAGATION_DRIVER", PropagationHTTP)
	v.SetDefault("KAFKA_TOPIC", "registration-events")
	v.SetDefault("SYNC_INTERVAL", "1m")
	v.SetDefault("SYNC_BATCH_SIZE", 50)
	v.SetDefault("SYNC_CONCURRENCY", 4)
	v.SetDefault("SYNC_TIMEOUT", "10s")

	// AutomaticEnv only answers keys viper already knows about.
	for _, key := range []string{
		"DATABASE_URL", "SERVICE_TOKEN", "REDIS_URL", "DIRECTORY_SEED_FILE",
		"SYNC_SERVICE_URL", "SYNC_SERVICE_TOKEN", "KAFKA_BROKERS",
		"CLOUDFLARE_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_ACCESS_KEY_SECRET", "R2_BUCKET_NAME", "R2_ENDPOINT",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// FromViper builds and validates a Config from an already populated viper.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:              v.GetInt("PORT"),
		AppEnv:            v.GetString("APP_ENV"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		AllowedOrigins:    splitList(v.GetString("ALLOWED_ORIGINS")),
		StoreDriver:       strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		ServiceToken:      v.GetString("SERVICE_TOKEN"),
		RedisURL:          v.GetString("REDIS_URL"),
		DirectorySeedFile: v.GetString("DIRECTORY_SEED_FILE"),
		PropagationDriver: strings.ToLower(v.GetString("PROPAGATION_DRIVER")),
		SyncServiceURL:    v.GetString("SYNC_SERVICE_URL"),
		SyncServiceToken:  v.GetString("SYNC_SERVICE_TOKEN"),
		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:        v.GetString("KAFKA_TOPIC"),
		SyncInterval:      v.GetDuration("SYNC_INTERVAL"),
		SyncBatchSize:     v.GetInt("SYNC_BATCH_SIZE"),
		SyncConcurrency:   v.GetInt("SYNC_CONCURRENCY"),
		SyncTimeout:       v.GetDuration("SYNC_TIMEOUT"),
		R2: utils.R2Options{
			AccountID:       v.GetString("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
			AccessKeySecret: v.GetString("R2_ACCESS_KEY_SECRET"),
			Bucket:          v.GetString("R2_BUCKET_NAME"),
			Endpoint:        v.GetString("R2_ENDPOINT"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.ServiceToken == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN is required"))
	}

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreDriverMemory:
		if c.DirectorySeedFile == "" {
			errs = append(errs, errors.New("DIRECTORY_SEED_FILE is required for the memory store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.PropagationDriver {
	case PropagationHTTP:
		if c.SyncServiceURL == "" {
			errs = append(errs, errors.New("SYNC_SERVICE_URL is required for http propagation"))
		}
	case PropagationKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka propagation"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PROPAGATION_DRIVER %q", c.PropagationDriver))
	}

	if c.SyncInterval <= 0 || c.SyncTimeout <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL and SYNC_TIMEOUT must be positive"))
	}
	if c.SyncBatchSize <= 0 || c.SyncConcurrency <= 0 {
		errs = append(errs, errors.New("SYNC_BATCH_SIZE and SYNC_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
