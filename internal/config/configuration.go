package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT"`

	// Storage Configuration
	StoreBackend    string `mapstructure:"STORE_BACKEND" validate:"oneof=postgres memory"`
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required_if=StoreBackend postgres"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES" validate:"gte=1"`
	MigrateOnStart  bool   `mapstructure:"MIGRATE_ON_START"`

	// Webhook Configuration
	WebhookSecret           string `mapstructure:"WEBHOOK_SECRET" validate:"required"`
	TranscriptionWebhookURL string `mapstructure:"TRANSCRIPTION_WEBHOOK_URL" validate:"required,url"`
	EmbeddingWebhookURL     string `mapstructure:"EMBEDDING_WEBHOOK_URL" validate:"required,url"`

	// Provider Configuration
	ProviderAPIURL            string `mapstructure:"PROVIDER_API_URL" validate:"required,url"`
	ProviderQueueURL          string `mapstructure:"PROVIDER_QUEUE_URL" validate:"omitempty,url"`
	ProviderAPIToken          string `mapstructure:"PROVIDER_API_TOKEN" validate:"required"`
	TranscriptionModelVersion string `mapstructure:"TRANSCRIPTION_MODEL_VERSION"`
	EmbeddingModelVersion     string `mapstructure:"EMBEDDING_MODEL_VERSION"`
	EmbeddingDimensions       int    `mapstructure:"EMBEDDING_DIMENSIONS" validate:"gt=0"`

	// Search Configuration
	SearchEmbeddingTimeout time.Duration `mapstructure:"SEARCH_EMBEDDING_TIMEOUT" validate:"gt=0"`
	SearchCandidateFactor  int           `mapstructure:"SEARCH_CANDIDATE_FACTOR" validate:"gte=1"`
	SearchRateLimit        float64       `mapstructure:"SEARCH_RATE_LIMIT" validate:"gte=0"`

	// Ingest Configuration
	ProbeTimeout time.Duration `mapstructure:"PROBE_TIMEOUT" validate:"gt=0"`

	// Admin Configuration; admin routes are disabled when empty.
	AdminToken string `mapstructure:"ADMIN_TOKEN"`
}

// LogValue keeps secrets out of the logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("webserver_port", c.WebServerPort),
		slog.String("store_backend", c.StoreBackend),
		slog.Bool("database_dsn_set", c.DatabaseDSN != ""),
		slog.Int("database_retries", c.DatabaseRetries),
		slog.Bool("migrate_on_start", c.MigrateOnStart),
		slog.String("transcription_webhook_url", c.TranscriptionWebhookURL),
		slog.String("embedding_webhook_url", c.EmbeddingWebhookURL),
		slog.String("provider_api_url", c.ProviderAPIURL),
		slog.String("provider_queue_url", c.ProviderQueueURL),
		slog.Int("embedding_dimensions", c.EmbeddingDimensions),
		slog.Duration("search_embedding_timeout", c.SearchEmbeddingTimeout),
		slog.Int("search_candidate_factor", c.SearchCandidateFactor),
		slog.Float64("search_rate_limit", c.SearchRateLimit),
		slog.Duration("probe_timeout", c.ProbeTimeout),
		slog.Bool("admin_enabled", c.AdminToken != ""),
	)
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && tag == "" {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
}

func load() (Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("STORE_BACKEND", StoreBackendPostgres)
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("PROVIDER_API_URL", "https://api.replicate.com/v1")
	viper.SetDefault("EMBEDDING_DIMENSIONS", 768)
	viper.SetDefault("SEARCH_EMBEDDING_TIMEOUT", "60s")
	viper.SetDefault("SEARCH_CANDIDATE_FACTOR", 10)
	viper.SetDefault("SEARCH_RATE_LIMIT", 2)
	viper.SetDefault("PROBE_TIMEOUT", "10s")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func LoadConfig(ctx context.Context) (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	slog.Info("Loaded configuration", "config", cfg)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadDatabaseConfig validates only the database settings, for tools that
// never talk to the provider.
func LoadDatabaseConfig(ctx context.Context) (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.StructPartial(cfg, "DatabaseRetries"); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("validate config: DATABASE_DSN is required")
	}

	return &cfg, nil
}
