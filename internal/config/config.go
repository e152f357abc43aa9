// Package config loads corewriter's runtime configuration. It follows the
// go-server-3 internal/config layering: a viper.New() instance seeded with
// SetDefault calls for every field, an optional config file, and
// ODIN_-style environment overrides, unmarshaled into mapstructure-tagged
// structs and validated with go-playground/validator before use.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DurabilityBackend selects which durability.Store implementation the
// writer-side durability service wires up.
type DurabilityBackend string

const (
	DurabilityBackendNone    DurabilityBackend = "none"
	DurabilityBackendBadger  DurabilityBackend = "badger"
	DurabilityBackendPostgres DurabilityBackend = "postgres"
)

// Config is corewriter's full configuration surface.
type Config struct {
	Domain     DomainConfig     `mapstructure:"domain"`
	Transport  TransportConfig  `mapstructure:"transport"`
	AsyncSend  AsyncSendConfig  `mapstructure:"async_send"`
	WLP        WLPConfig        `mapstructure:"wlp"`
	Security   SecurityConfig   `mapstructure:"security"`
	Durability DurabilityConfig `mapstructure:"durability"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	AdminHTTP  AdminHTTPConfig  `mapstructure:"admin_http"`
}

// DomainConfig identifies the participant's RTPS domain.
type DomainConfig struct {
	DomainID        int    `mapstructure:"domain_id" validate:"gte=0,lte=232"`
	ParticipantName string `mapstructure:"participant_name" validate:"required"`
}

// TransportConfig configures the locator(s) the participant sends from.
type TransportConfig struct {
	UnicastAddress string `mapstructure:"unicast_address" validate:"required"`
	MulticastGroup string `mapstructure:"multicast_group"`
}

// AsyncSendConfig configures the cooperative send scheduler.
type AsyncSendConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"gte=1"`
}

// WLPConfig configures the writer liveliness protocol's lease periods.
type WLPConfig struct {
	NatsURL                          string        `mapstructure:"nats_url"`
	AutomaticLeaseDuration           time.Duration `mapstructure:"automatic_lease_duration" validate:"required"`
	ManualByParticipantLeaseDuration time.Duration `mapstructure:"manual_by_participant_lease_duration" validate:"required"`
}

// SecurityConfig configures the entity-pairing JWT plugin. Enabled is false
// by default, which wires security.NoPlugin instead.
type SecurityConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Domain        string        `mapstructure:"domain"`
	SecretKey     string        `mapstructure:"secret_key" validate:"required_if=Enabled true"`
	TokenDuration time.Duration `mapstructure:"token_duration"`
}

// DurabilityConfig selects and configures the durable-change store.
type DurabilityConfig struct {
	Backend    DurabilityBackend `mapstructure:"backend" validate:"oneof=none badger postgres"`
	BadgerDir  string            `mapstructure:"badger_dir"`
	PostgresDSN struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Database string `mapstructure:"database"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		SSLMode  string `mapstructure:"ssl_mode"`
	} `mapstructure:"postgres"`
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ArchiveConfig configures the optional S3 cold-archive.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// MetricsConfig configures the Prometheus HTTP exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig configures zap, following go-server-3's LoggingConfig shape.
type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding" validate:"oneof=json console"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// AdminHTTPConfig configures the admin/health HTTP surface.
type AdminHTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load builds a viper instance with every default set, optionally reads a
// config file named "corewriter" from the given paths, applies ODIN_-
// prefixed environment overrides, and validates the result.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("corewriter")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("ODIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain.domain_id", 0)
	v.SetDefault("domain.participant_name", "corewriter")

	v.SetDefault("transport.unicast_address", "0.0.0.0:7411")
	v.SetDefault("transport.multicast_group", "239.255.0.1:7400")

	v.SetDefault("async_send.worker_count", 4)

	v.SetDefault("wlp.nats_url", "")
	v.SetDefault("wlp.automatic_lease_duration", 10*time.Second)
	v.SetDefault("wlp.manual_by_participant_lease_duration", 20*time.Second)

	v.SetDefault("security.enabled", false)
	v.SetDefault("security.token_duration", time.Hour)

	v.SetDefault("durability.backend", string(DurabilityBackendNone))
	v.SetDefault("durability.badger_dir", "./data/durability")
	v.SetDefault("durability.postgres.port", 5432)
	v.SetDefault("durability.postgres.ssl_mode", "disable")
	v.SetDefault("durability.auto_migrate", false)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "us-east-1")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.encoding", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 0.1)

	v.SetDefault("admin_http.enabled", true)
	v.SetDefault("admin_http.address", ":8080")
}
