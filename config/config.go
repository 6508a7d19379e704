// Package config loads the service's YAML configuration with environment
// overrides for the secrets that never belong in a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for wincledgerd.
type Config struct {
	Environment string         `yaml:"environment"`
	AdminListen string         `yaml:"admin_listen"`
	Database    DatabaseConfig `yaml:"database"`
	Gateways    GatewayConfig  `yaml:"gateways"`
	Pipeline    PipelineConfig `yaml:"pipeline"`
	Sweeper     SweeperConfig  `yaml:"sweeper"`
	Pricing     PricingConfig  `yaml:"pricing"`
	Auth        AuthConfig     `yaml:"auth"`
	Export      ExportConfig   `yaml:"export"`
	Logging     LoggingConfig  `yaml:"logging"`
	Otel        OtelConfig     `yaml:"otel"`
}

// DatabaseConfig points at the Postgres endpoints. The reader endpoint is
// optional; an empty value reuses the writer.
type DatabaseConfig struct {
	WriterEndpoint string `yaml:"writer_endpoint"`
	ReaderEndpoint string `yaml:"reader_endpoint"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Password       string `yaml:"password"`
}

// ChainConfig tunes one chain adapter.
type ChainConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ChainID          int64  `yaml:"chain_id"`
	MinConfirmations int64  `yaml:"min_confirmations"`
}

// GatewayConfig tunes the per-chain adapters and the shared poller.
type GatewayConfig struct {
	// DefaultMinConfirmations applies to every chain without an explicit
	// value. Arweave keeps its own, deeper default.
	DefaultMinConfirmations int64 `yaml:"default_min_confirmations"`

	Arweave  ChainConfig `yaml:"arweave"`
	Ethereum ChainConfig `yaml:"ethereum"`
	BaseEth  ChainConfig `yaml:"base_eth"`
	Matic    ChainConfig `yaml:"matic"`
	Solana   ChainConfig `yaml:"solana"`
	Kyve     ChainConfig `yaml:"kyve"`

	ArioProcessID string `yaml:"ario_process_id"`
	CuURL         string `yaml:"cu_url"`
	// Dust amounts verified against ArNS purchase messages.
	ArioLeaseNameDustAmount    int64 `yaml:"ario_lease_name_dust_amount"`
	ArioPermaBuyNameDustAmount int64 `yaml:"ario_perma_buy_name_dust_amount"`

	PollingWaitTime    Duration `yaml:"polling_wait_time"`
	MaxPollingAttempts int      `yaml:"max_polling_attempts"`
}

// PipelineConfig tunes the credit worker.
type PipelineConfig struct {
	Interval    Duration            `yaml:"interval"`
	GatewayRate float64             `yaml:"gateway_rate"`
	SettleAges  map[string]Duration `yaml:"settle_ages"`
	MaxLifetime map[string]Duration `yaml:"max_lifetimes"`
	Sinks       map[string]string   `yaml:"sinks"`
}

// SweeperConfig tunes the expiry sweeps.
type SweeperConfig struct {
	Interval Duration `yaml:"interval"`
}

// PricingConfig tunes catalog application.
type PricingConfig struct {
	MaxDiscount float64  `yaml:"max_discount"`
	CatalogTTL  Duration `yaml:"catalog_ttl"`
}

// AuthConfig tunes signature verification.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	NonceStoreDir string `yaml:"nonce_store_dir"`
}

// ExportConfig tunes the audit exporter.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// OtelConfig tunes trace and metric export.
type OtelConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Insecure      bool   `yaml:"insecure"`
	TracesEnabled bool   `yaml:"traces_enabled"`
	MetricsEnable bool   `yaml:"metrics_enabled"`
	Headers       string `yaml:"headers"`
}

// Load reads configuration from the supplied path. A missing path yields the
// defaults so tests and local runs need no file.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the file. Secrets and endpoints
// arrive this way in containerised deployments.
func applyEnv(cfg *Config) {
	setString(&cfg.Database.WriterEndpoint, "DB_WRITER_ENDPOINT")
	setString(&cfg.Database.ReaderEndpoint, "DB_READER_ENDPOINT")
	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Gateways.ArioProcessID, "ARIO_PROCESS_ID")
	setString(&cfg.Gateways.CuURL, "CU_URL")
	setInt64(&cfg.Gateways.ArioLeaseNameDustAmount, "ARIO_LEASE_NAME_DUST_AMOUNT")
	setInt64(&cfg.Gateways.ArioPermaBuyNameDustAmount, "ARIO_PERMA_BUY_NAME_DUST_AMOUNT")
	setInt64(&cfg.Gateways.DefaultMinConfirmations, "DEFAULT_MIN_CONFIRMATIONS")
	setInt64(&cfg.Gateways.Arweave.MinConfirmations, "ARWEAVE_MIN_CONFIRMATIONS")
	setInt64(&cfg.Gateways.Ethereum.MinConfirmations, "ETHEREUM_MIN_CONFIRMATIONS")
	setInt64(&cfg.Gateways.BaseEth.MinConfirmations, "BASE_ETH_MIN_CONFIRMATIONS")
	setInt64(&cfg.Gateways.Matic.MinConfirmations, "MATIC_MIN_CONFIRMATIONS")
	setInt64(&cfg.Gateways.Kyve.MinConfirmations, "KYVE_MIN_CONFIRMATIONS")
	if ms, ok := envInt("PAYMENT_TX_POLLING_WAIT_TIME_MS"); ok {
		cfg.Gateways.PollingWaitTime.Duration = time.Duration(ms) * time.Millisecond
	}
	setInt(&cfg.Gateways.MaxPollingAttempts, "MAX_PAYMENT_TX_POLLING_ATTEMPTS")
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.AdminListen == "" {
		cfg.AdminListen = ":8090"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.ReaderEndpoint == "" {
		cfg.Database.ReaderEndpoint = cfg.Database.WriterEndpoint
	}
	if cfg.Gateways.DefaultMinConfirmations == 0 {
		cfg.Gateways.DefaultMinConfirmations = 5
	}
	if cfg.Gateways.Arweave.MinConfirmations == 0 {
		cfg.Gateways.Arweave.MinConfirmations = 18
	}
	for _, chain := range []*ChainConfig{
		&cfg.Gateways.Ethereum, &cfg.Gateways.BaseEth,
		&cfg.Gateways.Matic, &cfg.Gateways.Kyve,
	} {
		if chain.MinConfirmations == 0 {
			chain.MinConfirmations = cfg.Gateways.DefaultMinConfirmations
		}
	}
	if cfg.Gateways.ArioLeaseNameDustAmount == 0 {
		cfg.Gateways.ArioLeaseNameDustAmount = 1
	}
	if cfg.Gateways.ArioPermaBuyNameDustAmount == 0 {
		cfg.Gateways.ArioPermaBuyNameDustAmount = 5
	}
	if cfg.Gateways.PollingWaitTime.Duration == 0 {
		cfg.Gateways.PollingWaitTime.Duration = 500 * time.Millisecond
	}
	if cfg.Gateways.MaxPollingAttempts == 0 {
		cfg.Gateways.MaxPollingAttempts = 5
	}
	if cfg.Pipeline.Interval.Duration == 0 {
		cfg.Pipeline.Interval.Duration = time.Minute
	}
	if cfg.Sweeper.Interval.Duration == 0 {
		cfg.Sweeper.Interval.Duration = time.Minute
	}
	if cfg.Pricing.CatalogTTL.Duration == 0 {
		cfg.Pricing.CatalogTTL.Duration = 5 * time.Minute
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
}

func validate(cfg Config) error {
	if cfg.Pricing.MaxDiscount < 0 || cfg.Pricing.MaxDiscount >= 1 {
		if cfg.Pricing.MaxDiscount != 0 {
			return fmt.Errorf("max_discount must be in [0, 1)")
		}
	}
	if cfg.Gateways.MaxPollingAttempts < 1 {
		return fmt.Errorf("max_polling_attempts must be positive")
	}
	return nil
}

// WriterDSN assembles the Postgres DSN for the writer endpoint.
func (d DatabaseConfig) WriterDSN() string {
	host := d.WriterEndpoint
	if host == "" {
		host = d.Host
	}
	return fmt.Sprintf("host=%s port=%d user=postgres password=%s dbname=wincledger sslmode=require",
		host, d.Port, d.Password)
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v, ok := envInt(key); ok {
		*target = int(v)
	}
}

func setInt64(target *int64, key string) {
	if v, ok := envInt(key); ok {
		*target = v
	}
}

func envInt(key string) (int64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
