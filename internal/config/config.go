// Package config loads macrostrat configuration from YAML, .env files, and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when MACROSTRAT_CONFIG is unset.
const DefaultPath = "config/macrostrat.yaml"

// Provider names accepted in data.providers.
const (
	ProviderAKShare = "akshare"
	ProviderAlpaca  = "alpaca"
	ProviderMock    = "mock"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for macrostrat.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Data     Data     `yaml:"data"`
	Backtest Backtest `yaml:"backtest"`
	Gather   Gather   `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	GRPCPort    int      `yaml:"grpc_port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger. File enables a rotated log file
// next to stdout.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Data configures price data providers. Providers maps a market ("cn",
// "us") to a provider name.
type Data struct {
	Providers       map[string]string `yaml:"providers"`
	PythonPath      string            `yaml:"python_path"`
	AKShareScript   string            `yaml:"akshare_script"`
	RateLimitPerMin int               `yaml:"rate_limit_per_min"`
	MaxRetries      int               `yaml:"max_retries"`
	RetryDelay      time.Duration     `yaml:"retry_delay"`
	CacheEnabled    bool              `yaml:"cache_enabled"`
}

// Backtest tunes the simulator and the comparator.
type Backtest struct {
	CommissionRate float64       `yaml:"commission_rate"`
	MaxGapDays     int           `yaml:"max_gap_days"`
	Workers        int           `yaml:"workers"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MaxStrategies  int           `yaml:"max_strategies"`
}

// Gather controls scheduled cache prefetching. An empty Assets list means
// every catalog asset.
type Gather struct {
	Schedule     string   `yaml:"schedule"`
	Assets       []string `yaml:"assets"`
	LookbackDays int      `yaml:"lookback_days"`
	Workers      int      `yaml:"workers"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/macrostrat.db",
		},
		Server: Server{
			Host:        "0.0.0.0",
			Port:        8080,
			GRPCPort:    9090,
			CORSOrigins: []string{"*"},
		},
		Logging: Logging{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Data: Data{
			Providers: map[string]string{
				"cn": ProviderAKShare,
				"us": ProviderAlpaca,
			},
			PythonPath:      "python3",
			AKShareScript:   "scripts/akshare_client.py",
			RateLimitPerMin: 60,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			CacheEnabled:    true,
		},
		Backtest: Backtest{
			CommissionRate: 0.0003,
			MaxGapDays:     15,
			Workers:        4,
			BatchTimeout:   2 * time.Minute,
			MaxStrategies:  10,
		},
		Gather: Gather{
			Schedule:     "0 30 18 * * 1-5",
			LookbackDays: 400,
			Workers:      2,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file location from MACROSTRAT_CONFIG, or
// DefaultPath.
func Path() string {
	if v := os.Getenv("MACROSTRAT_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// LoadEnvFiles loads .env style files into the environment. Missing files are
// ignored and variables already set are kept. With no arguments it loads
// ".env".
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at the given path over the defaults,
// then applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with
// environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	cfg = Default()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges and provider names.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	if c.Backtest.CommissionRate < 0 {
		errs = append(errs, fmt.Errorf("backtest.commission_rate must not be negative"))
	}
	if c.Backtest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("backtest.workers must be positive"))
	}
	if c.Backtest.MaxStrategies <= 0 {
		errs = append(errs, fmt.Errorf("backtest.max_strategies must be positive"))
	}
	if c.Backtest.MaxGapDays < 0 {
		errs = append(errs, fmt.Errorf("backtest.max_gap_days must not be negative"))
	}
	for market, name := range c.Data.Providers {
		switch name {
		case ProviderAKShare, ProviderAlpaca, ProviderMock:
		default:
			errs = append(errs, fmt.Errorf("data.providers.%s: unknown provider %q", market, name))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not json or text", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns the gRPC listen address, or "" when gRPC is disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
			}
		}
	}
	var errs []error
	num := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str(&cfg.Storage.DataDir, "DATA_DIR", "MACROSTRAT_DATA_DIR")
	str(&cfg.Storage.SQLitePath, "SQLITE_PATH")

	str(&cfg.Server.Host, "MACROSTRAT_HOST")
	num(&cfg.Server.Port, "MACROSTRAT_PORT")
	num(&cfg.Server.GRPCPort, "MACROSTRAT_GRPC_PORT")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}

	// Standard Alpaca env vars come last and win.
	str(&cfg.Alpaca.APIKey, "ALPACA_API_KEY", "APCA_API_KEY_ID")
	str(&cfg.Alpaca.APISecret, "ALPACA_API_SECRET", "APCA_API_SECRET_KEY")
	str(&cfg.Alpaca.DataURL, "ALPACA_DATA_URL")
	str(&cfg.Alpaca.Feed, "ALPACA_FEED")

	str(&cfg.Logging.Level, "LOG_LEVEL")
	str(&cfg.Logging.Format, "LOG_FORMAT")
	str(&cfg.Logging.File, "LOG_FILE")

	str(&cfg.Data.PythonPath, "PYTHON_PATH")
	str(&cfg.Data.AKShareScript, "AKSHARE_SCRIPT")
	if v := os.Getenv("DATA_PROVIDER"); v != "" {
		// Route every market to one provider, e.g. "mock" for offline runs.
		for market := range cfg.Data.Providers {
			cfg.Data.Providers[market] = v
		}
	}

	if v := os.Getenv("COMMISSION_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("COMMISSION_RATE: %w", err))
		} else {
			cfg.Backtest.CommissionRate = f
		}
	}
	num(&cfg.Backtest.Workers, "BACKTEST_WORKERS")

	str(&cfg.Gather.Schedule, "GATHER_SCHEDULE")

	return errors.Join(errs...)
}
