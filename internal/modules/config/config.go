package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	databaseDSN       = "DATABASE_DSN"
	alphaVantageKey   = "ALPHA_VANTAGE_API_KEY"
	envPrefix         = "LEDGER"
	defaultConfigFile = "values_local.yaml"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverNone     = "none"
)

// Config ...
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
	Fallback FallbackConfig `mapstructure:"fallback" yaml:"fallback"`
	Quotes   QuotesConfig   `mapstructure:"quotes" yaml:"quotes"`
	Ledger   LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// RemoteConfig selects the primary document store.
type RemoteConfig struct {
	Driver   string        `mapstructure:"driver" yaml:"driver"` // postgres | mongo | none
	DSN      string        `mapstructure:"dsn" yaml:"dsn"`
	Database string        `mapstructure:"database" yaml:"database"` // mongo only
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`   // per call
}

type FallbackConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type QuotesConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Spread  float64       `mapstructure:"spread" yaml:"spread"` // fraction of the rate, 0.0002 => ±0.01%
}

type LedgerConfig struct {
	DefaultBalance float64 `mapstructure:"default_balance" yaml:"default_balance"`
	PnLMultiplier  float64 `mapstructure:"pnl_multiplier" yaml:"pnl_multiplier"`
	MarginRate     float64 `mapstructure:"margin_rate" yaml:"margin_rate"`
}

type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// Default returns the configuration used when no file overrides a key.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Remote: RemoteConfig{
			Driver:   DriverNone,
			Database: "paper_ledger",
			Timeout:  5 * time.Second,
		},
		Fallback: FallbackConfig{Dir: "data/ledger"},
		Quotes: QuotesConfig{
			URL:     "https://www.alphavantage.co/query",
			TTL:     60 * time.Second,
			Timeout: 10 * time.Second,
			Spread:  0.0002,
		},
		Ledger: LedgerConfig{
			DefaultBalance: 1000.0,
			PnLMultiplier:  100,
			MarginRate:     0.01,
		},
		Tracing: TracingConfig{Host: "localhost", Port: 6831},
	}
}

// NewConfig loads configs/$CONFIG_FILE (values_local.yaml by default).
func NewConfig() (*Config, error) {
	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFile
	}
	return Load(filepath.Join("configs", configFileName))
}

// Load reads path on top of Default() and applies LEDGER_* env overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if dsn := os.Getenv(databaseDSN); dsn != "" {
		cfg.Remote.DSN = dsn
	}
	if key := os.Getenv(alphaVantageKey); key != "" {
		cfg.Quotes.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("remote.driver", d.Remote.Driver)
	v.SetDefault("remote.dsn", d.Remote.DSN)
	v.SetDefault("remote.database", d.Remote.Database)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("fallback.dir", d.Fallback.Dir)
	v.SetDefault("quotes.url", d.Quotes.URL)
	v.SetDefault("quotes.api_key", d.Quotes.APIKey)
	v.SetDefault("quotes.ttl", d.Quotes.TTL)
	v.SetDefault("quotes.timeout", d.Quotes.Timeout)
	v.SetDefault("quotes.spread", d.Quotes.Spread)
	v.SetDefault("ledger.default_balance", d.Ledger.DefaultBalance)
	v.SetDefault("ledger.pnl_multiplier", d.Ledger.PnLMultiplier)
	v.SetDefault("ledger.margin_rate", d.Ledger.MarginRate)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.host", d.Tracing.Host)
	v.SetDefault("tracing.port", d.Tracing.Port)
}

// Validate checks the values the ledger cannot run without.
func (c *Config) Validate() error {
	switch c.Remote.Driver {
	case DriverPostgres, DriverMongo:
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for driver %q", c.Remote.Driver)
		}
	case DriverNone:
	default:
		return fmt.Errorf("remote.driver must be one of postgres, mongo, none; got %q", c.Remote.Driver)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Fallback.Dir == "" {
		return fmt.Errorf("fallback.dir is required")
	}
	if c.Quotes.TTL <= 0 {
		return fmt.Errorf("quotes.ttl must be positive")
	}
	if c.Quotes.Timeout <= 0 {
		return fmt.Errorf("quotes.timeout must be positive")
	}
	if c.Quotes.Spread < 0 || c.Quotes.Spread >= 1 {
		return fmt.Errorf("quotes.spread must be in [0, 1)")
	}
	if c.Ledger.DefaultBalance <= 0 {
		return fmt.Errorf("ledger.default_balance must be positive")
	}
	if c.Ledger.PnLMultiplier <= 0 {
		return fmt.Errorf("ledger.pnl_multiplier must be positive")
	}
	if c.Ledger.MarginRate <= 0 || c.Ledger.MarginRate > 1 {
		return fmt.Errorf("ledger.margin_rate must be in (0, 1]")
	}
	return nil
}

// YAML renders the effective configuration with the API key masked.
func (c *Config) YAML() (string, error) {
	out := *c
	if out.Quotes.APIKey != "" {
		out.Quotes.APIKey = "***"
	}
	b, err := yaml.Marshal(&out)
	if err != nil {
		return "", fmt.Errorf("marshal config to yaml: %w", err)
	}
	return string(b), nil
}
