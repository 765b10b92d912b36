package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000.0, cfg.Ledger.DefaultBalance)
	assert.Equal(t, 100.0, cfg.Ledger.PnLMultiplier)
	assert.Equal(t, 0.01, cfg.Ledger.MarginRate)
	assert.Equal(t, 60*time.Second, cfg.Quotes.TTL)
	assert.Equal(t, DriverNone, cfg.Remote.Driver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Remote.Driver = "firestore" }, "remote.driver"},
		{"postgres without dsn", func(c *Config) { c.Remote.Driver = DriverPostgres }, "remote.dsn"},
		{"mongo with dsn", func(c *Config) {
			c.Remote.Driver = DriverMongo
			c.Remote.DSN = "mongodb://localhost:27017"
		}, ""},
		{"empty fallback dir", func(c *Config) { c.Fallback.Dir = "" }, "fallback.dir"},
		{"zero ttl", func(c *Config) { c.Quotes.TTL = 0 }, "quotes.ttl"},
		{"negative balance", func(c *Config) { c.Ledger.DefaultBalance = -1 }, "ledger.default_balance"},
		{"margin rate above one", func(c *Config) { c.Ledger.MarginRate = 1.5 }, "ledger.margin_rate"},
		{"zero multiplier", func(c *Config) { c.Ledger.PnLMultiplier = 0 }, "ledger.pnl_multiplier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	body := `
remote:
  driver: postgres
  dsn: postgres://u:p@localhost:5432/ledger
  timeout: 2s
fallback:
  dir: /tmp/ledger
ledger:
  margin_rate: 0.02
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Remote.Driver)
	assert.Equal(t, 2*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "/tmp/ledger", cfg.Fallback.Dir)
	assert.Equal(t, 0.02, cfg.Ledger.MarginRate)
	// untouched keys keep their defaults
	assert.Equal(t, 1000.0, cfg.Ledger.DefaultBalance)
	assert.Equal(t, 60*time.Second, cfg.Quotes.TTL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Ledger, cfg.Ledger)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_LEDGER_DEFAULT_BALANCE", "2500")
	t.Setenv("DATABASE_DSN", "postgres://env/ledger")
	t.Setenv("LEDGER_REMOTE_DRIVER", "postgres")
	t.Setenv("ALPHA_VANTAGE_API_KEY", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2500.0, cfg.Ledger.DefaultBalance)
	assert.Equal(t, "postgres://env/ledger", cfg.Remote.DSN)
	assert.Equal(t, "secret", cfg.Quotes.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote:\n  driver: redis\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.driver")
}

func TestYAMLMasksAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Quotes.APIKey = "secret"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, out, "***")
	assert.NotContains(t, out, "secret")
	assert.Equal(t, "secret", cfg.Quotes.APIKey)
}
