package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
sentiment:
  api_key: llm-key
news:
  api_key: alpaca-key
  api_secret: alpaca-secret
broker:
  api_key: broker-key
  api_secret: broker-secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.App.ProfileID)
	assert.Equal(t, "alpaca", cfg.Providers.News)
	assert.Equal(t, "alpaca-paper", cfg.Providers.Broker)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, time.Second, cfg.Scheduler.FillConfirmWait)
	assert.Equal(t, 20, cfg.Scheduler.ReconcileEveryTick)
	assert.Equal(t, 0.025, cfg.Risk.StopLossPct)
	assert.Equal(t, 91, cfg.Risk.MaxHoldDays)
	assert.Equal(t, 70, cfg.Sentiment.MinConviction)
	assert.Equal(t, StateBackendFile, cfg.State.Backend)
	assert.Equal(t, ScopePerBrokerAccount, cfg.State.Scope)
}

func TestLoadParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
scheduler:
  poll_interval: 45s
  fill_confirm_wait: 2s
`))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.FillConfirmWait)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"short poll interval",
			func(c *Config) { c.Scheduler.PollInterval = 5 * time.Second },
			"poll_interval",
		},
		{
			"missing llm key",
			func(c *Config) { c.Sentiment.APIKey = "" },
			"sentiment.api_key",
		},
		{
			"alpaca news without credentials",
			func(c *Config) { c.News.APIKey = "" },
			"news provider alpaca",
		},
		{
			"finnhub without symbols",
			func(c *Config) {
				c.Providers.News = "finnhub"
				c.News.FinnhubToken = "tok"
				c.News.Symbols = nil
			},
			"news.symbols",
		},
		{
			"hyperliquid without wallet",
			func(c *Config) { c.Providers.Broker = "hyperliquid" },
			"wallet_address",
		},
		{
			"unknown state backend",
			func(c *Config) { c.State.Backend = "dynamo" },
			"state backend",
		},
		{
			"unknown scope",
			func(c *Config) { c.State.Scope = "global" },
			"scope",
		},
		{
			"stop loss out of range",
			func(c *Config) { c.Risk.StopLossPct = 1.5 },
			"stop_loss_pct",
		},
		{
			"journal enabled without path",
			func(c *Config) { c.Journal.Path = "" },
			"journal.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalConfig))
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	cfg.Sentiment.APIKey = ""
	cfg.Scheduler.PollInterval = time.Second

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentiment.api_key")
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestAccountGroupID(t *testing.T) {
	cfg := &Config{Providers: ProvidersConfig{Broker: "alpaca-paper"}}

	cfg.Broker.AccountID = "acct-42"
	assert.Equal(t, "acct-42", cfg.AccountGroupID())

	cfg.Broker.AccountID = ""
	cfg.Broker.APIKey = "KEY"
	assert.Equal(t, "alpaca-paper:KEY", cfg.AccountGroupID())

	cfg.Broker.APIKey = ""
	cfg.Broker.Wallet = "0xabc"
	assert.Equal(t, "alpaca-paper:0xabc", cfg.AccountGroupID())
}
