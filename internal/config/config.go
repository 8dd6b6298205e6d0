package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "tokenomics"
)

// Load reads the YAML config file, overlays environment variables and
// returns a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file %q not found: %w", path, err)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.profile_id", "default")

	v.SetDefault("providers.news", "alpaca")
	v.SetDefault("providers.llm", "openai")
	v.SetDefault("providers.broker", "alpaca-paper")

	v.SetDefault("strategy.capital_usd", 10000.0)
	v.SetDefault("strategy.position_size_min_usd", 500.0)
	v.SetDefault("strategy.position_size_max_usd", 1000.0)
	v.SetDefault("strategy.max_open_positions", 10)

	v.SetDefault("sentiment.model", "gpt-4.1-mini")
	v.SetDefault("sentiment.base_url", "")
	v.SetDefault("sentiment.min_conviction", 70)
	v.SetDefault("sentiment.temperature", 0.2)
	v.SetDefault("sentiment.max_output_tokens", 1024)
	v.SetDefault("sentiment.timeout", "30s")

	v.SetDefault("risk.stop_loss_pct", 0.025)
	v.SetDefault("risk.take_profit_pct", 0.06)
	v.SetDefault("risk.max_hold_days", 91)
	v.SetDefault("risk.daily_loss_limit_pct", 0.05)
	v.SetDefault("risk.monthly_loss_limit_pct", 0.10)

	v.SetDefault("news.symbols", []string{})
	v.SetDefault("news.lookback_minutes", 15)
	v.SetDefault("news.exclude_contentless", true)
	v.SetDefault("news.retry.max_attempts", 3)
	v.SetDefault("news.retry.min_delay", "1s")
	v.SetDefault("news.retry.max_delay", "10s")

	v.SetDefault("broker.paper", true)
	v.SetDefault("broker.market_hours_only", true)
	v.SetDefault("broker.use_sandbox", false)
	v.SetDefault("broker.retry.max_attempts", 3)
	v.SetDefault("broker.retry.min_delay", "1s")
	v.SetDefault("broker.retry.max_delay", "10s")

	v.SetDefault("state.backend", "file")
	v.SetDefault("state.scope", "per-broker-account")
	v.SetDefault("state.dir", "data/state")
	v.SetDefault("state.sqlite_path", "data/tokenomics.db")
	v.SetDefault("state.redis_addr", "localhost:6379")
	v.SetDefault("state.redis_db", 0)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "data/journal.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.poll_interval", "30s")
	v.SetDefault("scheduler.fill_confirm_wait", "1s")
	v.SetDefault("scheduler.reconcile_every_ticks", 20)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
