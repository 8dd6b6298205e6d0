package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config aggregates every setting the engine needs to run.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Risk      RiskConfig      `mapstructure:"risk"`
	News      NewsConfig      `mapstructure:"news"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	State     StateConfig     `mapstructure:"state"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AppConfig holds application-level parameters. ProfileID identifies this
// engine instance in the shared state store.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	ProfileID   string `mapstructure:"profile_id"`
}

// ProvidersConfig selects the concrete collaborator implementations.
type ProvidersConfig struct {
	News   string `mapstructure:"news"`
	LLM    string `mapstructure:"llm"`
	Broker string `mapstructure:"broker"`
}

// StrategyConfig bounds position sizing and portfolio capacity.
type StrategyConfig struct {
	CapitalUSD         float64 `mapstructure:"capital_usd"`
	PositionSizeMinUSD float64 `mapstructure:"position_size_min_usd"`
	PositionSizeMaxUSD float64 `mapstructure:"position_size_max_usd"`
	MaxOpenPositions   int     `mapstructure:"max_open_positions"`
}

// SentimentConfig drives the LLM classifier.
type SentimentConfig struct {
	Model           string        `mapstructure:"model"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	MinConviction   int           `mapstructure:"min_conviction"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// RiskConfig holds exit thresholds and loss limits.
type RiskConfig struct {
	StopLossPct         float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct       float64 `mapstructure:"take_profit_pct"`
	MaxHoldDays         int     `mapstructure:"max_hold_days"`
	DailyLossLimitPct   float64 `mapstructure:"daily_loss_limit_pct"`
	MonthlyLossLimitPct float64 `mapstructure:"monthly_loss_limit_pct"`
}

// NewsConfig controls the observation source.
type NewsConfig struct {
	Symbols            []string    `mapstructure:"symbols"`
	LookbackMinutes    int         `mapstructure:"lookback_minutes"`
	ExcludeContentless bool        `mapstructure:"exclude_contentless"`
	APIKey             string      `mapstructure:"api_key"`
	APISecret          string      `mapstructure:"api_secret"`
	FinnhubToken       string      `mapstructure:"finnhub_token"`
	Retry              RetryConfig `mapstructure:"retry"`
}

// BrokerConfig describes the brokerage connection.
type BrokerConfig struct {
	Paper           bool        `mapstructure:"paper"`
	MarketHoursOnly bool        `mapstructure:"market_hours_only"`
	APIKey          string      `mapstructure:"api_key"`
	APISecret       string      `mapstructure:"api_secret"`
	AccountID       string      `mapstructure:"account_id"`
	Wallet          string      `mapstructure:"wallet_address"`
	PrivateKey      string      `mapstructure:"private_key"`
	UseSandbox      bool        `mapstructure:"use_sandbox"`
	Retry           RetryConfig `mapstructure:"retry"`
}

// StateConfig selects the persistence backend and its sharing scope.
type StateConfig struct {
	Backend       string `mapstructure:"backend"`
	Scope         string `mapstructure:"scope"`
	Dir           string `mapstructure:"dir"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// JournalConfig controls the sqlite trade/decision journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RetryConfig bounds collaborator retry behavior.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig controls the tick cadence.
type SchedulerConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	FillConfirmWait    time.Duration `mapstructure:"fill_confirm_wait"`
	ReconcileEveryTick int           `mapstructure:"reconcile_every_ticks"`
}

// State backend and scope values.
const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
	StateBackendRedis  = "redis"

	ScopePerInstance      = "per-instance"
	ScopePerBrokerAccount = "per-broker-account"
)

// Validate performs startup validation. A failure here is the only condition
// that terminates the process before the loop starts.
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment must not be empty"))
	}
	if c.App.ProfileID == "" {
		err = multierr.Append(err, errors.New("app.profile_id must not be empty"))
	}

	if c.Strategy.CapitalUSD <= 0 {
		err = multierr.Append(err, errors.New("strategy.capital_usd must be positive"))
	}
	if c.Strategy.PositionSizeMinUSD <= 0 {
		err = multierr.Append(err, errors.New("strategy.position_size_min_usd must be positive"))
	}
	if c.Strategy.PositionSizeMaxUSD < c.Strategy.PositionSizeMinUSD {
		err = multierr.Append(err, errors.New("strategy.position_size_max_usd must be >= position_size_min_usd"))
	}
	if c.Strategy.MaxOpenPositions < 1 || c.Strategy.MaxOpenPositions > 100 {
		err = multierr.Append(err, errors.New("strategy.max_open_positions must be in [1,100]"))
	}

	if c.Sentiment.Model == "" {
		err = multierr.Append(err, errors.New("sentiment.model must not be empty"))
	}
	if c.Sentiment.APIKey == "" {
		err = multierr.Append(err, errors.New("sentiment.api_key must not be empty"))
	}
	if c.Sentiment.MinConviction < 0 || c.Sentiment.MinConviction > 100 {
		err = multierr.Append(err, errors.New("sentiment.min_conviction must be in [0,100]"))
	}
	if c.Sentiment.Temperature < 0 || c.Sentiment.Temperature > 2 {
		err = multierr.Append(err, errors.New("sentiment.temperature must be in [0,2]"))
	}
	if c.Sentiment.MaxOutputTokens <= 0 {
		err = multierr.Append(err, errors.New("sentiment.max_output_tokens must be positive"))
	}
	if c.Sentiment.Timeout <= 0 {
		err = multierr.Append(err, errors.New("sentiment.timeout must be positive"))
	}

	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		err = multierr.Append(err, errors.New("risk.stop_loss_pct must be in (0,1)"))
	}
	if c.Risk.TakeProfitPct <= 0 || c.Risk.TakeProfitPct >= 1 {
		err = multierr.Append(err, errors.New("risk.take_profit_pct must be in (0,1)"))
	}
	if c.Risk.MaxHoldDays <= 0 {
		err = multierr.Append(err, errors.New("risk.max_hold_days must be positive"))
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.DailyLossLimitPct >= 1 {
		err = multierr.Append(err, errors.New("risk.daily_loss_limit_pct must be in (0,1)"))
	}
	if c.Risk.MonthlyLossLimitPct <= 0 || c.Risk.MonthlyLossLimitPct >= 1 {
		err = multierr.Append(err, errors.New("risk.monthly_loss_limit_pct must be in (0,1)"))
	}

	if c.News.LookbackMinutes < 1 || c.News.LookbackMinutes > 60 {
		err = multierr.Append(err, errors.New("news.lookback_minutes must be in [1,60]"))
	}
	err = multierr.Append(err, validateRetry("news", c.News.Retry))
	err = multierr.Append(err, validateRetry("broker", c.Broker.Retry))

	switch c.Providers.News {
	case "alpaca":
		if c.News.APIKey == "" || c.News.APISecret == "" {
			err = multierr.Append(err, errors.New("news provider alpaca requires news.api_key and news.api_secret"))
		}
	case "finnhub":
		if c.News.FinnhubToken == "" {
			err = multierr.Append(err, errors.New("news provider finnhub requires news.finnhub_token"))
		}
		if len(c.News.Symbols) == 0 {
			err = multierr.Append(err, errors.New("news provider finnhub requires news.symbols"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown news provider %q", c.Providers.News))
	}

	switch c.Providers.LLM {
	case "openai", "perplexity":
	default:
		err = multierr.Append(err, fmt.Errorf("unknown llm provider %q", c.Providers.LLM))
	}

	switch c.Providers.Broker {
	case "alpaca-paper", "alpaca-live":
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			err = multierr.Append(err, errors.New("alpaca broker requires broker.api_key and broker.api_secret"))
		}
	case "hyperliquid":
		if c.Broker.Wallet == "" || c.Broker.PrivateKey == "" {
			err = multierr.Append(err, errors.New("hyperliquid broker requires broker.wallet_address and broker.private_key"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown broker provider %q", c.Providers.Broker))
	}

	switch c.State.Backend {
	case StateBackendFile:
		if c.State.Dir == "" {
			err = multierr.Append(err, errors.New("state backend file requires state.dir"))
		}
	case StateBackendSQLite:
		if c.State.SQLitePath == "" {
			err = multierr.Append(err, errors.New("state backend sqlite requires state.sqlite_path"))
		}
	case StateBackendRedis:
		if c.State.RedisAddr == "" {
			err = multierr.Append(err, errors.New("state backend redis requires state.redis_addr"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown state backend %q", c.State.Backend))
	}

	switch c.State.Scope {
	case ScopePerInstance, ScopePerBrokerAccount:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown state scope %q", c.State.Scope))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		err = multierr.Append(err, errors.New("journal.path must not be empty when journal is enabled"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level must not be empty"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding must not be empty"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths needs at least one target"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths needs at least one target"))
	}

	if c.Scheduler.PollInterval < 10*time.Second {
		err = multierr.Append(err, errors.New("scheduler.poll_interval must be at least 10s"))
	}
	if c.Scheduler.FillConfirmWait <= 0 {
		err = multierr.Append(err, errors.New("scheduler.fill_confirm_wait must be positive"))
	}
	if c.Scheduler.ReconcileEveryTick <= 0 {
		err = multierr.Append(err, errors.New("scheduler.reconcile_every_ticks must be positive"))
	}

	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

func validateRetry(section string, r RetryConfig) error {
	var err error
	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.retry.max_attempts must be positive", section))
	}
	if r.MinDelay <= 0 || r.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.retry delays must be positive", section))
	}
	if r.MinDelay > r.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.retry.min_delay must not exceed max_delay", section))
	}
	return err
}

// AccountGroupID returns the identifier used to group snapshot documents
// from instances pointed at the same brokerage account.
func (c *Config) AccountGroupID() string {
	if c.Broker.AccountID != "" {
		return c.Broker.AccountID
	}
	if c.Broker.APIKey != "" {
		return strings.ToLower(c.Providers.Broker) + ":" + c.Broker.APIKey
	}
	if c.Broker.Wallet != "" {
		return strings.ToLower(c.Providers.Broker) + ":" + c.Broker.Wallet
	}
	return strings.ToLower(c.Providers.Broker)
}
