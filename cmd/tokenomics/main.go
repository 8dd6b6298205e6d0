package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soitgoes887/tokenomics/internal/analysis"
	"github.com/soitgoes887/tokenomics/internal/broker"
	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/engine"
	"github.com/soitgoes887/tokenomics/internal/journal"
	"github.com/soitgoes887/tokenomics/internal/log"
	"github.com/soitgoes887/tokenomics/internal/news"
	"github.com/soitgoes887/tokenomics/internal/portfolio"
	"github.com/soitgoes887/tokenomics/internal/signal"
	"github.com/soitgoes887/tokenomics/internal/state"
)

func main() {
	var (
		configPath string
		checkOnly  bool
	)
	flag.StringVar(&configPath, "config", "", "path to the config file, defaults to configs/config.yaml")
	flag.BoolVar(&checkOnly, "check", false, "probe the broker and state store, then exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	store, err := state.New(cfg.State, cfg.App.ProfileID, cfg.AccountGroupID(), logger)
	if err != nil {
		logger.Error("init state store", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("close state store", zap.Error(closeErr))
		}
	}()

	brokerClient, err := broker.New(cfg.Providers.Broker, cfg.Broker, logger)
	if err != nil {
		logger.Error("init broker", zap.Error(err))
		os.Exit(1)
	}

	if checkOnly {
		if err := runCheck(brokerClient, store, logger); err != nil {
			logger.Error("check failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("check passed")
		return
	}

	provider, err := news.New(cfg.Providers.News, cfg.News, logger)
	if err != nil {
		logger.Error("init news provider", zap.Error(err))
		os.Exit(1)
	}

	classifier, err := analysis.New(cfg.Providers.LLM, cfg.Sentiment, logger)
	if err != nil {
		logger.Error("init classifier", zap.Error(err))
		os.Exit(1)
	}

	jrnl, err := journal.Open(cfg.Journal, cfg.App.ProfileID, logger)
	if err != nil {
		logger.Error("init journal", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := jrnl.Close(); closeErr != nil {
			logger.Warn("close journal", zap.Error(closeErr))
		}
	}()

	ledger := portfolio.NewLedger(cfg.Risk, logger)
	gate := portfolio.NewGate(cfg.Risk, cfg.Strategy, logger)
	evaluator := signal.NewEvaluator(cfg.Strategy, cfg.Sentiment, logger)

	eng := engine.New(*cfg, logger, provider, classifier, brokerClient, evaluator, ledger, gate, store, jrnl)

	ctx, stop := osignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("engine exited with error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// runCheck probes every external dependency concurrently so a misconfigured
// instance fails fast instead of at the first tick.
func runCheck(brokerClient broker.Broker, store *state.Store, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		account, err := brokerClient.GetAccount(gctx)
		if err != nil {
			return fmt.Errorf("broker account: %w", err)
		}
		logger.Info("check.broker_account",
			zap.Float64("equity", account.Equity),
			zap.String("status", account.Status),
		)
		return nil
	})

	g.Go(func() error {
		clock, err := brokerClient.GetClock(gctx)
		if err != nil {
			return fmt.Errorf("market clock: %w", err)
		}
		logger.Info("check.market_clock",
			zap.Bool("is_open", clock.IsOpen),
			zap.Time("next_open", clock.NextOpen),
		)
		return nil
	})

	g.Go(func() error {
		if _, err := store.Load(gctx); err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		logger.Info("check.state_store_reachable")
		return nil
	})

	return g.Wait()
}
