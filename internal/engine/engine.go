package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/journal"
	"github.com/soitgoes887/tokenomics/internal/model"
	"github.com/soitgoes887/tokenomics/internal/news"
	"github.com/soitgoes887/tokenomics/internal/portfolio"
	"github.com/soitgoes887/tokenomics/internal/signal"
	"github.com/soitgoes887/tokenomics/internal/state"
)

// slowTickThreshold flags ticks that take long enough to eat into the poll
// interval.
const slowTickThreshold = 5 * time.Second

// closedMarketLogEvery spaces out clock logging while the market is closed.
const closedMarketLogEvery = 20

type newsSource interface {
	FetchNew(ctx context.Context) ([]model.NewsArticle, error)
	SeenIDs() []string
	RestoreSeenIDs(ids []string)
}

type classifier interface {
	ClassifyBatch(ctx context.Context, articles []model.NewsArticle) []model.SentimentResult
}

type brokerClient interface {
	SubmitBuy(ctx context.Context, signal *model.TradeSignal) (string, error)
	SubmitSell(ctx context.Context, symbol string, qty float64) (string, error)
	GetAccount(ctx context.Context) (*model.Account, error)
	GetOpenPositions(ctx context.Context) ([]model.BrokerPosition, error)
	GetPosition(ctx context.Context, symbol string) (*model.BrokerPosition, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	GetClock(ctx context.Context) (*model.Clock, error)
}

type stateStore interface {
	Save(ctx context.Context, positions model.PositionsSnapshot, risk model.RiskSnapshot, seenIDs []string) error
	Load(ctx context.Context) (*state.Document, error)
	IsSymbolHeldElsewhere(ctx context.Context, symbol string) bool
}

// Engine drives the trading loop: observe, classify, evaluate, gate, execute,
// persist. All collaborator calls are sequential within a tick; the ledger
// and gate are owned by the loop goroutine.
type Engine struct {
	cfg    config.Config
	logger *zap.Logger

	source    newsSource
	analyzer  classifier
	broker    brokerClient
	evaluator *signal.Evaluator
	ledger    *portfolio.Ledger
	gate      *portfolio.Gate
	store     stateStore
	journal   *journal.Journal

	tick            int
	closedTicks     int
	lastKnownEquity float64
}

// New wires an engine from its collaborators.
func New(
	cfg config.Config,
	logger *zap.Logger,
	source newsSource,
	analyzer classifier,
	brokerClient brokerClient,
	evaluator *signal.Evaluator,
	ledger *portfolio.Ledger,
	gate *portfolio.Gate,
	store stateStore,
	jrnl *journal.Journal,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		analyzer:  analyzer,
		broker:    brokerClient,
		evaluator: evaluator,
		ledger:    ledger,
		gate:      gate,
		store:     store,
		journal:   jrnl,
	}
}

// Run restores state, then ticks until ctx is cancelled. Per-tick errors are
// logged and the loop continues; only cancellation stops it.
func (e *Engine) Run(ctx context.Context) error {
	e.startup(ctx)

	ticker := time.NewTicker(e.cfg.Scheduler.PollInterval)
	defer ticker.Stop()

	e.runTickLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-ticker.C:
			e.runTickLogged(ctx)
		}
	}
}

// startup restores the persisted snapshot and reconciles against the broker.
// A load failure means a cold start, never a crash; the broker holds the
// truth and reconciliation recovers it.
func (e *Engine) startup(ctx context.Context) {
	doc, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("engine.state_load_failed_cold_start", zap.Error(err))
	} else if doc != nil {
		e.ledger.Restore(doc.Positions)
		e.gate.Restore(doc.Risk)
		e.source.RestoreSeenIDs(doc.SeenArticleIDs)
	}

	if account, err := e.broker.GetAccount(ctx); err != nil {
		e.logger.Warn("engine.account_unavailable_at_startup", zap.Error(err))
	} else {
		e.lastKnownEquity = account.Equity
		e.logger.Info("engine.account",
			zap.Float64("equity", account.Equity),
			zap.Float64("cash", account.Cash),
			zap.Float64("buying_power", account.BuyingPower),
			zap.String("status", account.Status),
		)
	}

	e.reconcile(ctx)

	e.logger.Info("engine.started",
		zap.String("profile_id", e.cfg.App.ProfileID),
		zap.Duration("poll_interval", e.cfg.Scheduler.PollInterval),
		zap.Int("open_positions", e.ledger.OpenCount()),
	)
}

func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.persist(ctx)

	stats := e.ledger.Stats()
	e.logger.Info("engine.stopped",
		zap.Int("ticks", e.tick),
		zap.Int("open_positions", stats.OpenCount),
		zap.Int("closed_positions", stats.ClosedCount),
		zap.Float64("total_pnl_usd", stats.TotalPnLUSD),
		zap.Float64("win_rate", stats.WinRate),
	)
}

func (e *Engine) runTickLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	e.tick++
	start := time.Now()

	if err := e.runTick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("engine.tick_failed",
			zap.Int("tick", e.tick),
			zap.Error(err),
		)
	}

	if elapsed := time.Since(start); elapsed > slowTickThreshold {
		e.logger.Warn("engine.slow_tick",
			zap.Int("tick", e.tick),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func (e *Engine) runTick(ctx context.Context) error {
	if e.cfg.Broker.MarketHoursOnly {
		open, err := e.broker.IsMarketOpen(ctx)
		if err != nil {
			return err
		}
		if !open {
			e.closedTicks++
			if e.closedTicks%closedMarketLogEvery == 1 {
				if clock, clockErr := e.broker.GetClock(ctx); clockErr == nil {
					e.logger.Info("engine.market_closed",
						zap.Time("next_open", clock.NextOpen),
						zap.Time("next_close", clock.NextClose),
					)
				}
			}
			return nil
		}
		e.closedTicks = 0
	}

	halted, haltReason := e.gate.IsHalted()

	// Exit scans run even while halted. Loss limits stop new risk, never
	// the management of risk already on the books.
	e.scanExits(ctx)

	if halted {
		e.logger.Warn("engine.halted", zap.String("reason", haltReason))
		e.persist(ctx)
		return nil
	}

	articles, err := e.source.FetchNew(ctx)
	if err != nil {
		e.persist(ctx)
		if errors.Is(err, news.ErrFetch) {
			e.logger.Warn("engine.news_unavailable_skipping_tick", zap.Int("tick", e.tick))
			return nil
		}
		return err
	}

	if len(articles) > 0 {
		results := e.analyzer.ClassifyBatch(ctx, articles)
		e.processResults(ctx, results)
	}

	if e.cfg.Scheduler.ReconcileEveryTick > 0 && e.tick%e.cfg.Scheduler.ReconcileEveryTick == 0 {
		e.reconcile(ctx)
	}

	e.persist(ctx)
	return nil
}

// scanExits checks every open position against its exit rules using the
// broker's current prices and executes any triggered exits.
func (e *Engine) scanExits(ctx context.Context) {
	if e.ledger.OpenCount() == 0 {
		return
	}

	positions, err := e.broker.GetOpenPositions(ctx)
	if err != nil {
		e.logger.Warn("engine.exit_scan_prices_unavailable", zap.Error(err))
		return
	}

	prices := make(map[string]float64, len(positions))
	for _, pos := range positions {
		if pos.CurrentPrice > 0 {
			prices[pos.Symbol] = pos.CurrentPrice
		}
	}

	for _, exit := range e.ledger.CheckExits(prices) {
		e.executeExit(ctx, exit.Symbol, exit.Reason, exit.Price)
	}
}

func (e *Engine) processResults(ctx context.Context, results []model.SentimentResult) {
	for _, result := range results {
		if ctx.Err() != nil {
			return
		}

		sig := e.evaluator.Evaluate(result, e.ledger.OpenSymbols(), e.ledger.OpenCount())
		if sig == nil {
			continue
		}
		e.journal.Record(ctx, journal.EventSignal, sig.Symbol, sig)

		approved, reason := e.gate.Approve(sig, e.ledger.OpenCount(), e.currentEquity(ctx))
		if !approved {
			e.logger.Info("engine.signal_rejected",
				zap.String("symbol", sig.Symbol),
				zap.String("action", string(sig.Action)),
				zap.String("reason", reason),
			)
			e.journal.Record(ctx, journal.EventRejection, sig.Symbol, map[string]string{
				"signal_id": sig.SignalID,
				"reason":    reason,
			})
			continue
		}

		switch sig.Action {
		case model.ActionBuy:
			if e.store.IsSymbolHeldElsewhere(ctx, sig.Symbol) {
				e.logger.Info("engine.signal_rejected",
					zap.String("symbol", sig.Symbol),
					zap.String("reason", "held_by_other_instance"),
				)
				e.journal.Record(ctx, journal.EventRejection, sig.Symbol, map[string]string{
					"signal_id": sig.SignalID,
					"reason":    "held_by_other_instance",
				})
				continue
			}
			e.executeBuy(ctx, sig)

		case model.ActionSell:
			pos := e.ledger.Get(sig.Symbol)
			if pos == nil {
				continue
			}
			// Entry price is an estimate of the exit fill; the realized
			// numbers are corrected when reconciliation next runs.
			e.executeExit(ctx, sig.Symbol, portfolio.ReasonSignalReversal, pos.EntryPrice)
		}
	}
}

// executeBuy submits the order and opens a ledger entry only once the broker
// confirms the fill. An unconfirmed fill is left for reconciliation to adopt.
func (e *Engine) executeBuy(ctx context.Context, sig *model.TradeSignal) {
	orderID, err := e.broker.SubmitBuy(ctx, sig)
	if err != nil {
		e.logger.Error("engine.buy_failed",
			zap.String("symbol", sig.Symbol),
			zap.Float64("size_usd", sig.PositionSizeUSD),
			zap.Error(err),
		)
		return
	}
	e.journal.Record(ctx, journal.EventOrderSubmitted, sig.Symbol, map[string]interface{}{
		"order_id":  orderID,
		"side":      "buy",
		"size_usd":  sig.PositionSizeUSD,
		"signal_id": sig.SignalID,
	})

	if !e.sleep(ctx, e.cfg.Scheduler.FillConfirmWait) {
		return
	}

	filled, err := e.broker.GetPosition(ctx, sig.Symbol)
	if err != nil {
		e.logger.Warn("engine.fill_check_failed",
			zap.String("symbol", sig.Symbol),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	if filled == nil || filled.Quantity <= 0 {
		e.logger.Warn("engine.fill_not_confirmed",
			zap.String("symbol", sig.Symbol),
			zap.String("order_id", orderID),
		)
		return
	}

	pos := e.ledger.Open(sig, orderID, filled.AvgEntryPrice, filled.Quantity)
	e.journal.Record(ctx, journal.EventPositionOpened, pos.Symbol, pos)
}

// executeExit sells the full tracked quantity and closes the ledger entry
// once the broker no longer reports the position.
func (e *Engine) executeExit(ctx context.Context, symbol, reason string, exitPrice float64) {
	pos := e.ledger.Get(symbol)
	if pos == nil {
		return
	}

	orderID, err := e.broker.SubmitSell(ctx, symbol, pos.Quantity)
	if err != nil {
		e.logger.Error("engine.sell_failed",
			zap.String("symbol", symbol),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	e.journal.Record(ctx, journal.EventOrderSubmitted, symbol, map[string]interface{}{
		"order_id": orderID,
		"side":     "sell",
		"qty":      pos.Quantity,
		"reason":   reason,
	})

	if !e.sleep(ctx, e.cfg.Scheduler.FillConfirmWait) {
		return
	}

	remaining, err := e.broker.GetPosition(ctx, symbol)
	if err != nil {
		e.logger.Warn("engine.fill_check_failed",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	if remaining != nil && remaining.Quantity > 0 {
		e.logger.Warn("engine.sell_not_confirmed",
			zap.String("symbol", symbol),
			zap.String("order_id", orderID),
			zap.Float64("remaining_qty", remaining.Quantity),
		)
		return
	}

	closed, ok := e.ledger.Close(symbol, exitPrice, reason)
	if !ok {
		return
	}
	e.gate.RecordRealizedPnL(closed.PnLUSD, closed.ExitDate)
	e.journal.Record(ctx, journal.EventPositionClosed, symbol, closed)
}

// reconcile diffs the ledger against the broker's positions, adopting what
// the broker holds but the ledger does not know about.
func (e *Engine) reconcile(ctx context.Context) {
	positions, err := e.broker.GetOpenPositions(ctx)
	if err != nil {
		e.logger.Warn("engine.reconcile_failed", zap.Error(err))
		return
	}

	for _, warning := range e.ledger.Reconcile(positions) {
		e.journal.Record(ctx, journal.EventReconcileWarning, "", warning)
	}
}

// persist saves the snapshot. Failures are logged and swallowed; one lost
// snapshot beats a dead loop, and the next tick saves again.
func (e *Engine) persist(ctx context.Context) {
	err := e.store.Save(ctx, e.ledger.Snapshot(), e.gate.Snapshot(), e.source.SeenIDs())
	if err != nil {
		e.logger.Warn("engine.persist_failed", zap.Error(err))
	}
}

// currentEquity returns the broker's equity, falling back to the last known
// value and then the configured capital when the account is unreachable.
func (e *Engine) currentEquity(ctx context.Context) float64 {
	account, err := e.broker.GetAccount(ctx)
	if err != nil {
		e.logger.Warn("engine.account_unavailable", zap.Error(err))
		if e.lastKnownEquity > 0 {
			return e.lastKnownEquity
		}
		return e.cfg.Strategy.CapitalUSD
	}
	e.lastKnownEquity = account.Equity
	return account.Equity
}

// sleep waits for d unless ctx is cancelled first. Returns false on
// cancellation.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
