package portfolio

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

// Exit reasons recorded in the closed status of a position.
const (
	ReasonStopLoss       = "stop_loss"
	ReasonTakeProfit     = "take_profit"
	ReasonMaxHold        = "max_hold"
	ReasonSignalReversal = "signal_reversal"
)

// ExitCandidate is one open position that crossed an exit threshold.
type ExitCandidate struct {
	Symbol string
	Reason string
	Price  float64
}

// PortfolioStats aggregates realized performance across the closed history.
type PortfolioStats struct {
	OpenCount      int     `json:"open_positions"`
	ClosedCount    int     `json:"total_closed"`
	TotalPnLUSD    float64 `json:"total_pnl_usd"`
	WinRate        float64 `json:"win_rate"`
	AvgPnLPerTrade float64 `json:"avg_pnl_per_trade"`
}

// Ledger owns the authoritative set of open and closed positions. It is
// exclusively owned by the engine loop goroutine and needs no locking.
type Ledger struct {
	cfg      config.RiskConfig
	logger   *zap.Logger
	tradeLog *zap.Logger

	open   map[string]*model.Position
	closed []*model.Position
}

// NewLedger creates an empty position ledger.
func NewLedger(cfg config.RiskConfig, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		cfg:      cfg,
		logger:   logger,
		tradeLog: logger.Named("trade"),
		open:     make(map[string]*model.Position),
	}
}

// Open records a new position from a confirmed order fill. The caller is
// responsible for passing the broker-confirmed fill price and quantity.
func (l *Ledger) Open(signal *model.TradeSignal, orderID string, fillPrice, quantity float64) *model.Position {
	now := time.Now().UTC()

	pos := &model.Position{
		Symbol:          signal.Symbol,
		BrokerOrderID:   orderID,
		EntryPrice:      fillPrice,
		Quantity:        quantity,
		PositionSizeUSD: fillPrice * quantity,
		EntryDate:       now,
		Signal:          signal,
		StopLossPrice:   fillPrice * (1 - l.cfg.StopLossPct),
		TakeProfitPrice: fillPrice * (1 + l.cfg.TakeProfitPct),
		MaxHoldDate:     now.AddDate(0, 0, l.cfg.MaxHoldDays),
		Status:          model.StatusOpen,
	}

	l.open[signal.Symbol] = pos

	l.tradeLog.Info("trade.opened",
		zap.String("symbol", pos.Symbol),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("position_size", pos.PositionSizeUSD),
		zap.Float64("stop_loss", pos.StopLossPrice),
		zap.Float64("take_profit", pos.TakeProfitPrice),
		zap.Time("max_hold_date", pos.MaxHoldDate),
		zap.String("order_id", orderID),
		zap.Int("conviction", signal.Conviction),
		zap.String("article_id", signal.ArticleID),
	)

	return pos
}

// CheckExits evaluates every open position against the exit rules in
// priority order: stop-loss, then take-profit, then max-hold. A symbol
// matches at most one reason per call. Symbols absent from prices are
// skipped, never treated as exits.
func (l *Ledger) CheckExits(prices map[string]float64) []ExitCandidate {
	var exits []ExitCandidate
	now := time.Now().UTC()

	for symbol, pos := range l.open {
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		switch {
		case price <= pos.StopLossPrice:
			exits = append(exits, ExitCandidate{Symbol: symbol, Reason: ReasonStopLoss, Price: price})
		case price >= pos.TakeProfitPrice:
			exits = append(exits, ExitCandidate{Symbol: symbol, Reason: ReasonTakeProfit, Price: price})
		case !now.Before(pos.MaxHoldDate):
			exits = append(exits, ExitCandidate{Symbol: symbol, Reason: ReasonMaxHold, Price: price})
		}
	}

	return exits
}

// Close removes a position from the open set, computes realized P&L and
// appends it to the closed history. Closing an unknown symbol is a no-op
// reported through the second return value, not an error.
func (l *Ledger) Close(symbol string, exitPrice float64, reason string) (*model.Position, bool) {
	pos, ok := l.open[symbol]
	if !ok {
		l.logger.Warn("position.close_not_found", zap.String("symbol", symbol))
		return nil, false
	}
	delete(l.open, symbol)

	pos.ExitPrice = exitPrice
	pos.ExitDate = time.Now().UTC()
	pos.Status = model.ClosedStatus(reason)
	pos.PnLUSD = (exitPrice - pos.EntryPrice) * pos.Quantity
	pos.PnLPct = (exitPrice - pos.EntryPrice) / pos.EntryPrice

	l.closed = append(l.closed, pos)

	l.tradeLog.Info("trade.closed",
		zap.String("symbol", pos.Symbol),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("pnl_usd", pos.PnLUSD),
		zap.Float64("pnl_pct", pos.PnLPct),
		zap.String("reason", reason),
		zap.Int("hold_days", int(pos.ExitDate.Sub(pos.EntryDate).Hours()/24)),
	)

	return pos, true
}

// Reconcile diffs the ledger against the broker's view. Untracked broker
// positions are adopted with a synthetic order id and no originating signal.
// Local positions the broker does not report only produce warnings; closing
// them is an operator decision, not something done automatically.
func (l *Ledger) Reconcile(brokerPositions []model.BrokerPosition) []string {
	var warnings []string
	now := time.Now().UTC()

	bySymbol := make(map[string]model.BrokerPosition, len(brokerPositions))
	for _, bp := range brokerPositions {
		bySymbol[bp.Symbol] = bp
	}

	for symbol := range l.open {
		if _, ok := bySymbol[symbol]; !ok {
			warnings = append(warnings, fmt.Sprintf("local position %s not reported by broker", symbol))
			l.logger.Warn("reconcile.missing_in_broker", zap.String("symbol", symbol))
		}
	}

	for symbol, bp := range bySymbol {
		if _, ok := l.open[symbol]; ok {
			continue
		}

		pos := &model.Position{
			Symbol:          symbol,
			BrokerOrderID:   "reconciled-" + uuid.NewString(),
			EntryPrice:      bp.AvgEntryPrice,
			Quantity:        bp.Quantity,
			PositionSizeUSD: bp.AvgEntryPrice * bp.Quantity,
			EntryDate:       now,
			Signal:          nil,
			StopLossPrice:   bp.AvgEntryPrice * (1 - l.cfg.StopLossPct),
			TakeProfitPrice: bp.AvgEntryPrice * (1 + l.cfg.TakeProfitPct),
			MaxHoldDate:     now.AddDate(0, 0, l.cfg.MaxHoldDays),
			Status:          model.StatusOpen,
		}
		l.open[symbol] = pos

		warnings = append(warnings, fmt.Sprintf("adopted untracked broker position %s (qty %.4f @ %.2f)", symbol, bp.Quantity, bp.AvgEntryPrice))
		l.tradeLog.Warn("reconcile.position_adopted",
			zap.String("symbol", symbol),
			zap.Float64("quantity", bp.Quantity),
			zap.Float64("avg_entry_price", bp.AvgEntryPrice),
			zap.String("order_id", pos.BrokerOrderID),
		)
	}

	return warnings
}

// OpenSymbols returns the set of symbols with an open position.
func (l *Ledger) OpenSymbols() map[string]struct{} {
	symbols := make(map[string]struct{}, len(l.open))
	for symbol := range l.open {
		symbols[symbol] = struct{}{}
	}
	return symbols
}

// OpenCount returns the number of open positions.
func (l *Ledger) OpenCount() int {
	return len(l.open)
}

// Get returns the open position for symbol, or nil.
func (l *Ledger) Get(symbol string) *model.Position {
	return l.open[symbol]
}

// AllOpen returns every open position.
func (l *Ledger) AllOpen() []*model.Position {
	positions := make([]*model.Position, 0, len(l.open))
	for _, pos := range l.open {
		positions = append(positions, pos)
	}
	return positions
}

// Stats computes aggregate portfolio statistics over the closed history.
func (l *Ledger) Stats() PortfolioStats {
	stats := PortfolioStats{
		OpenCount:   len(l.open),
		ClosedCount: len(l.closed),
	}
	if len(l.closed) == 0 {
		return stats
	}

	wins := 0
	for _, pos := range l.closed {
		stats.TotalPnLUSD += pos.PnLUSD
		if pos.PnLUSD > 0 {
			wins++
		}
	}
	stats.WinRate = float64(wins) / float64(len(l.closed))
	stats.AvgPnLPerTrade = stats.TotalPnLUSD / float64(len(l.closed))

	return stats
}

// Snapshot serializes the full ledger for persistence.
func (l *Ledger) Snapshot() model.PositionsSnapshot {
	open := make(map[string]*model.Position, len(l.open))
	for symbol, pos := range l.open {
		open[symbol] = pos
	}
	closed := make([]*model.Position, len(l.closed))
	copy(closed, l.closed)
	return model.PositionsSnapshot{Open: open, Closed: closed}
}

// Restore replaces the ledger contents with a persisted snapshot.
func (l *Ledger) Restore(snapshot model.PositionsSnapshot) {
	l.open = make(map[string]*model.Position, len(snapshot.Open))
	for symbol, pos := range snapshot.Open {
		l.open[symbol] = pos
	}
	l.closed = make([]*model.Position, len(snapshot.Closed))
	copy(l.closed, snapshot.Closed)

	l.logger.Info("positions.restored",
		zap.Int("open", len(l.open)),
		zap.Int("closed", len(l.closed)),
	)
}
