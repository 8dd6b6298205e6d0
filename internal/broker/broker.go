package broker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
)

// ErrOrder marks an order that the broker rejected or failed to place. The
// engine logs it and moves on; nothing is recorded in the ledger.
var ErrOrder = errors.New("broker: order failed")

// Broker is the execution venue capability. GetPosition returns (nil, nil)
// when the symbol is not held.
type Broker interface {
	SubmitBuy(ctx context.Context, signal *model.TradeSignal) (string, error)
	SubmitSell(ctx context.Context, symbol string, qty float64) (string, error)
	GetAccount(ctx context.Context) (*model.Account, error)
	GetOpenPositions(ctx context.Context) ([]model.BrokerPosition, error)
	GetPosition(ctx context.Context, symbol string) (*model.BrokerPosition, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	GetClock(ctx context.Context) (*model.Clock, error)
}

// New creates the broker selected by name.
func New(name string, cfg config.BrokerConfig, logger *zap.Logger) (Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "alpaca-paper":
		cfg.Paper = true
		return NewAlpacaBroker(cfg, logger), nil
	case "alpaca-live":
		cfg.Paper = false
		return NewAlpacaBroker(cfg, logger), nil
	case "hyperliquid":
		return NewHyperliquidBroker(cfg, logger)
	default:
		return nil, fmt.Errorf("broker: unknown provider %q", name)
	}
}
