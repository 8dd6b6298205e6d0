package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
	"github.com/soitgoes887/tokenomics/internal/retry"
)

type hyperliquidClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
}

// HyperliquidBroker trades perpetuals on Hyperliquid through ccxt. Crypto
// venues never close, so the market-hours queries always report open.
type HyperliquidBroker struct {
	cfg    config.BrokerConfig
	logger *zap.Logger
	client hyperliquidClient
}

// NewHyperliquidBroker creates the broker.
func NewHyperliquidBroker(cfg config.BrokerConfig, logger *zap.Logger) (*HyperliquidBroker, error) {
	if cfg.Wallet == "" || cfg.PrivateKey == "" {
		return nil, errors.New("broker: hyperliquid requires wallet_address and private_key")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"walletAddress":   cfg.Wallet,
		"privateKey":      cfg.PrivateKey,
	}
	client := ccxt.NewHyperliquid(userConfig)
	if cfg.UseSandbox {
		client.SetSandboxMode(true)
	}

	return &HyperliquidBroker{
		cfg:    cfg,
		logger: logger,
		client: client,
	}, nil
}

func isCcxtRetryable(err error) bool {
	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// SubmitBuy converts the signal's dollar size into a base-asset amount at the
// last traded price and places a market buy.
func (b *HyperliquidBroker) SubmitBuy(ctx context.Context, signal *model.TradeSignal) (string, error) {
	price, err := b.lastPrice(ctx, signal.Symbol)
	if err != nil {
		return "", fmt.Errorf("%w: buy %s: price lookup: %v", ErrOrder, signal.Symbol, err)
	}
	if price <= 0 {
		return "", fmt.Errorf("%w: buy %s: no last price", ErrOrder, signal.Symbol)
	}

	amount := signal.PositionSizeUSD / price
	orderID, err := b.createMarketOrder(ctx, signal.Symbol, "buy", amount)
	if err != nil {
		return "", fmt.Errorf("%w: buy %s: %v", ErrOrder, signal.Symbol, err)
	}
	return orderID, nil
}

// SubmitSell places a market sell for the full quantity.
func (b *HyperliquidBroker) SubmitSell(ctx context.Context, symbol string, qty float64) (string, error) {
	orderID, err := b.createMarketOrder(ctx, symbol, "sell", qty)
	if err != nil {
		return "", fmt.Errorf("%w: sell %s: %v", ErrOrder, symbol, err)
	}
	return orderID, nil
}

func (b *HyperliquidBroker) createMarketOrder(ctx context.Context, symbol, side string, amount float64) (string, error) {
	var order ccxt.Order
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "create_market_order", isCcxtRetryable, func() error {
		placed, err := b.client.CreateMarketOrder(symbol, side, amount)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		return "", err
	}
	return derefString(order.Id), nil
}

// GetAccount maps the exchange margin summary onto the account snapshot.
func (b *HyperliquidBroker) GetAccount(ctx context.Context) (*model.Account, error) {
	var balances ccxt.Balances
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "fetch_balance", isCcxtRetryable, func() error {
		fetched, err := b.client.FetchBalance()
		if err != nil {
			return err
		}
		balances = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	account := &model.Account{Status: "ACTIVE"}
	if balances.Total != nil {
		for _, code := range []string{"USDC", "USD", "USDT"} {
			if total, ok := balances.Total[code]; ok && total != nil {
				account.Equity = *total
				break
			}
		}
	}
	if balances.Free != nil {
		for _, code := range []string{"USDC", "USD", "USDT"} {
			if free, ok := balances.Free[code]; ok && free != nil {
				account.Cash = *free
				account.BuyingPower = *free
				break
			}
		}
	}
	if balances.Info != nil {
		if summary, ok := balances.Info["marginSummary"].(map[string]interface{}); ok {
			if v := parseNumeric(summary["accountValue"]); v > 0 {
				account.Equity = v
			}
		}
		if v := parseNumeric(balances.Info["withdrawable"]); v > 0 {
			account.Cash = v
			account.BuyingPower = v
		}
	}
	return account, nil
}

// GetOpenPositions returns every nonzero position.
func (b *HyperliquidBroker) GetOpenPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var raw []ccxt.Position
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "fetch_positions", isCcxtRetryable, func() error {
		fetched, err := b.client.FetchPositions()
		if err != nil {
			return err
		}
		raw = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}

	var positions []model.BrokerPosition
	for _, p := range raw {
		size := derefFloat(p.Contracts)
		if size == 0 {
			continue
		}
		positions = append(positions, convertCcxtPosition(p, size))
	}
	return positions, nil
}

// GetPosition returns one position, or (nil, nil) when the symbol is not held.
func (b *HyperliquidBroker) GetPosition(ctx context.Context, symbol string) (*model.BrokerPosition, error) {
	positions, err := b.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if strings.EqualFold(positions[i].Symbol, symbol) {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// IsMarketOpen always reports open.
func (b *HyperliquidBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	return true, nil
}

// GetClock reports a continuously open session.
func (b *HyperliquidBroker) GetClock(ctx context.Context) (*model.Clock, error) {
	now := time.Now().UTC()
	return &model.Clock{IsOpen: true, NextOpen: now, NextClose: now.AddDate(1, 0, 0)}, nil
}

func (b *HyperliquidBroker) lastPrice(ctx context.Context, symbol string) (float64, error) {
	var ticker ccxt.Ticker
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "fetch_ticker", isCcxtRetryable, func() error {
		fetched, err := b.client.FetchTicker(symbol)
		if err != nil {
			return err
		}
		ticker = fetched
		return nil
	})
	if err != nil {
		return 0, err
	}
	if last := derefFloat(ticker.Last); last > 0 {
		return last, nil
	}
	return derefFloat(ticker.Close), nil
}

func convertCcxtPosition(p ccxt.Position, size float64) model.BrokerPosition {
	entry := derefFloat(p.EntryPrice)
	mark := derefFloat(p.MarkPrice)
	notional := derefFloat(p.Notional)

	if p.Info != nil {
		if positionInfo, ok := p.Info["position"].(map[string]interface{}); ok {
			if mark == 0 {
				mark = parseNumeric(positionInfo["markPx"])
			}
			if notional == 0 {
				notional = parseNumeric(positionInfo["positionValue"])
			}
		}
	}
	if notional == 0 && mark > 0 {
		notional = size * mark
	}

	return model.BrokerPosition{
		Symbol:        derefString(p.Symbol),
		Quantity:      size,
		AvgEntryPrice: entry,
		CurrentPrice:  mark,
		MarketValue:   notional,
		UnrealizedPnL: derefFloat(p.UnrealizedPnl),
	}
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
