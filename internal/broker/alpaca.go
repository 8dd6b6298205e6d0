package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/soitgoes887/tokenomics/internal/config"
	"github.com/soitgoes887/tokenomics/internal/model"
	"github.com/soitgoes887/tokenomics/internal/retry"
)

const (
	alpacaPaperURL = "https://paper-api.alpaca.markets"
	alpacaLiveURL  = "https://api.alpaca.markets"
	alpacaDataURL  = "https://data.alpaca.markets"
)

// AlpacaBroker talks to the Alpaca trading REST API.
type AlpacaBroker struct {
	cfg     config.BrokerConfig
	logger  *zap.Logger
	baseURL string

	client  *http.Client
	limiter *rate.Limiter
}

// NewAlpacaBroker creates the broker. The limiter stays under Alpaca's
// 200 req/min account cap.
func NewAlpacaBroker(cfg config.BrokerConfig, logger *zap.Logger) *AlpacaBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := alpacaLiveURL
	if cfg.Paper {
		baseURL = alpacaPaperURL
	}
	return &AlpacaBroker{
		cfg:     cfg,
		logger:  logger,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(350*time.Millisecond), 3),
	}
}

type apiError struct {
	Code int
	Body string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker: http status %d: %s", e.Code, e.Body)
}

func isRetryable(err error) bool {
	var statusErr *apiError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type alpacaAccount struct {
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Status      string `json:"status"`
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

type alpacaOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type alpacaClock struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type orderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	Notional    string `json:"notional,omitempty"`
	Qty         string `json:"qty,omitempty"`
}

// SubmitBuy places a notional market buy. Non-fractionable assets reject
// notional orders, so those fall back to a whole-share quantity computed from
// the latest trade price.
func (b *AlpacaBroker) SubmitBuy(ctx context.Context, signal *model.TradeSignal) (string, error) {
	order := orderRequest{
		Symbol:      signal.Symbol,
		Side:        "buy",
		Type:        "market",
		TimeInForce: timeInForce(signal.Symbol),
		Notional:    strconv.FormatFloat(signal.PositionSizeUSD, 'f', 2, 64),
	}

	orderID, err := b.submitOrder(ctx, order)
	if err == nil {
		return orderID, nil
	}
	if !isNotFractionable(err) {
		return "", fmt.Errorf("%w: buy %s: %v", ErrOrder, signal.Symbol, err)
	}

	price, priceErr := b.latestTradePrice(ctx, signal.Symbol)
	if priceErr != nil || price <= 0 {
		return "", fmt.Errorf("%w: buy %s: whole-share fallback price lookup: %v", ErrOrder, signal.Symbol, priceErr)
	}
	shares := math.Floor(signal.PositionSizeUSD / price)
	if shares < 1 {
		return "", fmt.Errorf("%w: buy %s: size $%.2f below one share at $%.2f", ErrOrder, signal.Symbol, signal.PositionSizeUSD, price)
	}

	b.logger.Info("broker.whole_share_fallback",
		zap.String("symbol", signal.Symbol),
		zap.Float64("price", price),
		zap.Float64("shares", shares),
	)

	order.Notional = ""
	order.Qty = strconv.FormatFloat(shares, 'f', -1, 64)
	orderID, err = b.submitOrder(ctx, order)
	if err != nil {
		return "", fmt.Errorf("%w: buy %s: %v", ErrOrder, signal.Symbol, err)
	}
	return orderID, nil
}

// SubmitSell places a market sell for the full quantity.
func (b *AlpacaBroker) SubmitSell(ctx context.Context, symbol string, qty float64) (string, error) {
	order := orderRequest{
		Symbol:      symbol,
		Side:        "sell",
		Type:        "market",
		TimeInForce: timeInForce(symbol),
		Qty:         strconv.FormatFloat(qty, 'f', -1, 64),
	}
	orderID, err := b.submitOrder(ctx, order)
	if err != nil {
		return "", fmt.Errorf("%w: sell %s: %v", ErrOrder, symbol, err)
	}
	return orderID, nil
}

func (b *AlpacaBroker) submitOrder(ctx context.Context, order orderRequest) (string, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return "", err
	}

	var placed alpacaOrder
	err = retry.Do(ctx, b.cfg.Retry, b.logger, "submit_order", isRetryable, func() error {
		return b.do(ctx, http.MethodPost, b.baseURL+"/v2/orders", payload, &placed)
	})
	if err != nil {
		return "", err
	}
	return placed.ID, nil
}

// GetAccount returns the account snapshot used for risk approval.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*model.Account, error) {
	var raw alpacaAccount
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "get_account", isRetryable, func() error {
		return b.do(ctx, http.MethodGet, b.baseURL+"/v2/account", nil, &raw)
	})
	if err != nil {
		return nil, err
	}
	return &model.Account{
		Equity:      parseFloat(raw.Equity),
		Cash:        parseFloat(raw.Cash),
		BuyingPower: parseFloat(raw.BuyingPower),
		Status:      raw.Status,
	}, nil
}

// GetOpenPositions returns every position the broker currently holds.
func (b *AlpacaBroker) GetOpenPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var raw []alpacaPosition
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "get_positions", isRetryable, func() error {
		return b.do(ctx, http.MethodGet, b.baseURL+"/v2/positions", nil, &raw)
	})
	if err != nil {
		return nil, err
	}
	positions := make([]model.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, convertPosition(p))
	}
	return positions, nil
}

// GetPosition returns one position, or (nil, nil) when the symbol is not held.
func (b *AlpacaBroker) GetPosition(ctx context.Context, symbol string) (*model.BrokerPosition, error) {
	var raw alpacaPosition
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "get_position", isRetryable, func() error {
		return b.do(ctx, http.MethodGet, b.baseURL+"/v2/positions/"+symbol, nil, &raw)
	})
	if err != nil {
		var statusErr *apiError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	position := convertPosition(raw)
	return &position, nil
}

// IsMarketOpen reports whether the market session is currently open.
func (b *AlpacaBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := b.GetClock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

// GetClock returns the market session clock.
func (b *AlpacaBroker) GetClock(ctx context.Context) (*model.Clock, error) {
	var raw alpacaClock
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "get_clock", isRetryable, func() error {
		return b.do(ctx, http.MethodGet, b.baseURL+"/v2/clock", nil, &raw)
	})
	if err != nil {
		return nil, err
	}
	return &model.Clock{
		IsOpen:    raw.IsOpen,
		NextOpen:  raw.NextOpen,
		NextClose: raw.NextClose,
	}, nil
}

func (b *AlpacaBroker) latestTradePrice(ctx context.Context, symbol string) (float64, error) {
	var raw struct {
		Trade struct {
			Price float64 `json:"p"`
		} `json:"trade"`
	}
	err := retry.Do(ctx, b.cfg.Retry, b.logger, "latest_trade", isRetryable, func() error {
		return b.do(ctx, http.MethodGet, alpacaDataURL+"/v2/stocks/"+symbol+"/trades/latest", nil, &raw)
	})
	if err != nil {
		return 0, err
	}
	return raw.Trade.Price, nil
}

func (b *AlpacaBroker) do(ctx context.Context, method, url string, payload []byte, out interface{}) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", b.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", b.cfg.APISecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func convertPosition(p alpacaPosition) model.BrokerPosition {
	return model.BrokerPosition{
		Symbol:        p.Symbol,
		Quantity:      parseFloat(p.Qty),
		AvgEntryPrice: parseFloat(p.AvgEntryPrice),
		CurrentPrice:  parseFloat(p.CurrentPrice),
		MarketValue:   parseFloat(p.MarketValue),
		UnrealizedPnL: parseFloat(p.UnrealizedPL),
	}
}

// timeInForce picks GTC for crypto pairs because crypto venues have no DAY
// session, DAY for everything else.
func timeInForce(symbol string) string {
	if strings.Contains(symbol, "/") {
		return "gtc"
	}
	return "day"
}

func isNotFractionable(err error) bool {
	var statusErr *apiError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(statusErr.Body), "fractionable")
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
