// REST client for Binance USDT-M futures.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"signalbridge/src/sizing"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 300 * time.Millisecond
	defaultRetryMaxBackoff = 3 * time.Second

	limiterKey = "binance:futures"
)

// BinanceClient implements ExchangeClient.
// Reads go through a retrying resty client; orders use one that never retries,
// so a lost acknowledgement can not produce a duplicate order.
type BinanceClient struct {
	apiKey     string
	apiSecret  string
	recvWindow int64

	http  *resty.Client
	trade *resty.Client

	sem        *semaphore.Weighted
	limiter    Limiter
	rateLimit  int
	rateWindow time.Duration

	precisionTTL time.Duration
	mu           sync.RWMutex
	precisions   map[string]sizing.Precision
	fetchedAt    time.Time

	now func() time.Time
}

// isRetryableResp retries transport failures and server errors. Rate limit
// responses are never retried; they surface as rate_limited.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	return code == http.StatusRequestTimeout
}

func NewBinanceClient(cfg Config, limiter Limiter) *BinanceClient {
	baseURL := cfg.BaseURL()
	if cfg.BinanceAPIKey == "" {
		logger.WithField("base_url", baseURL).Warn("Binance API key is empty, signed calls will be rejected")
	}

	readClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	tradeClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.HTTPTimeout)

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	return &BinanceClient{
		apiKey:       cfg.BinanceAPIKey,
		apiSecret:    cfg.BinanceAPISecret,
		recvWindow:   cfg.BinanceRecvWindow,
		http:         readClient,
		trade:        tradeClient,
		sem:          semaphore.NewWeighted(maxConcurrency),
		limiter:      limiter,
		rateLimit:    cfg.RateLimit,
		rateWindow:   cfg.RateWindow,
		precisionTTL: cfg.PrecisionCacheTTL,
		precisions:   map[string]sizing.Precision{},
		now:          time.Now,
	}
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// acquire reserves a concurrency slot and a rate limit token.
// A limiter outage lets the request through; the exchange still enforces its own limit.
func (c *BinanceClient) acquire(ctx context.Context) (func(), error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, newTransportError(err)
	}
	release := func() { c.sem.Release(1) }

	if c.limiter == nil || c.rateLimit <= 0 {
		return release, nil
	}
	allowed, err := c.limiter.Allow(ctx, limiterKey, c.rateLimit, c.rateWindow)
	if err != nil {
		logger.WithError(err).Warn("Exchange rate limiter unavailable, sending request anyway")
		return release, nil
	}
	if !allowed {
		release()
		return nil, &ExchangeError{
			Code:    CodeRateLimited,
			Message: fmt.Sprintf("client side limit of %d requests per %s reached", c.rateLimit, c.rateWindow),
		}
	}
	return release, nil
}

func (c *BinanceClient) do(
	ctx context.Context,
	client *resty.Client,
	method, path string,
	params url.Values,
	signed bool,
	out interface{},
) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if params == nil {
		params = url.Values{}
	}
	req := client.R().SetContext(ctx)

	if signed {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		query := params.Encode()
		req.SetHeader("X-MBX-APIKEY", c.apiKey)
		path = path + "?" + query + "&signature=" + sign(query, c.apiSecret)
	} else if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return newTransportError(err)
	}
	if resp.IsError() {
		exErr := newAPIError(resp.StatusCode(), resp.Body())
		logger.WithFields(map[string]interface{}{
			"exchange": "binance",
			"method":   method,
			"path":     strings.SplitN(path, "?", 2)[0],
			"status":   resp.StatusCode(),
			"code":     exErr.Code,
		}).Warn("Exchange request failed")
		return exErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &ExchangeError{Code: CodeUnexpectedResponse, Message: err.Error(), HTTPStatus: resp.StatusCode()}
	}
	return nil
}

type accountResponse struct {
	TotalWalletBalance    decimal.Decimal `json:"totalWalletBalance"`
	TotalUnrealizedProfit decimal.Decimal `json:"totalUnrealizedProfit"`
	TotalMarginBalance    decimal.Decimal `json:"totalMarginBalance"`
	AvailableBalance      decimal.Decimal `json:"availableBalance"`
	CanTrade              bool            `json:"canTrade"`
}

func (c *BinanceClient) GetAccountBalance(ctx context.Context) (Balance, error) {
	var resp accountResponse
	if err := c.do(ctx, c.http, http.MethodGet, "/fapi/v2/account", nil, true, &resp); err != nil {
		return Balance{}, err
	}
	return Balance{
		Available:     resp.AvailableBalance,
		Wallet:        resp.TotalWalletBalance,
		UnrealizedPnl: resp.TotalUnrealizedProfit,
		MarginBalance: resp.TotalMarginBalance,
		CanTrade:      resp.CanTrade,
	}, nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			MaxQty     string `json:"maxQty"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// precisionsFrom reads lot rules. Market orders are bound by MARKET_LOT_SIZE
// where it is stricter than LOT_SIZE.
func precisionsFrom(info exchangeInfoResponse) map[string]sizing.Precision {
	out := make(map[string]sizing.Precision, len(info.Symbols))
	for _, s := range info.Symbols {
		var p sizing.Precision
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				p.StepSize = parseDecimal(f.StepSize)
				p.MinQty = parseDecimal(f.MinQty)
				p.MaxQty = parseDecimal(f.MaxQty)
			case "MIN_NOTIONAL":
				p.MinNotional = parseDecimal(f.Notional)
			}
		}
		for _, f := range s.Filters {
			if f.FilterType != "MARKET_LOT_SIZE" {
				continue
			}
			if step := parseDecimal(f.StepSize); step.GreaterThan(p.StepSize) {
				p.StepSize = step
			}
			if minQty := parseDecimal(f.MinQty); minQty.GreaterThan(p.MinQty) {
				p.MinQty = minQty
			}
			if maxQty := parseDecimal(f.MaxQty); maxQty.IsPositive() && (p.MaxQty.IsZero() || maxQty.LessThan(p.MaxQty)) {
				p.MaxQty = maxQty
			}
		}
		out[s.Symbol] = p
	}
	return out
}

// GetInstrumentPrecision serves lot rules from a cache refreshed at most every precisionTTL.
func (c *BinanceClient) GetInstrumentPrecision(ctx context.Context, symbol string) (sizing.Precision, error) {
	c.mu.RLock()
	p, ok := c.precisions[symbol]
	fresh := c.now().Sub(c.fetchedAt) < c.precisionTTL
	c.mu.RUnlock()
	if ok && fresh {
		return p, nil
	}

	var info exchangeInfoResponse
	if err := c.do(ctx, c.http, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return sizing.Precision{}, err
	}
	all := precisionsFrom(info)

	c.mu.Lock()
	c.precisions = all
	c.fetchedAt = c.now()
	c.mu.Unlock()

	p, ok = all[symbol]
	if !ok || !p.StepSize.IsPositive() {
		return sizing.Precision{}, &ExchangeError{Code: CodeInvalidSymbol, Message: fmt.Sprintf("no lot size rules for %s", symbol)}
	}
	return p, nil
}

type premiumIndexResponse struct {
	Symbol    string          `json:"symbol"`
	MarkPrice decimal.Decimal `json:"markPrice"`
}

func (c *BinanceClient) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp premiumIndexResponse
	params := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, c.http, http.MethodGet, "/fapi/v1/premiumIndex", params, false, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.MarkPrice.IsPositive() {
		return decimal.Zero, &ExchangeError{Code: CodeUnexpectedResponse, Message: fmt.Sprintf("mark price %s for %s", resp.MarkPrice, symbol)}
	}
	return resp.MarkPrice, nil
}

func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{
		"symbol":   {symbol},
		"leverage": {strconv.Itoa(leverage)},
	}
	return c.do(ctx, c.http, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
}

type orderResponse struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Status        string          `json:"status"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	CumQuote      decimal.Decimal `json:"cumQuote"`
	UpdateTime    int64           `json:"updateTime"`
}

// SubmitMarketOrder places a MARKET order and waits for the fill result.
// It is sent exactly once.
func (c *BinanceClient) SubmitMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	params := url.Values{
		"symbol":           {req.Symbol},
		"side":             {req.Side},
		"type":             {"MARKET"},
		"quantity":         {req.Quantity.String()},
		"newOrderRespType": {"RESULT"},
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var resp orderResponse
	if err := c.do(ctx, c.trade, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return nil, err
	}

	result := &OrderResult{
		OrderID:          strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:    resp.ClientOrderID,
		Symbol:           resp.Symbol,
		Side:             resp.Side,
		Status:           resp.Status,
		OrigQuantity:     resp.OrigQty,
		ExecutedQuantity: resp.ExecutedQty,
		ExecutedPrice:    resp.AvgPrice,
		CumQuote:         resp.CumQuote,
		UpdatedAt:        c.now().UTC(),
	}
	if resp.UpdateTime > 0 {
		result.UpdatedAt = time.UnixMilli(resp.UpdateTime).UTC()
	}
	if result.Status == "REJECTED" || result.Status == "EXPIRED" {
		return nil, &ExchangeError{Code: CodeRejected, Message: fmt.Sprintf("order %s ended with status %s", result.OrderID, result.Status)}
	}
	return result, nil
}

type userTrade struct {
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
}

// GetOrderFees sums the commission over the fills of one order.
func (c *BinanceClient) GetOrderFees(ctx context.Context, symbol, orderID string) (Fees, error) {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {orderID},
	}
	var trades []userTrade
	if err := c.do(ctx, c.http, http.MethodGet, "/fapi/v1/userTrades", params, true, &trades); err != nil {
		return Fees{}, err
	}

	fees := Fees{Commission: decimal.Zero}
	for _, t := range trades {
		fees.Commission = fees.Commission.Add(t.Commission)
		if fees.Asset == "" {
			fees.Asset = t.CommissionAsset
		}
	}
	return fees, nil
}

type positionRiskResponse struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnRealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	Leverage         string          `json:"leverage"`
	MarginType       string          `json:"marginType"`
	PositionSide     string          `json:"positionSide"`
}

// GetPositions returns the non-empty positions. One-way mode rows (positionSide BOTH)
// take their side from the sign of the amount.
func (c *BinanceClient) GetPositions(ctx context.Context) ([]PositionInfo, error) {
	var rows []positionRiskResponse
	if err := c.do(ctx, c.http, http.MethodGet, "/fapi/v2/positionRisk", nil, true, &rows); err != nil {
		return nil, err
	}

	positions := make([]PositionInfo, 0, len(rows))
	for _, r := range rows {
		if r.PositionAmt.IsZero() {
			continue
		}
		side := strings.ToUpper(r.PositionSide)
		if side != "LONG" && side != "SHORT" {
			side = "LONG"
			if r.PositionAmt.IsNegative() {
				side = "SHORT"
			}
		}
		leverage, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, PositionInfo{
			Symbol:        r.Symbol,
			Side:          side,
			Size:          r.PositionAmt.Abs(),
			EntryPrice:    r.EntryPrice,
			MarkPrice:     r.MarkPrice,
			UnrealizedPnl: r.UnRealizedProfit,
			Leverage:      leverage,
			MarginType:    r.MarginType,
		})
	}
	return positions, nil
}

var _ ExchangeClient = (*BinanceClient)(nil)
