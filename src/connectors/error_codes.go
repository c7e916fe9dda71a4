package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Stable error codes recorded on failed executions.
const (
	CodeTimeout             = "timeout"
	CodeNetwork             = "network"
	CodeRateLimited         = "rate_limited"
	CodeInsufficientMargin  = "insufficient_margin"
	CodeInsufficientBalance = "insufficient_balance"
	CodeInvalidQuantity     = "invalid_quantity"
	CodeInvalidSymbol       = "invalid_symbol"
	CodeMinNotional         = "min_notional"
	CodeLeverageRejected    = "leverage_rejected"
	CodeClockSkew           = "timestamp_outside_recv_window"
	CodeUnauthorized        = "unauthorized"
	CodeUnavailable         = "exchange_unavailable"
	CodeUnexpectedResponse  = "unexpected_response"
	CodeRejected            = "rejected"
)

// BinanceErrorCodes maps Binance futures API codes to stable error codes.
var BinanceErrorCodes = map[int]string{
	-1000: CodeUnavailable,         // UNKNOWN
	-1001: CodeUnavailable,         // DISCONNECTED
	-1003: CodeRateLimited,         // TOO_MANY_REQUESTS
	-1007: CodeTimeout,             // backend timeout, execution status unknown
	-1008: CodeUnavailable,         // server busy
	-1013: CodeInvalidQuantity,     // filter failure
	-1015: CodeRateLimited,         // TOO_MANY_ORDERS
	-1021: CodeClockSkew,           // INVALID_TIMESTAMP
	-1022: CodeUnauthorized,        // INVALID_SIGNATURE
	-1111: CodeInvalidQuantity,     // BAD_PRECISION
	-1121: CodeInvalidSymbol,       // BAD_SYMBOL
	-2010: CodeRejected,            // NEW_ORDER_REJECTED
	-2014: CodeUnauthorized,        // BAD_API_KEY_FMT
	-2015: CodeUnauthorized,        // REJECTED_MBX_KEY
	-2018: CodeInsufficientBalance, // BALANCE_NOT_SUFFICIENT
	-2019: CodeInsufficientMargin,  // MARGIN_NOT_SUFFICIEN
	-4003: CodeInvalidQuantity,     // QTY_LESS_THAN_ZERO
	-4005: CodeInvalidQuantity,     // QTY_GREATER_THAN_MAX_QTY
	-4028: CodeLeverageRejected,    // INVALID_LEVERAGE
	-4131: CodeRejected,            // counterparty best price out of range
	-4164: CodeMinNotional,         // MIN_NOTIONAL
}

// ExchangeError is returned by exchange clients for every failed call.
// The exchange may or may not have accepted an order that failed with timeout or network.
type ExchangeError struct {
	Code         string
	Message      string
	ExchangeCode int
	HTTPStatus   int
}

func (e *ExchangeError) Error() string {
	if e.ExchangeCode != 0 {
		return fmt.Sprintf("exchange error %s (%d): %s", e.Code, e.ExchangeCode, e.Message)
	}
	return fmt.Sprintf("exchange error %s: %s", e.Code, e.Message)
}

// AsExchangeError extracts an *ExchangeError from err.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr, true
	}
	return nil, false
}

// GetErrorCode returns the stable code for a Binance API code.
func GetErrorCode(code int) string {
	if c, ok := BinanceErrorCodes[code]; ok {
		return c
	}
	return CodeRejected
}

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// newAPIError builds an ExchangeError from an HTTP error response.
func newAPIError(status int, body []byte) *ExchangeError {
	var apiErr binanceAPIError
	_ = json.Unmarshal(body, &apiErr)

	msg := strings.TrimSpace(apiErr.Msg)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	exErr := &ExchangeError{Message: msg, ExchangeCode: apiErr.Code, HTTPStatus: status}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		exErr.Code = CodeRateLimited
	case apiErr.Code != 0:
		exErr.Code = GetErrorCode(apiErr.Code)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		exErr.Code = CodeUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		exErr.Code = CodeTimeout
	case status >= 500:
		exErr.Code = CodeUnavailable
	default:
		exErr.Code = CodeRejected
	}
	return exErr
}

// newTransportError classifies errors raised before a response was received.
func newTransportError(err error) *ExchangeError {
	if exErr, ok := AsExchangeError(err); ok {
		return exErr
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ExchangeError{Code: CodeTimeout, Message: err.Error()}
	}
	return &ExchangeError{Code: CodeNetwork, Message: err.Error()}
}
