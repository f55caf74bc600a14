package binance

import (
	"encoding/json"
	"fmt"
	"net/http"

	"perp-backend/internal/domain"
)

// APIError captures structured error info returned by Binance.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Body       string
	kind       error
}

func (e *APIError) Error() string {
	if e == nil {
		return "binance API error"
	}
	if e.Code != 0 || e.Message != "" {
		return fmt.Sprintf("binance API error %d (code=%d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance API error %d: %s", e.StatusCode, e.Body)
}

// Unwrap exposes the domain error kind so errors.Is works across layers.
func (e *APIError) Unwrap() error { return e.kind }

// Simplified is the operator-facing message.
func (e *APIError) Simplified() string {
	switch e.kind {
	case domain.ErrUnauthorized:
		return "API key rejected, check credentials and permissions"
	case domain.ErrInsufficientMargin:
		return "insufficient balance"
	case domain.ErrLeverageTooHigh:
		return "leverage too high for this position size"
	case domain.ErrInvalidOrder:
		return "order rejected: " + e.Message
	case domain.ErrOrderNotFound:
		return "order no longer exists"
	case domain.ErrTransient:
		return "exchange busy or rate limited, will retry next cycle"
	}
	return e.Message
}

func parseBinanceAPIError(statusCode int, body []byte) error {
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	apiErr := &APIError{StatusCode: statusCode, Body: string(body)}
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Code != 0 || parsed.Msg != "") {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Msg
	}
	apiErr.kind = classify(statusCode, apiErr.Code)
	return apiErr
}

// classify maps Binance futures error codes onto domain error kinds.
func classify(status, code int) error {
	switch code {
	case -2014, -2015, -1022, -1002:
		return domain.ErrUnauthorized
	case -2018, -2019:
		return domain.ErrInsufficientMargin
	case -2027, -2028, -4028:
		return domain.ErrLeverageTooHigh
	case -1013, -1111, -1102, -1106, -4003, -4005, -4014, -4164, -2010, -4131:
		return domain.ErrInvalidOrder
	case -2011, -2013:
		return domain.ErrOrderNotFound
	case -1003, -1000, -1001, -1007, -1008:
		return domain.ErrTransient
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || status >= 500:
		return domain.ErrTransient
	}
	return domain.ErrInvalidOrder
}

// transportError wraps network failures as transient.
func transportError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrTransient, err)
}
