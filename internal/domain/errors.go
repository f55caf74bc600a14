package domain

import "errors"

// Error kinds. Adapters wrap their errors so errors.Is matches one of these.
var (
	ErrUnauthorized       = errors.New("exchange rejected credentials")
	ErrInsufficientMargin = errors.New("insufficient balance")
	ErrLeverageTooHigh    = errors.New("leverage too high for notional")
	ErrInvalidOrder       = errors.New("order rejected by exchange filters")
	ErrOrderNotFound      = errors.New("order not found")
	ErrTransient          = errors.New("exchange temporarily unavailable")

	ErrCloseIterationsExceeded = errors.New("position close exceeded iteration limit")
	ErrPositionCapReached      = errors.New("concurrent position cap reached")
	ErrRealTradingDisabled     = errors.New("real trading is disabled")
	ErrLeverageExhausted       = errors.New("order rejected at 1x leverage")
	ErrStrategyNotFound        = errors.New("strategy not found")
)

// IsFatal reports errors that need an operator and must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrCloseIterationsExceeded) ||
		errors.Is(err, ErrLeverageExhausted)
}

// IsMarginRejection reports rejections the allocator answers by halving leverage.
func IsMarginRejection(err error) bool {
	return errors.Is(err, ErrInsufficientMargin) || errors.Is(err, ErrLeverageTooHigh)
}
