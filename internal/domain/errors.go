package domain

import "errors"

// Errores del exchange. Se envuelven con fmt.Errorf("...: %w") y se
// comparan con errors.Is.
var (
	ErrInvalidPrice          = errors.New("invalid price")
	ErrInvalidSize           = errors.New("invalid size")
	ErrInvalidOrderType      = errors.New("invalid order")
	ErrSelfTradePrevented    = errors.New("self-trade prevented")
	ErrOrderExpired          = errors.New("order expired")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrMarketNotQuotable     = errors.New("market not quotable")
	ErrMarketNotFound        = errors.New("market not found")
	ErrMarketNotOpen         = errors.New("market not open for trading")
	ErrOrderNotFound         = errors.New("order not found")
	ErrUnauthorized          = errors.New("not order owner")
	ErrPositionLimit         = errors.New("position limit exceeded")
)
