package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrTimeout               = errors.New("request timeout")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrExchangeUnavailable   = errors.New("exchange unavailable")
	ErrStreamClosed          = errors.New("stream closed")
)

// Message Bus Publication Outcomes
var (
	ErrBusNotConnected = errors.New("bus not connected")
	ErrBusAdminAction  = errors.New("bus admin action")
	ErrBusClosed       = errors.New("bus closed")
)

// Kind labels an exchange error for metrics. Unrecognized errors report as
// "other".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limit"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidOrderParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrAuthenticationFailed):
		return "auth_failed"
	case errors.Is(err, ErrInvalidSymbol):
		return "invalid_symbol"
	case errors.Is(err, ErrDuplicateOrder):
		return "duplicate_order"
	case errors.Is(err, ErrExchangeUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}
