package exchange

import (
	"fmt"
	"strings"

	"flashgate/internal/exchange/binance"
	"flashgate/internal/exchange/driver"
)

// NewDriver builds the venue driver for an exchange id.
func NewDriver(exchangeID string, opts driver.Options) (driver.Driver, error) {
	switch strings.ToLower(exchangeID) {
	case "binance":
		return binance.New(opts)
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchangeID)
	}
}
