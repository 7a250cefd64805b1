package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"flashgate/internal/core"
	"flashgate/pkg/httpx"
	"flashgate/pkg/retry"
)

// Message bus endpoints the gateway requires in the document.
const (
	SubscriberCore      = "core"
	PublisherOrderBooks = "orderbooks"
	PublisherBalances   = "balances"
	PublisherCore       = "core"
	PublisherLogs       = "logs"
)

// Document is the configuration document issued by the trading core. It
// carries everything the gateway needs to serve one exchange: credentials,
// rate limits, bus subjects and the instrument universe.
type Document struct {
	Algo string       `json:"algo"`
	Data DocumentData `json:"data"`
}

type DocumentData struct {
	Configs      DocumentConfigs `json:"configs"`
	Markets      []Market        `json:"markets"`
	AssetsLabels []AssetLabel    `json:"assets_labels"`
}

type DocumentConfigs struct {
	GateConfig GateConfig `json:"gate_config"`
}

// GateConfig is the gateway section of the core document.
type GateConfig struct {
	Info       InfoConfig       `json:"info"`
	Exchange   ExchangeConfig   `json:"exchange"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Aeron      BusConfig        `json:"aeron"`
	Gate       GateSection      `json:"gate"`
}

// InfoConfig identifies this node in outbound events.
type InfoConfig struct {
	Node     string `json:"node"`
	Instance string `json:"instance"`
}

// ExchangeConfig names the exchange and carries its API credentials. The
// optional Accounts list enables a private session pool: one session per
// account, rotated FIFO.
type ExchangeConfig struct {
	ExchangeID  string        `json:"exchange_id"`
	Credentials Credentials   `json:"credentials"`
	IsTestKeys  bool          `json:"is_test_keys"`
	Accounts    []Credentials `json:"accounts,omitempty"`
}

// Credentials is one API key set. The fields are Secret so a logged or
// re-serialized document never carries key material.
type Credentials struct {
	APIKey    Secret `json:"api_key"`
	SecretKey Secret `json:"secret_key"`
	Password  Secret `json:"password,omitempty"`
}

type RateLimitsConfig struct {
	EnableRateLimiter     bool      `json:"enable_ccxt_rate_limiter"`
	APIRequestsPerSeconds RPSConfig `json:"api_requests_per_seconds"`
}

type RPSConfig struct {
	Public  PublicRPS  `json:"public"`
	Private PrivateRPS `json:"private"`
}

// PublicRPS shapes the public (unauthenticated) request budget. One public
// session is created per source IP in IPList.
type PublicRPS struct {
	IPList           []string `json:"ip_list"`
	ExchangeRPSLimit float64  `json:"exchange_rps_limit"`
}

// PrivateRPS shapes the private (authenticated) request budget. Balance and
// OrderStatus are polling frequencies in requests per second.
type PrivateRPS struct {
	IPList           []string `json:"ip_list"`
	Balance          float64  `json:"balance"`
	OrderStatus      float64  `json:"order_status"`
	ExchangeRPSLimit float64  `json:"exchange_rps_limit"`
}

// BusConfig holds message bus connectivity: the server URL plus the subject
// names for the core command subscriber and the four publishers. The section
// keeps its historical "aeron" key in the document schema.
type BusConfig struct {
	URL         string              `json:"url"`
	Subscribers map[string]Endpoint `json:"subscribers"`
	Publishers  map[string]Endpoint `json:"publishers"`
}

type Endpoint struct {
	Subject string `json:"subject"`
}

// SubscriberSubject returns the subject of a named subscriber endpoint.
func (b BusConfig) SubscriberSubject(name string) string {
	return b.Subscribers[name].Subject
}

// PublisherSubject returns the subject of a named publisher endpoint.
func (b BusConfig) PublisherSubject(name string) string {
	return b.Publishers[name].Subject
}

type GateSection struct {
	OrderBookDepth int `json:"order_book_depth"`
}

type Market struct {
	CommonSymbol string `json:"common_symbol"`
}

type AssetLabel struct {
	Common string `json:"common"`
}

// Gate is a convenience accessor for the gateway section.
func (d *Document) Gate() *GateConfig {
	return &d.Data.Configs.GateConfig
}

// Tickers returns the unified symbols of all configured markets.
func (d *Document) Tickers() []string {
	tickers := make([]string, 0, len(d.Data.Markets))
	for _, market := range d.Data.Markets {
		tickers = append(tickers, market.CommonSymbol)
	}
	return tickers
}

// Assets returns the unified codes of all configured assets.
func (d *Document) Assets() []string {
	assets := make([]string, 0, len(d.Data.AssetsLabels))
	for _, label := range d.Data.AssetsLabels {
		assets = append(assets, label.Common)
	}
	return assets
}

// OrderBookDepth returns the configured book depth, defaulting to 10.
func (d *Document) OrderBookDepth() int {
	if depth := d.Gate().Gate.OrderBookDepth; depth > 0 {
		return depth
	}
	return 10
}

// Delays are the pacing intervals derived from the configured request
// budgets. A delay is the reciprocal of the matching requests-per-second
// figure.
type Delays struct {
	OrderBook   time.Duration
	Balance     time.Duration
	OrderStatus time.Duration
	Private     time.Duration
	Public      time.Duration
}

// Delays derives the pacing intervals. Validate must have passed first: a
// zero rps would otherwise produce a meaningless delay.
func (d *Document) Delays() Delays {
	rps := d.Gate().RateLimits.APIRequestsPerSeconds
	return Delays{
		OrderBook:   rpsToDelay(rps.Public.ExchangeRPSLimit),
		Balance:     rpsToDelay(rps.Private.Balance),
		OrderStatus: rpsToDelay(rps.Private.OrderStatus),
		Private:     rpsToDelay(rps.Private.ExchangeRPSLimit),
		Public:      0,
	}
}

func rpsToDelay(rps float64) time.Duration {
	if rps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rps)
}

// Validate checks the document for the conditions the gateway cannot start
// without. Public and private IP pools must not overlap, except in the
// degenerate single-IP deployment where both sides list the same address.
func (d *Document) Validate() error {
	gate := d.Gate()

	if gate.Exchange.ExchangeID == "" {
		return ValidationError{
			Field:   "exchange.exchange_id",
			Message: "exchange id is required",
		}
	}

	rps := gate.RateLimits.APIRequestsPerSeconds
	if rps.Public.ExchangeRPSLimit <= 0 {
		return ValidationError{
			Field:   "rate_limits.api_requests_per_seconds.public.exchange_rps_limit",
			Value:   rps.Public.ExchangeRPSLimit,
			Message: "must be positive",
		}
	}
	if rps.Private.ExchangeRPSLimit <= 0 {
		return ValidationError{
			Field:   "rate_limits.api_requests_per_seconds.private.exchange_rps_limit",
			Value:   rps.Private.ExchangeRPSLimit,
			Message: "must be positive",
		}
	}
	if rps.Private.Balance <= 0 {
		return ValidationError{
			Field:   "rate_limits.api_requests_per_seconds.private.balance",
			Value:   rps.Private.Balance,
			Message: "must be positive",
		}
	}
	if rps.Private.OrderStatus <= 0 {
		return ValidationError{
			Field:   "rate_limits.api_requests_per_seconds.private.order_status",
			Value:   rps.Private.OrderStatus,
			Message: "must be positive",
		}
	}

	if err := validateIPPools(rps.Public.IPList, rps.Private.IPList); err != nil {
		return err
	}

	if gate.Aeron.URL == "" {
		return ValidationError{
			Field:   "aeron.url",
			Message: "message bus URL is required",
		}
	}
	if gate.Aeron.SubscriberSubject(SubscriberCore) == "" {
		return ValidationError{
			Field:   "aeron.subscribers.core.subject",
			Message: "core command subject is required",
		}
	}
	for _, name := range []string{PublisherOrderBooks, PublisherBalances, PublisherCore, PublisherLogs} {
		if gate.Aeron.PublisherSubject(name) == "" {
			return ValidationError{
				Field:   fmt.Sprintf("aeron.publishers.%s.subject", name),
				Message: "publisher subject is required",
			}
		}
	}

	if len(d.Data.Markets) == 0 {
		return ValidationError{
			Field:   "data.markets",
			Message: "at least one market is required",
		}
	}
	for i, market := range d.Data.Markets {
		if market.CommonSymbol == "" {
			return ValidationError{
				Field:   fmt.Sprintf("data.markets[%d].common_symbol", i),
				Message: "common symbol is required",
			}
		}
	}

	return nil
}

// validateIPPools enforces the address split between the public and private
// session pools. Overlapping lists would let public polling consume the
// private request budget of the same source address.
func validateIPPools(public, private []string) error {
	for _, list := range [][]string{public, private} {
		for _, ip := range list {
			if net.ParseIP(ip) == nil {
				return ValidationError{
					Field:   "rate_limits.api_requests_per_seconds.ip_list",
					Value:   ip,
					Message: "not a valid IP address",
				}
			}
		}
	}

	// Single shared address is the degenerate one-machine deployment.
	if len(public) == 1 && len(private) == 1 && public[0] == private[0] {
		return nil
	}

	seen := make(map[string]struct{}, len(public))
	for _, ip := range public {
		seen[ip] = struct{}{}
	}
	for _, ip := range private {
		if _, ok := seen[ip]; ok {
			return ValidationError{
				Field:   "rate_limits.api_requests_per_seconds.private.ip_list",
				Value:   ip,
				Message: "address is already assigned to the public pool",
			}
		}
	}

	return nil
}

// FetchDocument loads the core configuration document from a local file or
// an http(s) URL. Network fetches are retried with the startup policy.
func FetchDocument(ctx context.Context, source string, logger core.ILogger) (*Document, error) {
	var raw []byte

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		client := httpx.NewClient(httpx.DefaultConfig(), logger)
		err := retry.Do(ctx, retry.StartupPolicy, retry.Always, func() error {
			body, err := client.Get(ctx, source)
			if err != nil {
				logger.Warn("Config document fetch failed, retrying", "source", source, "error", err)
				return err
			}
			raw = body
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch config document: %w", err)
		}
	} else {
		body, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read config document: %w", err)
		}
		raw = body
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config document: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("config document validation failed: %w", err)
	}

	return &doc, nil
}
