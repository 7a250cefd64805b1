package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashgate/pkg/logging"
)

const documentFixture = `{
  "algo": "spread_bot",
  "data": {
    "configs": {
      "gate_config": {
        "info": {"node": "gate", "instance": "7"},
        "exchange": {
          "exchange_id": "binance",
          "credentials": {"api_key": "k", "secret_key": "s", "password": ""},
          "is_test_keys": true,
          "accounts": [
            {"api_key": "k1", "secret_key": "s1"},
            {"api_key": "k2", "secret_key": "s2"}
          ]
        },
        "rate_limits": {
          "enable_ccxt_rate_limiter": false,
          "api_requests_per_seconds": {
            "public": {"ip_list": ["10.0.0.1", "10.0.0.2"], "exchange_rps_limit": 10},
            "private": {"ip_list": ["10.0.0.3"], "balance": 0.5, "order_status": 2, "exchange_rps_limit": 4}
          }
        },
        "aeron": {
          "url": "nats://127.0.0.1:4222",
          "subscribers": {"core": {"subject": "gate.binance.core"}},
          "publishers": {
            "orderbooks": {"subject": "gate.binance.orderbooks"},
            "balances": {"subject": "gate.binance.balances"},
            "core": {"subject": "core.binance.gate"},
            "logs": {"subject": "gate.binance.logs"}
          }
        },
        "gate": {"order_book_depth": 5}
      }
    },
    "markets": [
      {"common_symbol": "BTC/USDT"},
      {"common_symbol": "ETH/USDT"}
    ],
    "assets_labels": [
      {"common": "BTC"},
      {"common": "ETH"},
      {"common": "USDT"}
    ]
  }
}`

func loadFixture(t *testing.T) *Document {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(documentFixture), &doc))
	require.NoError(t, doc.Validate())
	return &doc
}

func TestDocumentAccessors(t *testing.T) {
	doc := loadFixture(t)

	assert.Equal(t, "spread_bot", doc.Algo)
	assert.Equal(t, "binance", doc.Gate().Exchange.ExchangeID)
	assert.True(t, doc.Gate().Exchange.IsTestKeys)
	assert.Len(t, doc.Gate().Exchange.Accounts, 2)

	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, doc.Tickers())
	assert.Equal(t, []string{"BTC", "ETH", "USDT"}, doc.Assets())
	assert.Equal(t, 5, doc.OrderBookDepth())

	assert.Equal(t, "gate.binance.core", doc.Gate().Aeron.SubscriberSubject(SubscriberCore))
	assert.Equal(t, "core.binance.gate", doc.Gate().Aeron.PublisherSubject(PublisherCore))
}

func TestDocumentDelays(t *testing.T) {
	doc := loadFixture(t)

	delays := doc.Delays()
	assert.Equal(t, 100*time.Millisecond, delays.OrderBook)
	assert.Equal(t, 2*time.Second, delays.Balance)
	assert.Equal(t, 500*time.Millisecond, delays.OrderStatus)
	assert.Equal(t, 250*time.Millisecond, delays.Private)
	assert.Equal(t, time.Duration(0), delays.Public)
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr string
	}{
		{
			name:    "missing exchange id",
			mutate:  func(d *Document) { d.Gate().Exchange.ExchangeID = "" },
			wantErr: "exchange_id",
		},
		{
			name: "zero public rps",
			mutate: func(d *Document) {
				d.Gate().RateLimits.APIRequestsPerSeconds.Public.ExchangeRPSLimit = 0
			},
			wantErr: "public.exchange_rps_limit",
		},
		{
			name: "negative balance rps",
			mutate: func(d *Document) {
				d.Gate().RateLimits.APIRequestsPerSeconds.Private.Balance = -1
			},
			wantErr: "private.balance",
		},
		{
			name: "overlapping ip pools",
			mutate: func(d *Document) {
				d.Gate().RateLimits.APIRequestsPerSeconds.Private.IPList = []string{"10.0.0.1"}
			},
			wantErr: "already assigned to the public pool",
		},
		{
			name: "malformed ip",
			mutate: func(d *Document) {
				d.Gate().RateLimits.APIRequestsPerSeconds.Public.IPList = []string{"not-an-ip"}
			},
			wantErr: "not a valid IP address",
		},
		{
			name:    "missing bus url",
			mutate:  func(d *Document) { d.Gate().Aeron.URL = "" },
			wantErr: "aeron.url",
		},
		{
			name: "missing publisher subject",
			mutate: func(d *Document) {
				delete(d.Gate().Aeron.Publishers, PublisherLogs)
			},
			wantErr: "publishers.logs",
		},
		{
			name:    "no markets",
			mutate:  func(d *Document) { d.Data.Markets = nil },
			wantErr: "data.markets",
		},
		{
			name: "market without symbol",
			mutate: func(d *Document) {
				d.Data.Markets = []Market{{CommonSymbol: ""}}
			},
			wantErr: "common_symbol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc Document
			require.NoError(t, json.Unmarshal([]byte(documentFixture), &doc))
			tt.mutate(&doc)
			err := doc.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDocumentValidateSingleSharedIP(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(documentFixture), &doc))

	// One machine, one address on both sides: allowed.
	rps := &doc.Gate().RateLimits.APIRequestsPerSeconds
	rps.Public.IPList = []string{"10.0.0.9"}
	rps.Private.IPList = []string{"10.0.0.9"}
	assert.NoError(t, doc.Validate())

	// The exemption does not extend past a single address.
	rps.Public.IPList = []string{"10.0.0.9", "10.0.0.10"}
	assert.Error(t, doc.Validate())
}

func TestFetchDocumentFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "gate-config-*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(documentFixture)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	doc, err := FetchDocument(context.Background(), tmpFile.Name(), logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "binance", doc.Gate().Exchange.ExchangeID)
}

func TestFetchDocumentRejectsInvalid(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "gate-config-*.json")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(`{"algo": "x", "data": {"configs": {"gate_config": {}}}}`)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	_, err = FetchDocument(context.Background(), tmpFile.Name(), logging.NewNopLogger())
	require.Error(t, err)
}
