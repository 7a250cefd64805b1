package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCommandsTotal      = "flashgate_commands_total"
	MetricCommandErrorsTotal = "flashgate_command_errors_total"
	MetricOrdersCreatedTotal = "flashgate_orders_created_total"
	MetricOrdersOpen         = "flashgate_orders_open"
	MetricBusOffersTotal     = "flashgate_bus_offers_total"
	MetricBusConnected       = "flashgate_bus_connected"
	MetricOrderBookLatency   = "flashgate_orderbook_fetch_latency_ms"
	MetricPrivateCallsTotal  = "flashgate_private_api_calls_total"
	MetricExchangeErrors     = "flashgate_exchange_errors_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	CommandsTotal      metric.Int64Counter
	CommandErrorsTotal metric.Int64Counter
	OrdersCreatedTotal metric.Int64Counter
	OrdersOpen         metric.Int64ObservableGauge
	BusOffersTotal     metric.Int64Counter
	BusConnected       metric.Int64ObservableGauge
	OrderBookLatency   metric.Float64Histogram
	PrivateCallsTotal  metric.Int64Counter
	ExchangeErrors     metric.Int64Counter

	// State for observable gauges
	mu           sync.RWMutex
	openOrders   int64
	busConnected int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
		// Call sites reached before Setup get no-op instruments from the
		// default global provider; Setup re-initializes with the real meter.
		_ = globalMetrics.InitMetrics(GetMeter("flashgate"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.CommandsTotal, err = meter.Int64Counter(MetricCommandsTotal, metric.WithDescription("Total commands received from the core"))
	if err != nil {
		return err
	}

	m.CommandErrorsTotal, err = meter.Int64Counter(MetricCommandErrorsTotal, metric.WithDescription("Total commands that produced an error event"))
	if err != nil {
		return err
	}

	m.OrdersCreatedTotal, err = meter.Int64Counter(MetricOrdersCreatedTotal, metric.WithDescription("Total orders placed on the exchange"))
	if err != nil {
		return err
	}

	m.BusOffersTotal, err = meter.Int64Counter(MetricBusOffersTotal, metric.WithDescription("Total events offered to the message bus"))
	if err != nil {
		return err
	}

	m.OrderBookLatency, err = meter.Float64Histogram(MetricOrderBookLatency, metric.WithDescription("Latency of one order book polling round"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.PrivateCallsTotal, err = meter.Int64Counter(MetricPrivateCallsTotal, metric.WithDescription("Total authenticated exchange API calls"))
	if err != nil {
		return err
	}

	m.ExchangeErrors, err = meter.Int64Counter(MetricExchangeErrors, metric.WithDescription("Total exchange API errors by kind"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersOpen, err = meter.Int64ObservableGauge(MetricOrdersOpen, metric.WithDescription("Number of currently tracked open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openOrders)
			return nil
		}))
	if err != nil {
		return err
	}

	m.BusConnected, err = meter.Int64ObservableGauge(MetricBusConnected, metric.WithDescription("Message bus connection state (1=connected, 0=down)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.busConnected)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetOpenOrders(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders = count
}

func (m *MetricsHolder) SetBusConnected(connected bool) {
	val := int64(0)
	if connected {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busConnected = val
}

func (m *MetricsHolder) GetOpenOrders() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openOrders
}

// Attribute helpers shared by instrument call sites.

func ActionAttr(action string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("action", action))
}

func DestinationAttr(destination, outcome string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("destination", destination),
		attribute.String("outcome", outcome),
	)
}

func KindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}
