// Package transport carries events between the gateway and the trading
// core over the message bus. It owns the wire format (the event envelope),
// the outbound template and the NATS-backed transmitter.
package transport

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EventType classifies an envelope.
type EventType string

const (
	EventCommand EventType = "command"
	EventData    EventType = "data"
	EventError   EventType = "error"
)

// EventNode identifies the originating side of an event.
type EventNode string

const (
	NodeCore EventNode = "core"
	NodeGate EventNode = "gate"
)

// EventAction names the operation an event carries or replies to.
type EventAction string

const (
	ActionCreateOrders    EventAction = "create_orders"
	ActionCancelOrders    EventAction = "cancel_orders"
	ActionCancelAllOrders EventAction = "cancel_all_orders"
	ActionGetOrders       EventAction = "get_orders"
	ActionGetBalance      EventAction = "get_balance"
	ActionOrderBookUpdate EventAction = "order_book_update"
	ActionOrdersUpdate    EventAction = "orders_update"
	ActionBalanceUpdate   EventAction = "balance_update"
	ActionPing            EventAction = "ping"
	ActionMetrics         EventAction = "metrics"
)

// Destination selects the outbound channel an event is offered to.
type Destination string

const (
	DestOrderBook Destination = "orderbooks"
	DestBalance   Destination = "balances"
	DestCore      Destination = "core"
	DestLogs      Destination = "logs"
)

// Event is the outbound envelope. Zero fields are filled from the
// configured template at serialization time; see Formatter.
type Event struct {
	EventID   string      `json:"event_id"`
	Type      EventType   `json:"event"`
	Exchange  string      `json:"exchange"`
	Node      EventNode   `json:"node"`
	Instance  string      `json:"instance"`
	Algo      string      `json:"algo"`
	Action    EventAction `json:"action"`
	Message   *string     `json:"message"`
	Timestamp int64       `json:"timestamp"`
	Data      any         `json:"data"`
}

// Command is an inbound envelope. Data stays raw so each handler can
// decode the shape its action expects.
type Command struct {
	EventID   string          `json:"event_id"`
	Type      EventType       `json:"event"`
	Exchange  string          `json:"exchange"`
	Node      EventNode       `json:"node"`
	Instance  string          `json:"instance"`
	Algo      string          `json:"algo"`
	Action    EventAction     `json:"action"`
	Message   *string         `json:"message"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DecodeCommand parses one inbound bus message.
func DecodeCommand(payload []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	return &cmd, nil
}

// Echo returns the command as an event attributed to the gateway, keeping
// the original payload intact. Every accepted command is echoed to the log
// channel this way before it is dispatched.
func (c *Command) Echo() Event {
	return Event{
		EventID:   c.EventID,
		Type:      c.Type,
		Exchange:  c.Exchange,
		Node:      NodeGate,
		Instance:  c.Instance,
		Algo:      c.Algo,
		Action:    c.Action,
		Message:   c.Message,
		Timestamp: c.Timestamp,
		Data:      c.Data,
	}
}
