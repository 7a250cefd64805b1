package transport

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Formatter serializes outbound events, filling in the per-node template:
// exchange, node, instance and algo come from configuration, a missing
// event id gets a fresh UUID and a missing timestamp gets stamped at
// serialization time, in microseconds.
type Formatter struct {
	exchange string
	node     EventNode
	instance string
	algo     string
}

// NewFormatter builds the template from the node identity configuration.
func NewFormatter(exchange string, node EventNode, instance, algo string) *Formatter {
	return &Formatter{
		exchange: exchange,
		node:     node,
		instance: instance,
		algo:     algo,
	}
}

// Format applies the template to the event and serializes it. The input
// event wins over the template wherever it carries a value.
func (f *Formatter) Format(event Event) ([]byte, error) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Type == "" {
		event.Type = EventData
	}
	if event.Exchange == "" {
		event.Exchange = f.exchange
	}
	if event.Node == "" {
		event.Node = f.node
	}
	if event.Instance == "" {
		event.Instance = f.instance
	}
	if event.Algo == "" {
		event.Algo = f.algo
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMicro()
	}
	return json.Marshal(event)
}
