package salebus

import (
	"encoding/json"
	"log/slog"

	"github.com/salestalk-labs/salestalk-core/internal/protocol"
)

// Publisher is the slice of the bus connection the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Bridge republishes in-process sale events on the message bus so
// out-of-process consumers (dashboards, the event store) see them too.
// Returns the unsubscribe function.
func Bridge(n *Notifier, pub Publisher, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "salebus"))
	return n.Subscribe(func(sale protocol.SaleCreated) {
		data, err := json.Marshal(sale)
		if err != nil {
			log.Warn("failed to marshal sale event", slog.Any("error", err))
			return
		}
		if err := pub.Publish(protocol.SubjectSaleCreated, data); err != nil {
			log.Warn("failed to publish sale event", slog.Any("error", err))
		}
	})
}
