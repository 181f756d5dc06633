// Package salebus is the in-process broadcast point for confirmed sales.
// Views that display sales subscribe here and refresh when one is created.
package salebus

import (
	"sync"

	"github.com/salestalk-labs/salestalk-core/internal/protocol"
)

// Handler receives one confirmed sale.
type Handler func(protocol.SaleCreated)

// Notifier delivers each emission synchronously to all current subscribers
// in registration order. Nothing is buffered: a subscriber registered after
// an emission never sees it. Construct once and inject; consumers must not
// reach for a package-level instance.
type Notifier struct {
	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	handler Handler
}

func NewNotifier() *Notifier { return &Notifier{} }

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribing twice is harmless. Handlers must not subscribe or
// unsubscribe from within a notification callback.
func (n *Notifier) Subscribe(h Handler) func() {
	sub := &subscription{handler: h}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s == sub {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit notifies every current subscriber, in registration order, before
// returning.
func (n *Notifier) Emit(sale protocol.SaleCreated) {
	n.mu.Lock()
	subs := append([]*subscription(nil), n.subs...)
	n.mu.Unlock()

	for _, s := range subs {
		s.handler(sale)
	}
}
