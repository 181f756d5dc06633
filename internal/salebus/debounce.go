package salebus

import (
	"sync"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/protocol"
)

// Debounce wraps fn so rapid repeated emissions coalesce into one call with
// the most recent sale, fired after a quiet window. Coalescing is a
// subscriber-side concern; the notifier itself never drops or delays.
func Debounce(window time.Duration, fn func(protocol.SaleCreated)) Handler {
	var mu sync.Mutex
	var pending *time.Timer
	var latest protocol.SaleCreated

	return func(sale protocol.SaleCreated) {
		mu.Lock()
		latest = sale
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(window, func() {
			mu.Lock()
			last := latest
			pending = nil
			mu.Unlock()
			fn(last)
		})
		mu.Unlock()
	}
}
