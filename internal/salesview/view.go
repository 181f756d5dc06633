// Package salesview maintains the cached sales listing: rows refresh when a
// sale is created (debounced, so a burst of confirmations causes one fetch)
// and deletes apply optimistically with an explicit snapshot to restore on
// failure.
package salesview

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/api"
	"github.com/salestalk-labs/salestalk-core/internal/protocol"
	"github.com/salestalk-labs/salestalk-core/internal/salebus"
)

// Backend is the slice of the REST client the view needs.
type Backend interface {
	ListSales(ctx context.Context) ([]api.Sale, error)
	DeleteSale(ctx context.Context, saleID string) error
}

type View struct {
	backend Backend
	logger  *slog.Logger
	unhook  func()

	mu   sync.Mutex
	rows []api.Sale
}

// New builds the view and subscribes it to sale-created emissions. window
// is the refresh debounce; rapid repeated sales coalesce into one fetch.
func New(backend Backend, notifier *salebus.Notifier, window time.Duration, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	v := &View{
		backend: backend,
		logger:  logger.With(slog.String("component", "salesview")),
	}
	if notifier != nil {
		v.unhook = notifier.Subscribe(salebus.Debounce(window, func(protocol.SaleCreated) {
			if err := v.Refresh(context.Background()); err != nil {
				v.logger.Warn("sales refresh failed", slog.Any("error", err))
			}
		}))
	}
	return v
}

// Rows returns a copy of the cached listing.
func (v *View) Rows() []api.Sale {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]api.Sale(nil), v.rows...)
}

// Refresh replaces the cache with the server's current listing.
func (v *View) Refresh(ctx context.Context) error {
	rows, err := v.backend.ListSales(ctx)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.rows = rows
	v.mu.Unlock()
	return nil
}

// Delete removes a sale optimistically: the row disappears from the cache
// before the server answers, and the prior snapshot is restored if the call
// fails. On success the cache is replaced with the server-confirmed listing.
func (v *View) Delete(ctx context.Context, saleID string) error {
	v.mu.Lock()
	snapshot := append([]api.Sale(nil), v.rows...)
	kept := v.rows[:0:0]
	for _, row := range v.rows {
		if row.ID != saleID {
			kept = append(kept, row)
		}
	}
	v.rows = kept
	v.mu.Unlock()

	if err := v.backend.DeleteSale(ctx, saleID); err != nil {
		v.mu.Lock()
		v.rows = snapshot
		v.mu.Unlock()
		return err
	}

	if err := v.Refresh(ctx); err != nil {
		// The delete itself succeeded; the tentative cache stands until the
		// next refresh.
		v.logger.Warn("post-delete refresh failed", slog.Any("error", err))
	}
	return nil
}

// Close detaches the view from the notifier.
func (v *View) Close() {
	if v.unhook != nil {
		v.unhook()
		v.unhook = nil
	}
}
