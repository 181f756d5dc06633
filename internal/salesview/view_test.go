package salesview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/api"
	"github.com/salestalk-labs/salestalk-core/internal/protocol"
	"github.com/salestalk-labs/salestalk-core/internal/salebus"
)

type fakeBackend struct {
	mu        sync.Mutex
	rows      []api.Sale
	listCalls int
	deleteErr error
	deleted   []string
}

func (f *fakeBackend) ListSales(context.Context) ([]api.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]api.Sale(nil), f.rows...), nil
}

func (f *fakeBackend) DeleteSale(_ context.Context, saleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, saleID)
	kept := f.rows[:0:0]
	for _, row := range f.rows {
		if row.ID != saleID {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRefreshReplacesCache(t *testing.T) {
	backend := &fakeBackend{rows: []api.Sale{{ID: "s1"}, {ID: "s2"}}}
	v := New(backend, nil, time.Millisecond, discard())

	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rows := v.Rows(); len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestSaleCreatedTriggersDebouncedRefresh(t *testing.T) {
	backend := &fakeBackend{rows: []api.Sale{{ID: "s1"}}}
	notifier := salebus.NewNotifier()
	v := New(backend, notifier, 20*time.Millisecond, discard())
	defer v.Close()

	notifier.Emit(protocol.SaleCreated{ID: "s1"})
	notifier.Emit(protocol.SaleCreated{ID: "s2"})
	notifier.Emit(protocol.SaleCreated{ID: "s3"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && backend.calls() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	// Allow a second debounce window to confirm no extra fetches arrive.
	time.Sleep(50 * time.Millisecond)

	if got := backend.calls(); got != 1 {
		t.Fatalf("list calls = %d, want 1 coalesced refresh", got)
	}
	if rows := v.Rows(); len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestDeleteAppliesOptimistically(t *testing.T) {
	backend := &fakeBackend{rows: []api.Sale{{ID: "s1"}, {ID: "s2"}}}
	v := New(backend, nil, time.Millisecond, discard())
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := v.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows := v.Rows()
	if len(rows) != 1 || rows[0].ID != "s2" {
		t.Fatalf("rows = %v", rows)
	}
	if len(backend.deleted) != 1 || backend.deleted[0] != "s1" {
		t.Fatalf("deleted = %v", backend.deleted)
	}
}

func TestDeleteRestoresSnapshotOnFailure(t *testing.T) {
	backend := &fakeBackend{
		rows:      []api.Sale{{ID: "s1"}, {ID: "s2"}},
		deleteErr: errors.New("backend down"),
	}
	v := New(backend, nil, time.Millisecond, discard())
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := v.Delete(context.Background(), "s1"); err == nil {
		t.Fatal("expected delete failure")
	}
	rows := v.Rows()
	if len(rows) != 2 || rows[0].ID != "s1" {
		t.Fatalf("rows = %v, want snapshot restored", rows)
	}
}

func TestCloseDetachesFromNotifier(t *testing.T) {
	backend := &fakeBackend{}
	notifier := salebus.NewNotifier()
	v := New(backend, notifier, time.Millisecond, discard())
	v.Close()

	notifier.Emit(protocol.SaleCreated{ID: "s1"})
	time.Sleep(20 * time.Millisecond)
	if got := backend.calls(); got != 0 {
		t.Fatalf("list calls = %d after close", got)
	}
}
