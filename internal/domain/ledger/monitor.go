package ledger

import (
	"context"

	"stockledger/internal/domain/units"
)

// The expiry and threshold monitor is a pure read layer over the balance
// projection and the lot registry, so it can never drift from either.

// ExpiringLots lists lots expiring within the window that still hold stock,
// optionally scoped to one location.
func (e *Engine) ExpiringLots(ctx context.Context, withinDays int, locationID *int64) ([]ExpiringLot, error) {
	if withinDays < 0 {
		return nil, Errf(KindValidation, "expiry window must not be negative")
	}
	before := e.now().AddDate(0, 0, withinDays)
	return e.store.ExpiringLots(ctx, before, locationID)
}

// LowStock lists items whose per-location totals sit below their configured
// minimum stock or reorder point.
func (e *Engine) LowStock(ctx context.Context, locationID *int64) ([]LowStockRow, error) {
	return e.store.LowStock(ctx, locationID)
}

// Balances and Entries expose the paginated read surfaces for downstream
// consumers (dashboards, reports, alerting).
func (e *Engine) Balances(ctx context.Context, f BalanceFilter) ([]Balance, error) {
	return e.store.Balances(ctx, f)
}

func (e *Engine) Entries(ctx context.Context, f EntryFilter) ([]Entry, error) {
	return e.store.Entries(ctx, f)
}

// Units lists the active conversion table (builtins merged with organization
// overrides at startup).
func (e *Engine) Units() []units.Unit {
	return e.units.All()
}

// BalanceAt reads one tuple's current materialized balance.
func (e *Engine) BalanceAt(ctx context.Context, locationID, itemID int64, lotID *int64) (Balance, error) {
	return e.store.Balance(ctx, keyFor(locationID, itemID, lotID))
}
