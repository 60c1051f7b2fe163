package ledger_test

import (
	"context"
	"testing"
	"time"

	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/lots"
)

func expiringLot(t *testing.T, f *fixture, number string, inDays int) *lots.Lot {
	t.Helper()
	exp := time.Now().AddDate(0, 0, inDays)
	lot, err := f.store.CreateLot(context.Background(), lots.Lot{
		ItemID: f.chem.ID, LotNumber: number, ReceivedAt: time.Now(), ExpiresAt: &exp,
	})
	if err != nil {
		t.Fatal(err)
	}
	return lot
}

func TestExpiringLotsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon := expiringLot(t, f, "EXP-10", 10)
	later := expiringLot(t, f, "EXP-90", 90)
	drained := expiringLot(t, f, "EXP-5", 5)

	for _, lot := range []*lots.Lot{soon, later, drained} {
		f.apply(t, ledger.Request{
			Operation: ledger.TxReceipt, ItemID: f.chem.ID, LocationID: f.l1.ID, LotID: &lot.ID,
			Quantity: d("100"), Unit: "g",
		})
	}
	// A fully consumed lot does not alert, however close its date.
	f.apply(t, ledger.Request{
		Operation: ledger.TxConsume, ItemID: f.chem.ID, LocationID: f.l1.ID, LotID: &drained.ID,
		Quantity: d("100"), Unit: "g",
	})

	rows, err := f.engine.ExpiringLots(ctx, 30, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("30-day window returned %d lots, want 1: %+v", len(rows), rows)
	}
	if rows[0].Lot.LotNumber != "EXP-10" || rows[0].LocationID != f.l1.ID {
		t.Errorf("unexpected row: %+v", rows[0])
	}
	if !rows[0].OnHand.Equal(d("100")) {
		t.Errorf("row on-hand = %s, want 100", rows[0].OnHand)
	}

	rows, err = f.engine.ExpiringLots(ctx, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("5-day window returned %d lots, want 0", len(rows))
	}
}

func TestExpiringLotsLocationFilter(t *testing.T) {
	f := newFixture(t)
	lot := expiringLot(t, f, "EXP-7", 7)
	f.apply(t, ledger.Request{
		Operation: ledger.TxReceipt, ItemID: f.chem.ID, LocationID: f.l2.ID, LotID: &lot.ID,
		Quantity: d("50"), Unit: "g",
	})

	rows, err := f.engine.ExpiringLots(context.Background(), 30, &f.l1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("L1 filter returned %d lots, want 0", len(rows))
	}
	rows, _ = f.engine.ExpiringLots(context.Background(), 30, &f.l2.ID)
	if len(rows) != 1 {
		t.Fatalf("L2 filter returned %d lots, want 1", len(rows))
	}
}

func TestLowStockThresholds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// supply: min 10, reorder 25. 30 on hand is healthy.
	f.apply(t, ledger.Request{
		Operation: ledger.TxReceipt, ItemID: f.supply.ID, LocationID: f.l1.ID,
		Quantity: d("30"), Unit: "pcs",
	})
	rows, err := f.engine.LowStock(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("healthy stock reported low: %+v", rows)
	}

	// Drop below the reorder point but above the hard minimum.
	f.apply(t, ledger.Request{
		Operation: ledger.TxConsume, ItemID: f.supply.ID, LocationID: f.l1.ID,
		Quantity: d("12"), Unit: "pcs",
	})
	rows, err = f.engine.LowStock(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d low-stock rows, want 1: %+v", len(rows), rows)
	}
	row := rows[0]
	if row.ItemCode != "SUPPLY-Y" || !row.OnHand.Equal(d("18")) {
		t.Errorf("row = %+v", row)
	}
	if row.BelowMinStock() {
		t.Error("18 on hand with min 10 flagged below minimum")
	}

	// Now breach the minimum too.
	f.apply(t, ledger.Request{
		Operation: ledger.TxConsume, ItemID: f.supply.ID, LocationID: f.l1.ID,
		Quantity: d("10"), Unit: "pcs",
	})
	rows, _ = f.engine.LowStock(ctx, nil)
	if len(rows) != 1 || !rows[0].BelowMinStock() {
		t.Fatalf("8 on hand with min 10 not flagged: %+v", rows)
	}

	// Items without thresholds never alert.
	if _, err := f.engine.Apply(ctx, ledger.Request{
		Operation: ledger.TxReceipt, ItemID: f.chem.ID, LocationID: f.l1.ID, LotID: &f.lot1.ID,
		Quantity: d("1"), Unit: "g",
	}); err != nil {
		t.Fatal(err)
	}
	rows, _ = f.engine.LowStock(ctx, nil)
	for _, r := range rows {
		if r.ItemID == f.chem.ID {
			t.Fatalf("thresholdless item alerted: %+v", r)
		}
	}
}
