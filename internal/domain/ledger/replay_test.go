package ledger_test

import (
	"context"
	"testing"

	"stockledger/internal/domain/ledger"
)

func runMixedHistory(t *testing.T, f *fixture) {
	t.Helper()
	lot := &f.lot1.ID
	steps := []ledger.Request{
		{Operation: ledger.TxReceipt, ItemID: f.chem.ID, LocationID: f.l1.ID, LotID: lot, Quantity: d("1200"), Unit: "g"},
		{Operation: ledger.TxConsume, ItemID: f.chem.ID, LocationID: f.l1.ID, LotID: lot, Quantity: d("0.35"), Unit: "kg"},
		{Operation: ledger.TxTransfer, ItemID: f.chem.ID, LocationID: f.l1.ID, DestLocationID: &f.l2.ID, LotID: lot, Quantity: d("400"), Unit: "g"},
		{Operation: ledger.TxAdjust, ItemID: f.chem.ID, LocationID: f.l2.ID, LotID: lot, Quantity: d("-25"), Unit: "g", ReasonCode: "SPILL"},
		{Operation: ledger.TxReturn, ItemID: f.chem.ID, LocationID: f.l2.ID, DestLocationID: &f.l1.ID, LotID: lot, Quantity: d("100"), Unit: "g"},
		{Operation: ledger.TxOpeningBalance, ItemID: f.supply.ID, LocationID: f.l1.ID, Quantity: d("60"), Unit: "pcs"},
		{Operation: ledger.TxDispose, ItemID: f.supply.ID, LocationID: f.l1.ID, Quantity: d("6"), Unit: "pcs", ReasonCode: "DAMAGED"},
	}
	for _, req := range steps {
		f.apply(t, req)
	}
}

func TestReplayMatchesMaterializedBalances(t *testing.T) {
	f := newFixture(t)
	runMixedHistory(t, f)

	report, err := f.engine.Reconcile(context.Background(), ledger.BalanceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Clean() {
		t.Fatalf("drift after a clean history: %+v", report.Drifts)
	}
	if report.Checked == 0 {
		t.Fatal("reconcile inspected no tuples")
	}
}

func TestReconcileReportsDriftWithoutCorrecting(t *testing.T) {
	f := newFixture(t)
	runMixedHistory(t, f)

	// Corrupt one materialized row behind the journal's back.
	key := ledger.BalanceKey{LocationID: f.l1.ID, ItemID: f.supply.ID}
	f.store.PutBalance(key, d("999"), d("0"))

	report, err := f.engine.Reconcile(context.Background(), ledger.BalanceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Drifts) != 1 {
		t.Fatalf("got %d drifts, want 1: %+v", len(report.Drifts), report.Drifts)
	}
	drift := report.Drifts[0]
	if drift.Key != key {
		t.Errorf("drift key = %+v, want %+v", drift.Key, key)
	}
	if !drift.MaterializedOnHand.Equal(d("999")) || !drift.ReplayedOnHand.Equal(d("54")) {
		t.Errorf("drift = materialized %s vs replayed %s, want 999 vs 54",
			drift.MaterializedOnHand, drift.ReplayedOnHand)
	}

	// The corrupted row is reported, never healed.
	if got := f.onHand(t, f.l1.ID, f.supply.ID, nil); !got.Equal(d("999")) {
		t.Fatalf("reconcile mutated the balance: %s", got)
	}
}

func TestReconcileHonorsFilter(t *testing.T) {
	f := newFixture(t)
	runMixedHistory(t, f)

	report, err := f.engine.Reconcile(context.Background(), ledger.BalanceFilter{ItemID: &f.supply.ID})
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 1 {
		t.Fatalf("filtered reconcile checked %d tuples, want 1", report.Checked)
	}
}
