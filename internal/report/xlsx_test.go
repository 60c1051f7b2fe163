package report

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestWriteBalances(t *testing.T) {
	rows := []BalanceRow{
		{LocationCode: "L1", ItemCode: "CHEM-X", ItemName: "Chemical X", LotNumber: "LOT-1",
			OnHand: decimal.RequireFromString("750"), Reserved: decimal.RequireFromString("50"), Unit: "g"},
		{LocationCode: "L2", ItemCode: "SUPPLY-Y", ItemName: "Gloves",
			OnHand: decimal.RequireFromString("18"), Reserved: decimal.Zero, Unit: "pcs"},
	}

	var buf bytes.Buffer
	if err := WriteBalances(&buf, rows); err != nil {
		t.Fatalf("WriteBalances: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	got, err := f.GetRows("Balances")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("sheet has %d rows, want 3", len(got))
	}
	if got[0][0] != "Location" || got[0][4] != "On hand" {
		t.Errorf("header row = %v", got[0])
	}
	if got[1][1] != "CHEM-X" || got[1][4] != "750" {
		t.Errorf("first data row = %v", got[1])
	}
	if got[2][0] != "L2" || got[2][3] != "" {
		t.Errorf("second data row = %v", got[2])
	}
}
