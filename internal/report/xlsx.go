// Package report renders balance snapshots as xlsx workbooks for operators
// who live in spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/shopspring/decimal"
)

type BalanceRow struct {
	LocationCode string
	ItemCode     string
	ItemName     string
	LotNumber    string
	OnHand       decimal.Decimal
	Reserved     decimal.Decimal
	Unit         string
}

// WriteBalances writes one sheet named "Balances" with a header row.
func WriteBalances(w io.Writer, rows []BalanceRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Balances"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Location", "Item", "Name", "Lot", "On hand", "Reserved", "Unit"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, r := range rows {
		values := []any{r.LocationCode, r.ItemCode, r.ItemName, r.LotNumber, r.OnHand.InexactFloat64(), r.Reserved.InexactFloat64(), r.Unit}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
