package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/internal/domain/lots"
)

type TxType string

const (
	TxReceipt        TxType = "RECEIPT"
	TxOpeningBalance TxType = "OPENING_BALANCE"
	TxTransfer       TxType = "TRANSFER"
	TxConsume        TxType = "CONSUME"
	TxDispose        TxType = "DISPOSE"
	TxReturn         TxType = "RETURN"
	TxAdjust         TxType = "ADJUST"

	// Reservation entries move the reserved axis only; they never touch
	// on-hand and are excluded from on-hand replay.
	TxReserve TxType = "RESERVE"
	TxRelease TxType = "RELEASE"
)

func (t TxType) Valid() bool {
	switch t {
	case TxReceipt, TxOpeningBalance, TxTransfer, TxConsume, TxDispose, TxReturn, TxAdjust, TxReserve, TxRelease:
		return true
	}
	return false
}

// ReservedAxis reports whether entries of this type contribute to the
// reserved quantity instead of on-hand.
func (t TxType) ReservedAxis() bool { return t == TxReserve || t == TxRelease }

// Entry is one immutable journal row. QtyBase is the signed base-unit
// contribution (credits positive, debits negative); EnteredQty/EnteredUoM
// preserve exactly what the caller typed, independent of later unit-table
// changes.
type Entry struct {
	ID          uuid.UUID
	PairID      *uuid.UUID // shared by the two legs of a TRANSFER/RETURN
	Type        TxType
	OccurredAt  time.Time
	Actor       string
	LocationID  int64
	ItemID      int64
	LotID       *int64
	ContainerID *int64
	QtyBase     decimal.Decimal
	EnteredQty  decimal.Decimal
	EnteredUoM  string
	ReasonCode  string
	Reference   string
	Meta        map[string]string
}

// BalanceKey identifies one balance tuple. LotID 0 means "no lot".
type BalanceKey struct {
	LocationID int64
	ItemID     int64
	LotID      int64
}

func keyFor(locationID, itemID int64, lotID *int64) BalanceKey {
	k := BalanceKey{LocationID: locationID, ItemID: itemID}
	if lotID != nil {
		k.LotID = *lotID
	}
	return k
}

// Less orders keys for lock acquisition. Every unit of work locks its balance
// rows in this order, so opposing transfers cannot deadlock.
func (k BalanceKey) Less(o BalanceKey) bool {
	if k.LocationID != o.LocationID {
		return k.LocationID < o.LocationID
	}
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	return k.LotID < o.LotID
}

type Balance struct {
	Key       BalanceKey
	OnHand    decimal.Decimal
	Reserved  decimal.Decimal
	UpdatedAt time.Time
}

type BalanceFilter struct {
	LocationID *int64
	ItemID     *int64
	LotID      *int64
	Limit      int
	Offset     int
}

type EntryFilter struct {
	LocationID *int64
	ItemID     *int64
	LotID      *int64
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// ExpiringLot is a monitor row: a lot nearing expiry with stock still on hand
// at a location.
type ExpiringLot struct {
	Lot        lots.Lot
	LocationID int64
	OnHand     decimal.Decimal
}

// LowStockRow is a monitor row: an item whose total on-hand at a location sits
// below its configured thresholds.
type LowStockRow struct {
	ItemID       int64
	ItemCode     string
	LocationID   int64
	OnHand       decimal.Decimal
	MinStock     decimal.Decimal
	ReorderPoint decimal.Decimal
}

// BelowMinStock reports whether the row breaches the hard minimum rather than
// just the reorder point.
func (r LowStockRow) BelowMinStock() bool { return r.OnHand.Cmp(r.MinStock) < 0 }
