package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reservation entries ride the same journal as stock movements but contribute
// to the reserved axis only. The engine enforces 0 <= reserved <= on-hand;
// when reservations are placed and released is the caller's business.

// Reserve earmarks quantity on a balance tuple without moving it.
func (e *Engine) Reserve(ctx context.Context, req Request) (*Result, error) {
	req.Operation = TxReserve
	return e.Apply(ctx, req)
}

// Release returns previously reserved quantity to the free pool.
func (e *Engine) Release(ctx context.Context, req Request) (*Result, error) {
	req.Operation = TxRelease
	return e.Apply(ctx, req)
}

func (e *Engine) applyReserved(ctx context.Context, tx Tx, req Request, qtyBase decimal.Decimal) (*Result, error) {
	key := keyFor(req.LocationID, req.ItemID, req.LotID)
	b, err := tx.LockBalance(ctx, key)
	if err != nil {
		return nil, err
	}

	delta := qtyBase
	if req.Operation == TxRelease {
		delta = qtyBase.Neg()
	}
	next := b.Reserved.Add(delta)
	switch {
	case next.Sign() < 0:
		return nil, Errf(KindValidation, "release exceeds reserved quantity (%s reserved)", b.Reserved)
	case next.Cmp(b.OnHand) > 0:
		return nil, Errf(KindInsufficientStock,
			"cannot reserve %s: on hand %s, already reserved %s", qtyBase, b.OnHand, b.Reserved)
	}
	b.Reserved = next
	b.UpdatedAt = e.now()
	if err := tx.SaveBalance(ctx, b); err != nil {
		return nil, err
	}

	entry := Entry{
		ID:         uuid.New(),
		Type:       req.Operation,
		OccurredAt: e.now(),
		Actor:      req.Actor,
		LocationID: req.LocationID,
		ItemID:     req.ItemID,
		LotID:      req.LotID,
		QtyBase:    delta,
		EnteredQty: req.Quantity,
		EnteredUoM: req.Unit,
		ReasonCode: req.ReasonCode,
		Reference:  req.Reference,
		Meta:       req.Meta,
	}
	if err := tx.Append(ctx, entry); err != nil {
		return nil, err
	}
	return &Result{TransactionID: entry.ID, Balance: b}, nil
}
