package ledger

import (
	"context"

	"github.com/google/uuid"

	"stockledger/internal/domain/lots"
)

// CloseContainerRequest terminates a container. DISPOSED writes off any
// remaining quantity as a DISPOSE entry; LOST writes it off as a negative
// ADJUST carrying the reason code. Terminal statuses are never revived.
type CloseContainerRequest struct {
	ContainerID int64
	Status      lots.ContainerStatus
	Actor       string
	ReasonCode  string
	Reference   string
}

func (e *Engine) CloseContainer(ctx context.Context, req CloseContainerRequest) (*Result, error) {
	if !req.Status.Terminal() {
		return nil, Errf(KindValidation, "close status must be %s or %s", lots.ContainerDisposed, lots.ContainerLost)
	}
	if req.Status == lots.ContainerLost && req.ReasonCode == "" {
		return nil, Errf(KindValidation, "marking a container lost requires a reason code")
	}

	var res Result
	err := e.withRetry(ctx, func(ctx context.Context) error {
		res = Result{}
		return e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			c, err := tx.LockContainer(ctx, req.ContainerID)
			if err != nil {
				return err
			}
			if c == nil {
				return Errf(KindValidation, "unknown container %d", req.ContainerID)
			}
			if c.Status.Terminal() {
				return Errf(KindContainerConsistency, "container %d is already %s", c.ID, c.Status)
			}

			lot, err := tx.Lot(ctx, c.LotID)
			if err != nil {
				return err
			}
			if lot == nil {
				return Errf(KindValidation, "container %d references unknown lot %d", c.ID, c.LotID)
			}
			item, err := e.resolveItem(ctx, tx, lot.ItemID)
			if err != nil {
				return err
			}

			remaining := c.CurrentQtyBase
			if remaining.Sign() > 0 {
				key := keyFor(c.LocationID, item.ID, &c.LotID)
				b, err := tx.LockBalance(ctx, key)
				if err != nil {
					return err
				}
				next := b.OnHand.Sub(remaining)
				if next.Sign() < 0 {
					return Errf(KindContainerConsistency,
						"container %d holds %s but lot balance is only %s", c.ID, remaining, b.OnHand)
				}
				b.OnHand = next
				b.UpdatedAt = e.now()
				if err := tx.SaveBalance(ctx, b); err != nil {
					return err
				}

				entryType := TxDispose
				if req.Status == lots.ContainerLost {
					entryType = TxAdjust
				}
				entry := Entry{
					ID:          uuid.New(),
					Type:        entryType,
					OccurredAt:  e.now(),
					Actor:       req.Actor,
					LocationID:  c.LocationID,
					ItemID:      item.ID,
					LotID:       &c.LotID,
					ContainerID: &c.ID,
					QtyBase:     remaining.Neg(),
					EnteredQty:  remaining,
					EnteredUoM:  item.BaseUnit,
					ReasonCode:  req.ReasonCode,
					Reference:   req.Reference,
				}
				if err := tx.Append(ctx, entry); err != nil {
					return err
				}
				res.TransactionID = entry.ID
				res.Balance = b
			}

			c.CurrentQtyBase = c.CurrentQtyBase.Sub(remaining)
			c.Status = req.Status
			return tx.SaveContainer(ctx, *c)
		})
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
