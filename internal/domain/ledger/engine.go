package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/lots"
	"stockledger/internal/domain/units"
	"stockledger/internal/infra/metrics"
)

// Engine is the inventory ledger: it normalizes entered quantities, validates
// sufficiency and lot/container requirements, and commits journal entry plus
// balance update as one atomic unit of work.
type Engine struct {
	store Store
	units *units.Table
	log   *slog.Logger

	now        func() time.Time
	maxRetries uint64
	retryPause time.Duration
}

func New(store Store, tbl *units.Table, log *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		units:      tbl,
		log:        log,
		now:        time.Now,
		maxRetries: 3,
		retryPause: 25 * time.Millisecond,
	}
}

// Request is the fixed operation contract invoked by upstream callers.
// LocationID is the debit side for debiting operations and the credit side
// for RECEIPT/OPENING_BALANCE; TRANSFER and RETURN additionally carry
// DestLocationID as the credit side.
type Request struct {
	Operation      TxType
	ItemID         int64
	LocationID     int64
	DestLocationID *int64
	LotID          *int64
	ContainerID    *int64
	ContainerCode  string
	Quantity       decimal.Decimal
	Unit           string
	Actor          string
	ReasonCode     string
	Reference      string
	Meta           map[string]string
}

type Result struct {
	TransactionID uuid.UUID
	PairID        *uuid.UUID
	Balance       Balance
	DestBalance   *Balance
}

func (r Request) validate() error {
	if !r.Operation.Valid() {
		return Errf(KindValidation, "unknown operation %q", r.Operation)
	}
	if r.ItemID <= 0 || r.LocationID <= 0 {
		return Errf(KindValidation, "itemId and locationId are required")
	}
	if r.Unit == "" {
		return Errf(KindValidation, "unit is required")
	}
	switch r.Operation {
	case TxAdjust:
		if r.Quantity.IsZero() {
			return Errf(KindValidation, "adjust delta must be non-zero")
		}
		if r.ReasonCode == "" {
			return Errf(KindValidation, "adjust requires a reason code")
		}
	case TxTransfer, TxReturn:
		if r.DestLocationID == nil {
			return Errf(KindValidation, "%s requires a destination location", r.Operation)
		}
		if *r.DestLocationID == r.LocationID {
			return Errf(KindValidation, "source and destination locations are identical")
		}
		if r.Quantity.Sign() <= 0 {
			return Errf(KindValidation, "quantity must be positive")
		}
	default:
		if r.Quantity.Sign() <= 0 {
			return Errf(KindValidation, "quantity must be positive")
		}
	}
	return nil
}

// Apply executes one ledger operation. Concurrency conflicts are retried a
// bounded number of times before surfacing; any other failure is returned
// as-is with no state mutated.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	start := e.now()
	res, err := e.applyRetrying(ctx, req)

	outcome := "ok"
	if err != nil {
		if k := KindOf(err); k != "" {
			outcome = string(k)
		} else {
			outcome = "error"
		}
	}
	metrics.ObserveOperation(string(req.Operation), outcome, e.now().Sub(start))

	if err != nil {
		e.log.Warn("ledger operation rejected",
			"op", req.Operation, "item", req.ItemID, "location", req.LocationID, "err", err)
		return nil, err
	}
	e.log.Info("ledger operation applied",
		"op", req.Operation, "tx", res.TransactionID, "item", req.ItemID, "location", req.LocationID)
	return res, nil
}

func (e *Engine) applyRetrying(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var res *Result
	err := e.withRetry(ctx, func(ctx context.Context) error {
		r, err := e.applyOnce(ctx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// withRetry re-runs fn a bounded number of times while it keeps losing a
// serialization race; any other failure surfaces immediately.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(e.maxRetries, retry.NewConstant(e.retryPause))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if IsKind(err, KindConcurrencyConflict) {
				metrics.ConflictRetry()
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

// leg is one signed balance contribution of an operation.
type leg struct {
	key   BalanceKey
	delta decimal.Decimal
}

func (e *Engine) applyOnce(ctx context.Context, req Request) (*Result, error) {
	var res Result
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		item, err := e.resolveItem(ctx, tx, req.ItemID)
		if err != nil {
			return err
		}
		if err := e.checkLocation(ctx, tx, req.LocationID); err != nil {
			return err
		}
		if req.DestLocationID != nil {
			if err := e.checkLocation(ctx, tx, *req.DestLocationID); err != nil {
				return err
			}
		}

		qtyBase, err := e.normalize(req.Quantity, req.Unit, item)
		if err != nil {
			return err
		}

		if err := e.checkLot(ctx, tx, item, req.LotID); err != nil {
			return err
		}

		if req.Operation.ReservedAxis() {
			b, err := e.applyReserved(ctx, tx, req, qtyBase)
			if err != nil {
				return err
			}
			res = *b
			return nil
		}

		var cont *lots.Container
		if req.ContainerID != nil {
			cont, err = e.resolveContainer(ctx, tx, item, req.LotID, req.LocationID, *req.ContainerID)
			if err != nil {
				return err
			}
		}

		legs, err := buildLegs(req, qtyBase)
		if err != nil {
			return err
		}

		// Lock every balance row in global key order, then apply deltas with
		// the non-negative floor.
		ordered := make([]leg, len(legs))
		copy(ordered, legs)
		if len(ordered) == 2 && ordered[1].key.Less(ordered[0].key) {
			ordered[0], ordered[1] = ordered[1], ordered[0]
		}
		updated := map[BalanceKey]Balance{}
		for _, l := range ordered {
			b, err := tx.LockBalance(ctx, l.key)
			if err != nil {
				return err
			}
			next := b.OnHand.Add(l.delta)
			if next.Sign() < 0 {
				return Errf(KindInsufficientStock,
					"insufficient stock at location %d: on hand %s %s, requested %s",
					l.key.LocationID, b.OnHand, item.BaseUnit, l.delta.Neg())
			}
			b.OnHand = next
			b.UpdatedAt = e.now()
			updated[l.key] = b
		}

		if req.Operation == TxOpeningBalance {
			seeded, err := tx.HasEntries(ctx, legs[0].key)
			if err != nil {
				return err
			}
			if seeded {
				return Errf(KindValidation, "opening balance already seeded for this tuple")
			}
		}

		// Container bookkeeping moves in lock-step with its lot balance.
		if cont != nil {
			if err := e.applyContainer(ctx, tx, req, item, cont, qtyBase); err != nil {
				return err
			}
		} else if req.Operation == TxReceipt && item.ContainerTracked {
			c := &lots.Container{
				LotID:          *req.LotID,
				LocationID:     req.LocationID,
				Code:           e.containerCode(req),
				InitialQtyBase: qtyBase,
				CurrentQtyBase: qtyBase,
				Status:         lots.ContainerInStock,
				CreatedAt:      e.now(),
			}
			if err := tx.InsertContainer(ctx, c); err != nil {
				return err
			}
			cont = c
		}

		if item.ContainerTracked {
			if err := e.checkContainerSums(ctx, tx, req, updated); err != nil {
				return err
			}
		}

		for _, l := range ordered {
			if err := tx.SaveBalance(ctx, updated[l.key]); err != nil {
				return err
			}
		}

		entries := buildEntries(req, legs, cont, e.now())
		for i := range entries {
			if err := tx.Append(ctx, entries[i]); err != nil {
				return err
			}
		}

		res.TransactionID = entries[0].ID
		res.PairID = entries[0].PairID
		res.Balance = updated[legs[0].key]
		if len(legs) == 2 {
			b := updated[legs[1].key]
			res.DestBalance = &b
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *Engine) resolveItem(ctx context.Context, tx Tx, id int64) (*catalog.Item, error) {
	item, err := tx.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, Errf(KindValidation, "unknown item %d", id)
	}
	if !item.Active {
		return nil, Errf(KindValidation, "item %s is inactive", item.Code)
	}
	return item, nil
}

func (e *Engine) checkLocation(ctx context.Context, tx Tx, id int64) error {
	loc, err := tx.Location(ctx, id)
	if err != nil {
		return err
	}
	if loc == nil {
		return Errf(KindValidation, "unknown location %d", id)
	}
	if !loc.Active {
		return Errf(KindValidation, "location %s is inactive", loc.Code)
	}
	return nil
}

func (e *Engine) normalize(qty decimal.Decimal, unit string, item *catalog.Item) (decimal.Decimal, error) {
	qtyBase, err := e.units.Convert(qty, unit, item.BaseUnit)
	switch {
	case errors.Is(err, units.ErrIncompatible):
		return decimal.Zero, Errf(KindUnitIncompatible, "%v", err)
	case errors.Is(err, units.ErrUnknownUnit):
		return decimal.Zero, Errf(KindValidation, "%v", err)
	case err != nil:
		return decimal.Zero, err
	}
	return qtyBase, nil
}

func (e *Engine) checkLot(ctx context.Context, tx Tx, item *catalog.Item, lotID *int64) error {
	if lotID == nil {
		// Container-tracked items need a lot even when not explicitly
		// lot-tracked: containers belong to lots.
		switch {
		case item.LotTracked:
			return Errf(KindLotRequired, "item %s is lot-tracked: a lot reference is required", item.Code)
		case item.ContainerTracked:
			return Errf(KindLotRequired, "item %s is container-tracked: a lot reference is required", item.Code)
		}
		return nil
	}
	lot, err := tx.Lot(ctx, *lotID)
	if err != nil {
		return err
	}
	if lot == nil {
		return Errf(KindValidation, "unknown lot %d", *lotID)
	}
	if lot.ItemID != item.ID {
		return Errf(KindValidation, "lot %d belongs to item %d, not %d", lot.ID, lot.ItemID, item.ID)
	}
	return nil
}

func (e *Engine) resolveContainer(ctx context.Context, tx Tx, item *catalog.Item, lotID *int64, locationID, containerID int64) (*lots.Container, error) {
	if !item.ContainerTracked {
		return nil, Errf(KindValidation, "item %s is not container-tracked", item.Code)
	}
	if lotID == nil {
		return nil, Errf(KindValidation, "container operations require the owning lot")
	}
	c, err := tx.LockContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, Errf(KindValidation, "unknown container %d", containerID)
	}
	if c.LotID != *lotID {
		return nil, Errf(KindValidation, "container %d belongs to lot %d, not %d", c.ID, c.LotID, *lotID)
	}
	if c.LocationID != locationID {
		return nil, Errf(KindContainerConsistency, "container %d is held at location %d, not %d", c.ID, c.LocationID, locationID)
	}
	if c.Status != lots.ContainerInStock {
		return nil, Errf(KindContainerConsistency, "container %d is %s and cannot be moved or debited", c.ID, c.Status)
	}
	return c, nil
}

// buildLegs maps the operation to its signed balance contributions.
func buildLegs(req Request, qtyBase decimal.Decimal) ([]leg, error) {
	src := keyFor(req.LocationID, req.ItemID, req.LotID)
	switch req.Operation {
	case TxReceipt, TxOpeningBalance:
		return []leg{{key: src, delta: qtyBase}}, nil
	case TxConsume, TxDispose:
		return []leg{{key: src, delta: qtyBase.Neg()}}, nil
	case TxAdjust:
		return []leg{{key: src, delta: qtyBase}}, nil
	case TxTransfer, TxReturn:
		dst := keyFor(*req.DestLocationID, req.ItemID, req.LotID)
		return []leg{
			{key: src, delta: qtyBase.Neg()},
			{key: dst, delta: qtyBase},
		}, nil
	default:
		return nil, Errf(KindValidation, "operation %s is not balance-affecting", req.Operation)
	}
}

func (e *Engine) applyContainer(ctx context.Context, tx Tx, req Request, item *catalog.Item, c *lots.Container, qtyBase decimal.Decimal) error {
	switch req.Operation {
	case TxConsume, TxDispose, TxAdjust:
		delta := qtyBase
		if req.Operation != TxAdjust {
			delta = qtyBase.Neg()
		}
		next := c.CurrentQtyBase.Add(delta)
		if next.Sign() < 0 {
			return Errf(KindContainerConsistency,
				"container %d holds %s %s, cannot remove %s", c.ID, c.CurrentQtyBase, item.BaseUnit, delta.Neg())
		}
		c.CurrentQtyBase = next
		if next.IsZero() {
			if req.Operation == TxDispose {
				c.Status = lots.ContainerDisposed
			} else {
				c.Status = lots.ContainerEmpty
			}
		}
	case TxTransfer:
		// Containers transfer custody whole: the entire remaining quantity
		// moves with the vessel.
		if !qtyBase.Equal(c.CurrentQtyBase) {
			return Errf(KindValidation,
				"container transfer must move the full container quantity (%s)", c.CurrentQtyBase)
		}
		c.LocationID = *req.DestLocationID
	default:
		return Errf(KindValidation, "operation %s cannot target a container", req.Operation)
	}

	return tx.SaveContainer(ctx, *c)
}

// checkContainerSums enforces that container quantities at a location never
// exceed the owning lot's balance there. It runs on every balance mutation of
// a container-tracked item, so a debit that omits the container reference
// cannot strand quantity inside the vessels.
func (e *Engine) checkContainerSums(ctx context.Context, tx Tx, req Request, updated map[BalanceKey]Balance) error {
	for _, locID := range containerLocations(req) {
		sum, err := tx.ContainerQtySum(ctx, *req.LotID, locID)
		if err != nil {
			return err
		}
		// Every leg of the operation is in the update set, so the post-update
		// value is always at hand.
		bal := updated[keyFor(locID, req.ItemID, req.LotID)]
		if sum.Cmp(bal.OnHand) > 0 {
			return Errf(KindContainerConsistency,
				"containers at location %d hold %s, exceeding lot balance %s", locID, sum, bal.OnHand)
		}
	}
	return nil
}

func containerLocations(req Request) []int64 {
	locs := []int64{req.LocationID}
	if req.DestLocationID != nil {
		locs = append(locs, *req.DestLocationID)
	}
	return locs
}

func buildEntries(req Request, legs []leg, cont *lots.Container, at time.Time) []Entry {
	var pairID *uuid.UUID
	if len(legs) == 2 {
		id := uuid.New()
		pairID = &id
	}
	var containerID *int64
	if cont != nil {
		containerID = &cont.ID
	}
	entries := make([]Entry, 0, len(legs))
	for _, l := range legs {
		entries = append(entries, Entry{
			ID:          uuid.New(),
			PairID:      pairID,
			Type:        req.Operation,
			OccurredAt:  at,
			Actor:       req.Actor,
			LocationID:  l.key.LocationID,
			ItemID:      req.ItemID,
			LotID:       req.LotID,
			ContainerID: containerID,
			QtyBase:     l.delta,
			EnteredQty:  req.Quantity,
			EnteredUoM:  req.Unit,
			ReasonCode:  req.ReasonCode,
			Reference:   req.Reference,
			Meta:        req.Meta,
		})
	}
	return entries
}

func (e *Engine) containerCode(req Request) string {
	if req.ContainerCode != "" {
		return req.ContainerCode
	}
	return fmt.Sprintf("CNT-%s", uuid.New().String()[:8])
}
