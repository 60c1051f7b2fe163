// Package postgres implements the ledger store over pgx. Each unit of work is
// one database transaction; balance rows are created lazily with an upsert and
// then locked with SELECT ... FOR UPDATE, so two first-touches of the same
// tuple serialize instead of racing.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/lots"
)

type Store struct{ pool *pgxpool.Pool }

var _ ledger.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(err)
	}
	return nil
}

// mapConflict turns serialization failures, deadlocks and lock timeouts into
// the retryable conflict error.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", ledger.ErrConflict, pgErr.Code)
		}
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Item(ctx context.Context, id int64) (*catalog.Item, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, code, name, base_unit, lot_tracked, container_tracked, min_stock, reorder_point, active, created_at
		FROM items WHERE id=$1
	`, id)
	var it catalog.Item
	if err := row.Scan(&it.ID, &it.Code, &it.Name, &it.BaseUnit, &it.LotTracked, &it.ContainerTracked,
		&it.MinStock, &it.ReorderPoint, &it.Active, &it.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

func (t *pgTx) Location(ctx context.Context, id int64) (*catalog.Location, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, code, name, type, active, created_at FROM locations WHERE id=$1
	`, id)
	var l catalog.Location
	if err := row.Scan(&l.ID, &l.Code, &l.Name, &l.Type, &l.Active, &l.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (t *pgTx) Lot(ctx context.Context, id int64) (*lots.Lot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, item_id, lot_number, supplier_ref, received_at, expires_at, document_refs, created_at
		FROM lots WHERE id=$1
	`, id)
	var l lots.Lot
	if err := row.Scan(&l.ID, &l.ItemID, &l.LotNumber, &l.SupplierRef, &l.ReceivedAt, &l.ExpiresAt,
		&l.DocumentRefs, &l.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (t *pgTx) LockBalance(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	// Lazy row creation shares the row lock with the subsequent mutation.
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO balances (location_id, item_id, lot_id, qty_on_hand, qty_reserved)
		VALUES ($1,$2,$3,0,0)
		ON CONFLICT (location_id, item_id, lot_id) DO NOTHING
	`, key.LocationID, key.ItemID, key.LotID); err != nil {
		return ledger.Balance{}, err
	}
	row := t.tx.QueryRow(ctx, `
		SELECT qty_on_hand, qty_reserved, updated_at
		FROM balances
		WHERE location_id=$1 AND item_id=$2 AND lot_id=$3
		FOR UPDATE
	`, key.LocationID, key.ItemID, key.LotID)
	b := ledger.Balance{Key: key}
	if err := row.Scan(&b.OnHand, &b.Reserved, &b.UpdatedAt); err != nil {
		return ledger.Balance{}, err
	}
	return b, nil
}

func (t *pgTx) SaveBalance(ctx context.Context, b ledger.Balance) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE balances
		SET qty_on_hand=$4, qty_reserved=$5, updated_at=$6
		WHERE location_id=$1 AND item_id=$2 AND lot_id=$3
	`, b.Key.LocationID, b.Key.ItemID, b.Key.LotID, b.OnHand, b.Reserved, b.UpdatedAt)
	return err
}

func (t *pgTx) Append(ctx context.Context, e ledger.Entry) error {
	var meta []byte
	if len(e.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(e.Meta); err != nil {
			return err
		}
	}
	var pairID *string
	if e.PairID != nil {
		s := e.PairID.String()
		pairID = &s
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions
			(id, pair_id, type, occurred_at, actor, location_id, item_id, lot_id, container_id,
			 qty_base, entered_qty, entered_uom, reason_code, reference, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, e.ID.String(), pairID, string(e.Type), e.OccurredAt, e.Actor, e.LocationID, e.ItemID,
		e.LotID, e.ContainerID, e.QtyBase, e.EnteredQty, e.EnteredUoM, e.ReasonCode, e.Reference, meta)
	return err
}

func (t *pgTx) HasEntries(ctx context.Context, key ledger.BalanceKey) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE location_id=$1 AND item_id=$2 AND COALESCE(lot_id,0)=$3
		)
	`, key.LocationID, key.ItemID, key.LotID).Scan(&exists)
	return exists, err
}

func (t *pgTx) LockContainer(ctx context.Context, id int64) (*lots.Container, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, lot_id, location_id, code, initial_qty_base, current_qty_base, status, created_at
		FROM containers WHERE id=$1
		FOR UPDATE
	`, id)
	var c lots.Container
	if err := row.Scan(&c.ID, &c.LotID, &c.LocationID, &c.Code, &c.InitialQtyBase, &c.CurrentQtyBase,
		&c.Status, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) InsertContainer(ctx context.Context, c *lots.Container) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO containers (lot_id, location_id, code, initial_qty_base, current_qty_base, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at
	`, c.LotID, c.LocationID, c.Code, c.InitialQtyBase, c.CurrentQtyBase, string(c.Status)).
		Scan(&c.ID, &c.CreatedAt)
}

func (t *pgTx) SaveContainer(ctx context.Context, c lots.Container) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE containers
		SET location_id=$2, current_qty_base=$3, status=$4
		WHERE id=$1
	`, c.ID, c.LocationID, c.CurrentQtyBase, string(c.Status))
	return err
}

func (t *pgTx) ContainerQtySum(ctx context.Context, lotID, locationID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(current_qty_base), 0)
		FROM containers
		WHERE lot_id=$1 AND location_id=$2 AND status NOT IN ('DISPOSED','LOST')
	`, lotID, locationID).Scan(&sum)
	return sum, err
}

/* Reader */

func (s *Store) Balance(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT qty_on_hand, qty_reserved, updated_at
		FROM balances
		WHERE location_id=$1 AND item_id=$2 AND lot_id=$3
	`, key.LocationID, key.ItemID, key.LotID)
	b := ledger.Balance{Key: key, OnHand: decimal.Zero, Reserved: decimal.Zero}
	if err := row.Scan(&b.OnHand, &b.Reserved, &b.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return b, nil
		}
		return ledger.Balance{}, err
	}
	return b, nil
}

func (s *Store) Balances(ctx context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	q := `
		SELECT location_id, item_id, lot_id, qty_on_hand, qty_reserved, updated_at
		FROM balances
	`
	where, args := balanceWhere(f)
	q += where + ` ORDER BY location_id, item_id, lot_id` + pageClause(f.Limit, f.Offset)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Balance
	for rows.Next() {
		var b ledger.Balance
		if err := rows.Scan(&b.Key.LocationID, &b.Key.ItemID, &b.Key.LotID, &b.OnHand, &b.Reserved, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) BalanceKeys(ctx context.Context, f ledger.BalanceFilter) ([]ledger.BalanceKey, error) {
	q := `SELECT location_id, item_id, lot_id FROM balances`
	where, args := balanceWhere(f)
	q += where + ` ORDER BY location_id, item_id, lot_id`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.BalanceKey
	for rows.Next() {
		var k ledger.BalanceKey
		if err := rows.Scan(&k.LocationID, &k.ItemID, &k.LotID); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) Entries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	q := `
		SELECT id, pair_id, type, occurred_at, actor, location_id, item_id, lot_id, container_id,
		       qty_base, entered_qty, entered_uom, reason_code, reference, meta
		FROM transactions
	`
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.LocationID != nil {
		add("location_id=$%d", *f.LocationID)
	}
	if f.ItemID != nil {
		add("item_id=$%d", *f.ItemID)
	}
	if f.LotID != nil {
		add("lot_id=$%d", *f.LotID)
	}
	if f.From != nil {
		add("occurred_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("occurred_at < $%d", *f.To)
	}
	q += whereClause(conds) + ` ORDER BY occurred_at, id` + pageClause(f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e      ledger.Entry
		id     string
		pairID *string
		typ    string
		meta   []byte
	)
	if err := row.Scan(&id, &pairID, &typ, &e.OccurredAt, &e.Actor, &e.LocationID, &e.ItemID,
		&e.LotID, &e.ContainerID, &e.QtyBase, &e.EnteredQty, &e.EnteredUoM, &e.ReasonCode,
		&e.Reference, &meta); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	e.ID = parsed
	if pairID != nil {
		p, err := uuid.Parse(*pairID)
		if err != nil {
			return nil, err
		}
		e.PairID = &p
	}
	e.Type = ledger.TxType(typ)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (s *Store) ReplayTuple(ctx context.Context, key ledger.BalanceKey) (decimal.Decimal, decimal.Decimal, error) {
	var onHand, reserved decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(qty_base) FILTER (WHERE type NOT IN ('RESERVE','RELEASE')), 0),
			COALESCE(SUM(qty_base) FILTER (WHERE type IN ('RESERVE','RELEASE')), 0)
		FROM transactions
		WHERE location_id=$1 AND item_id=$2 AND COALESCE(lot_id,0)=$3
	`, key.LocationID, key.ItemID, key.LotID).Scan(&onHand, &reserved)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return onHand, reserved, nil
}

func (s *Store) ExpiringLots(ctx context.Context, before time.Time, locationID *int64) ([]ledger.ExpiringLot, error) {
	q := `
		SELECT l.id, l.item_id, l.lot_number, l.supplier_ref, l.received_at, l.expires_at, l.document_refs, l.created_at,
		       b.location_id, b.qty_on_hand
		FROM lots l
		JOIN balances b ON b.lot_id = l.id AND b.item_id = l.item_id
		WHERE l.expires_at IS NOT NULL AND l.expires_at <= $1 AND b.qty_on_hand > 0
	`
	args := []any{before}
	if locationID != nil {
		args = append(args, *locationID)
		q += ` AND b.location_id = $2`
	}
	q += ` ORDER BY l.expires_at, b.location_id`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.ExpiringLot
	for rows.Next() {
		var r ledger.ExpiringLot
		if err := rows.Scan(&r.Lot.ID, &r.Lot.ItemID, &r.Lot.LotNumber, &r.Lot.SupplierRef,
			&r.Lot.ReceivedAt, &r.Lot.ExpiresAt, &r.Lot.DocumentRefs, &r.Lot.CreatedAt,
			&r.LocationID, &r.OnHand); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LowStock(ctx context.Context, locationID *int64) ([]ledger.LowStockRow, error) {
	q := `
		SELECT i.id, i.code, b.location_id, SUM(b.qty_on_hand), i.min_stock, i.reorder_point
		FROM balances b
		JOIN items i ON i.id = b.item_id
	`
	var args []any
	if locationID != nil {
		args = append(args, *locationID)
		q += ` WHERE b.location_id = $1`
	}
	q += `
		GROUP BY i.id, i.code, b.location_id, i.min_stock, i.reorder_point
		HAVING GREATEST(i.min_stock, i.reorder_point) > 0
		   AND SUM(b.qty_on_hand) < GREATEST(i.min_stock, i.reorder_point)
		ORDER BY b.location_id, i.id
	`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.LowStockRow
	for rows.Next() {
		var r ledger.LowStockRow
		if err := rows.Scan(&r.ItemID, &r.ItemCode, &r.LocationID, &r.OnHand, &r.MinStock, &r.ReorderPoint); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func balanceWhere(f ledger.BalanceFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.LocationID != nil {
		add("location_id=$%d", *f.LocationID)
	}
	if f.ItemID != nil {
		add("item_id=$%d", *f.ItemID)
	}
	if f.LotID != nil {
		add("lot_id=$%d", *f.LotID)
	}
	return whereClause(conds), args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	out := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}

func pageClause(limit, offset int) string {
	out := ""
	if limit > 0 {
		out += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		out += fmt.Sprintf(" OFFSET %d", offset)
	}
	return out
}
