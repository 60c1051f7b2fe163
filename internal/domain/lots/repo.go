package lots

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo serves the lot master-data surface. Container quantities and statuses
// are mutated only through the ledger engine's unit of work; this repo only
// creates lots and reads.
type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const lotCols = `id, item_id, lot_number, supplier_ref, received_at, expires_at, document_refs, created_at`

func scanLot(row pgx.Row) (*Lot, error) {
	var l Lot
	if err := row.Scan(
		&l.ID,
		&l.ItemID,
		&l.LotNumber,
		&l.SupplierRef,
		&l.ReceivedAt,
		&l.ExpiresAt,
		&l.DocumentRefs,
		&l.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repo) CreateLot(ctx context.Context, l Lot) (*Lot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO lots (item_id, lot_number, supplier_ref, received_at, expires_at, document_refs)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (item_id, lot_number) DO NOTHING
		RETURNING `+lotCols+`
	`, l.ItemID, l.LotNumber, l.SupplierRef, l.ReceivedAt, l.ExpiresAt, l.DocumentRefs)
	out, err := scanLot(row)
	if err == pgx.ErrNoRows {
		return r.GetLotByNumber(ctx, l.ItemID, l.LotNumber)
	}
	return out, err
}

func (r *Repo) GetLotByID(ctx context.Context, id int64) (*Lot, error) {
	l, err := scanLot(r.pool.QueryRow(ctx, `SELECT `+lotCols+` FROM lots WHERE id=$1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (r *Repo) GetLotByNumber(ctx context.Context, itemID int64, lotNumber string) (*Lot, error) {
	l, err := scanLot(r.pool.QueryRow(ctx, `
		SELECT `+lotCols+` FROM lots WHERE item_id=$1 AND lot_number=$2
	`, itemID, lotNumber))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (r *Repo) ListLotsByItem(ctx context.Context, itemID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+lotCols+` FROM lots WHERE item_id=$1 ORDER BY received_at, id
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *Repo) ListContainersByLot(ctx context.Context, lotID int64) ([]Container, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lot_id, location_id, code, initial_qty_base, current_qty_base, status, created_at
		FROM containers WHERE lot_id=$1 ORDER BY id
	`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Container
	for rows.Next() {
		var c Container
		if err := rows.Scan(&c.ID, &c.LotID, &c.LocationID, &c.Code, &c.InitialQtyBase, &c.CurrentQtyBase, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
