package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockledger/internal/domain/units"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

/* Items */

const itemCols = `id, code, name, base_unit, lot_tracked, container_tracked, min_stock, reorder_point, active, created_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	if err := row.Scan(
		&it.ID,
		&it.Code,
		&it.Name,
		&it.BaseUnit,
		&it.LotTracked,
		&it.ContainerTracked,
		&it.MinStock,
		&it.ReorderPoint,
		&it.Active,
		&it.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *Repo) CreateItem(ctx context.Context, it Item) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO items (code, name, base_unit, lot_tracked, container_tracked, min_stock, reorder_point, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE)
		ON CONFLICT (code) DO NOTHING
		RETURNING `+itemCols+`
	`, it.Code, it.Name, it.BaseUnit, it.LotTracked, it.ContainerTracked, it.MinStock, it.ReorderPoint)
	out, err := scanItem(row)
	if err == pgx.ErrNoRows {
		// Already present, return the existing row.
		return r.GetItemByCode(ctx, it.Code)
	}
	return out, err
}

func (r *Repo) GetItemByID(ctx context.Context, id int64) (*Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE id=$1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return it, err
}

func (r *Repo) GetItemByCode(ctx context.Context, code string) (*Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemCols+` FROM items WHERE code=$1`, code))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return it, err
}

func (r *Repo) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemCols+` FROM items ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (r *Repo) SetItemThresholds(ctx context.Context, id int64, minStock, reorderPoint decimal.Decimal) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE items SET min_stock=$2, reorder_point=$3 WHERE id=$1
		RETURNING `+itemCols+`
	`, id, minStock, reorderPoint)
	return scanItem(row)
}

func (r *Repo) SetItemActive(ctx context.Context, id int64, active bool) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE items SET active=$2 WHERE id=$1
		RETURNING `+itemCols+`
	`, id, active)
	return scanItem(row)
}

/* Locations */

func (r *Repo) CreateLocation(ctx context.Context, code, name string, t LocationType) (*Location, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO locations (code, name, type) VALUES ($1,$2,$3)
		ON CONFLICT (code) DO NOTHING
		RETURNING id, code, name, type, active, created_at
	`, code, name, string(t))
	var l Location
	err := row.Scan(&l.ID, &l.Code, &l.Name, &l.Type, &l.Active, &l.CreatedAt)
	if err == pgx.ErrNoRows {
		return r.GetLocationByCode(ctx, code)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *Repo) GetLocationByID(ctx context.Context, id int64) (*Location, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, name, type, active, created_at
		FROM locations WHERE id=$1
	`, id)
	var l Location
	if err := row.Scan(&l.ID, &l.Code, &l.Name, &l.Type, &l.Active, &l.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *Repo) GetLocationByCode(ctx context.Context, code string) (*Location, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, name, type, active, created_at
		FROM locations WHERE code=$1
	`, code)
	var l Location
	if err := row.Scan(&l.ID, &l.Code, &l.Name, &l.Type, &l.Active, &l.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *Repo) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, name, type, active, created_at
		FROM locations
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Code, &l.Name, &l.Type, &l.Active, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repo) SetLocationActive(ctx context.Context, id int64, active bool) (*Location, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE locations SET active=$2 WHERE id=$1
		RETURNING id, code, name, type, active, created_at
	`, id, active)
	var l Location
	if err := row.Scan(&l.ID, &l.Code, &l.Name, &l.Type, &l.Active, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

/* Organization unit overrides */

// ListUnitOverrides loads organization-defined units for the conversion table.
func (r *Repo) ListUnitOverrides(ctx context.Context) ([]units.Unit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT code, unit_group, to_base, aliases, active
		FROM units
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []units.Unit
	for rows.Next() {
		var u units.Unit
		var group string
		if err := rows.Scan(&u.Code, &group, &u.ToBase, &u.Aliases, &u.Active); err != nil {
			return nil, err
		}
		u.Group = units.Group(group)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repo) CreateUnit(ctx context.Context, u units.Unit) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO units (code, unit_group, to_base, aliases, active)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (code) DO UPDATE
		SET unit_group=EXCLUDED.unit_group, to_base=EXCLUDED.to_base,
		    aliases=EXCLUDED.aliases, active=EXCLUDED.active
	`, u.Code, string(u.Group), u.ToBase, u.Aliases, u.Active)
	return err
}
