package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/lots"
)

// Store is the persistence boundary of the balance engine. Implementations
// live in internal/store; the engine never sees a driver type.
type Store interface {
	Reader

	// WithTx runs fn as one atomic unit of work: journal appends, balance
	// updates and lot/container updates inside fn commit together or not at
	// all. A serialization race surfaces as ErrConflict after rollback.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves the derived query surfaces. All reads see committed state.
type Reader interface {
	Balance(ctx context.Context, key BalanceKey) (Balance, error)
	Balances(ctx context.Context, f BalanceFilter) ([]Balance, error)
	BalanceKeys(ctx context.Context, f BalanceFilter) ([]BalanceKey, error)
	Entries(ctx context.Context, f EntryFilter) ([]Entry, error)

	// ReplayTuple recomputes the tuple's quantities from the full journal:
	// on-hand is the sum of signed contributions of non-reservation entries,
	// reserved the sum of reservation entries.
	ReplayTuple(ctx context.Context, key BalanceKey) (onHand, reserved decimal.Decimal, err error)

	ExpiringLots(ctx context.Context, before time.Time, locationID *int64) ([]ExpiringLot, error)
	LowStock(ctx context.Context, locationID *int64) ([]LowStockRow, error)
}

// Tx is the unit-of-work surface the engine mutates through. LockBalance must
// create the row if absent and hold it locked until commit; callers lock rows
// in BalanceKey order.
type Tx interface {
	Item(ctx context.Context, id int64) (*catalog.Item, error)
	Location(ctx context.Context, id int64) (*catalog.Location, error)
	Lot(ctx context.Context, id int64) (*lots.Lot, error)

	LockBalance(ctx context.Context, key BalanceKey) (Balance, error)
	SaveBalance(ctx context.Context, b Balance) error
	Append(ctx context.Context, e Entry) error
	HasEntries(ctx context.Context, key BalanceKey) (bool, error)

	LockContainer(ctx context.Context, id int64) (*lots.Container, error)
	InsertContainer(ctx context.Context, c *lots.Container) error
	SaveContainer(ctx context.Context, c lots.Container) error
	// ContainerQtySum totals non-terminal container quantities of a lot at a
	// location, for the "containers never exceed lot balance" check.
	ContainerQtySum(ctx context.Context, lotID, locationID int64) (decimal.Decimal, error)
}
