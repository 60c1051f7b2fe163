package lots

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a traceable batch of one item: supplier provenance plus receipt and
// expiry dates. Document references are free-form (delivery note numbers,
// certificate ids).
type Lot struct {
	ID           int64
	ItemID       int64
	LotNumber    string
	SupplierRef  string
	ReceivedAt   time.Time
	ExpiresAt    *time.Time
	DocumentRefs []string
	CreatedAt    time.Time
}

type ContainerStatus string

const (
	ContainerInStock  ContainerStatus = "IN_STOCK"
	ContainerEmpty    ContainerStatus = "EMPTY"
	ContainerDisposed ContainerStatus = "DISPOSED"
	ContainerLost     ContainerStatus = "LOST"
)

// Terminal reports whether no further stock movement may target the container.
// Status transitions are monotonic: IN_STOCK -> EMPTY -> DISPOSED/LOST.
func (s ContainerStatus) Terminal() bool {
	return s == ContainerDisposed || s == ContainerLost
}

// Container is a physical sub-quantity of a lot held at one location.
type Container struct {
	ID             int64
	LotID          int64
	LocationID     int64
	Code           string
	InitialQtyBase decimal.Decimal
	CurrentQtyBase decimal.Decimal
	Status         ContainerStatus
	CreatedAt      time.Time
}
