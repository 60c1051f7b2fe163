package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a consumable stock item. BaseUnit fixes the unit every ledgered
// quantity of this item is stored in.
type Item struct {
	ID               int64
	Code             string
	Name             string
	BaseUnit         string
	LotTracked       bool
	ContainerTracked bool
	MinStock         decimal.Decimal
	ReorderPoint     decimal.Decimal
	Active           bool
	CreatedAt        time.Time
}

type LocationType string

const (
	LocTypeWarehouse LocationType = "warehouse"
	LocTypeLab       LocationType = "lab"
	LocTypeStoreroom LocationType = "storeroom"
)

type Location struct {
	ID        int64
	Code      string
	Name      string
	Type      LocationType
	Active    bool
	CreatedAt time.Time
}
