package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/lots"
)

// Master-data accessors matching the API surface, so the memory driver can
// serve the whole application, not just the ledger.

func (s *Store) CreateItem(_ context.Context, it catalog.Item) (*catalog.Item, error) {
	it.Active = true
	return s.AddItem(it), nil
}

func (s *Store) ListItems(_ context.Context) ([]catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) SetItemThresholds(_ context.Context, id int64, minStock, reorderPoint decimal.Decimal) (*catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("unknown item %d", id)
	}
	it.MinStock = minStock
	it.ReorderPoint = reorderPoint
	s.items[id] = it
	return &it, nil
}

func (s *Store) CreateLocation(_ context.Context, code, name string, t catalog.LocationType) (*catalog.Location, error) {
	return s.AddLocation(catalog.Location{Code: code, Name: name, Type: t, Active: true}), nil
}

func (s *Store) ListLocations(_ context.Context) ([]catalog.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Location, 0, len(s.locations))
	for _, l := range s.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CreateLot(_ context.Context, l lots.Lot) (*lots.Lot, error) {
	return s.AddLot(l), nil
}

func (s *Store) ListLotsByItem(_ context.Context, itemID int64) ([]lots.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []lots.Lot
	for _, l := range s.lots {
		if l.ItemID == itemID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListContainersByLot(_ context.Context, lotID int64) ([]lots.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []lots.Container
	for _, c := range s.containers {
		if c.LotID == lotID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
