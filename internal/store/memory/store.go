// Package memory holds an in-memory implementation of the ledger store. It
// backs the test suite and the "memory" storage driver for local runs. Every
// unit of work runs under one mutex with staged writes, so commit-or-nothing
// semantics match the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/lots"
)

type Store struct {
	mu sync.Mutex

	items      map[int64]catalog.Item
	locations  map[int64]catalog.Location
	lots       map[int64]lots.Lot
	containers map[int64]lots.Container
	balances   map[ledger.BalanceKey]ledger.Balance
	journal    []ledger.Entry

	nextItem      int64
	nextLocation  int64
	nextLot       int64
	nextContainer int64
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		items:      map[int64]catalog.Item{},
		locations:  map[int64]catalog.Location{},
		lots:       map[int64]lots.Lot{},
		containers: map[int64]lots.Container{},
		balances:   map[ledger.BalanceKey]ledger.Balance{},
	}
}

/* Master data */

func (s *Store) AddItem(it catalog.Item) *catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextItem++
	it.ID = s.nextItem
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	s.items[it.ID] = it
	return &it
}

func (s *Store) AddLocation(l catalog.Location) *catalog.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLocation++
	l.ID = s.nextLocation
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	s.locations[l.ID] = l
	return &l
}

func (s *Store) AddLot(l lots.Lot) *lots.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLot++
	l.ID = s.nextLot
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	s.lots[l.ID] = l
	return &l
}

func (s *Store) ItemByID(id int64) *catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok {
		return &it
	}
	return nil
}

func (s *Store) LocationByID(id int64) *catalog.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locations[id]; ok {
		return &l
	}
	return nil
}

func (s *Store) LotByID(id int64) *lots.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lots[id]; ok {
		return &l
	}
	return nil
}

func (s *Store) ContainerByID(id int64) *lots.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[id]; ok {
		return &c
	}
	return nil
}

// PutBalance overwrites one materialized row without journaling anything.
// Reconciliation tests use it to simulate projection drift.
func (s *Store) PutBalance(key ledger.BalanceKey, onHand, reserved decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key] = ledger.Balance{Key: key, OnHand: onHand, Reserved: reserved, UpdatedAt: time.Now()}
}

/* Unit of work */

type memTx struct {
	s          *Store
	balances   map[ledger.BalanceKey]ledger.Balance
	containers map[int64]lots.Container
	entries    []ledger.Entry
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:          s,
		balances:   map[ledger.BalanceKey]ledger.Balance{},
		containers: map[int64]lots.Container{},
	}
	if err := fn(ctx, tx); err != nil {
		return err // staged writes discarded
	}
	for k, b := range tx.balances {
		s.balances[k] = b
	}
	for id, c := range tx.containers {
		s.containers[id] = c
	}
	s.journal = append(s.journal, tx.entries...)
	return nil
}

func (t *memTx) Item(_ context.Context, id int64) (*catalog.Item, error) {
	if it, ok := t.s.items[id]; ok {
		return &it, nil
	}
	return nil, nil
}

func (t *memTx) Location(_ context.Context, id int64) (*catalog.Location, error) {
	if l, ok := t.s.locations[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (t *memTx) Lot(_ context.Context, id int64) (*lots.Lot, error) {
	if l, ok := t.s.lots[id]; ok {
		return &l, nil
	}
	return nil, nil
}

func (t *memTx) LockBalance(_ context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	if b, ok := t.balances[key]; ok {
		return b, nil
	}
	if b, ok := t.s.balances[key]; ok {
		return b, nil
	}
	// Lazy creation on first reference.
	return ledger.Balance{Key: key, OnHand: decimal.Zero, Reserved: decimal.Zero}, nil
}

func (t *memTx) SaveBalance(_ context.Context, b ledger.Balance) error {
	t.balances[b.Key] = b
	return nil
}

func (t *memTx) Append(_ context.Context, e ledger.Entry) error {
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTx) HasEntries(_ context.Context, key ledger.BalanceKey) (bool, error) {
	match := func(e ledger.Entry) bool { return entryKey(e) == key }
	for _, e := range t.s.journal {
		if match(e) {
			return true, nil
		}
	}
	for _, e := range t.entries {
		if match(e) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) LockContainer(_ context.Context, id int64) (*lots.Container, error) {
	if c, ok := t.containers[id]; ok {
		return &c, nil
	}
	if c, ok := t.s.containers[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (t *memTx) InsertContainer(_ context.Context, c *lots.Container) error {
	t.s.nextContainer++
	c.ID = t.s.nextContainer
	t.containers[c.ID] = *c
	return nil
}

func (t *memTx) SaveContainer(_ context.Context, c lots.Container) error {
	t.containers[c.ID] = c
	return nil
}

func (t *memTx) ContainerQtySum(_ context.Context, lotID, locationID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	seen := map[int64]bool{}
	add := func(c lots.Container) {
		if seen[c.ID] {
			return
		}
		seen[c.ID] = true
		if c.LotID == lotID && c.LocationID == locationID && !c.Status.Terminal() {
			sum = sum.Add(c.CurrentQtyBase)
		}
	}
	for _, c := range t.containers {
		add(c)
	}
	for _, c := range t.s.containers {
		add(c)
	}
	return sum, nil
}

func entryKey(e ledger.Entry) ledger.BalanceKey {
	k := ledger.BalanceKey{LocationID: e.LocationID, ItemID: e.ItemID}
	if e.LotID != nil {
		k.LotID = *e.LotID
	}
	return k
}

/* Reader */

func (s *Store) Balance(_ context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[key]; ok {
		return b, nil
	}
	return ledger.Balance{Key: key, OnHand: decimal.Zero, Reserved: decimal.Zero}, nil
}

func (s *Store) Balances(_ context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Balance
	for _, b := range s.balances {
		if matchBalance(b.Key, f) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) BalanceKeys(_ context.Context, f ledger.BalanceFilter) ([]ledger.BalanceKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.BalanceKey
	for k := range s.balances {
		if matchBalance(k, f) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (s *Store) Entries(_ context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range s.journal {
		if !matchEntry(e, f) {
			continue
		}
		out = append(out, e)
	}
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) ReplayTuple(_ context.Context, key ledger.BalanceKey) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	onHand, reserved := decimal.Zero, decimal.Zero
	for _, e := range s.journal {
		if entryKey(e) != key {
			continue
		}
		if e.Type.ReservedAxis() {
			reserved = reserved.Add(e.QtyBase)
		} else {
			onHand = onHand.Add(e.QtyBase)
		}
	}
	return onHand, reserved, nil
}

func (s *Store) ExpiringLots(_ context.Context, before time.Time, locationID *int64) ([]ledger.ExpiringLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.ExpiringLot
	for key, b := range s.balances {
		if key.LotID == 0 || b.OnHand.Sign() <= 0 {
			continue
		}
		if locationID != nil && key.LocationID != *locationID {
			continue
		}
		lot, ok := s.lots[key.LotID]
		if !ok || lot.ExpiresAt == nil || lot.ExpiresAt.After(before) {
			continue
		}
		out = append(out, ledger.ExpiringLot{Lot: lot, LocationID: key.LocationID, OnHand: b.OnHand})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Lot.ExpiresAt.Equal(*out[j].Lot.ExpiresAt) {
			return out[i].Lot.ExpiresAt.Before(*out[j].Lot.ExpiresAt)
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}

func (s *Store) LowStock(_ context.Context, locationID *int64) ([]ledger.LowStockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type group struct{ locationID, itemID int64 }
	totals := map[group]decimal.Decimal{}
	for key, b := range s.balances {
		if locationID != nil && key.LocationID != *locationID {
			continue
		}
		g := group{key.LocationID, key.ItemID}
		totals[g] = totals[g].Add(b.OnHand)
	}

	var out []ledger.LowStockRow
	for g, total := range totals {
		it, ok := s.items[g.itemID]
		if !ok {
			continue
		}
		threshold := it.ReorderPoint
		if it.MinStock.Cmp(threshold) > 0 {
			threshold = it.MinStock
		}
		if threshold.Sign() > 0 && total.Cmp(threshold) < 0 {
			out = append(out, ledger.LowStockRow{
				ItemID:       it.ID,
				ItemCode:     it.Code,
				LocationID:   g.locationID,
				OnHand:       total,
				MinStock:     it.MinStock,
				ReorderPoint: it.ReorderPoint,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocationID != out[j].LocationID {
			return out[i].LocationID < out[j].LocationID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func matchBalance(k ledger.BalanceKey, f ledger.BalanceFilter) bool {
	if f.LocationID != nil && k.LocationID != *f.LocationID {
		return false
	}
	if f.ItemID != nil && k.ItemID != *f.ItemID {
		return false
	}
	if f.LotID != nil && k.LotID != *f.LotID {
		return false
	}
	return true
}

func matchEntry(e ledger.Entry, f ledger.EntryFilter) bool {
	if f.LocationID != nil && e.LocationID != *f.LocationID {
		return false
	}
	if f.ItemID != nil && e.ItemID != *f.ItemID {
		return false
	}
	if f.LotID != nil && (e.LotID == nil || *e.LotID != *f.LotID) {
		return false
	}
	if f.From != nil && e.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.OccurredAt.Before(*f.To) {
		return false
	}
	return true
}

func page[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
