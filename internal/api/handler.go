// Package api exposes the ledger over JSON: the fixed operation contract for
// upstream callers, the paginated query surfaces for downstream consumers,
// and a thin master-data surface for items, locations, units and lots.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/lots"
	"stockledger/internal/report"
)

// Catalog is the master-data surface the handler reads and writes. Satisfied
// by the postgres-backed catalog repo and by the memory store.
type Catalog interface {
	ListItems(ctx context.Context) ([]catalog.Item, error)
	CreateItem(ctx context.Context, it catalog.Item) (*catalog.Item, error)
	SetItemThresholds(ctx context.Context, id int64, minStock, reorderPoint decimal.Decimal) (*catalog.Item, error)
	ListLocations(ctx context.Context) ([]catalog.Location, error)
	CreateLocation(ctx context.Context, code, name string, t catalog.LocationType) (*catalog.Location, error)
}

type LotRegistry interface {
	CreateLot(ctx context.Context, l lots.Lot) (*lots.Lot, error)
	ListLotsByItem(ctx context.Context, itemID int64) ([]lots.Lot, error)
	ListContainersByLot(ctx context.Context, lotID int64) ([]lots.Container, error)
}

type Handler struct {
	engine  *ledger.Engine
	catalog Catalog
	lots    LotRegistry
	log     *slog.Logger
}

func New(engine *ledger.Engine, cat Catalog, reg LotRegistry, log *slog.Logger) http.Handler {
	h := &Handler{engine: engine, catalog: cat, lots: reg, log: log}

	r := chi.NewRouter()
	r.Post("/transactions", h.postTransaction)
	r.Post("/reservations", h.postReservation)
	r.Post("/reservations/release", h.postRelease)
	r.Post("/containers/{id}/close", h.postCloseContainer)
	r.Post("/reconcile", h.postReconcile)

	r.Get("/balances", h.getBalances)
	r.Get("/ledger", h.getLedger)
	r.Get("/alerts/expiring", h.getExpiring)
	r.Get("/alerts/low-stock", h.getLowStock)
	r.Get("/reports/balances.xlsx", h.getBalancesXLSX)

	r.Get("/units", h.getUnits)
	r.Get("/items", h.getItems)
	r.Post("/items", h.postItem)
	r.Put("/items/{id}/thresholds", h.putItemThresholds)
	r.Get("/locations", h.getLocations)
	r.Post("/locations", h.postLocation)
	r.Get("/items/{id}/lots", h.getLots)
	r.Post("/lots", h.postLot)
	r.Get("/lots/{id}/containers", h.getContainers)

	return r
}

/* Ledger operations */

type transactionRequest struct {
	Operation      string            `json:"operation"`
	ItemID         int64             `json:"itemId"`
	LocationID     int64             `json:"locationId"`
	DestLocationID *int64            `json:"destLocationId,omitempty"`
	LotID          *int64            `json:"lotId,omitempty"`
	ContainerID    *int64            `json:"containerId,omitempty"`
	ContainerCode  string            `json:"containerCode,omitempty"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Unit           string            `json:"unit"`
	Actor          string            `json:"actor"`
	ReasonCode     string            `json:"reasonCode,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
}

func (t transactionRequest) toLedger() ledger.Request {
	return ledger.Request{
		Operation:      ledger.TxType(t.Operation),
		ItemID:         t.ItemID,
		LocationID:     t.LocationID,
		DestLocationID: t.DestLocationID,
		LotID:          t.LotID,
		ContainerID:    t.ContainerID,
		ContainerCode:  t.ContainerCode,
		Quantity:       t.Quantity,
		Unit:           t.Unit,
		Actor:          t.Actor,
		ReasonCode:     t.ReasonCode,
		Reference:      t.Reference,
		Meta:           t.Meta,
	}
}

type balanceJSON struct {
	LocationID int64           `json:"locationId"`
	ItemID     int64           `json:"itemId"`
	LotID      int64           `json:"lotId,omitempty"`
	OnHand     decimal.Decimal `json:"qtyOnHand"`
	Reserved   decimal.Decimal `json:"qtyReserved"`
}

func toBalanceJSON(b ledger.Balance) balanceJSON {
	return balanceJSON{
		LocationID: b.Key.LocationID,
		ItemID:     b.Key.ItemID,
		LotID:      b.Key.LotID,
		OnHand:     b.OnHand,
		Reserved:   b.Reserved,
	}
}

type transactionResponse struct {
	TransactionID    *string      `json:"transactionId,omitempty"`
	PairID           *string      `json:"pairId,omitempty"`
	ResultingBalance balanceJSON  `json:"resultingBalance"`
	DestBalance      *balanceJSON `json:"destBalance,omitempty"`
}

func (h *Handler) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	res, err := h.engine.Apply(r.Context(), req.toLedger())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) writeResult(w http.ResponseWriter, res *ledger.Result) {
	out := transactionResponse{
		ResultingBalance: toBalanceJSON(res.Balance),
	}
	// Closing an already-empty container journals nothing; the response then
	// carries no transaction id.
	if res.TransactionID != uuid.Nil {
		s := res.TransactionID.String()
		out.TransactionID = &s
	}
	if res.PairID != nil {
		s := res.PairID.String()
		out.PairID = &s
	}
	if res.DestBalance != nil {
		b := toBalanceJSON(*res.DestBalance)
		out.DestBalance = &b
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) postReservation(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	res, err := h.engine.Reserve(r.Context(), req.toLedger())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) postRelease(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	res, err := h.engine.Release(r.Context(), req.toLedger())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) postCloseContainer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "invalid container id"))
		return
	}
	var body struct {
		Status     string `json:"status"`
		Actor      string `json:"actor"`
		ReasonCode string `json:"reasonCode"`
		Reference  string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	res, err := h.engine.CloseContainer(r.Context(), ledger.CloseContainerRequest{
		ContainerID: id,
		Status:      lots.ContainerStatus(body.Status),
		Actor:       body.Actor,
		ReasonCode:  body.ReasonCode,
		Reference:   body.Reference,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeResult(w, res)
}

func (h *Handler) postReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Reconcile(r.Context(), balanceFilter(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

/* Query surfaces */

func (h *Handler) getBalances(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Balances(r.Context(), balanceFilter(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	rows := make([]balanceJSON, 0, len(out))
	for _, b := range out {
		rows = append(rows, toBalanceJSON(b))
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	f := ledger.EntryFilter{
		LocationID: queryID(r, "location"),
		ItemID:     queryID(r, "item"),
		LotID:      queryID(r, "lot"),
	}
	f.Limit, f.Offset = pagination(r)
	if from, ok := queryTime(r, "from"); ok {
		f.From = &from
	}
	if to, ok := queryTime(r, "to"); ok {
		f.To = &to
	}
	out, err := h.engine.Entries(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getExpiring(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, ledger.Errf(ledger.KindValidation, "invalid days parameter"))
			return
		}
		days = n
	}
	out, err := h.engine.ExpiringLots(r.Context(), days, queryID(r, "location"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getLowStock(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.LowStock(r.Context(), queryID(r, "location"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getBalancesXLSX(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	balances, err := h.engine.Balances(ctx, balanceFilter(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	items, err := h.catalog.ListItems(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	locations, err := h.catalog.ListLocations(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	itemsByID := map[int64]catalog.Item{}
	for _, it := range items {
		itemsByID[it.ID] = it
	}
	locsByID := map[int64]catalog.Location{}
	for _, l := range locations {
		locsByID[l.ID] = l
	}

	rows := make([]report.BalanceRow, 0, len(balances))
	for _, b := range balances {
		row := report.BalanceRow{
			OnHand:   b.OnHand,
			Reserved: b.Reserved,
		}
		if it, ok := itemsByID[b.Key.ItemID]; ok {
			row.ItemCode, row.ItemName, row.Unit = it.Code, it.Name, it.BaseUnit
		}
		if l, ok := locsByID[b.Key.LocationID]; ok {
			row.LocationCode = l.Code
		}
		if b.Key.LotID != 0 {
			row.LotNumber = strconv.FormatInt(b.Key.LotID, 10)
		}
		rows = append(rows, row)
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="balances.xlsx"`)
	if err := report.WriteBalances(w, rows); err != nil {
		h.log.Error("xlsx export failed", "err", err)
	}
}

/* Master data */

func (h *Handler) getUnits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Units())
}

func (h *Handler) getItems(w http.ResponseWriter, r *http.Request) {
	out, err := h.catalog.ListItems(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) postItem(w http.ResponseWriter, r *http.Request) {
	var it catalog.Item
	if err := json.NewDecoder(r.Body).Decode(&it); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	if it.Code == "" || it.BaseUnit == "" {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "item code and base unit are required"))
		return
	}
	if it.ContainerTracked && !it.LotTracked {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "container-tracked items must be lot-tracked"))
		return
	}
	out, err := h.catalog.CreateItem(r.Context(), it)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) putItemThresholds(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "invalid item id"))
		return
	}
	var body struct {
		MinStock     decimal.Decimal `json:"minStock"`
		ReorderPoint decimal.Decimal `json:"reorderPoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	if body.MinStock.Sign() < 0 || body.ReorderPoint.Sign() < 0 {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "thresholds must not be negative"))
		return
	}
	out, err := h.catalog.SetItemThresholds(r.Context(), id, body.MinStock, body.ReorderPoint)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getLocations(w http.ResponseWriter, r *http.Request) {
	out, err := h.catalog.ListLocations(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) postLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	if body.Code == "" {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "location code is required"))
		return
	}
	out, err := h.catalog.CreateLocation(r.Context(), body.Code, body.Name, catalog.LocationType(body.Type))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) getLots(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "invalid item id"))
		return
	}
	out, err := h.lots.ListLotsByItem(r.Context(), itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) postLot(w http.ResponseWriter, r *http.Request) {
	var l lots.Lot
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "malformed request body: %v", err))
		return
	}
	if l.ItemID == 0 || l.LotNumber == "" {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "lot itemId and lotNumber are required"))
		return
	}
	if l.ReceivedAt.IsZero() {
		l.ReceivedAt = time.Now()
	}
	out, err := h.lots.CreateLot(r.Context(), l)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) getContainers(w http.ResponseWriter, r *http.Request) {
	lotID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, ledger.Errf(ledger.KindValidation, "invalid lot id"))
		return
	}
	out, err := h.lots.ListContainersByLot(r.Context(), lotID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
