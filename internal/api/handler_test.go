package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"stockledger/internal/api"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/lots"
	"stockledger/internal/domain/units"
	"stockledger/internal/store/memory"
)

type testAPI struct {
	srv   *httptest.Server
	store *memory.Store

	item *catalog.Item
	loc  *catalog.Location
	lot  *lots.Lot
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memory.New()
	log := slog.New(slog.DiscardHandler)
	engine := ledger.New(store, units.NewTable(nil), log)
	handler := api.New(engine, store, store, log)

	a := &testAPI{srv: httptest.NewServer(handler), store: store}
	t.Cleanup(a.srv.Close)

	a.item = store.AddItem(catalog.Item{Code: "CHEM-X", Name: "Chemical X", BaseUnit: "g", LotTracked: true, Active: true})
	a.loc = store.AddLocation(catalog.Location{Code: "L1", Name: "Main", Type: catalog.LocTypeWarehouse, Active: true})
	a.lot = store.AddLot(lots.Lot{ItemID: a.item.ID, LotNumber: "LOT-1"})
	return a
}

func (a *testAPI) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(a.srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (a *testAPI) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(a.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeInto[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

type txResponse struct {
	TransactionID    string `json:"transactionId"`
	PairID           string `json:"pairId"`
	ResultingBalance struct {
		LocationID int64           `json:"locationId"`
		ItemID     int64           `json:"itemId"`
		LotID      int64           `json:"lotId"`
		OnHand     decimal.Decimal `json:"qtyOnHand"`
		Reserved   decimal.Decimal `json:"qtyReserved"`
	} `json:"resultingBalance"`
}

type errResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestPostTransactionHappyPath(t *testing.T) {
	a := newTestAPI(t)
	resp := a.post(t, "/transactions", map[string]any{
		"operation":  "RECEIPT",
		"itemId":     a.item.ID,
		"locationId": a.loc.ID,
		"lotId":      a.lot.ID,
		"quantity":   "1.5",
		"unit":       "kg",
		"actor":      "tech-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeInto[txResponse](t, resp)
	if out.TransactionID == "" {
		t.Error("response carries no transaction id")
	}
	if !out.ResultingBalance.OnHand.Equal(decimal.RequireFromString("1500")) {
		t.Errorf("resulting on-hand = %s, want 1500", out.ResultingBalance.OnHand)
	}
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	a := newTestAPI(t)
	// Seed 100 g so the insufficient-stock case has something to overdraw.
	resp := a.post(t, "/transactions", map[string]any{
		"operation": "RECEIPT", "itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "100", "unit": "g",
	})
	resp.Body.Close()

	cases := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantKind   string
	}{
		{
			name: "unknown operation",
			body: map[string]any{"operation": "TELEPORT", "itemId": a.item.ID, "locationId": a.loc.ID,
				"lotId": a.lot.ID, "quantity": "1", "unit": "g"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "ValidationError",
		},
		{
			name: "cross-group unit",
			body: map[string]any{"operation": "RECEIPT", "itemId": a.item.ID, "locationId": a.loc.ID,
				"lotId": a.lot.ID, "quantity": "1", "unit": "L"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "UnitIncompatible",
		},
		{
			name: "missing lot",
			body: map[string]any{"operation": "RECEIPT", "itemId": a.item.ID, "locationId": a.loc.ID,
				"quantity": "1", "unit": "g"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "LotRequired",
		},
		{
			name: "overdraw",
			body: map[string]any{"operation": "CONSUME", "itemId": a.item.ID, "locationId": a.loc.ID,
				"lotId": a.lot.ID, "quantity": "500", "unit": "g"},
			wantStatus: http.StatusConflict,
			wantKind:   "InsufficientStock",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := a.post(t, "/transactions", tc.body)
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			out := decodeInto[errResponse](t, resp)
			if out.Error.Kind != tc.wantKind {
				t.Errorf("kind = %q, want %q", out.Error.Kind, tc.wantKind)
			}
		})
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	a := newTestAPI(t)
	resp, err := http.Post(a.srv.URL+"/transactions", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestReservationEndpoints(t *testing.T) {
	a := newTestAPI(t)
	resp := a.post(t, "/transactions", map[string]any{
		"operation": "RECEIPT", "itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "200", "unit": "g",
	})
	resp.Body.Close()

	resp = a.post(t, "/reservations", map[string]any{
		"itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "80", "unit": "g", "reference": "WO-9",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reserve status = %d", resp.StatusCode)
	}
	out := decodeInto[txResponse](t, resp)
	if !out.ResultingBalance.Reserved.Equal(decimal.RequireFromString("80")) {
		t.Fatalf("reserved = %s, want 80", out.ResultingBalance.Reserved)
	}

	resp = a.post(t, "/reservations/release", map[string]any{
		"itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "80", "unit": "g", "reference": "WO-9",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("release status = %d", resp.StatusCode)
	}
	out = decodeInto[txResponse](t, resp)
	if !out.ResultingBalance.Reserved.IsZero() {
		t.Fatalf("reserved after release = %s", out.ResultingBalance.Reserved)
	}
}

func TestBalancesQueryAndPagination(t *testing.T) {
	a := newTestAPI(t)
	// Three locations, one receipt each.
	locs := []*catalog.Location{a.loc}
	for i := 2; i <= 3; i++ {
		locs = append(locs, a.store.AddLocation(catalog.Location{
			Code: fmt.Sprintf("L%d", i), Type: catalog.LocTypeLab, Active: true,
		}))
	}
	for _, loc := range locs {
		resp := a.post(t, "/transactions", map[string]any{
			"operation": "RECEIPT", "itemId": a.item.ID, "locationId": loc.ID, "lotId": a.lot.ID,
			"quantity": "10", "unit": "g",
		})
		resp.Body.Close()
	}

	resp := a.get(t, "/balances")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	all := decodeInto[[]map[string]any](t, resp)
	if len(all) != 3 {
		t.Fatalf("got %d balance rows, want 3", len(all))
	}

	resp = a.get(t, fmt.Sprintf("/balances?location=%d", locs[1].ID))
	filtered := decodeInto[[]map[string]any](t, resp)
	if len(filtered) != 1 {
		t.Fatalf("location filter returned %d rows, want 1", len(filtered))
	}

	resp = a.get(t, "/balances?limit=2&offset=2")
	paged := decodeInto[[]map[string]any](t, resp)
	if len(paged) != 1 {
		t.Fatalf("limit 2 offset 2 over 3 rows returned %d", len(paged))
	}
}

func TestLedgerQueryReturnsJournal(t *testing.T) {
	a := newTestAPI(t)
	resp := a.post(t, "/transactions", map[string]any{
		"operation": "RECEIPT", "itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "10", "unit": "g",
	})
	resp.Body.Close()
	resp = a.post(t, "/transactions", map[string]any{
		"operation": "CONSUME", "itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "4", "unit": "g",
	})
	resp.Body.Close()

	resp = a.get(t, fmt.Sprintf("/ledger?item=%d", a.item.ID))
	entries := decodeInto[[]map[string]any](t, resp)
	if len(entries) != 2 {
		t.Fatalf("journal returned %d entries, want 2", len(entries))
	}
}

func TestReconcileEndpoint(t *testing.T) {
	a := newTestAPI(t)
	resp := a.post(t, "/transactions", map[string]any{
		"operation": "RECEIPT", "itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "10", "unit": "g",
	})
	resp.Body.Close()

	resp = a.post(t, "/reconcile", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	report := decodeInto[struct {
		Checked int `json:"Checked"`
		Drifts  []struct{}
	}](t, resp)
	if report.Checked != 1 || len(report.Drifts) != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestMasterDataEndpoints(t *testing.T) {
	a := newTestAPI(t)

	resp := a.post(t, "/items", map[string]any{"Code": "NEW-1", "Name": "New item", "BaseUnit": "pcs", "Active": true})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create item status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = a.post(t, "/items", map[string]any{"Name": "no code"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("item without code accepted: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = a.get(t, "/items")
	items := decodeInto[[]catalog.Item](t, resp)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	resp = a.post(t, "/lots", map[string]any{"ItemID": a.item.ID, "LotNumber": "LOT-2"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create lot status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = a.get(t, fmt.Sprintf("/items/%d/lots", a.item.ID))
	lotRows := decodeInto[[]lots.Lot](t, resp)
	if len(lotRows) != 2 {
		t.Fatalf("got %d lots, want 2", len(lotRows))
	}

	resp = a.get(t, "/units")
	unitRows := decodeInto[[]map[string]any](t, resp)
	if len(unitRows) != 6 {
		t.Fatalf("got %d builtin units, want 6", len(unitRows))
	}
}

func TestPutItemThresholds(t *testing.T) {
	a := newTestAPI(t)
	body, _ := json.Marshal(map[string]any{"minStock": "5", "reorderPoint": "20"})
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/items/%d/thresholds", a.srv.URL, a.item.ID), bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	out := decodeInto[catalog.Item](t, resp)
	if !out.MinStock.Equal(decimal.RequireFromString("5")) || !out.ReorderPoint.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("thresholds = %s/%s", out.MinStock, out.ReorderPoint)
	}

	body, _ = json.Marshal(map[string]any{"minStock": "-1"})
	req, _ = http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/items/%d/thresholds", a.srv.URL, a.item.ID), bytes.NewReader(body))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative threshold accepted: %d", resp.StatusCode)
	}
}

func TestCreateItemContainerTrackedRequiresLotTracking(t *testing.T) {
	a := newTestAPI(t)
	resp := a.post(t, "/items", map[string]any{
		"Code": "SOLV-BAD", "Name": "Unlotted solvent", "BaseUnit": "mL", "ContainerTracked": true,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("container-tracked item without lot tracking accepted: %d", resp.StatusCode)
	}
	out := decodeInto[errResponse](t, resp)
	if out.Error.Kind != "ValidationError" {
		t.Errorf("kind = %q, want ValidationError", out.Error.Kind)
	}
}

func TestCloseEmptyContainerOmitsTransactionID(t *testing.T) {
	a := newTestAPI(t)
	solvent := a.store.AddItem(catalog.Item{
		Code: "SOLV-Z", Name: "Solvent Z", BaseUnit: "mL", LotTracked: true, ContainerTracked: true, Active: true,
	})
	lot := a.store.AddLot(lots.Lot{ItemID: solvent.ID, LotNumber: "SOLV-LOT"})

	resp := a.post(t, "/transactions", map[string]any{
		"operation": "RECEIPT", "itemId": solvent.ID, "locationId": a.loc.ID, "lotId": lot.ID,
		"quantity": "300", "unit": "mL", "containerCode": "DRUM-9",
	})
	resp.Body.Close()
	conts, err := a.store.ListContainersByLot(context.Background(), lot.ID)
	if err != nil || len(conts) != 1 {
		t.Fatalf("containers = %v, %v", conts, err)
	}

	// Drain the container, then close it: nothing left to write off.
	resp = a.post(t, "/transactions", map[string]any{
		"operation": "CONSUME", "itemId": solvent.ID, "locationId": a.loc.ID, "lotId": lot.ID,
		"containerId": conts[0].ID, "quantity": "300", "unit": "mL",
	})
	resp.Body.Close()

	resp = a.post(t, fmt.Sprintf("/containers/%d/close", conts[0].ID),
		map[string]any{"status": "DISPOSED", "actor": "auditor"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d", resp.StatusCode)
	}
	out := decodeInto[map[string]any](t, resp)
	if _, ok := out["transactionId"]; ok {
		t.Fatalf("journalless close carries a transaction id: %v", out)
	}
}

func TestBalancesXLSXExport(t *testing.T) {
	a := newTestAPI(t)
	resp := a.post(t, "/transactions", map[string]any{
		"operation": "RECEIPT", "itemId": a.item.ID, "locationId": a.loc.ID, "lotId": a.lot.ID,
		"quantity": "10", "unit": "g",
	})
	resp.Body.Close()

	resp = a.get(t, "/reports/balances.xlsx")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("content type = %q", ct)
	}
}
