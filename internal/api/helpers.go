package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"stockledger/internal/domain/ledger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case ledger.KindValidation, ledger.KindUnitIncompatible, ledger.KindLotRequired:
		status = http.StatusBadRequest
	case ledger.KindInsufficientStock, ledger.KindContainerConsistency:
		status = http.StatusConflict
	case ledger.KindConcurrencyConflict:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
		var body errorBody
		body.Error.Kind = "InternalError"
		body.Error.Message = "internal error"
		writeJSON(w, status, body)
		return
	}
	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

func queryID(r *http.Request, name string) *int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func queryTime(r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		// Date-only filters are common from dashboards.
		t, err = time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	return limit, offset
}

func balanceFilter(r *http.Request) ledger.BalanceFilter {
	f := ledger.BalanceFilter{
		LocationID: queryID(r, "location"),
		ItemID:     queryID(r, "item"),
		LotID:      queryID(r, "lot"),
	}
	f.Limit, f.Offset = pagination(r)
	return f
}
