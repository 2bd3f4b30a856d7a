// Package query is the thin HTTP surface over the Store: pagination,
// single lookup, and aggregates (spec §1, §4.4 — an external collaborator
// named only by the interface it exposes).
package query

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"mempool-fanout/internal/pendingtx"
	"mempool-fanout/internal/store"
)

// Store is the subset of store.Store the Query Surface depends on.
type Store interface {
	Find(hash string) (*pendingtx.Tx, error)
	FindPage(q store.PageQuery) ([]pendingtx.Tx, int64, error)
	Aggregate(chainID *int64) (store.Aggregate, error)
}

var _ Store = (*store.Store)(nil)

// Handler serves the query routes over a Store.
type Handler struct {
	store  Store
	logger log.Logger
}

func NewHandler(st Store) *Handler {
	return &Handler{store: st, logger: log.New("component", "query")}
}

// Register mounts the query routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /transactions", h.listTransactions)
	mux.HandleFunc("GET /transactions/{hash}", h.getTransaction)
	mux.HandleFunc("GET /aggregate", h.aggregate)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := store.PageQuery{
		OrderBy:    r.URL.Query().Get("orderBy"),
		Descending: r.URL.Query().Get("order") == "desc",
		FromPrefix: r.URL.Query().Get("from"),
		ToPrefix:   r.URL.Query().Get("to"),
	}
	if v := r.URL.Query().Get("chainId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chainId")
			return
		}
		q.ChainID = &id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := pendingtx.Status(v)
		q.Status = &st
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		q.Offset = n
	}

	rows, total, err := h.store.FindPage(q)
	if err != nil {
		h.logger.Error("find page failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "total": total})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	tx, err := h.store.Find(hash)
	if err != nil {
		h.logger.Error("find failed", "hash", hash, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	var chainID *int64
	if v := r.URL.Query().Get("chainId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chainId")
			return
		}
		chainID = &id
	}
	agg, err := h.store.Aggregate(chainID)
	if err != nil {
		h.logger.Error("aggregate failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
