package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mempool-fanout/internal/pendingtx"
	"mempool-fanout/internal/store"
)

type fakeStore struct {
	txs   map[string]pendingtx.Tx
	page  []pendingtx.Tx
	total int64
	agg   store.Aggregate
	err   error
}

func (f *fakeStore) Find(hash string) (*pendingtx.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (f *fakeStore) FindPage(q store.PageQuery) ([]pendingtx.Tx, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.page, f.total, nil
}

func (f *fakeStore) Aggregate(chainID *int64) (store.Aggregate, error) {
	if f.err != nil {
		return store.Aggregate{}, f.err
	}
	return f.agg, nil
}

func newTestHandler(st *fakeStore) (*Handler, *httptest.Server) {
	h := NewHandler(st)
	mux := http.NewServeMux()
	h.Register(mux)
	return h, httptest.NewServer(mux)
}

func TestGetTransaction_Found(t *testing.T) {
	st := &fakeStore{txs: map[string]pendingtx.Tx{"0xabc": {Hash: "0xabc", ChainID: 1}}}
	_, srv := newTestHandler(st)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions/0xabc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tx pendingtx.Tx
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tx))
	require.Equal(t, "0xabc", tx.Hash)
}

func TestGetTransaction_NotFound(t *testing.T) {
	st := &fakeStore{txs: map[string]pendingtx.Tx{}}
	_, srv := newTestHandler(st)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions/0xmissing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListTransactions_InvalidChainID(t *testing.T) {
	st := &fakeStore{}
	_, srv := newTestHandler(st)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions?chainId=notanumber")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTransactions_ReturnsRowsAndTotal(t *testing.T) {
	st := &fakeStore{
		page:  []pendingtx.Tx{{Hash: "0x1"}, {Hash: "0x2"}},
		total: 2,
	}
	_, srv := newTestHandler(st)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/transactions?chainId=1&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rows  []pendingtx.Tx `json:"rows"`
		Total int64          `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Rows, 2)
	require.EqualValues(t, 2, body.Total)
}

func TestAggregate_ReturnsBody(t *testing.T) {
	st := &fakeStore{agg: store.Aggregate{ByStatus: map[string]int64{"pending": 3}}}
	_, srv := newTestHandler(st)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/aggregate")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agg store.Aggregate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agg))
	require.EqualValues(t, 3, agg.ByStatus["pending"])
}

func TestAggregate_StoreError(t *testing.T) {
	st := &fakeStore{err: errors.New("boom")}
	_, srv := newTestHandler(st)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/aggregate")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
