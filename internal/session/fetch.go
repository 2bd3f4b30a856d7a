package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mempool-fanout/internal/pendingtx"
)

// rpcCall issues one JSON-RPC request over the Session's HTTP URL and
// unmarshals the result into out. Used by both HTTP-fetch dialects.
func (s *Session) rpcCall(ctx context.Context, method string, params []any, out any) error {
	req := request{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.HTTPURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transient network: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transient network: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("protocol decode: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// handleHashOnlyPending fetches the full transaction for a hash streamed
// by a newPendingTransactions feed. Fetch errors are common (the tx may
// already be mined by the time the fetch runs) and are silently dropped
// unless the error text suggests something other than "not found".
func (s *Session) handleHashOnlyPending(ctx context.Context, result json.RawMessage) {
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		s.logger.Debug("discarding payload", "err", err)
		return
	}

	var raw map[string]any
	err := s.rpcCall(ctx, "eth_getTransactionByHash", []any{hash}, &raw)
	if err != nil {
		if !looksLikeNotFound(err) {
			s.logger.Warn("unexpected fetch failure", "hash", hash, "err", err)
		}
		return
	}
	if raw == nil {
		return // not found: tx was mined/evicted between subscribe and fetch
	}
	s.normalizeAndEmit(raw, pendingtx.StatusPending)
}

// handleHeadersThenFetch fetches the full block (with transactions) for
// a streamed header and emits each transaction as confirmed.
func (s *Session) handleHeadersThenFetch(ctx context.Context, result json.RawMessage) {
	var header struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		s.logger.Debug("discarding payload", "err", err)
		return
	}

	var block struct {
		Transactions []map[string]any `json:"transactions"`
	}
	if err := s.rpcCall(ctx, "eth_getBlockByNumber", []any{header.Number, true}, &block); err != nil {
		s.logger.Warn("block fetch failed", "number", header.Number, "err", err)
		return
	}

	for _, raw := range block.Transactions {
		s.normalizeAndEmit(raw, pendingtx.StatusConfirmed)
	}
}

func looksLikeNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
