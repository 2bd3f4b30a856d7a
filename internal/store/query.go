package store

import (
	"fmt"
	"strings"
	"time"

	"mempool-fanout/internal/pendingtx"
)

// maxPageLimit bounds findPage's limit per spec §4.4.
const maxPageLimit = 100

// PageQuery selects and orders a bounded slice of transactions.
type PageQuery struct {
	ChainID    *int64
	FromPrefix string
	ToPrefix   string
	Status     *pendingtx.Status
	OrderBy    string // "ts" or "nonce"; defaults to "ts"
	Descending bool
	Limit      int
	Offset     int
}

// FindPage returns a bounded, ordered slice of transactions plus the
// total row count matching the filter (ignoring limit/offset).
func (s *Store) FindPage(q PageQuery) ([]pendingtx.Tx, int64, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	where, args := q.whereClause()

	var total int64
	countSQL := "SELECT COUNT(*) FROM pending_tx " + where
	if err := s.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: find page count: %w", err)
	}

	order := "ts"
	if q.OrderBy == "nonce" {
		order = "nonce"
	}
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}

	querySQL := fmt.Sprintf(`
SELECT hash, chain_id, sender, recipient, value, gas_price, gas_limit,
       max_fee_per_gas, max_priority_fee_per_gas, input, nonce, tx_type, status, ts
FROM pending_tx %s ORDER BY %s %s LIMIT ? OFFSET ?`, where, order, dir)

	rows, err := s.db.Query(querySQL, append(append([]any{}, args...), limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: find page: %w", err)
	}
	defer rows.Close()

	var out []pendingtx.Tx
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: find page scan: %w", err)
		}
		out = append(out, *tx)
	}
	return out, total, rows.Err()
}

func (q PageQuery) whereClause() (string, []any) {
	var clauses []string
	var args []any

	if q.ChainID != nil {
		clauses = append(clauses, "chain_id = ?")
		args = append(args, *q.ChainID)
	}
	if q.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*q.Status))
	}
	if q.FromPrefix != "" {
		clauses = append(clauses, "sender LIKE ?")
		args = append(args, q.FromPrefix+"%")
	}
	if q.ToPrefix != "" {
		clauses = append(clauses, "recipient LIKE ?")
		args = append(args, q.ToPrefix+"%")
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Aggregate summarizes the store's current contents, optionally scoped
// to one chain (spec §4.4).
type Aggregate struct {
	ByStatus          map[string]int64 `json:"byStatus"`
	ByChain           map[int64]int64  `json:"byChain"`
	TopSendersLastHour []SenderCount   `json:"topSendersLastHour"`
	CountLast5Min     int64            `json:"countLast5min"`
}

type SenderCount struct {
	Address string `json:"address"`
	Count   int64  `json:"count"`
}

func (s *Store) Aggregate(chainID *int64) (Aggregate, error) {
	agg := Aggregate{ByStatus: map[string]int64{}, ByChain: map[int64]int64{}}

	chainFilter, chainArgs := "", []any{}
	if chainID != nil {
		chainFilter = "WHERE chain_id = ?"
		chainArgs = append(chainArgs, *chainID)
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM pending_tx "+chainFilter+" GROUP BY status", chainArgs...)
	if err != nil {
		return agg, fmt.Errorf("store: aggregate byStatus: %w", err)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return agg, err
		}
		agg.ByStatus[status] = count
	}
	rows.Close()

	chainRows, err := s.db.Query("SELECT chain_id, COUNT(*) FROM pending_tx "+chainFilter+" GROUP BY chain_id", chainArgs...)
	if err != nil {
		return agg, fmt.Errorf("store: aggregate byChain: %w", err)
	}
	for chainRows.Next() {
		var id, count int64
		if err := chainRows.Scan(&id, &count); err != nil {
			chainRows.Close()
			return agg, err
		}
		agg.ByChain[id] = count
	}
	chainRows.Close()

	hourAgo := time.Now().Add(-time.Hour).UnixMilli()
	topQuery := "SELECT sender, COUNT(*) c FROM pending_tx WHERE ts > ?"
	topArgs := []any{hourAgo}
	if chainID != nil {
		topQuery += " AND chain_id = ?"
		topArgs = append(topArgs, *chainID)
	}
	topQuery += " GROUP BY sender ORDER BY c DESC LIMIT 10"

	topRows, err := s.db.Query(topQuery, topArgs...)
	if err != nil {
		return agg, fmt.Errorf("store: aggregate topSenders: %w", err)
	}
	for topRows.Next() {
		var sc SenderCount
		if err := topRows.Scan(&sc.Address, &sc.Count); err != nil {
			topRows.Close()
			return agg, err
		}
		agg.TopSendersLastHour = append(agg.TopSendersLastHour, sc)
	}
	topRows.Close()

	fiveMinAgo := time.Now().Add(-5 * time.Minute).UnixMilli()
	countQuery := "SELECT COUNT(*) FROM pending_tx WHERE ts > ?"
	countArgs := []any{fiveMinAgo}
	if chainID != nil {
		countQuery += " AND chain_id = ?"
		countArgs = append(countArgs, *chainID)
	}
	if err := s.db.QueryRow(countQuery, countArgs...).Scan(&agg.CountLast5Min); err != nil {
		return agg, fmt.Errorf("store: aggregate countLast5min: %w", err)
	}

	return agg, nil
}
