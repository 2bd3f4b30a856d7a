// Package store is the at-least-once, duplicate-tolerant persistence
// layer for PendingTx (spec §4.4). Backed by modernc.org/sqlite, the
// same pure-Go SQLite driver the teacher's indexer exercise uses.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mempool-fanout/internal/pendingtx"
)

// Store persists PendingTx and ChainConfig rows. Safe for concurrent
// use by every Session and the Query Surface.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and applies
// the schema. A single writer connection avoids SQLITE_BUSY under
// concurrent upserts from multiple Sessions; reads use the same pool
// since SQLite serializes writers internally regardless.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS pending_tx (
	hash                    TEXT PRIMARY KEY,
	chain_id                INTEGER NOT NULL,
	sender                  TEXT NOT NULL,
	recipient               TEXT NOT NULL DEFAULT '',
	value                   TEXT NOT NULL,
	gas_price               TEXT NOT NULL,
	gas_limit               TEXT NOT NULL,
	max_fee_per_gas         TEXT NOT NULL DEFAULT '',
	max_priority_fee_per_gas TEXT NOT NULL DEFAULT '',
	input                   TEXT NOT NULL,
	nonce                   INTEGER NOT NULL,
	tx_type                 INTEGER NOT NULL,
	status                  TEXT NOT NULL,
	status_rank             INTEGER NOT NULL,
	ts                      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_tx_chain ON pending_tx(chain_id);
CREATE INDEX IF NOT EXISTS idx_pending_tx_sender ON pending_tx(sender);
CREATE INDEX IF NOT EXISTS idx_pending_tx_recipient ON pending_tx(recipient);
CREATE INDEX IF NOT EXISTS idx_pending_tx_ts ON pending_tx(ts);
CREATE INDEX IF NOT EXISTS idx_pending_tx_status ON pending_tx(status);

CREATE TABLE IF NOT EXISTS chain_config (
	chain_id INTEGER PRIMARY KEY,
	name     TEXT NOT NULL,
	ws_url   TEXT NOT NULL,
	rpc_url  TEXT NOT NULL DEFAULT ''
);
`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts tx, or, if hash already exists, updates status only if
// the new status outranks the stored one (I4). Duplicate-key races are
// absorbed by ON CONFLICT, never surfaced as an error (I1).
func (s *Store) Upsert(tx pendingtx.Tx) error {
	_, err := s.db.Exec(`
INSERT INTO pending_tx (
	hash, chain_id, sender, recipient, value, gas_price, gas_limit,
	max_fee_per_gas, max_priority_fee_per_gas, input, nonce, tx_type,
	status, status_rank, ts
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET
	status = excluded.status,
	status_rank = excluded.status_rank
WHERE excluded.status_rank > pending_tx.status_rank
`,
		tx.Hash, tx.ChainID, tx.From, tx.To, tx.Value, tx.GasPrice, tx.GasLimit,
		tx.MaxFeePerGas, tx.MaxPriorityFeePerGas, tx.Input, tx.Nonce, tx.Type,
		string(tx.Status), tx.Status.Rank(), tx.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert: %w", err)
	}
	return nil
}

// Find looks up a single transaction by hash.
func (s *Store) Find(hash string) (*pendingtx.Tx, error) {
	row := s.db.QueryRow(`
SELECT hash, chain_id, sender, recipient, value, gas_price, gas_limit,
       max_fee_per_gas, max_priority_fee_per_gas, input, nonce, tx_type, status, ts
FROM pending_tx WHERE hash = ?`, hash)
	tx, err := scanTx(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find: %w", err)
	}
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTx(row rowScanner) (*pendingtx.Tx, error) {
	var tx pendingtx.Tx
	var tsMillis int64
	var status string
	err := row.Scan(&tx.Hash, &tx.ChainID, &tx.From, &tx.To, &tx.Value, &tx.GasPrice, &tx.GasLimit,
		&tx.MaxFeePerGas, &tx.MaxPriorityFeePerGas, &tx.Input, &tx.Nonce, &tx.Type, &status, &tsMillis)
	if err != nil {
		return nil, err
	}
	tx.Status = pendingtx.Status(status)
	tx.Timestamp = time.UnixMilli(tsMillis)
	return &tx, nil
}

// UpsertChainConfig reconciles the chain table row for cfg (spec §4.6).
func (s *Store) UpsertChainConfig(chainID int64, name, wsURL, rpcURL string) error {
	_, err := s.db.Exec(`
INSERT INTO chain_config (chain_id, name, ws_url, rpc_url) VALUES (?, ?, ?, ?)
ON CONFLICT(chain_id) DO UPDATE SET name = excluded.name, ws_url = excluded.ws_url, rpc_url = excluded.rpc_url
`, chainID, name, wsURL, rpcURL)
	if err != nil {
		return fmt.Errorf("store: upsert chain config: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes rows whose ingestion timestamp is before cutoff
// and returns the number of rows removed. Invoked by the external
// retention sweeper (spec §4.4, §4.8).
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM pending_tx WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: delete older than: %w", err)
	}
	return res.RowsAffected()
}
