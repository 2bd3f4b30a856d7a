// Package pendingtx defines the canonical PendingTx record and the
// normalizer that turns heterogeneous upstream payloads into it.
package pendingtx

import "time"

// Status is the advisory lifecycle state of a PendingTx.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDropped   Status = "dropped"
)

// Rank orders statuses for the I4 monotonicity check: pending(0) ->
// confirmed(1) -> dropped(2). This is the single source of truth for
// status ordering; both the in-process Supersedes check and the
// Store's SQL-level upsert guard derive from it.
func (s Status) Rank() int {
	switch s {
	case StatusConfirmed:
		return 1
	case StatusDropped:
		return 2
	default:
		return 0
	}
}

// Supersedes reports whether observing next should replace the stored
// status cur, per invariant I4 (monotone pending -> confirmed).
func (cur Status) Supersedes(next Status) bool {
	return next.Rank() > cur.Rank()
}

// Tx is the canonical normalized transaction record (spec §3).
type Tx struct {
	Hash                 string    `json:"hash"`
	ChainID              int64     `json:"chainId"`
	From                 string    `json:"from"`
	To                   string    `json:"to,omitempty"`
	Value                string    `json:"value"`
	GasPrice             string    `json:"gasPrice"`
	GasLimit             string    `json:"gasLimit"`
	MaxFeePerGas         string    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string    `json:"maxPriorityFeePerGas,omitempty"`
	Input                string    `json:"input"`
	Nonce                uint64    `json:"nonce"`
	Type                 uint8     `json:"type"`
	Timestamp            time.Time `json:"timestamp"`
	Status               Status    `json:"status"`
}
