package pendingtx

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NormalizationError is returned when a raw upstream payload cannot be
// turned into a Tx. The Session logs it and drops the event; it never
// reaches the Store or the Hub.
type NormalizationError struct {
	Reason string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("normalize: %s", e.Reason)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

func fail(reason string, err error) (Tx, error) {
	return Tx{}, &NormalizationError{Reason: reason, Err: err}
}

// FromRaw converts a decoded upstream transaction object into a Tx.
// raw is the JSON-decoded map of the "result" (or "transaction") object
// a dialect hands the Session; status is the lifecycle state the calling
// dialect assigns (pending for mempool feeds, confirmed for mined feeds).
func FromRaw(raw map[string]any, chainID int64, status Status) (Tx, error) {
	hashStr, ok := stringField(raw, "hash")
	if !ok || hashStr == "" {
		return fail("missing hash", nil)
	}
	fromStr, ok := stringField(raw, "from")
	if !ok || fromStr == "" {
		return fail("missing from", nil)
	}

	value, err := decodeBigOrZero(raw, "value")
	if err != nil {
		return fail("bad value", err)
	}
	gasLimit, err := decodeBigOrZero(raw, "gas")
	if err != nil {
		return fail("bad gas", err)
	}
	gasPrice, hasGasPrice, err := decodeBigField(raw, "gasPrice")
	if err != nil {
		return fail("bad gasPrice", err)
	}
	maxFee, hasMaxFee, err := decodeBigField(raw, "maxFeePerGas")
	if err != nil {
		return fail("bad maxFeePerGas", err)
	}
	maxPriority, hasMaxPriority, err := decodeBigField(raw, "maxPriorityFeePerGas")
	if err != nil {
		return fail("bad maxPriorityFeePerGas", err)
	}

	// gasPrice effective value: first defined of gasPrice, maxFeePerGas, 0.
	effectiveGasPrice := "0"
	switch {
	case hasGasPrice:
		effectiveGasPrice = gasPrice.String()
	case hasMaxFee:
		effectiveGasPrice = maxFee.String()
	}

	nonce, err := decodeUint64OrZero(raw, "nonce")
	if err != nil {
		return fail("bad nonce", err)
	}

	txType, err := decodeUint64OrZero(raw, "type")
	if err != nil {
		return fail("bad type", err)
	}
	if txType != 0 && txType != 2 {
		txType = 0
	}

	to := canonicalTo(raw["to"])

	input := "0x"
	if s, ok := stringField(raw, "input"); ok && s != "" {
		input = s
	}

	tx := Tx{
		Hash:      common.HexToHash(hashStr).Hex(),
		ChainID:   chainID,
		From:      common.HexToAddress(fromStr).Hex(),
		To:        to,
		Value:     value.String(),
		GasPrice:  effectiveGasPrice,
		GasLimit:  gasLimit.String(),
		Input:     input,
		Nonce:     nonce,
		Type:      uint8(txType),
		Timestamp: time.Now(),
		Status:    status,
	}
	if hasMaxFee {
		tx.MaxFeePerGas = maxFee.String()
	}
	if hasMaxPriority {
		tx.MaxPriorityFeePerGas = maxPriority.String()
	}
	return tx, nil
}

// canonicalTo maps a "to" field (20-byte hex string or JSON null) to the
// canonical absent representation ("") for contract creations.
func canonicalTo(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	return common.HexToAddress(s).Hex()
}

func stringField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// decodeBigField decodes a 0x-prefixed hex big integer field. The second
// return reports whether the field was present at all (vs. absent,
// which the caller defaults to zero).
func decodeBigField(raw map[string]any, key string) (*big.Int, bool, error) {
	s, ok := stringField(raw, key)
	if !ok || s == "" {
		return nil, false, nil
	}
	n, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func decodeBigOrZero(raw map[string]any, key string) (*big.Int, error) {
	n, ok, err := decodeBigField(raw, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int), nil
	}
	return n, nil
}

func decodeUint64OrZero(raw map[string]any, key string) (uint64, error) {
	s, ok := stringField(raw, key)
	if !ok || s == "" {
		return 0, nil
	}
	return hexutil.DecodeUint64(s)
}
