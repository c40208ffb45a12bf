package oracle

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Chain identifies one side of the swap.
type Chain int

const (
	ChainAsset Chain = iota
	ChainPayment
)

func (c Chain) String() string {
	if c == ChainAsset {
		return "asset"
	}
	return "payment"
}

// Other returns the opposite leg.
func (c Chain) Other() Chain {
	if c == ChainAsset {
		return ChainPayment
	}
	return ChainAsset
}

// TradeRecord is the oracle's in-memory mirror of one leg of a swap.
type TradeRecord struct {
	TradeID             *big.Int
	InceptionTime       uint64
	Duration            uint64
	LastRequestID       common.Hash
	LastRequestTime     uint64
	ConfirmationTime    uint64 // 0 when unset
	IsConfirmationPhase bool
}

// HasConfirmationTime reports whether ConfirmationTime has been set.
func (t *TradeRecord) HasConfirmationTime() bool {
	return t != nil && t.ConfirmationTime != 0
}

// Clone returns a value copy with a cloned TradeID, safe to hand to callers
// that must not observe subsequent mutation.
func (t *TradeRecord) Clone() *TradeRecord {
	if t == nil {
		return nil
	}
	clone := *t
	if t.TradeID != nil {
		clone.TradeID = new(big.Int).Set(t.TradeID)
	}
	return &clone
}

// Event is a single inbound TimeRequestSent occurrence forwarded from the
// Event Pump to the Trade Dispatcher, carrying the observability-only block
// timestamp.
type Event struct {
	Chain          Chain
	RequestID      common.Hash
	TradeID        *big.Int
	Duration       uint64
	BlockTimestamp uint64
	CorrelationID  string
}

// pairKey returns the trade id as a map key; trade ids are uint256 but in
// practice fit the decimal string representation used throughout the oracle
// for map keys and log fields.
func pairKey(id *big.Int) string {
	if id == nil {
		return ""
	}
	return id.String()
}
