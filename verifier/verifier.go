// Package verifier implements the Cross-Chain Verifier, an optional
// liveness/audit hook that independently confirms a payment-release
// transaction. Its verdict is never load-bearing for fund safety — the
// contracts' own timeout callbacks remain the safety mechanism regardless
// of what the verifier reports.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/atomicbridge/timeoracle/chainclient"
	"github.com/atomicbridge/timeoracle/oracle"
)

// Chain is the narrow RPC surface the verifier needs.
type Chain interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*chainclient.AccountProofResult, error)
}

// Outcome is the verifier's result, replacing a bare boolean so callers
// can see why a verdict was negative or weak.
type Outcome struct {
	Verified     bool
	ProofChecked bool
	Reason       string
}

// ConfirmationTier maps a minimum transferred value (in wei) to a required
// confirmation count, configurable via the `verifier_confirmation_table`
// option.
type ConfirmationTier struct {
	MinWei        *big.Int
	Confirmations uint64
}

var defaultTiers = []ConfirmationTier{
	{MinWei: weiFromEther(10), Confirmations: 30},
	{MinWei: weiFromEther(1), Confirmations: 20},
	{MinWei: weiFromEther(0.1), Confirmations: 15},
	{MinWei: big.NewInt(0), Confirmations: 10},
}

func weiFromEther(eth float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(eth), big.NewFloat(1e18))
	out, _ := f.Int(nil)
	return out
}

// Verifier implements the six-step verification algorithm.
type Verifier struct {
	chain          Chain
	contract       common.Address
	tiers          []ConfirmationTier
	receiptTimeout time.Duration
	pollInterval   time.Duration
}

// New constructs a Verifier that checks PaymentCompleted events emitted by
// contract on chain. tiers is assumed sorted by descending MinWei; when
// empty, a value-scaled default schedule is used.
func New(chain Chain, contract common.Address, tiers ...ConfirmationTier) *Verifier {
	if len(tiers) == 0 {
		tiers = defaultTiers
	}
	return &Verifier{
		chain:          chain,
		contract:       contract,
		tiers:          tiers,
		receiptTimeout: 60 * time.Second,
		pollInterval:   3 * time.Second,
	}
}

// requiredConfirmations maps a transferred value to v's confirmation-count
// schedule, returning 10 if no tier matches.
func (v *Verifier) requiredConfirmations(amount *big.Int) uint64 {
	for _, tier := range v.tiers {
		if tier.MinWei != nil && amount.Cmp(tier.MinWei) >= 0 {
			return tier.Confirmations
		}
	}
	return 10
}

// Verify runs the full verification algorithm for a PaymentCompleted
// transaction expected to carry the given payment id.
func (v *Verifier) Verify(ctx context.Context, txHash common.Hash, expectedPaymentID *big.Int, amount *big.Int) Outcome {
	confirmations := v.requiredConfirmations(amount)
	deadline := time.Duration(confirmations)*12*time.Second*2 + 60*time.Second

	receipt, err := v.waitForReceipt(ctx, txHash, deadline)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("receipt: %v", err)}
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return Outcome{Reason: "transaction reverted"}
	}

	if err := v.waitForConfirmations(ctx, receipt, confirmations, deadline); err != nil {
		return Outcome{Reason: fmt.Sprintf("confirmations: %v", err)}
	}

	block, err := v.chain.BlockByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("fetch block: %v", err)}
	}
	if !blockContainsTx(block, txHash) {
		return Outcome{Reason: "transaction not listed in its own receipt block"}
	}

	proofChecked := v.tryProof(ctx, receipt)

	recheck, err := v.chain.TransactionReceipt(ctx, txHash)
	if err != nil {
		return Outcome{ProofChecked: proofChecked, Reason: fmt.Sprintf("recheck receipt: %v", err)}
	}
	if recheck.BlockHash != receipt.BlockHash {
		return Outcome{ProofChecked: proofChecked, Reason: "block hash changed across wait window, reorg suspected"}
	}

	if !hasPaymentCompleted(receipt, v.contract, expectedPaymentID) {
		return Outcome{ProofChecked: proofChecked, Reason: "no matching PaymentCompleted log"}
	}

	return Outcome{Verified: true, ProofChecked: proofChecked}
}

func (v *Verifier) waitForReceipt(ctx context.Context, txHash common.Hash, deadline time.Duration) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := v.chain.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (v *Verifier) waitForConfirmations(ctx context.Context, receipt *gethtypes.Receipt, confirmations uint64, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()
	for {
		head, err := v.chain.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		have := new(big.Int).Sub(head.Number, receipt.BlockNumber)
		have.Add(have, big.NewInt(1))
		if have.Cmp(new(big.Int).SetUint64(confirmations)) >= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (v *Verifier) tryProof(ctx context.Context, receipt *gethtypes.Receipt) bool {
	_, err := v.chain.GetProof(ctx, v.contract, nil, receipt.BlockNumber)
	return err == nil
}

func blockContainsTx(block *gethtypes.Block, txHash common.Hash) bool {
	for _, tx := range block.Transactions() {
		if tx.Hash() == txHash {
			return true
		}
	}
	return false
}

func hasPaymentCompleted(receipt *gethtypes.Receipt, contract common.Address, expectedPaymentID *big.Int) bool {
	for _, log := range receipt.Logs {
		if log == nil || log.Address != contract {
			continue
		}
		if len(log.Topics) == 0 || log.Topics[0] != oracle.TopicPaymentCompleted() {
			continue
		}
		decoded, err := oracle.DecodePaymentCompletedLog(*log)
		if err != nil {
			continue
		}
		if decoded.PaymentID.Cmp(expectedPaymentID) == 0 {
			return true
		}
	}
	return false
}
