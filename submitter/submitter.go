// Package submitter builds, signs, and retries the oracle's callback
// transactions (fulfillTime, handleFailedConfirmation,
// handleExecutionTimeout) against a single chain.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/atomicbridge/timeoracle/chainclient"
	tocrypto "github.com/atomicbridge/timeoracle/crypto"
	"github.com/atomicbridge/timeoracle/nonce"
)

// Chain is the subset of chainclient.ChainClient the submitter needs.
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Metrics receives per-attempt outcome counts for the Status Surface's
// /stats endpoint.
type Metrics interface {
	RecordAttempt(chain string, retryable bool)
	RecordTerminalFailure(chain string)
	RecordSuccess(chain string)
}

// noopMetrics discards everything; used when the caller doesn't wire a
// Metrics implementation.
type noopMetrics struct{}

func (noopMetrics) RecordAttempt(string, bool)   {}
func (noopMetrics) RecordTerminalFailure(string) {}
func (noopMetrics) RecordSuccess(string)         {}

// Submitter signs and submits callback transactions for one chain,
// retrying transient failures with bounded exponential backoff.
type Submitter struct {
	name       string
	chain      Chain
	nonces     *nonce.Manager
	signer     *tocrypto.PrivateKey
	contract   common.Address
	gasLimit   uint64
	maxRetries int
	backoff    time.Duration
	log        *slog.Logger
	metrics    Metrics
}

// Option configures a Submitter at construction time.
type Option func(*Submitter)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Submitter) { s.log = log }
}

// WithBackoff overrides the base retry delay; defaults to 2s, doubling per
// attempt.
func WithBackoff(d time.Duration) Option {
	return func(s *Submitter) { s.backoff = d }
}

// WithMetrics attaches a Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// New constructs a Submitter targeting contract on the given chain, signing
// with signer, submitting at most maxRetries+1 attempts per call and using a
// fixed gasLimit for every callback.
func New(name string, chain Chain, nonces *nonce.Manager, signer *tocrypto.PrivateKey, contract common.Address, gasLimit uint64, maxRetries int, opts ...Option) *Submitter {
	if maxRetries < 0 {
		maxRetries = 0
	}
	s := &Submitter{
		name:       name,
		chain:      chain,
		nonces:     nonces,
		signer:     signer,
		contract:   contract,
		gasLimit:   gasLimit,
		maxRetries: maxRetries,
		backoff:    2 * time.Second,
		log:        slog.Default(),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit builds a dynamic-fee transaction carrying calldata, signs it, and
// submits it, retrying retryable failures up to maxRetries times with
// exponential backoff. It returns the accepted transaction hash, or the zero
// hash when the node reports the transaction as already known. A
// NonceTooLow rejection triggers exactly one nonce refresh-and-retry with no
// backoff delay; that retry uses one of the maxRetries+1 attempts.
func (s *Submitter) Submit(ctx context.Context, calldata []byte) (common.Hash, error) {
	var lastErr error
	refreshedOnce := false

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		hash, err := s.attempt(ctx, calldata)
		if err == nil {
			s.metrics.RecordSuccess(s.name)
			return hash, nil
		}

		if errors.Is(err, chainclient.ErrNonceTooLow) && !refreshedOnce {
			refreshedOnce = true
			s.nonces.Refresh()
			s.log.Warn("nonce too low, refreshing and retrying", "chain", s.name)
			continue
		}

		if errors.Is(err, chainclient.ErrAlreadyKnown) {
			s.metrics.RecordSuccess(s.name)
			return common.Hash{}, nil
		}

		if !retryable(err) {
			s.metrics.RecordTerminalFailure(s.name)
			return common.Hash{}, fmt.Errorf("submitter(%s): terminal failure: %w", s.name, err)
		}

		lastErr = err
		s.metrics.RecordAttempt(s.name, true)
		if attempt == s.maxRetries {
			break
		}
		delay := s.backoff * time.Duration(1<<uint(attempt))
		s.log.Warn("retryable submission failure, backing off", "chain", s.name, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	s.metrics.RecordTerminalFailure(s.name)
	return common.Hash{}, fmt.Errorf("submitter(%s): exhausted %d retries: %w", s.name, s.maxRetries, lastErr)
}

func (s *Submitter) attempt(ctx context.Context, calldata []byte) (common.Hash, error) {
	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	n, err := s.nonces.Next(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gasTip, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	gasFeeCap := new(big.Int).Mul(gasTip, big.NewInt(2))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     n,
		GasTipCap: gasTip,
		GasFeeCap: gasFeeCap,
		Gas:       s.gasLimit,
		To:        &s.contract,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.signer.PrivateKey)
	if err != nil {
		s.nonces.Release(n)
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		if errors.Is(err, chainclient.ErrNonceTooLow) {
			s.nonces.Release(n)
			return common.Hash{}, err
		}
		if !errors.Is(err, chainclient.ErrAlreadyKnown) {
			s.nonces.Release(n)
		} else {
			s.nonces.Commit(n)
		}
		return common.Hash{}, err
	}
	s.nonces.Commit(n)
	return signed.Hash(), nil
}

// retryable reports whether err represents a transient failure worth
// retrying, as opposed to one that will never succeed on resubmission.
func retryable(err error) bool {
	switch {
	case errors.Is(err, chainclient.ErrRpcUnavailable):
		return true
	case errors.Is(err, chainclient.ErrReplacementUnderpriced):
		return true
	case errors.Is(err, chainclient.ErrInsufficientFunds):
		return false
	case errors.Is(err, chainclient.ErrReverted):
		return false
	default:
		return true
	}
}
