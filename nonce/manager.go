// Package nonce tracks the next transaction nonce for each chain signer,
// so the Transaction Submitter can serialize concurrent callback
// submissions without racing the node's own pending-nonce view.
package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atomicbridge/timeoracle/chainclient"
)

// Source is the chain read the Manager refreshes from after a rejection.
type Source interface {
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
}

// Manager hands out monotonically increasing nonces for a single signer
// address on a single chain, safe for concurrent reservers (the Swap
// Coordinator and the Timeout Sweeper both submit on the same chain). Each
// Next call advances the counter before releasing the lock, so two
// concurrent reservations never receive the same nonce. A nonce is only
// handed out a second time after the caller explicitly reports the prior
// attempt failed to reach the mempool (Release); a nonce already reported
// Commit is never handed out again.
type Manager struct {
	mu      sync.Mutex
	source  Source
	account common.Address
	log     *slog.Logger

	next        uint64
	primed      bool
	released    []uint64
	outstanding map[uint64]struct{}
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// New constructs a Manager for account, reading the chain lazily on first
// Next call rather than at construction time.
func New(source Source, account common.Address, opts ...Option) *Manager {
	m := &Manager{
		source:      source,
		account:     account,
		log:         slog.Default(),
		outstanding: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Next reserves a nonce to use for a submission attempt, distinct from any
// other nonce currently outstanding. The reservation is tentative: callers
// MUST call Commit after the transaction is accepted by the node, or
// Release if it is not, so the Manager's in-memory counter never drifts
// from what was actually broadcast. Reusable nonces released by a prior
// failed attempt are handed out before advancing the counter further, so
// gaps left by Release don't grow without bound.
func (m *Manager) Next(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed {
		n, err := m.source.TransactionCount(ctx, m.account)
		if err != nil {
			return 0, fmt.Errorf("nonce: prime from chain: %w", err)
		}
		m.next = n
		m.primed = true
		m.log.Info("nonce manager primed", "account", m.account.Hex(), "next", m.next)
	}

	var n uint64
	if len(m.released) > 0 {
		n = m.released[0]
		m.released = m.released[1:]
	} else {
		n = m.next
		m.next++
	}
	m.outstanding[n] = struct{}{}
	return n, nil
}

// Commit records that the reserved nonce used was accepted (or already
// known) by the node, retiring the reservation. Commit is idempotent.
func (m *Manager) Commit(used uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outstanding, used)
	if used >= m.next {
		m.next = used + 1
	}
}

// Release reports that the reserved nonce was never accepted by the node
// (the submission failed before broadcast, e.g. signing or RPC-transport
// failure) and makes it available for reuse by a subsequent Next call. It
// is a no-op if used is not currently outstanding, which happens when a
// concurrent Commit or Release for the same nonce already landed.
func (m *Manager) Release(used uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outstanding[used]; !ok {
		return
	}
	delete(m.outstanding, used)
	m.released = append(m.released, used)
	sort.Slice(m.released, func(i, j int) bool { return m.released[i] < m.released[j] })
}

// Refresh discards the in-memory counter and reservation bookkeeping,
// re-priming from the chain on the next Next call. Called by the
// Transaction Submitter after a NonceTooLow rejection, per the
// retry-once-on-refresh policy.
func (m *Manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed = false
	m.released = nil
	m.outstanding = make(map[uint64]struct{})
}

var _ Source = (*chainclient.Client)(nil)
