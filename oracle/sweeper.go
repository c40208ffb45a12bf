package oracle

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ContractReader is the read-only surface the sweeper uses to check a
// trade's on-chain state before sending a redundant callback.
type ContractReader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Sweeper is the Timeout Sweeper: it periodically scans
// both chains' trade tables for legs that missed their confirmation or
// execution deadline and drives them to Failed, propagating the
// cancellation to the paired leg.
type Sweeper struct {
	coordinator *Coordinator
	readers     map[Chain]ContractReader
	contracts   map[Chain]common.Address
	interval    time.Duration
	clock       Clock
	log         *slog.Logger
}

// NewSweeper constructs a Sweeper polling at interval.
func NewSweeper(coordinator *Coordinator, assetReader, paymentReader ContractReader, assetContract, paymentContract common.Address, interval time.Duration, clock Clock, log *slog.Logger) *Sweeper {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		coordinator: coordinator,
		readers: map[Chain]ContractReader{
			ChainAsset:   assetReader,
			ChainPayment: paymentReader,
		},
		contracts: map[Chain]common.Address{
			ChainAsset:   assetContract,
			ChainPayment: paymentContract,
		},
		interval: interval,
		clock:    clock,
		log:      log,
	}
}

// Run sweeps on a fixed cadence until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx, ChainAsset)
			s.sweep(ctx, ChainPayment)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, chain Chain) {
	state := s.coordinator.ChainStateFor(chain)
	now := uint64(s.clock.Now().Unix())
	for tid, rec := range state.Snapshot() {
		s.classify(ctx, chain, tid, rec, now)
	}
}

func (s *Sweeper) classify(ctx context.Context, chain Chain, tid string, rec *TradeRecord, now uint64) {
	switch {
	case rec.HasConfirmationTime() && now-rec.ConfirmationTime > rec.Duration && now-rec.InceptionTime <= 2*rec.Duration:
		s.cancel(ctx, chain, tid, rec, true)
	case now-rec.InceptionTime > rec.Duration:
		s.cancel(ctx, chain, tid, rec, false)
	}
}

// cancel drives one leg to Failed, consulting on-chain state first to avoid
// a redundant send, then propagates to the paired leg.
func (s *Sweeper) cancel(ctx context.Context, chain Chain, tid string, rec *TradeRecord, executionPhase bool) {
	log := s.log.With("trade_id", tid, "chain", chain.String())
	state := s.coordinator.ChainStateFor(chain)
	if !state.TryMarkProcessing(tid) {
		return
	}
	defer state.Unmark(tid)

	if s.alreadyTerminalOnChain(ctx, chain, rec.TradeID, log) {
		s.coordinator.DropRecord(chain, rec.TradeID)
		return
	}
	if executionPhase {
		s.coordinator.CancelExecutionPhase(ctx, chain, rec.TradeID, log)
	} else {
		s.coordinator.CancelConfirmationPhase(ctx, chain, rec.TradeID, log)
	}
	s.propagate(ctx, chain.Other(), tid, rec.TradeID, executionPhase, log)
	s.coordinator.Pairs().Clear(tid)
}

// propagate cancels the paired leg, if it is still live and not already
// being handled by its own event handler or sweeper pass.
func (s *Sweeper) propagate(ctx context.Context, peerChain Chain, tid string, tradeID *big.Int, executionPhase bool, log *slog.Logger) {
	if !s.coordinator.Pairs().IsPaired(tid) {
		return
	}
	peerState := s.coordinator.ChainStateFor(peerChain)
	if _, ok := peerState.Get(tid); !ok {
		return
	}
	if !peerState.TryMarkProcessing(tid) {
		return
	}
	defer peerState.Unmark(tid)

	if s.alreadyTerminalOnChain(ctx, peerChain, tradeID, log) {
		s.coordinator.DropRecord(peerChain, tradeID)
		return
	}
	if executionPhase {
		s.coordinator.CancelExecutionPhase(ctx, peerChain, tradeID, log)
	} else {
		s.coordinator.CancelConfirmationPhase(ctx, peerChain, tradeID, log)
	}
}

// alreadyTerminalOnChain reads getTrade/getPayment to check whether the
// contract already considers tradeID Completed, Failed, or removed.
func (s *Sweeper) alreadyTerminalOnChain(ctx context.Context, chain Chain, tradeID *big.Int, log *slog.Logger) bool {
	reader := s.readers[chain]
	if reader == nil {
		return false
	}
	calldata, err := packGetByChain(chain, tradeID)
	if err != nil {
		log.Error("pack state read", "error", err)
		return false
	}
	out, err := reader.CallContract(ctx, ethereum.CallMsg{To: contractPtr(s.contracts[chain]), Data: calldata}, nil)
	if err != nil {
		log.Warn("state read failed, assuming non-terminal", "error", err)
		return false
	}
	if len(out) == 0 {
		return true
	}
	view, err := unpackViewByChain(chain, out)
	if err != nil {
		log.Warn("unpack state read failed, assuming non-terminal", "error", err)
		return false
	}
	return view.State.Terminal()
}

func packGetByChain(chain Chain, tradeID *big.Int) ([]byte, error) {
	if chain == ChainAsset {
		return PackGetTrade(tradeID)
	}
	return PackGetPayment(tradeID)
}

func unpackViewByChain(chain Chain, data []byte) (TradeView, error) {
	if chain == ChainAsset {
		return UnpackTrade(data)
	}
	return UnpackPayment(data)
}

func contractPtr(addr common.Address) *common.Address {
	return &addr
}
