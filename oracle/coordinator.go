package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atomicbridge/timeoracle/chainclient"
)

// Submitter is the narrow surface the coordinator needs from the
// Transaction Submitter: build calldata, sign, submit, retry.
type Submitter interface {
	Submit(ctx context.Context, calldata []byte) (common.Hash, error)
}

// Coordinator is the Swap Coordinator: the state-machine core of the
// oracle. It owns both chains' ChainState and the shared PairIndex, and is
// the sole writer of TradeRecords.
type Coordinator struct {
	states     map[Chain]*ChainState
	submitters map[Chain]Submitter
	pairs      *PairIndex
	clock      Clock
	metrics    *Metrics
	log        *slog.Logger
}

// NewCoordinator wires a Coordinator over both chains' state and
// submitters.
func NewCoordinator(assetState, paymentState *ChainState, assetSubmitter, paymentSubmitter Submitter, pairs *PairIndex, clock Clock, metrics *Metrics, log *slog.Logger) *Coordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		states: map[Chain]*ChainState{
			ChainAsset:   assetState,
			ChainPayment: paymentState,
		},
		submitters: map[Chain]Submitter{
			ChainAsset:   assetSubmitter,
			ChainPayment: paymentSubmitter,
		},
		pairs:   pairs,
		clock:   clock,
		metrics: metrics,
		log:     log,
	}
}

func (c *Coordinator) stateFor(chain Chain) *ChainState   { return c.states[chain] }
func (c *Coordinator) submitterFor(chain Chain) Submitter { return c.submitters[chain] }

func (c *Coordinator) now() uint64 {
	return uint64(c.clock.Now().Unix())
}

// HandleEvent runs the full event-handling algorithm for a
// single inbound TimeRequestSent occurrence. Callers (the Trade Dispatcher)
// guarantee at most one HandleEvent call per trade id is in flight at a
// time.
func (c *Coordinator) HandleEvent(ctx context.Context, ev Event) error {
	tid := pairKey(ev.TradeID)
	log := c.log.With("trade_id", tid, "chain", ev.Chain.String(), "correlation_id", ev.CorrelationID)
	log.Info("handler enter")
	defer log.Info("handler exit")

	state := c.stateFor(ev.Chain)
	otherState := c.stateFor(ev.Chain.Other())

	rec, exists := state.Get(tid)
	if !exists {
		return c.handleCreation(ctx, ev, tid, otherState, log)
	}
	return c.handleConfirmation(ctx, ev, tid, rec, otherState, log)
}

func (c *Coordinator) handleCreation(ctx context.Context, ev Event, tid string, otherState *ChainState, log *slog.Logger) error {
	otherRec, otherExists := otherState.Get(tid)
	if !otherExists {
		inception := c.now()
		rec := &TradeRecord{
			TradeID:         ev.TradeID,
			InceptionTime:   inception,
			Duration:        ev.Duration,
			LastRequestID:   ev.RequestID,
			LastRequestTime: inception,
		}
		c.stateFor(ev.Chain).Put(tid, rec)
		log.Info("trade created, unpaired", "inception_time", inception, "duration", ev.Duration)
		return c.submitFulfillTime(ctx, ev.Chain, tid, ev.RequestID, inception, log)
	}

	var assetDuration, paymentDuration uint64
	if ev.Chain == ChainAsset {
		assetDuration, paymentDuration = ev.Duration, otherRec.Duration
	} else {
		assetDuration, paymentDuration = otherRec.Duration, ev.Duration
	}
	if assetDuration < paymentDuration {
		log.Error("timeout inversion detected at creation, failing both legs",
			"asset_duration", assetDuration, "payment_duration", paymentDuration)
		c.failBothLegs(ctx, ev.Chain, ev.TradeID, log)
		return nil
	}

	var inception uint64
	if ev.Chain == ChainPayment {
		inception = otherRec.InceptionTime
	} else {
		inception = c.now()
	}
	c.pairs.Bind(tid)
	rec := &TradeRecord{
		TradeID:         ev.TradeID,
		InceptionTime:   inception,
		Duration:        ev.Duration,
		LastRequestID:   ev.RequestID,
		LastRequestTime: c.now(),
	}
	c.stateFor(ev.Chain).Put(tid, rec)
	log.Info("trade created, paired", "inception_time", inception, "duration", ev.Duration)
	return c.submitFulfillTime(ctx, ev.Chain, tid, ev.RequestID, inception, log)
}

func (c *Coordinator) handleConfirmation(ctx context.Context, ev Event, tid string, rec *TradeRecord, otherState *ChainState, log *slog.Logger) error {
	now := c.now()
	otherRec, otherExists := otherState.Get(tid)

	confirmationTime := now
	if otherExists && otherRec.LastRequestTime > confirmationTime {
		confirmationTime = otherRec.LastRequestTime
	}

	if confirmationTime-rec.InceptionTime > rec.Duration {
		log.Error("confirmation window exceeded, failing leg", "confirmation_time", confirmationTime, "inception_time", rec.InceptionTime, "duration", rec.Duration)
		c.cancelLeg(ctx, ev.Chain, ev.TradeID, log)
		if otherExists {
			c.cancelPeerLeg(ctx, ev.Chain.Other(), ev.TradeID, log)
		}
		c.pairs.Clear(tid)
		return nil
	}

	rec.LastRequestID = ev.RequestID
	rec.LastRequestTime = now
	rec.IsConfirmationPhase = true
	rec.ConfirmationTime = confirmationTime
	c.stateFor(ev.Chain).Put(tid, rec)
	log.Info("trade entered confirmation phase", "confirmation_time", confirmationTime)
	return c.submitFulfillTime(ctx, ev.Chain, tid, ev.RequestID, confirmationTime, log)
}

func (c *Coordinator) submitFulfillTime(ctx context.Context, chain Chain, tid string, requestID common.Hash, timestamp uint64, log *slog.Logger) error {
	calldata, err := PackFulfillTime(requestID, timestamp)
	if err != nil {
		return fmt.Errorf("oracle: pack fulfillTime: %w", err)
	}
	if _, err := c.submitterFor(chain).Submit(ctx, calldata); err != nil {
		log.Error("fulfillTime submission failed, dropping local record", "error", err)
		c.stateFor(chain).Delete(tid)
		return fmt.Errorf("oracle: fulfillTime: %w", err)
	}
	c.metrics.recordFulfillTime(chain)
	return nil
}

// failBothLegs drives both legs to Failed at creation time, per the
// timeout-inversion guard. The incoming request that
// triggered the check is never stamped. originChain is the leg HandleEvent
// is already processing, so only the peer leg needs its own ProcessingSet
// claim before it can be touched.
func (c *Coordinator) failBothLegs(ctx context.Context, originChain Chain, tradeID *big.Int, log *slog.Logger) {
	c.cancelLeg(ctx, originChain, tradeID, log)
	c.cancelPeerLeg(ctx, originChain.Other(), tradeID, log)
	c.pairs.Clear(pairKey(tradeID))
}

// cancelPeerLeg drives the peer chain's leg to Failed, first claiming its
// ProcessingSet membership so this call cannot race that chain's own
// dispatcher-driven handler or the sweeper for the same trade id, mirroring
// Sweeper.propagate. It is a no-op if the peer leg is already claimed
// elsewhere, leaving that in-flight handler to reach the same outcome.
func (c *Coordinator) cancelPeerLeg(ctx context.Context, chain Chain, tradeID *big.Int, log *slog.Logger) {
	tid := pairKey(tradeID)
	state := c.stateFor(chain)
	if !state.TryMarkProcessing(tid) {
		return
	}
	defer state.Unmark(tid)
	c.cancelLeg(ctx, chain, tradeID, log)
}

// cancelLeg invokes handleFailedConfirmation for tradeID on chain and drops
// the local record regardless of outcome, per the "submission
// terminal" policy. A non-nonce revert is surfaced as an alert rather than
// silently dropped. Callers driving the peer leg (not the chain the current
// handler already owns) must go through cancelPeerLeg instead of calling
// this directly.
func (c *Coordinator) cancelLeg(ctx context.Context, chain Chain, tradeID *big.Int, log *slog.Logger) {
	tid := pairKey(tradeID)
	calldata, err := PackHandleFailedConfirmation(tradeID)
	if err != nil {
		log.Error("pack handleFailedConfirmation", "chain", chain.String(), "error", err)
		c.stateFor(chain).Delete(tid)
		return
	}
	_, err = c.submitterFor(chain).Submit(ctx, calldata)
	c.stateFor(chain).Delete(tid)
	if err != nil {
		if errors.Is(err, chainclient.ErrReverted) {
			c.metrics.RecordCancelRevert()
		}
		log.Error("handleFailedConfirmation failed", "chain", chain.String(), "error", err)
		return
	}
	c.metrics.recordFailedConfirmation(chain)
}

// cancelLegExecutionTimeout invokes handleExecutionTimeout for tradeID on
// chain and drops the local record, used by the Timeout Sweeper for legs
// that reached Confirmed but never completed.
func (c *Coordinator) cancelLegExecutionTimeout(ctx context.Context, chain Chain, tradeID *big.Int, log *slog.Logger) {
	tid := pairKey(tradeID)
	calldata, err := PackHandleExecutionTimeout(tradeID)
	if err != nil {
		log.Error("pack handleExecutionTimeout", "chain", chain.String(), "error", err)
		c.stateFor(chain).Delete(tid)
		return
	}
	_, err = c.submitterFor(chain).Submit(ctx, calldata)
	c.stateFor(chain).Delete(tid)
	if err != nil {
		log.Error("handleExecutionTimeout failed", "chain", chain.String(), "error", err)
		return
	}
	c.metrics.recordExecutionTimeout(chain)
}

// CancelConfirmationPhase invokes handleFailedConfirmation(tradeID) on chain
// and drops the local record. Exported for the Timeout Sweeper.
func (c *Coordinator) CancelConfirmationPhase(ctx context.Context, chain Chain, tradeID *big.Int, log *slog.Logger) {
	c.cancelLeg(ctx, chain, tradeID, log)
}

// CancelExecutionPhase invokes handleExecutionTimeout(tradeID) on chain and
// drops the local record. Exported for the Timeout Sweeper.
func (c *Coordinator) CancelExecutionPhase(ctx context.Context, chain Chain, tradeID *big.Int, log *slog.Logger) {
	c.cancelLegExecutionTimeout(ctx, chain, tradeID, log)
}

// DropRecord removes the local record for tradeID on chain with no
// on-chain call, used by the sweeper when the contract already reports a
// terminal state.
func (c *Coordinator) DropRecord(chain Chain, tradeID *big.Int) {
	c.stateFor(chain).Delete(pairKey(tradeID))
}

// ChainStateFor exposes a chain's state for the sweeper and the Status
// Surface; both are read-mostly collaborators, not coordinator internals.
func (c *Coordinator) ChainStateFor(chain Chain) *ChainState { return c.stateFor(chain) }

// Pairs exposes the shared pair index for the sweeper's propagation step.
func (c *Coordinator) Pairs() *PairIndex { return c.pairs }

// Metrics exposes the coordinator's metrics for the Status Surface.
func (c *Coordinator) Metrics() *Metrics { return c.metrics }
