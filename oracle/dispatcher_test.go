package oracle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu      sync.Mutex
	order   []string
	delay   time.Duration
	failIDs map[string]struct{}
}

func (h *recordingHandler) HandleEvent(ctx context.Context, ev Event) error {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.order = append(h.order, ev.CorrelationID)
	_, shouldFail := h.failIDs[ev.CorrelationID]
	h.mu.Unlock()
	if shouldFail {
		return errTestHandlerFailure
	}
	return nil
}

var errTestHandlerFailure = errTestErr("handler failure")

type errTestErr string

func (e errTestErr) Error() string { return string(e) }

func TestDispatcherSerializesEventsPerTradeID(t *testing.T) {
	state := NewChainState(ChainAsset)
	handler := &recordingHandler{delay: 10 * time.Millisecond}
	d := NewDispatcher(ChainAsset, state, handler, nil)

	tradeID := big.NewInt(1)
	ctx := context.Background()
	d.Submit(ctx, Event{Chain: ChainAsset, TradeID: tradeID, CorrelationID: "first"})
	d.Submit(ctx, Event{Chain: ChainAsset, TradeID: tradeID, CorrelationID: "second"})
	d.Submit(ctx, Event{Chain: ChainAsset, TradeID: tradeID, CorrelationID: "third"})
	d.Wait()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.order) != 3 {
		t.Fatalf("expected 3 handled events, got %d", len(handler.order))
	}
	if handler.order[0] != "first" || handler.order[1] != "second" || handler.order[2] != "third" {
		t.Fatalf("expected FIFO order, got %v", handler.order)
	}
}

func TestDispatcherRunsDifferentTradeIDsConcurrently(t *testing.T) {
	state := NewChainState(ChainAsset)
	handler := &recordingHandler{delay: 20 * time.Millisecond}
	d := NewDispatcher(ChainAsset, state, handler, nil)

	ctx := context.Background()
	start := time.Now()
	d.Submit(ctx, Event{Chain: ChainAsset, TradeID: big.NewInt(1), CorrelationID: "a"})
	d.Submit(ctx, Event{Chain: ChainAsset, TradeID: big.NewInt(2), CorrelationID: "b"})
	d.Wait()
	elapsed := time.Since(start)
	if elapsed > 60*time.Millisecond {
		t.Fatalf("expected concurrent handling, took %v", elapsed)
	}
}

func TestClaimOrEnqueueNeverStrandsAnEventBehindAConcurrentFinish(t *testing.T) {
	// Regression for a TOCTOU race: a separate TryMarkProcessing-then-
	// EnqueueDeferred pair could interleave with FinishOrNext such that the
	// claim was released and the (empty) deferred queue drained strictly
	// between the two calls, stranding ev in a queue nothing would ever
	// drain. ClaimOrEnqueue folds the decision into one critical section so
	// no such window exists.
	state := NewChainState(ChainAsset)
	tid := "1"

	if !state.ClaimOrEnqueue(tid, Event{CorrelationID: "first"}) {
		t.Fatalf("expected the first claim to succeed")
	}
	if state.ClaimOrEnqueue(tid, Event{CorrelationID: "second"}) {
		t.Fatalf("expected the second claim to be deferred, not granted")
	}

	next, ok := state.FinishOrNext(tid)
	if !ok {
		t.Fatalf("expected a deferred event to be handed back")
	}
	if next.CorrelationID != "second" {
		t.Fatalf("expected the deferred event to be delivered, got %+v", next)
	}

	if _, ok := state.FinishOrNext(tid); ok {
		t.Fatalf("expected the claim to be released once the queue is empty")
	}
	if state.IsProcessing(tid) {
		t.Fatalf("expected tradeID to no longer be marked processing")
	}
}

func TestDispatcherContinuesQueueAfterHandlerError(t *testing.T) {
	state := NewChainState(ChainAsset)
	handler := &recordingHandler{failIDs: map[string]struct{}{"first": {}}}
	d := NewDispatcher(ChainAsset, state, handler, nil)

	tradeID := big.NewInt(9)
	ctx := context.Background()
	d.Submit(ctx, Event{Chain: ChainAsset, TradeID: tradeID, CorrelationID: "first"})
	d.Submit(ctx, Event{Chain: ChainAsset, TradeID: tradeID, CorrelationID: "second"})
	d.Wait()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.order) != 2 {
		t.Fatalf("expected both events handled despite error, got %d", len(handler.order))
	}
}
