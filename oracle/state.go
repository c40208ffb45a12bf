package oracle

import (
	"sync"
)

// ChainState owns one chain's trade table, ProcessingSet, and EventQueue
// behind a single coarse lock. The asset and payment sides each get their
// own ChainState instance, so neither chain's lock contends with the
// other's.
type ChainState struct {
	mu         sync.Mutex
	chain      Chain
	trades     map[string]*TradeRecord
	processing map[string]struct{}
	deferred   map[string][]Event
}

// NewChainState constructs an empty ChainState for chain.
func NewChainState(chain Chain) *ChainState {
	return &ChainState{
		chain:      chain,
		trades:     make(map[string]*TradeRecord),
		processing: make(map[string]struct{}),
		deferred:   make(map[string][]Event),
	}
}

// Get returns a clone of the trade record for tradeID, if present.
func (s *ChainState) Get(tradeID string) (*TradeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.trades[tradeID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Put inserts or replaces the trade record for tradeID.
func (s *ChainState) Put(tradeID string, rec *TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[tradeID] = rec
}

// Delete removes the trade record for tradeID, if present.
func (s *ChainState) Delete(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trades, tradeID)
}

// Snapshot returns a point-in-time copy of every trade record, for the
// Timeout Sweeper's scan and the Status Surface's /status endpoint.
func (s *ChainState) Snapshot() map[string]*TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*TradeRecord, len(s.trades))
	for id, rec := range s.trades {
		out[id] = rec.Clone()
	}
	return out
}

// TryMarkProcessing attempts to claim tradeID for exclusive handling,
// enforcing the P1 per-trade serialization property. It returns false if
// tradeID is already claimed.
func (s *ChainState) TryMarkProcessing(tradeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.processing[tradeID]; busy {
		return false
	}
	s.processing[tradeID] = struct{}{}
	return true
}

// ClaimOrEnqueue atomically either claims tradeID for exclusive handling
// (returning true, meaning the caller should dispatch ev itself) or, if
// tradeID is already claimed, appends ev to its deferred queue (returning
// false, meaning the in-flight handler will pick it up via FinishOrNext).
// Folding the claim check and the enqueue into one critical section closes
// the race a separate TryMarkProcessing+EnqueueDeferred pair would leave
// open against a concurrent FinishOrNext: that race lets a trade-id's
// processing claim get released, and its deferred queue drained empty,
// strictly between the two calls, stranding ev in a queue nothing drains.
func (s *ChainState) ClaimOrEnqueue(tradeID string, ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.processing[tradeID]; busy {
		s.deferred[tradeID] = append(s.deferred[tradeID], ev)
		return false
	}
	s.processing[tradeID] = struct{}{}
	return true
}

// Unmark releases a previously claimed tradeID.
func (s *ChainState) Unmark(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processing, tradeID)
}

// IsProcessing reports whether tradeID is currently claimed.
func (s *ChainState) IsProcessing(tradeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.processing[tradeID]
	return busy
}

// EnqueueDeferred appends ev to tradeID's deferred queue, for delivery once
// the in-flight handler for tradeID returns.
func (s *ChainState) EnqueueDeferred(tradeID string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred[tradeID] = append(s.deferred[tradeID], ev)
}

// DrainDeferred pops and returns the first deferred event for tradeID, if
// any, along with whether an event was popped.
func (s *ChainState) DrainDeferred(tradeID string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.deferred[tradeID]
	if len(queue) == 0 {
		return Event{}, false
	}
	next := queue[0]
	remaining := queue[1:]
	if len(remaining) == 0 {
		delete(s.deferred, tradeID)
	} else {
		s.deferred[tradeID] = remaining
	}
	return next, true
}

// PendingEventsCount returns the total number of deferred events queued
// across every trade id, for the Status Surface's /status endpoint.
func (s *ChainState) PendingEventsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, q := range s.deferred {
		total += len(q)
	}
	return total
}

// FinishOrNext atomically either pops the next deferred event for tradeID
// (leaving tradeID marked as processing) or, if none is queued, releases the
// processing claim. This closes the race between checking the deferred
// queue and releasing the claim that separate DrainDeferred/Unmark calls
// would leave open.
func (s *ChainState) FinishOrNext(tradeID string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.deferred[tradeID]
	if len(queue) == 0 {
		delete(s.processing, tradeID)
		return Event{}, false
	}
	next := queue[0]
	remaining := queue[1:]
	if len(remaining) == 0 {
		delete(s.deferred, tradeID)
	} else {
		s.deferred[tradeID] = remaining
	}
	return next, true
}

// PairIndex tracks the CrossChainPair relation: which trade ids have both
// legs bound. Represented as an explicit set rather than
// the source's double-sided string-keyed map trick.
type PairIndex struct {
	mu     sync.Mutex
	paired map[string]struct{}
}

// NewPairIndex constructs an empty PairIndex.
func NewPairIndex() *PairIndex {
	return &PairIndex{paired: make(map[string]struct{})}
}

// Bind records that tradeID's two legs are paired.
func (p *PairIndex) Bind(tradeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paired[tradeID] = struct{}{}
}

// IsPaired reports whether tradeID has a bound pair.
func (p *PairIndex) IsPaired(tradeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.paired[tradeID]
	return ok
}

// Clear removes tradeID's pair binding.
func (p *PairIndex) Clear(tradeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paired, tradeID)
}

// Snapshot returns every currently bound trade id, for the Status
// Surface's cross_chain_mappings field.
func (p *PairIndex) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.paired))
	for id := range p.paired {
		out = append(out, id)
	}
	return out
}
