package oracle

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// LogSource is the narrow chain-access surface the Event Pump needs;
// chainclient.Client satisfies it.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// Pump is the Event Pump for one chain: it polls for TimeRequestSent logs
// and forwards each occurrence to the chain's Dispatcher. It is idempotent
// on request id across restarts within a process lifetime by tracking
// which request ids it has already forwarded.
type Pump struct {
	chain        Chain
	client       LogSource
	contract     common.Address
	dispatcher   *Dispatcher
	pollInterval time.Duration
	log          *slog.Logger

	fromBlock uint64

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewPump constructs a Pump whose first scan starts at startBlock;
// cmd/htlc-oracled passes the block after the chain head it reads at
// startup, so LastProcessedBlock begins at that head.
func NewPump(chain Chain, client LogSource, contract common.Address, dispatcher *Dispatcher, pollInterval time.Duration, startBlock uint64, log *slog.Logger) *Pump {
	if log == nil {
		log = slog.Default()
	}
	return &Pump{
		chain:        chain,
		client:       client,
		contract:     contract,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		log:          log,
		fromBlock:    startBlock,
		seen:         make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.log.Error("event pump poll failed", "chain", p.chain.String(), "error", err)
			}
		}
	}
}

// LastProcessedBlock returns the highest block number scanned so far, for
// the Status Surface's /status endpoint.
func (p *Pump) LastProcessedBlock() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fromBlock == 0 {
		return 0
	}
	return p.fromBlock - 1
}

func (p *Pump) poll(ctx context.Context) error {
	latest, err := p.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	fromBlock := p.fromBlock
	p.mu.Unlock()
	if latest < fromBlock {
		return nil
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{p.contract},
		Topics:    [][]common.Hash{{TopicTimeRequestSent()}},
	}
	logs, err := p.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}
	for _, entry := range logs {
		decoded, err := decodeTimeRequestSent(entry)
		if err != nil {
			p.log.Warn("skipping unparseable TimeRequestSent log", "chain", p.chain.String(), "error", err)
			continue
		}
		key := decoded.RequestID.Hex()
		p.mu.Lock()
		_, dup := p.seen[key]
		p.seen[key] = struct{}{}
		p.mu.Unlock()
		if dup {
			continue
		}

		blockTimestamp := uint64(0)
		if header, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(entry.BlockNumber)); err == nil {
			blockTimestamp = header.Time
		}

		p.dispatcher.Submit(ctx, Event{
			Chain:          p.chain,
			RequestID:      decoded.RequestID,
			TradeID:        decoded.TradeID,
			Duration:       decoded.Duration.Uint64(),
			BlockTimestamp: blockTimestamp,
			CorrelationID:  uuid.NewString(),
		})
	}
	p.mu.Lock()
	p.fromBlock = latest + 1
	p.mu.Unlock()
	return nil
}
