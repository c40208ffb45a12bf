// Package chainclient wraps an EVM JSON-RPC endpoint for the two chains the
// oracle coordinates (Asset Chain and Payment Chain), classifying transport
// errors and rate-limiting outbound calls.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// ChainClient is the subset of chain access the oracle's event pump,
// verifier, and submitter need. Both the Asset Chain and the Payment
// Chain are accessed through this same interface.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*AccountProofResult, error)
}

// AccountProofResult mirrors gethclient.AccountResult without importing
// the experimental gethclient package into the exported surface; GetProof
// populates it via an eth_getProof raw call.
type AccountProofResult struct {
	Address      common.Address  `json:"address"`
	AccountProof []string        `json:"accountProof"`
	Balance      *big.Int        `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        uint64          `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageResult `json:"storageProof"`
}

// StorageResult is one entry of an eth_getProof storage proof.
type StorageResult struct {
	Key   string   `json:"key"`
	Value *big.Int `json:"value"`
	Proof []string `json:"proof"`
}

// Client wraps go-ethereum's ethclient.Client, enforcing a per-endpoint rate
// limit and classifying every returned error per errors.go.
type Client struct {
	rpc     *ethclient.Client
	limiter *rate.Limiter
	chainID *big.Int
}

// Dial connects to an EVM JSON-RPC endpoint, rate-limited to rps requests
// per second with a burst of burst, and verifies the endpoint reports
// expectedChainID when it is non-zero.
func Dial(ctx context.Context, endpoint string, rps float64, burst int, expectedChainID uint64) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chainclient: rpc endpoint required")
	}
	rpc, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, classify(fmt.Errorf("dial %s: %w", trimmed, err))
	}
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
	}
	c := &Client{
		rpc:     rpc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	id, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if expectedChainID != 0 && id.Uint64() != expectedChainID {
		return nil, fmt.Errorf("chainclient: endpoint %s reports chain id %s, expected %d", trimmed, id.String(), expectedChainID)
	}
	c.chainID = id
	return c, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// ChainID returns the chain's reported EIP-155 chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	id, err := c.rpc.ChainID(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return id, nil
}

// BlockNumber returns the chain's current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// HeaderByNumber fetches the header at number, or the head header when
// number is nil.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	h, err := c.rpc.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, classify(err)
	}
	return h, nil
}

// BlockByNumber fetches the full block (with transactions) at number, or
// the head block when number is nil. Used by the verifier to confirm a
// transaction is listed in the block its receipt claims.
func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	b, err := c.rpc.BlockByNumber(ctx, number)
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

// FilterLogs retrieves event logs matching q, used by the Event Pump to poll
// for TimeRequestSent.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	logs, err := c.rpc.FilterLogs(ctx, q)
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// TransactionReceipt fetches the receipt for txHash. Returns
// ethereum.NotFound, unwrapped, when the transaction is not yet mined so
// callers can distinguish "not found" from a transport failure.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	r, err := c.rpc.TransactionReceipt(ctx, txHash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, err
		}
		return nil, classify(err)
	}
	return r, nil
}

// TransactionCount returns the account's next nonce as seen by the node,
// used by the Nonce Manager to refresh after a NonceTooLow rejection.
func (c *Client) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.rpc.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// BalanceAt returns account's native balance at blockNumber, or at the head
// when blockNumber is nil.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := c.rpc.BalanceAt(ctx, account, blockNumber)
	if err != nil {
		return nil, classify(err)
	}
	return bal, nil
}

// SuggestGasPrice asks the node for a current gas price estimate.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return price, nil
}

// SendTransaction submits a signed transaction, classifying the result per
// errors.go so the Transaction Submitter can decide whether to retry.
func (c *Client) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.rpc.SendTransaction(ctx, tx); err != nil {
		return classify(err)
	}
	return nil
}

// CallContract performs a read-only contract call (eth_call), used to read
// getTrade/getPayment state without submitting a transaction.
func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.rpc.CallContract(ctx, call, blockNumber)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// GetProof issues an eth_getProof request, used by the verifier's optional
// storage-proof cross-check. Nodes that don't support eth_getProof return a
// classified RpcUnavailable error, which the verifier treats as a soft
// failure rather than a verification failure.
func (c *Client) GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*AccountProofResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var result AccountProofResult
	blockArg := "latest"
	if blockNumber != nil {
		blockArg = fmt.Sprintf("0x%x", blockNumber)
	}
	if err := c.rpc.Client().CallContext(ctx, &result, "eth_getProof", account, keys, blockArg); err != nil {
		return nil, classify(err)
	}
	return &result, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}
