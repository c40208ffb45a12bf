package verifier

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/atomicbridge/timeoracle/chainclient"
	"github.com/atomicbridge/timeoracle/oracle"
)

type fakeChain struct {
	receipt     *gethtypes.Receipt
	receiptErr  error
	head        *gethtypes.Header
	block       *gethtypes.Block
	proofErr    error
	recheckHash common.Hash

	receiptCalls int
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	f.receiptCalls++
	r := *f.receipt
	if f.recheckHash != (common.Hash{}) && f.receiptCalls > 1 {
		r.BlockHash = f.recheckHash
	}
	return &r, nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return f.head, nil
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	return f.block, nil
}

func (f *fakeChain) GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*chainclient.AccountProofResult, error) {
	if f.proofErr != nil {
		return nil, f.proofErr
	}
	return &chainclient.AccountProofResult{Address: account}, nil
}

// testTxAndBlock builds a real signed-shape legacy transaction and a block
// containing it, so blockContainsTx's hash comparison has a genuine match.
func testTxAndBlock(number *big.Int) (common.Hash, *gethtypes.Block) {
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(1),
		Gas:      21000,
		To:       &common.Address{0x1},
		Value:    big.NewInt(0),
	})
	block := gethtypes.NewBlockWithHeader(&gethtypes.Header{Number: number}).WithBody(gethtypes.Body{
		Transactions: gethtypes.Transactions{tx},
	})
	return tx.Hash(), block
}

func paymentCompletedLog(contract common.Address, paymentID *big.Int, recipient common.Address, amount *big.Int) *gethtypes.Log {
	data, err := oracle.PackPaymentCompletedData(paymentID, recipient, amount)
	if err != nil {
		panic(err)
	}
	return &gethtypes.Log{
		Address: contract,
		Topics:  []common.Hash{oracle.TopicPaymentCompleted()},
		Data:    data,
	}
}

func TestVerifySucceedsWithMatchingPayment(t *testing.T) {
	contract := common.Address{0xaa}
	txHash, block := testTxAndBlock(big.NewInt(100))
	blockHash := common.Hash{0x2}
	paymentID := big.NewInt(42)
	log := paymentCompletedLog(contract, paymentID, common.Address{0xbb}, big.NewInt(1e18))

	receipt := &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		BlockHash:   blockHash,
		Logs:        []*gethtypes.Log{log},
	}
	chain := &fakeChain{
		receipt: receipt,
		head:    &gethtypes.Header{Number: big.NewInt(130)},
		block:   block,
	}
	v := New(chain, contract)

	outcome := v.Verify(context.Background(), txHash, paymentID, big.NewInt(1e18))
	if !outcome.Verified {
		t.Fatalf("expected verified, got %+v", outcome)
	}
	if !outcome.ProofChecked {
		t.Fatal("expected proof checked")
	}
}

func TestVerifyFailsOnRevertedReceipt(t *testing.T) {
	contract := common.Address{0xaa}
	receipt := &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(100)}
	chain := &fakeChain{receipt: receipt}
	v := New(chain, contract)

	outcome := v.Verify(context.Background(), common.Hash{0x1}, big.NewInt(1), big.NewInt(1))
	if outcome.Verified {
		t.Fatal("expected verification to fail on reverted tx")
	}
}

func TestVerifyFailsOnReorgAcrossWaitWindow(t *testing.T) {
	contract := common.Address{0xaa}
	txHash, block := testTxAndBlock(big.NewInt(100))
	paymentID := big.NewInt(7)
	log := paymentCompletedLog(contract, paymentID, common.Address{0xbb}, big.NewInt(1e17))
	receipt := &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		BlockHash:   common.Hash{0x2},
		Logs:        []*gethtypes.Log{log},
	}
	chain := &fakeChain{
		receipt:     receipt,
		head:        &gethtypes.Header{Number: big.NewInt(125)},
		block:       block,
		recheckHash: common.Hash{0x99},
	}
	v := New(chain, contract)

	outcome := v.Verify(context.Background(), txHash, paymentID, big.NewInt(1e17))
	if outcome.Verified {
		t.Fatal("expected verification to fail on block hash mismatch")
	}
}

func TestVerifyWeakensWithoutFailingWhenProofUnsupported(t *testing.T) {
	contract := common.Address{0xaa}
	txHash, block := testTxAndBlock(big.NewInt(100))
	paymentID := big.NewInt(9)
	log := paymentCompletedLog(contract, paymentID, common.Address{0xbb}, big.NewInt(1e16))
	receipt := &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		BlockHash:   common.Hash{0x2},
		Logs:        []*gethtypes.Log{log},
	}
	chain := &fakeChain{
		receipt:  receipt,
		head:     &gethtypes.Header{Number: big.NewInt(115)},
		block:    block,
		proofErr: ethereum.NotFound,
	}
	v := New(chain, contract)

	outcome := v.Verify(context.Background(), txHash, paymentID, big.NewInt(1e16))
	if !outcome.Verified {
		t.Fatalf("expected verification to still succeed without proof, got %+v", outcome)
	}
	if outcome.ProofChecked {
		t.Fatal("expected proof not checked")
	}
}
