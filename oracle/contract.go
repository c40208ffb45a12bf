package oracle

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// escrowABI covers the escrow contract's events and callbacks: the
// contracts' broader Solidity surface is out of scope, consumed only
// through these signatures.
const escrowABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "bytes32", "name": "requestId", "type": "bytes32"},
			{"indexed": false, "internalType": "uint256", "name": "tradeId", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "duration", "type": "uint256"}
		],
		"name": "TimeRequestSent",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "uint256", "name": "paymentId", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "recipient", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "PaymentCompleted",
		"type": "event"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "requestId", "type": "bytes32"},
			{"internalType": "uint256", "name": "timestamp", "type": "uint256"}
		],
		"name": "fulfillTime",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "id", "type": "uint256"}],
		"name": "handleFailedConfirmation",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "id", "type": "uint256"}],
		"name": "handleExecutionTimeout",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "tradeId", "type": "uint256"}],
		"name": "getTrade",
		"outputs": [
			{"internalType": "uint256", "name": "id", "type": "uint256"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "address", "name": "buyer", "type": "address"},
			{"internalType": "address", "name": "seller", "type": "address"},
			{"internalType": "uint8", "name": "state", "type": "uint8"},
			{"internalType": "uint64", "name": "inceptionTime", "type": "uint64"},
			{"internalType": "uint64", "name": "confirmationTime", "type": "uint64"},
			{"internalType": "uint64", "name": "duration", "type": "uint64"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "paymentId", "type": "uint256"}],
		"name": "getPayment",
		"outputs": [
			{"internalType": "uint256", "name": "id", "type": "uint256"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "address", "name": "buyer", "type": "address"},
			{"internalType": "address", "name": "seller", "type": "address"},
			{"internalType": "uint8", "name": "state", "type": "uint8"},
			{"internalType": "uint64", "name": "inceptionTime", "type": "uint64"},
			{"internalType": "uint64", "name": "confirmationTime", "type": "uint64"},
			{"internalType": "uint64", "name": "duration", "type": "uint64"},
			{"internalType": "uint256", "name": "assetTradeId", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// EscrowState mirrors the contract-side state enum.
type EscrowState uint8

const (
	StateInitiated EscrowState = iota
	StateAwaitingConfirmation
	StateConfirmed
	StateCompleted
	StateFailed
)

func (s EscrowState) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateConfirmed:
		return "confirmed"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the contract considers this state final.
func (s EscrowState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	escrowContractABI     abi.ABI
	topicTimeRequestSent  common.Hash
	topicPaymentCompleted common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		panic(fmt.Sprintf("oracle: parse escrow abi: %v", err))
	}
	escrowContractABI = parsed
	topicTimeRequestSent = crypto.Keccak256Hash([]byte("TimeRequestSent(bytes32,uint256,uint256)"))
	topicPaymentCompleted = crypto.Keccak256Hash([]byte("PaymentCompleted(uint256,address,uint256)"))
}

// TimeRequestSent is the decoded form of the contract's namesake event.
type TimeRequestSent struct {
	RequestID common.Hash
	TradeID   *big.Int
	Duration  *big.Int
}

// decodeTimeRequestSent unpacks a TimeRequestSent log's non-indexed data.
func decodeTimeRequestSent(log gethtypes.Log) (TimeRequestSent, error) {
	var out TimeRequestSent
	if len(log.Topics) == 0 || log.Topics[0] != topicTimeRequestSent {
		return out, fmt.Errorf("oracle: log is not TimeRequestSent")
	}
	values, err := escrowContractABI.Events["TimeRequestSent"].Inputs.Unpack(log.Data)
	if err != nil {
		return out, fmt.Errorf("unpack TimeRequestSent: %w", err)
	}
	if len(values) != 3 {
		return out, fmt.Errorf("unexpected TimeRequestSent field count: %d", len(values))
	}
	requestID, ok := values[0].([32]byte)
	if !ok {
		return out, fmt.Errorf("decode requestId: unexpected type %T", values[0])
	}
	tradeID, ok := values[1].(*big.Int)
	if !ok {
		return out, fmt.Errorf("decode tradeId: unexpected type %T", values[1])
	}
	duration, ok := values[2].(*big.Int)
	if !ok {
		return out, fmt.Errorf("decode duration: unexpected type %T", values[2])
	}
	out.RequestID = common.BytesToHash(requestID[:])
	out.TradeID = tradeID
	out.Duration = duration
	return out, nil
}

// PaymentCompleted is the decoded form of the contract's namesake event.
type PaymentCompleted struct {
	PaymentID *big.Int
	Recipient common.Address
	Amount    *big.Int
}

// DecodePaymentCompletedLog unpacks a PaymentCompleted log, exported for the
// verifier package's receipt-log scan.
func DecodePaymentCompletedLog(log gethtypes.Log) (PaymentCompleted, error) {
	return decodePaymentCompleted(log)
}

func decodePaymentCompleted(log gethtypes.Log) (PaymentCompleted, error) {
	var out PaymentCompleted
	if len(log.Topics) == 0 || log.Topics[0] != topicPaymentCompleted {
		return out, fmt.Errorf("oracle: log is not PaymentCompleted")
	}
	values, err := escrowContractABI.Events["PaymentCompleted"].Inputs.Unpack(log.Data)
	if err != nil {
		return out, fmt.Errorf("unpack PaymentCompleted: %w", err)
	}
	if len(values) != 3 {
		return out, fmt.Errorf("unexpected PaymentCompleted field count: %d", len(values))
	}
	paymentID, ok := values[0].(*big.Int)
	if !ok {
		return out, fmt.Errorf("decode paymentId: unexpected type %T", values[0])
	}
	recipient, ok := values[1].(common.Address)
	if !ok {
		return out, fmt.Errorf("decode recipient: unexpected type %T", values[1])
	}
	amount, ok := values[2].(*big.Int)
	if !ok {
		return out, fmt.Errorf("decode amount: unexpected type %T", values[2])
	}
	out.PaymentID = paymentID
	out.Recipient = recipient
	out.Amount = amount
	return out, nil
}

// TradeView is the decoded return of getTrade/getPayment.
type TradeView struct {
	ID               *big.Int
	Amount           *big.Int
	Buyer            common.Address
	Seller           common.Address
	State            EscrowState
	InceptionTime    uint64
	ConfirmationTime uint64
	Duration         uint64
	AssetTradeID     *big.Int // only populated by getPayment
}

// PackFulfillTime encodes a fulfillTime(requestId, timestamp) call.
func PackFulfillTime(requestID common.Hash, timestamp uint64) ([]byte, error) {
	return escrowContractABI.Pack("fulfillTime", [32]byte(requestID), new(big.Int).SetUint64(timestamp))
}

// PackHandleFailedConfirmation encodes a handleFailedConfirmation(id) call.
func PackHandleFailedConfirmation(tradeID *big.Int) ([]byte, error) {
	return escrowContractABI.Pack("handleFailedConfirmation", tradeID)
}

// PackHandleExecutionTimeout encodes a handleExecutionTimeout(id) call.
func PackHandleExecutionTimeout(tradeID *big.Int) ([]byte, error) {
	return escrowContractABI.Pack("handleExecutionTimeout", tradeID)
}

// PackGetTrade encodes a getTrade(tradeId) read call.
func PackGetTrade(tradeID *big.Int) ([]byte, error) {
	return escrowContractABI.Pack("getTrade", tradeID)
}

// PackGetPayment encodes a getPayment(paymentId) read call.
func PackGetPayment(paymentID *big.Int) ([]byte, error) {
	return escrowContractABI.Pack("getPayment", paymentID)
}

// UnpackTrade decodes a getTrade return payload.
func UnpackTrade(data []byte) (TradeView, error) {
	values, err := escrowContractABI.Methods["getTrade"].Outputs.Unpack(data)
	if err != nil {
		return TradeView{}, fmt.Errorf("unpack getTrade: %w", err)
	}
	if len(values) != 8 {
		return TradeView{}, fmt.Errorf("unexpected getTrade field count: %d", len(values))
	}
	return tradeViewFromValues(values, false)
}

// UnpackPayment decodes a getPayment return payload.
func UnpackPayment(data []byte) (TradeView, error) {
	values, err := escrowContractABI.Methods["getPayment"].Outputs.Unpack(data)
	if err != nil {
		return TradeView{}, fmt.Errorf("unpack getPayment: %w", err)
	}
	if len(values) != 9 {
		return TradeView{}, fmt.Errorf("unexpected getPayment field count: %d", len(values))
	}
	return tradeViewFromValues(values, true)
}

func tradeViewFromValues(values []interface{}, hasAssetTradeID bool) (TradeView, error) {
	var view TradeView
	var ok bool
	if view.ID, ok = values[0].(*big.Int); !ok {
		return view, fmt.Errorf("decode id: unexpected type %T", values[0])
	}
	if view.Amount, ok = values[1].(*big.Int); !ok {
		return view, fmt.Errorf("decode amount: unexpected type %T", values[1])
	}
	if view.Buyer, ok = values[2].(common.Address); !ok {
		return view, fmt.Errorf("decode buyer: unexpected type %T", values[2])
	}
	if view.Seller, ok = values[3].(common.Address); !ok {
		return view, fmt.Errorf("decode seller: unexpected type %T", values[3])
	}
	state, ok := values[4].(uint8)
	if !ok {
		return view, fmt.Errorf("decode state: unexpected type %T", values[4])
	}
	view.State = EscrowState(state)
	if view.InceptionTime, ok = values[5].(uint64); !ok {
		return view, fmt.Errorf("decode inceptionTime: unexpected type %T", values[5])
	}
	if view.ConfirmationTime, ok = values[6].(uint64); !ok {
		return view, fmt.Errorf("decode confirmationTime: unexpected type %T", values[6])
	}
	if view.Duration, ok = values[7].(uint64); !ok {
		return view, fmt.Errorf("decode duration: unexpected type %T", values[7])
	}
	if hasAssetTradeID {
		if view.AssetTradeID, ok = values[8].(*big.Int); !ok {
			return view, fmt.Errorf("decode assetTradeId: unexpected type %T", values[8])
		}
	}
	return view, nil
}

// PackPaymentCompletedData encodes a PaymentCompleted event's non-indexed
// data, used by tests constructing synthetic receipt logs.
func PackPaymentCompletedData(paymentID *big.Int, recipient common.Address, amount *big.Int) ([]byte, error) {
	return escrowContractABI.Events["PaymentCompleted"].Inputs.Pack(paymentID, recipient, amount)
}

// TopicTimeRequestSent exposes the event's topic-0 selector so the Event
// Pump can build its filter.
func TopicTimeRequestSent() common.Hash { return topicTimeRequestSent }

// TopicPaymentCompleted exposes the event's topic-0 selector so the
// verifier can scan receipt logs.
func TopicPaymentCompleted() common.Hash { return topicPaymentCompleted }
