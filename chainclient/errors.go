package chainclient

import (
	"errors"
	"strings"
)

// Classified submission/RPC failures. Callers choose retry policy; the
// Chain Client never retries internally.
var (
	ErrRpcUnavailable         = errors.New("chainclient: rpc unavailable")
	ErrNonceTooLow            = errors.New("chainclient: nonce too low")
	ErrInsufficientFunds      = errors.New("chainclient: insufficient funds")
	ErrAlreadyKnown           = errors.New("chainclient: transaction already known")
	ErrReplacementUnderpriced = errors.New("chainclient: replacement transaction underpriced")
	ErrReverted               = errors.New("chainclient: transaction reverted")
)

// classify maps a raw error returned by the underlying RPC transport to one
// of the sentinel classifications above. Unknown errors are treated as
// RpcUnavailable — the conservative, retryable choice — rather than
// silently swallowed.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"):
		return wrap(ErrNonceTooLow, err)
	case strings.Contains(msg, "already known"):
		return wrap(ErrAlreadyKnown, err)
	case strings.Contains(msg, "replacement transaction underpriced"):
		return wrap(ErrReplacementUnderpriced, err)
	case strings.Contains(msg, "insufficient funds"):
		return wrap(ErrInsufficientFunds, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return wrap(ErrReverted, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "dial tcp"):
		return wrap(ErrRpcUnavailable, err)
	default:
		return wrap(ErrRpcUnavailable, err)
	}
}

func wrap(sentinel, cause error) error {
	return &classifiedError{sentinel: sentinel, cause: cause}
}

type classifiedError struct {
	sentinel error
	cause    error
}

func (e *classifiedError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.sentinel
}

// Cause returns the raw, unclassified error returned by the transport.
func (e *classifiedError) Cause() error {
	return e.cause
}
