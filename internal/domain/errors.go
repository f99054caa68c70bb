package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNoEndpointAvailable = errors.New("no endpoint available")
	ErrEndpointUnreachable = errors.New("all endpoints unreachable")
	ErrChainUnavailable    = errors.New("chain unavailable")
	ErrChainIDMismatch     = errors.New("chain id mismatch")
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrTimeout             = errors.New("deadline exceeded")
	ErrGateRejected        = errors.New("gate rejected")
	ErrBreakerOpen         = errors.New("breaker open")
	ErrUnknownChain        = errors.New("unknown chain")
	ErrUnknownExchange     = errors.New("unknown exchange")
	ErrLockHeld            = errors.New("lock held by another process")
	ErrAlreadyReported     = errors.New("outcome already reported")
)

// QuoteError is returned by quote sources. It always unwraps to
// ErrQuoteUnavailable and, when present, to the underlying cause.
type QuoteError struct {
	Chain    string
	Exchange string
	Reason   FailureReason
	Err      error
}

func (e *QuoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("quote %s/%s: %s: %v", e.Chain, e.Exchange, e.Reason, e.Err)
	}
	return fmt.Sprintf("quote %s/%s: %s", e.Chain, e.Exchange, e.Reason)
}

func (e *QuoteError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrQuoteUnavailable, e.Err}
	}
	return []error{ErrQuoteUnavailable}
}

// RejectError carries the reason a candidate was refused by the safety gate.
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string {
	return "gate rejected: " + string(e.Reason)
}

func (e *RejectError) Unwrap() error {
	if e.Reason == RejectBreakerOpen {
		return ErrBreakerOpen
	}
	return ErrGateRejected
}

// ReasonOf maps an error returned along the quote path to a FailureReason.
func ReasonOf(err error) FailureReason {
	var qe *QuoteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &qe):
		return qe.Reason
	case errors.Is(err, ErrTimeout):
		return FailureTimeout
	case errors.Is(err, ErrEndpointUnreachable):
		return FailureEndpointUnreachable
	case errors.Is(err, ErrChainUnavailable):
		return FailureChainUnavailable
	case errors.Is(err, ErrUnknownExchange):
		return FailureUnknownSource
	default:
		return FailureChainUnavailable
	}
}
