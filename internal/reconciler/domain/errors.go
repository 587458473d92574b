package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller must react to it.
type Kind int

const (
	// KindPermanent must never be retried.
	KindPermanent Kind = iota + 1
	// KindTransient is left to the notification transport to redeliver.
	KindTransient
	// KindInvalidTransition is acknowledged to the sender with no side effects.
	KindInvalidTransition
	// KindUpstream is a failed call to an external collaborator.
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindTransient:
		return "transient"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is the structured error surfaced to callers of the reconciler.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

var (
	ErrEmptyReference         = &Error{Kind: KindPermanent, Code: "empty_reference", Message: "transaction reference is required"}
	ErrMissingCart            = &Error{Kind: KindPermanent, Code: "missing_cart", Message: "frozen cart not found"}
	ErrCartMismatch           = &Error{Kind: KindPermanent, Code: "cart_mismatch", Message: "session cart does not own the frozen cart"}
	ErrMissingParentCart      = &Error{Kind: KindPermanent, Code: "missing_parent_cart", Message: "draft cart not found"}
	ErrShippingMethodNotFound = &Error{Kind: KindPermanent, Code: "shipping_method_not_found", Message: "shipping method could not be matched"}
	ErrOrderNotFound          = &Error{Kind: KindPermanent, Code: "order_not_found", Message: "order not found"}
	ErrTransactionNotFound    = &Error{Kind: KindPermanent, Code: "transaction_not_found", Message: "transaction not found at provider"}
	ErrAlreadyProcessing      = &Error{Kind: KindTransient, Code: "already_processing", Message: "order creation already in progress"}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition, Code: "invalid_transition", Message: "status transition not allowed"}
	ErrUpstream               = &Error{Kind: KindUpstream, Code: "upstream_error", Message: "upstream call failed"}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so wrapped copies made with
// Withf or Wrap still compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// TransitionError is returned by Transition for an edge missing from the table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid_transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// KindOf extracts the classification of err. Unclassified errors are treated
// as upstream failures.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return KindInvalidTransition
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUpstream
}

// Retryable reports whether the caller may try again later.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindTransient || k == KindUpstream
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return ErrInvalidTransition.Code
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrUpstream.Code
}
