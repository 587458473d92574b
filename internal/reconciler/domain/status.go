package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Status is the payment status of a transaction as tracked on an Order.
type Status string

const (
	StatusAuthorized           Status = "AUTHORIZED"
	StatusCompleted            Status = "COMPLETED"
	StatusPending              Status = "PENDING"
	StatusOnHold               Status = "ON_HOLD"
	StatusRejectedReversible   Status = "REJECTED_REVERSIBLE"
	StatusRejectedIrreversible Status = "REJECTED_IRREVERSIBLE"
	StatusCancelled            Status = "CANCELLED"
	StatusRefund               Status = "REFUND"

	// StatusNoNewState acknowledges a notification without changing the stored status.
	StatusNoNewState Status = "NO_NEW_STATE"
)

// transitions lists, per current status, every incoming status that may be applied.
var transitions = map[Status][]Status{
	StatusAuthorized: {
		StatusAuthorized, StatusCompleted, StatusCancelled,
		StatusRejectedReversible, StatusRejectedIrreversible, StatusPending,
	},
	StatusCompleted: {StatusRefund, StatusNoNewState, StatusCompleted},
	StatusPending: {
		StatusAuthorized, StatusCancelled, StatusRejectedReversible,
		StatusRejectedIrreversible, StatusCompleted,
	},
	StatusOnHold:               {StatusCancelled, StatusRejectedReversible, StatusRejectedIrreversible},
	StatusRejectedIrreversible: {StatusNoNewState},
	StatusRejectedReversible: {
		StatusAuthorized, StatusCancelled, StatusRejectedIrreversible, StatusCompleted,
	},
	StatusCancelled: {StatusNoNewState},
	StatusRefund:    {StatusRefund, StatusNoNewState},
}

var statusAliases = map[string]Status{
	"auth":    StatusAuthorized,
	"capture": StatusCompleted,
	"credit":  StatusRefund,
	"refund":  StatusRefund,
	"void":    StatusCancelled,
	"hold":    StatusOnHold,
}

// Transition applies incoming to current. It returns the status that must be
// stored afterwards: incoming itself, or current when incoming is
// StatusNoNewState. Edges missing from the table yield a *TransitionError.
func Transition(current, incoming Status) (Status, error) {
	for _, allowed := range transitions[current] {
		if allowed != incoming {
			continue
		}
		if incoming == StatusNoNewState {
			return current, nil
		}
		return incoming, nil
	}
	return current, &TransitionError{From: current, To: incoming}
}

// CanTransition reports whether the edge current -> incoming exists.
func CanTransition(current, incoming Status) bool {
	_, err := Transition(current, incoming)
	return err == nil
}

// AllowedFrom returns the incoming statuses accepted from current, sorted.
func AllowedFrom(current Status) []Status {
	out := append([]Status(nil), transitions[current]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Statuses returns every storable status, sorted.
func Statuses() []Status {
	out := make([]Status, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTerminal reports whether no further status can be stored after s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusRejectedIrreversible
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus accepts canonical status names in any case and the short
// aliases providers use for transaction types.
func ParseStatus(raw string) (Status, error) {
	key := strings.TrimSpace(raw)
	if alias, ok := statusAliases[strings.ToLower(key)]; ok {
		return alias, nil
	}
	s := Status(strings.ToUpper(key))
	if _, ok := transitions[s]; ok || s == StatusNoNewState {
		return s, nil
	}
	return "", fmt.Errorf("unknown payment status %q", raw)
}
