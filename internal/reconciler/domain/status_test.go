package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_Table(t *testing.T) {
	all := append(Statuses(), StatusNoNewState)

	allowed := map[Status]map[Status]bool{
		StatusAuthorized:           set(StatusAuthorized, StatusCompleted, StatusCancelled, StatusRejectedReversible, StatusRejectedIrreversible, StatusPending),
		StatusCompleted:            set(StatusRefund, StatusNoNewState, StatusCompleted),
		StatusPending:              set(StatusAuthorized, StatusCancelled, StatusRejectedReversible, StatusRejectedIrreversible, StatusCompleted),
		StatusOnHold:               set(StatusCancelled, StatusRejectedReversible, StatusRejectedIrreversible),
		StatusRejectedIrreversible: set(StatusNoNewState),
		StatusRejectedReversible:   set(StatusAuthorized, StatusCancelled, StatusRejectedIrreversible, StatusCompleted),
		StatusCancelled:            set(StatusNoNewState),
		StatusRefund:               set(StatusRefund, StatusNoNewState),
	}

	for _, current := range Statuses() {
		for _, incoming := range all {
			got, err := Transition(current, incoming)
			if allowed[current][incoming] {
				require.NoError(t, err, "%s -> %s", current, incoming)
				want := incoming
				if incoming == StatusNoNewState {
					want = current
				}
				assert.Equal(t, want, got, "%s -> %s", current, incoming)
				continue
			}
			require.Error(t, err, "%s -> %s", current, incoming)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, current, got, "a rejected edge keeps the current status")

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, current, te.From)
			assert.Equal(t, incoming, te.To)
		}
	}
}

func TestTransition_UnknownCurrentStatus(t *testing.T) {
	_, err := Transition(Status("SHIPPED"), StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_CancelledRejectsAuthorized(t *testing.T) {
	got, err := Transition(StatusCancelled, StatusAuthorized)
	require.Error(t, err)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	assert.False(t, Retryable(err))
	assert.Equal(t, StatusCancelled, got)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "authorized", want: StatusAuthorized},
		{in: " COMPLETED ", want: StatusCompleted},
		{in: "capture", want: StatusCompleted},
		{in: "credit", want: StatusRefund},
		{in: "void", want: StatusCancelled},
		{in: "hold", want: StatusOnHold},
		{in: "rejected_reversible", want: StatusRejectedReversible},
		{in: "no_new_state", want: StatusNoNewState},
		{in: "shipped", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusRejectedIrreversible.IsTerminal())
	assert.False(t, StatusRefund.IsTerminal())
	assert.False(t, StatusAuthorized.IsTerminal())
}

func set(statuses ...Status) map[Status]bool {
	m := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		m[s] = true
	}
	return m
}
