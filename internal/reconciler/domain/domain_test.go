package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDisplayID(t *testing.T) {
	reserved, frozen, ok, err := ParseDisplayID("1000000123|55")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1000000123", reserved)
	assert.Equal(t, CartID(55), frozen)

	reserved, _, ok, err = ParseDisplayID("1000000123")
	require.NoError(t, err)
	assert.False(t, ok, "legacy ids have no separator")
	assert.Equal(t, "1000000123", reserved)

	_, _, _, err = ParseDisplayID("1000000123|abc")
	assert.Error(t, err)
}

func TestFrozenCart_DisplayID(t *testing.T) {
	f := &FrozenCart{ID: 55, ReservedOrderID: "1000000123"}
	assert.Equal(t, "1000000123|55", f.DisplayID())
}

func TestCartContents_VisibleItems(t *testing.T) {
	c := CartContents{Items: []LineItem{{ProductID: 1, Visible: true}, {ProductID: 2}}}
	require.Len(t, c.VisibleItems(), 1)
	assert.Equal(t, int64(1), c.VisibleItems()[0].ProductID)
}

func TestError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		kind      Kind
		retryable bool
		code      string
	}{
		{name: "permanent with detail", err: ErrMissingCart.Withf("frozen cart %d", 55), target: ErrMissingCart, kind: KindPermanent, code: "missing_cart"},
		{name: "wrapped transient", err: fmt.Errorf("create order: %w", ErrAlreadyProcessing), target: ErrAlreadyProcessing, kind: KindTransient, retryable: true, code: "already_processing"},
		{name: "upstream with cause", err: ErrUpstream.Wrap(errors.New("timeout")), target: ErrUpstream, kind: KindUpstream, retryable: true, code: "upstream_error"},
		{name: "transition", err: &TransitionError{From: StatusCancelled, To: StatusAuthorized}, target: ErrInvalidTransition, kind: KindInvalidTransition, code: "invalid_transition"},
		{name: "plain error", err: errors.New("boom"), kind: KindUpstream, retryable: true, code: "upstream_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.target != nil {
				assert.ErrorIs(t, tt.err, tt.target)
			}
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.retryable, Retryable(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestError_DistinctCodesDoNotMatch(t *testing.T) {
	assert.NotErrorIs(t, ErrMissingCart.Withf("x"), ErrMissingParentCart)
	assert.Equal(t, "missing_cart: x", ErrMissingCart.Withf("x").Error())
	assert.Equal(t, "frozen cart not found", ErrMissingCart.Message, "Withf does not mutate the sentinel")
}
