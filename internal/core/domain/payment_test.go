package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaymentMethod(t *testing.T) {
	for _, m := range SelectablePaymentMethods {
		parsed, err := ParsePaymentMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	_, err := ParsePaymentMethod("stripe")
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = ParsePaymentMethod("none")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestParseOrderReference(t *testing.T) {
	tests := []struct {
		text   string
		wantID int64
		wantOK bool
	}{
		{text: "Order:42", wantID: 42, wantOK: true},
		{text: "Order #ORD-20260114-ABCDEF12 (Order:42)", wantID: 42, wantOK: true},
		{text: OrderReference(9001), wantID: 9001, wantOK: true},
		{text: "Order: 42"},
		{text: "PreOrder:42"},
		{text: "Order:42abc"},
		{text: "Order:0"},
		{text: "order:42"},
		{text: ""},
		{text: "Order:99999999999999999999"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.text), func(t *testing.T) {
			id, ok := ParseOrderReference(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindConflict, Classify(fmt.Errorf("%w: Mug", ErrInsufficientStock)))
	assert.Equal(t, KindNotFound, Classify(ErrOrderNotFound))
	assert.Equal(t, KindProviderUnavailable, Classify(ErrProviderUnavailable))
	assert.Equal(t, KindProvider, Classify(fmt.Errorf("create intent: %w", ErrProviderFailure)))
	assert.Equal(t, KindUnknownCallback, Classify(ErrUnknownCallback))
	assert.Equal(t, KindValidation, Classify(ErrValidation))
	assert.Equal(t, KindInternal, Classify(errors.New("boom")))
}
