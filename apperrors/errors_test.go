package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := New(KindInsufficientFunds, "need %d coins", 70)
	wrapped := fmt.Errorf("reveal: %w", err)

	assert.ErrorIs(t, wrapped, ErrInsufficientFunds)
	assert.NotErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, "INSUFFICIENT_FUNDS: need 70 coins", err.Error())
}

func TestWithDetailCopies(t *testing.T) {
	base := New(KindAlreadyInSession, "already in a session")
	withID := base.WithDetail("sessionId", "abc")

	assert.Nil(t, base.Details)
	assert.Equal(t, "abc", withID.Details["sessionId"])
	assert.ErrorIs(t, withID, ErrAlreadyInSession)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindInsufficientFunds, http.StatusPaymentRequired},
		{KindAlreadyInteracted, http.StatusConflict},
		{KindChoiceAlreadyRecorded, http.StatusConflict},
		{KindSessionExpired, http.StatusGone},
		{KindSlotsFull, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind, "x").HTTPStatus())
		})
	}
}

func TestAs(t *testing.T) {
	appErr, ok := As(fmt.Errorf("outer: %w", NotFound("like")))
	require.True(t, ok)
	assert.Equal(t, KindNotFound, appErr.Kind)
	assert.Equal(t, "like not found", appErr.Message)

	_, ok = As(fmt.Errorf("plain"))
	assert.False(t, ok)
}
