package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCodeWalksWrappedChains(t *testing.T) {
	cause := errors.New("connection reset")
	ledger := NewLedgerFailure("refund", cause)
	wrapped := fmt.Errorf("sweep ticket: %w", ledger)

	assert.True(t, HasCode(wrapped, CodeLedgerFailure))
	assert.False(t, HasCode(wrapped, CodeNotFound))
	assert.ErrorIs(t, wrapped, cause)

	internal := NewInternalError(fmt.Errorf("save: %w", NewConflict("dup", nil)))
	assert.True(t, HasCode(internal, CodeInternal))
	assert.True(t, HasCode(internal, CodeConflict))

	assert.False(t, HasCode(nil, CodeInternal))
	assert.False(t, HasCode(cause, CodeInternal))
}

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	plain := ToDomainError(errors.New("boom"))
	assert.Equal(t, CodeInternal, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.HTTPStatus)

	transition := ToDomainError(NewInvalidTransition("finalize", "RECEPTION"))
	assert.Equal(t, http.StatusConflict, transition.HTTPStatus)
	assert.Equal(t, "finalize not allowed in status RECEPTION", transition.Message)
	assert.Equal(t, "RECEPTION", transition.Details["status"])
}

func TestConstructorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{NewValidationError("bad", nil), CodeValidation, http.StatusBadRequest},
		{NewNotFound("ticket", nil), CodeNotFound, http.StatusNotFound},
		{NewUnauthorized("no"), CodeUnauthorized, http.StatusUnauthorized},
		{NewForbidden("no"), CodeForbidden, http.StatusForbidden},
		{NewUnsupportedKind("doge"), CodeUnsupportedKind, http.StatusBadRequest},
		{NewLedgerFailure("send", errors.New("x")), CodeLedgerFailure, http.StatusBadGateway},
	}
	for _, tc := range cases {
		de := ToDomainError(tc.err)
		assert.Equal(t, tc.code, de.Code)
		assert.Equal(t, tc.status, de.HTTPStatus)
	}
	assert.Equal(t, "ticket not found", NewNotFound("ticket", nil).Error())
}
