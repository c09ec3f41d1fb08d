package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftledger/backend/internal/domain"
	"shiftledger/backend/internal/service"
)

func domainActor(username, role string) domain.Actor {
	return domain.Actor{Username: username, Role: role}
}

func TestIssueAndParseToken(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, testManagerPIN)

	issued, err := auth.IssueToken(domainActor(" Alice ", "manager"))
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ExpiresAt)

	actor, err := auth.ParseToken(issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", actor.Username)
	assert.Equal(t, "manager", actor.Role)
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, testManagerPIN)
	_, err := auth.IssueToken(domainActor("alice", "owner"))
	assert.Error(t, err)
	_, err = auth.IssueToken(domainActor("", "cashier"))
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, testManagerPIN)

	expired, err := auth.sign("alice", "cashier", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err)

	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
		Role: "admin",
	}
	foreign, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(auth.secret)
	require.NoError(t, err)
	_, err = auth.ParseToken(foreign)
	assert.Error(t, err, "issuer must match")
}

func TestManagerPINIsHashed(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, testManagerPIN)
	assert.True(t, isPINHash(auth.managerPIN))
	assert.True(t, auth.ValidateManagerPIN(testManagerPIN))
	assert.True(t, auth.ValidateManagerPIN(" "+testManagerPIN+" "))
	assert.False(t, auth.ValidateManagerPIN("739155"))
	assert.False(t, auth.ValidateManagerPIN(""))
}

func TestEmptyManagerPINRefusesEverything(t *testing.T) {
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, "")
	assert.False(t, auth.ValidateManagerPIN(""))
	assert.False(t, auth.ValidateManagerPIN("disabled"))
	assert.False(t, auth.ValidateManagerPIN("739154"))
}

func TestStatusForLedgerErrors(t *testing.T) {
	cases := []struct {
		kind error
		want int
	}{
		{service.ErrValidation, http.StatusBadRequest},
		{service.ErrShiftNotFound, http.StatusNotFound},
		{service.ErrTransactionNotFound, http.StatusNotFound},
		{service.ErrRegisterBusy, http.StatusConflict},
		{service.ErrEmployeeBusy, http.StatusConflict},
		{service.ErrAlreadyVoided, http.StatusConflict},
		{service.ErrShiftNotActive, http.StatusConflict},
		{service.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{service.ErrStoreContention, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.kind.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", &service.LedgerError{Kind: tc.kind, ShiftID: "shift-1"})
			assert.Equal(t, tc.want, statusFor(wrapped))
		})
	}
}
