package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("permission denied")
	err := NewMediaAccessError(originalErr)

	assert.Equal(t, ErrCodeMediaAccess, err.Code)
	assert.ErrorIs(t, err, originalErr)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestAppError_WithContext(t *testing.T) {
	err := NewProtocolError("unexpected answer")
	err.WithContext("role", "primary").WithContext("attempt", 2)

	assert.Equal(t, "primary", err.Context["role"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestCallErrorConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewPeerNegotiationError(errors.New("ice failed")), ErrCodePeerNegotiation, http.StatusBadGateway},
		{NewTransientNetworkError(errors.New("reset")), ErrCodeTransientNetwork, http.StatusServiceUnavailable},
		{NewConsentError("no consent"), ErrCodeConsent, http.StatusConflict},
		{NewSignalingError("bad message"), ErrCodeSignaling, http.StatusBadGateway},
		{NewNotFoundError("call record"), ErrCodeNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
		})
	}
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(NewInternalError("boom")))
	assert.False(t, IsAppError(errors.New("plain")))
}

func TestGetAppError(t *testing.T) {
	assert.Nil(t, GetAppError(nil))
	assert.Nil(t, GetAppError(errors.New("plain")))

	appErr := NewConsentError("recording requires consent")
	wrapped := fmt.Errorf("start recording: %w", appErr)
	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)
}
