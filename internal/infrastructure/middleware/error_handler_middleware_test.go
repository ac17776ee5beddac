package middleware

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"callcore/internal/core/domain"
	"callcore/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func serveError(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.POST("/op", func(c *gin.Context) {
		_ = c.Error(err)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/op", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestErrorHandler_MapsDomainErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   errors.ErrorCode
	}{
		{domain.ErrConsentRequired, http.StatusConflict, errors.ErrCodeConsent},
		{fmt.Errorf("start: %w", domain.ErrConsentRequired), http.StatusConflict, errors.ErrCodeConsent},
		{domain.ErrNoActiveSession, http.StatusConflict, errors.ErrCodeConflict},
		{domain.ErrInvalidVolume, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{domain.ErrMediaAccessDenied, http.StatusFailedDependency, errors.ErrCodeMediaAccess},
		{domain.ErrRecordNotFound, http.StatusNotFound, errors.ErrCodeNotFound},
		{domain.ErrControllerStopped, http.StatusServiceUnavailable, errors.ErrCodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w, body := serveError(t, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.code), body["error"])
		})
	}
}

func TestAppErrorFor_KeepsCause(t *testing.T) {
	missing := fmt.Errorf("session s-9: %w", domain.ErrRecordNotFound)
	appErr := AppErrorFor(missing)
	require.NotNil(t, appErr)
	assert.Equal(t, "call record not found", appErr.Message)
	assert.ErrorIs(t, appErr, domain.ErrRecordNotFound)

	appErr = AppErrorFor(domain.ErrSignalingExhausted)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrCodeServiceUnavailable, appErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
	assert.ErrorIs(t, appErr, domain.ErrSignalingExhausted)
}

func TestErrorHandler_KeepsAppError(t *testing.T) {
	w, body := serveError(t, errors.NewInvalidInputError("bad bitrate").WithContext("bitrate", -1))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad bitrate", body["message"])
}

func TestErrorHandler_UnknownErrorIsInternal(t *testing.T) {
	w, body := serveError(t, stderrors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(errors.ErrCodeInternal), body["error"])
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
