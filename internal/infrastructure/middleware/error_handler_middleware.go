package middleware

import (
	stderrors "errors"
	"net/http"

	"callcore/internal/core/domain"
	"callcore/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AppErrorFor maps controller errors onto an AppError with an HTTP status.
// Errors that already carry an AppError keep it.
func AppErrorFor(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrConsentRequired):
		return errors.WrapError(err, errors.ErrCodeConsent, "recording consent required", http.StatusConflict)
	case stderrors.Is(err, domain.ErrNoActiveSession),
		stderrors.Is(err, domain.ErrScreenShareActive),
		stderrors.Is(err, domain.ErrNotRecording),
		stderrors.Is(err, domain.ErrRoleOccupied),
		stderrors.Is(err, domain.ErrParticipantLimit):
		return errors.WrapError(err, errors.ErrCodeConflict, err.Error(), http.StatusConflict)
	case stderrors.Is(err, domain.ErrInvalidVolume),
		stderrors.Is(err, domain.ErrUnknownSignal):
		return errors.WrapError(err, errors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	case stderrors.Is(err, domain.ErrRecordNotFound):
		appErr := errors.NewNotFoundError("call record")
		appErr.Cause = err
		return appErr
	case stderrors.Is(err, domain.ErrMediaAccessDenied),
		stderrors.Is(err, domain.ErrMediaUnavailable):
		return errors.NewMediaAccessError(err)
	case stderrors.Is(err, domain.ErrRecordingUnsupported):
		return errors.WrapError(err, errors.ErrCodeServiceUnavailable, err.Error(), http.StatusNotImplemented)
	case stderrors.Is(err, domain.ErrSignalingClosed),
		stderrors.Is(err, domain.ErrSignalingExhausted),
		stderrors.Is(err, domain.ErrControllerStopped):
		appErr := errors.NewServiceUnavailableError(err.Error())
		appErr.Cause = err
		return appErr
	}
	return nil
}

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr := AppErrorFor(err); appErr != nil {
			logger.Warnw("request failed",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
			)

			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
