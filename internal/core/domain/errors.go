package domain

import "errors"

var (
	ErrNoActiveSession          = errors.New("no active session")
	ErrRoleOccupied             = errors.New("peer link role already occupied")
	ErrLinkNotFound             = errors.New("peer link not found")
	ErrLinkClosed               = errors.New("peer link closed")
	ErrConnectionFailed         = errors.New("connection failed")
	ErrUnknownSignal            = errors.New("unrecognized signal payload")
	ErrParticipantLimit         = errors.New("participant limit reached")
	ErrMediaUnavailable         = errors.New("media devices unavailable")
	ErrMediaAccessDenied        = errors.New("media access denied")
	ErrScreenShareActive        = errors.New("screen share already active")
	ErrConsentRequired          = errors.New("recording requires consent")
	ErrNotRecording             = errors.New("recording not active")
	ErrRecordingUnsupported     = errors.New("recording not supported for stream")
	ErrReconnectBudgetExhausted = errors.New("reconnect attempts exhausted")
	ErrSignalingExhausted       = errors.New("signaling reconnect attempts exhausted")
	ErrSignalingClosed          = errors.New("signaling channel closed")
	ErrControllerStopped        = errors.New("call controller stopped")
	ErrRecordNotFound           = errors.New("call record not found")
	ErrInvalidVolume            = errors.New("volume must be within [0, 1]")
)
