package http

import (
	"net/http"
	"strconv"
	"strings"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/infrastructure/monitoring"
	"callcore/pkg/errors"
	"callcore/pkg/validation"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type CallHandler struct {
	call   ports.CallControl
	health *monitoring.HealthChecker
}

var _ ports.CallHTTPHandler = (*CallHandler)(nil)

// NewCallHandler exposes call over HTTP. health may be nil.
func NewCallHandler(call ports.CallControl, health *monitoring.HealthChecker) *CallHandler {
	return &CallHandler{
		call:   call,
		health: health,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1/call")
	{
		api.GET("/state", h.GetState)
		api.GET("/history", h.ListHistory)

		api.POST("/queue/join", h.JoinQueue)
		api.POST("/queue/leave", h.LeaveQueue)
		api.POST("/end", h.EndCall)

		api.POST("/audio/toggle", h.ToggleAudio)
		api.POST("/video/toggle", h.ToggleVideo)
		api.POST("/audio-only", h.SetAudioOnly)
		api.POST("/constraints", h.UpdateConstraints)

		api.POST("/screen-share/start", h.StartScreenShare)
		api.POST("/screen-share/stop", h.StopScreenShare)

		api.POST("/recording/request", h.RequestRecording)
		api.POST("/recording/respond", h.RespondToRecording)
		api.POST("/recording/start", h.StartRecording)
		api.POST("/recording/stop", h.StopRecording)

		api.POST("/volume", h.SetVolume)
		api.POST("/background", h.SetVirtualBackground)
		api.POST("/noise-suppression", h.SetNoiseSuppression)
		api.POST("/quality", h.AdjustQuality)
		api.POST("/reconnect", h.Reconnect)
	}
}

func (h *CallHandler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *CallHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.call.Snapshot())
}

func (h *CallHandler) ListHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.Error(errors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.call.History(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

type JoinQueueRequest struct {
	ChainID     string            `json:"chainId"`
	Preferences map[string]string `json:"preferences"`
}

func (h *CallHandler) JoinQueue(c *gin.Context) {
	var req JoinQueueRequest
	if !bindOptional(c, &req) {
		return
	}
	req.ChainID = strings.TrimSpace(req.ChainID)
	if err := validation.ValidateChainID(req.ChainID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.call.JoinQueue(c.Request.Context(), req.ChainID, req.Preferences); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *CallHandler) LeaveQueue(c *gin.Context) {
	if err := h.call.LeaveQueue(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

type EndCallRequest struct {
	Reason string `json:"reason" binding:"max=128"`
}

func (h *CallHandler) EndCall(c *gin.Context) {
	var req EndCallRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "user-ended"
	}

	if err := h.call.EndCall(c.Request.Context(), req.Reason); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *CallHandler) ToggleAudio(c *gin.Context) {
	enabled, err := h.call.ToggleAudio(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audioEnabled": enabled})
}

func (h *CallHandler) ToggleVideo(c *gin.Context) {
	enabled, err := h.call.ToggleVideo(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videoEnabled": enabled})
}

type EnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *CallHandler) SetAudioOnly(c *gin.Context) {
	var req EnabledRequest
	if !bindRequired(c, &req) {
		return
	}
	if err := h.call.SetAudioOnly(c.Request.Context(), *req.Enabled); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audioOnly": *req.Enabled})
}

func (h *CallHandler) UpdateConstraints(c *gin.Context) {
	var constraints domain.MediaConstraints
	if !bindRequired(c, &constraints) {
		return
	}
	if err := h.call.UpdateMediaConstraints(c.Request.Context(), constraints); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"constraints": constraints})
}

type ScreenShareRequest struct {
	ScreenType string `json:"screenType"`
}

func (h *CallHandler) StartScreenShare(c *gin.Context) {
	var req ScreenShareRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.ScreenType == "" {
		req.ScreenType = string(domain.ScreenTypeScreen)
	}
	if err := validation.ValidateScreenType(req.ScreenType); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.call.StartScreenShare(c.Request.Context(), domain.ScreenType(req.ScreenType)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"screenSharing": true, "screenType": req.ScreenType})
}

func (h *CallHandler) StopScreenShare(c *gin.Context) {
	if err := h.call.StopScreenShare(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"screenSharing": false})
}

func (h *CallHandler) RequestRecording(c *gin.Context) {
	if err := h.call.RequestRecording(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

type RecordingResponseRequest struct {
	Consent     *bool  `json:"consent" binding:"required"`
	RequesterID string `json:"requesterId"`
}

func (h *CallHandler) RespondToRecording(c *gin.Context) {
	var req RecordingResponseRequest
	if !bindRequired(c, &req) {
		return
	}
	requester := domain.UserID(strings.TrimSpace(req.RequesterID))
	if requester == "" {
		requester = h.call.Snapshot().Recording.PendingRequestFrom
	}
	if err := validation.ValidateIdentifier(string(requester), "requester id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.call.RespondToRecordingRequest(c.Request.Context(), *req.Consent, requester); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consent": *req.Consent})
}

func (h *CallHandler) StartRecording(c *gin.Context) {
	id, err := h.call.StartRecording(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordingId": id})
}

func (h *CallHandler) StopRecording(c *gin.Context) {
	artifact, err := h.call.StopRecording(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": artifact})
}

type VolumeRequest struct {
	Volume *float64 `json:"volume" binding:"required"`
}

func (h *CallHandler) SetVolume(c *gin.Context) {
	var req VolumeRequest
	if !bindRequired(c, &req) {
		return
	}
	if err := validation.ValidateVolume(*req.Volume); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := h.call.SetVolume(c.Request.Context(), *req.Volume); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"volume": *req.Volume})
}

type BackgroundRequest struct {
	Type string `json:"type" binding:"required"`
	URL  string `json:"url"`
}

func (h *CallHandler) SetVirtualBackground(c *gin.Context) {
	var req BackgroundRequest
	if !bindRequired(c, &req) {
		return
	}
	if err := validation.ValidateBackground(req.Type, req.URL); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	var bg *domain.VirtualBackground
	if req.Type != "none" {
		bg = &domain.VirtualBackground{Type: req.Type, URL: req.URL}
	}
	if err := h.call.SetVirtualBackground(c.Request.Context(), bg); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"virtualBackground": bg})
}

func (h *CallHandler) SetNoiseSuppression(c *gin.Context) {
	var req EnabledRequest
	if !bindRequired(c, &req) {
		return
	}
	if err := h.call.SetNoiseSuppression(c.Request.Context(), *req.Enabled); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"noiseSuppression": *req.Enabled})
}

type QualityRequest struct {
	Bitrate int `json:"bitrate" binding:"required"`
}

func (h *CallHandler) AdjustQuality(c *gin.Context) {
	var req QualityRequest
	if !bindRequired(c, &req) {
		return
	}
	if err := validation.ValidateBitrate(req.Bitrate); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := h.call.AdjustQuality(c.Request.Context(), req.Bitrate, "manual"); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bitrate": req.Bitrate})
}

func (h *CallHandler) Reconnect(c *gin.Context) {
	if err := h.call.Reconnect(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting"})
}

func bindRequired(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format").WithContext("cause", err.Error()))
		return false
	}
	return true
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindRequired(c, dst)
}
