package ports

import (
	"github.com/gin-gonic/gin"
)

type CallHTTPHandler interface {
	Health(c *gin.Context)
	GetState(c *gin.Context)
	ListHistory(c *gin.Context)
	JoinQueue(c *gin.Context)
	LeaveQueue(c *gin.Context)
	EndCall(c *gin.Context)
	ToggleAudio(c *gin.Context)
	ToggleVideo(c *gin.Context)
	SetAudioOnly(c *gin.Context)
	UpdateConstraints(c *gin.Context)
	StartScreenShare(c *gin.Context)
	StopScreenShare(c *gin.Context)
	RequestRecording(c *gin.Context)
	RespondToRecording(c *gin.Context)
	StartRecording(c *gin.Context)
	StopRecording(c *gin.Context)
	SetVolume(c *gin.Context)
	SetVirtualBackground(c *gin.Context)
	SetNoiseSuppression(c *gin.Context)
	AdjustQuality(c *gin.Context)
	Reconnect(c *gin.Context)
}
