package ports

import (
	"context"
	"encoding/json"
	"time"

	"callcore/internal/core/domain"
)

// SignalingChannel is a reconnecting message channel to the matchmaking
// service. Send never blocks and reports whether the message was queued.
type SignalingChannel interface {
	Connect(ctx context.Context) error
	Send(env domain.Envelope) bool
	Messages() <-chan domain.Inbound
	Status() <-chan domain.SignalingStatus
	Close() error
}

type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (domain.MediaStream, error)
	GetDisplayMedia(ctx context.Context, constraints domain.DisplayConstraints) (domain.MediaStream, error)
}

// PeerLink is one negotiated connection to a remote endpoint. Signals
// applied before Start are buffered and replayed in order.
type PeerLink interface {
	Role() domain.PeerRole
	Initiator() bool
	State() domain.PeerLinkState
	Start(ctx context.Context, stream domain.MediaStream, ice *domain.ICEConfig) error
	ApplySignal(ctx context.Context, data json.RawMessage) error
	Events() <-chan domain.PeerEvent
	Done() <-chan struct{}
	RemoteStream() *domain.RemoteStream
	SetSending(kind domain.TrackKind, enabled bool) error
	RestartICE(ctx context.Context, ice *domain.ICEConfig) error
	Stats(ctx context.Context) (domain.ConnectionMetrics, error)
	Destroy() error
}

type PeerLinkOptions struct {
	Role      domain.PeerRole
	Initiator bool
	ICE       domain.ICEConfig
}

type PeerLinkFactory interface {
	NewPeerLink(ctx context.Context, opts PeerLinkOptions) (PeerLink, error)
}

type ICEConfigProvider interface {
	ICEConfig(ctx context.Context) (domain.ICEConfig, error)
}

type Recorder interface {
	Start(ctx context.Context, id string, stream domain.MediaStream) error
	Stop(ctx context.Context) (*domain.RecordingArtifact, error)
	Active() bool
}

type MetricsRecorder interface {
	MatchFound()
	CallConnected(setup time.Duration)
	CallEnded(reason string, duration time.Duration)
	ReconnectAttempt()
	ICERestart()
	SignalingState(state domain.SignalingState)
	MediaCaptured(tier domain.CaptureTier)
	QualitySample(sample domain.QualitySample)
	RecordingStopped(bytes int64)
	ActiveLinks(n int)
}

// CallControl is the command surface of the call controller.
type CallControl interface {
	Snapshot() domain.CallSnapshot
	JoinQueue(ctx context.Context, chainID string, preferences map[string]string) error
	LeaveQueue(ctx context.Context) error
	EndCall(ctx context.Context, reason string) error
	ToggleAudio(ctx context.Context) (bool, error)
	ToggleVideo(ctx context.Context) (bool, error)
	StartScreenShare(ctx context.Context, screenType domain.ScreenType) error
	StopScreenShare(ctx context.Context) error
	RequestRecording(ctx context.Context) error
	RespondToRecordingRequest(ctx context.Context, consent bool, requesterID domain.UserID) error
	StartRecording(ctx context.Context) (string, error)
	StopRecording(ctx context.Context) (*domain.RecordingArtifact, error)
	UpdateMediaConstraints(ctx context.Context, constraints domain.MediaConstraints) error
	SetAudioOnly(ctx context.Context, enabled bool) error
	SetVirtualBackground(ctx context.Context, bg *domain.VirtualBackground) error
	SetNoiseSuppression(ctx context.Context, enabled bool) error
	SetVolume(ctx context.Context, volume float64) error
	AdjustQuality(ctx context.Context, bitrate int, reason string) error
	Reconnect(ctx context.Context) error
	History(ctx context.Context, limit int) ([]*domain.CallRecord, error)
}
