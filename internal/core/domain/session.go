package domain

import "time"

type SessionID string

type UserID string

// Session is the match the controller is currently serving. At most one
// exists at a time.
type Session struct {
	ID          SessionID `json:"sessionId"`
	PeerID      UserID    `json:"peerId"`
	IsInitiator bool      `json:"isInitiator"`
	StartedAt   time.Time `json:"startedAt"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
}

type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

// Active reports whether a primary peer link is expected to exist.
func (s ConnectionState) Active() bool {
	switch s {
	case StateConnecting, StateConnected, StateReconnecting:
		return true
	}
	return false
}

type SignalingState string

const (
	SignalingConnecting   SignalingState = "connecting"
	SignalingOpen         SignalingState = "open"
	SignalingReconnecting SignalingState = "reconnecting"
	SignalingExhausted    SignalingState = "exhausted"
	SignalingClosed       SignalingState = "closed"
)

type SignalingStatus struct {
	State   SignalingState
	Attempt int
	Err     error
}

type SessionError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type FeatureState struct {
	AudioMuted        bool               `json:"audioMuted"`
	VideoDisabled     bool               `json:"videoDisabled"`
	AudioOnly         bool               `json:"audioOnly"`
	VirtualBackground *VirtualBackground `json:"virtualBackground,omitempty"`
	NoiseSuppression  bool               `json:"noiseSuppression"`
	Volume            float64            `json:"volume"`
}

func DefaultFeatureState() FeatureState {
	return FeatureState{Volume: 1}
}

type VirtualBackground struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// PeerFeatureState mirrors what the remote peer has announced about itself.
type PeerFeatureState struct {
	Constraints       *MediaConstraints  `json:"constraints,omitempty"`
	AudioOnly         bool               `json:"audioOnly"`
	VirtualBackground *VirtualBackground `json:"virtualBackground,omitempty"`
	NoiseSuppression  bool               `json:"noiseSuppression"`
	Volume            *float64           `json:"volume,omitempty"`
	Bitrate           int                `json:"bitrate,omitempty"`
	BitrateReason     string             `json:"bitrateReason,omitempty"`
	ScreenSharing     bool               `json:"screenSharing"`
	Recording         bool               `json:"recording"`
}

type LinkInfo struct {
	Role         string        `json:"role"`
	State        PeerLinkState `json:"state"`
	Initiator    bool          `json:"initiator"`
	RemoteStream *RemoteStream `json:"remoteStream,omitempty"`
}

// CallSnapshot is a point-in-time copy of controller state.
type CallSnapshot struct {
	State             ConnectionState    `json:"state"`
	SignalingState    SignalingState     `json:"signalingState"`
	Session           *Session           `json:"session,omitempty"`
	LocalStream       *StreamInfo        `json:"localStream,omitempty"`
	ScreenStream      *StreamInfo        `json:"screenStream,omitempty"`
	ScreenType        ScreenType         `json:"screenType,omitempty"`
	CaptureTier       CaptureTier        `json:"captureTier,omitempty"`
	Links             []LinkInfo         `json:"links"`
	Metrics           *ConnectionMetrics `json:"metrics,omitempty"`
	Quality           ConnectionQuality  `json:"quality"`
	TargetBitrate     int                `json:"targetBitrate,omitempty"`
	Features          FeatureState       `json:"features"`
	Peer              PeerFeatureState   `json:"peer"`
	Recording         RecordingState     `json:"recording"`
	ParticipantCount  int                `json:"participantCount"`
	ReconnectAttempts int                `json:"reconnectAttempts"`
	EndReason         string             `json:"endReason,omitempty"`
	Error             *SessionError      `json:"error,omitempty"`
}
