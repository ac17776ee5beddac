package domain

import "encoding/json"

type MessageType string

const (
	MsgJoinQueue        MessageType = "join-queue"
	MsgLeaveQueue       MessageType = "leave-queue"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgConnected        MessageType = "connected"
	MsgMatchFound       MessageType = "match-found"
	MsgOffer            MessageType = "offer"
	MsgAnswer           MessageType = "answer"
	MsgICECandidate     MessageType = "ice-candidate"
	MsgICERestart       MessageType = "ice-restart"
	MsgPeerDisconnected MessageType = "peer-disconnected"
	MsgSessionEnded     MessageType = "session-ended"
	MsgEndSession       MessageType = "end-session"
	MsgError            MessageType = "error"

	MsgMediaConstraints MessageType = "media-constraints"
	MsgPeerMediaUpdate  MessageType = "peer-media-update"

	MsgScreenShareStart   MessageType = "screen-share-start"
	MsgScreenShareStop    MessageType = "screen-share-stop"
	MsgScreenShareStarted MessageType = "screen-share-started"
	MsgScreenShareStopped MessageType = "screen-share-stopped"
	MsgScreenShareOffer   MessageType = "screen-share-offer"
	MsgScreenShareAnswer  MessageType = "screen-share-answer"

	MsgRecordingRequest         MessageType = "recording-request"
	MsgRecordingConsent         MessageType = "recording-consent"
	MsgRecordingConsentRequest  MessageType = "recording-consent-request"
	MsgRecordingConsentResponse MessageType = "recording-consent-response"
	MsgRecordingEnabled         MessageType = "recording-enabled"
	MsgRecordingStart           MessageType = "recording-start"
	MsgRecordingStop            MessageType = "recording-stop"
	MsgRecordingStarted         MessageType = "recording-started"
	MsgRecordingStopped         MessageType = "recording-stopped"

	MsgAudioOnlyMode         MessageType = "audio-only-mode"
	MsgPeerAudioOnlyMode     MessageType = "peer-audio-only-mode"
	MsgVirtualBackground     MessageType = "virtual-background"
	MsgPeerVirtualBackground MessageType = "peer-virtual-background"
	MsgNoiseSuppression      MessageType = "noise-suppression"
	MsgPeerNoiseSuppression  MessageType = "peer-noise-suppression"
	MsgVolumeControl         MessageType = "volume-control"
	MsgBitrateUpdate         MessageType = "bitrate-update"
	MsgPeerBitrateUpdate     MessageType = "peer-bitrate-update"

	MsgParticipantJoined MessageType = "participant-joined"
	MsgParticipantLeft   MessageType = "participant-left"
	MsgParticipantOffer  MessageType = "participant-offer"
	MsgParticipantAnswer MessageType = "participant-answer"
)

// Inbound is a message received from the signaling service. The set of
// implementations is closed; unrecognized types decode to UnknownMessage.
type Inbound interface {
	Type() MessageType
	inbound()
}

// Outbound is a message the client sends. Session and user ids are added
// by the Envelope, not by each message.
type Outbound interface {
	Type() MessageType
	outbound()
}

type Envelope struct {
	SessionID SessionID
	UserID    UserID
	Message   Outbound
}

// Outbound messages.

type JoinQueue struct {
	ChainID     string            `json:"chainId,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

type LeaveQueue struct{}

type Heartbeat struct{}

// PeerSignal carries an offer, answer or ice-candidate for the primary link.
type PeerSignal struct {
	Kind MessageType     `json:"-"`
	Data json.RawMessage `json:"data"`
}

type ICERestartRequest struct{}

type EndSession struct {
	Reason string `json:"reason,omitempty"`
}

type MediaConstraintsUpdate struct {
	Constraints MediaConstraints `json:"constraints"`
}

type ScreenShareStart struct {
	ScreenType ScreenType `json:"screenType"`
}

type ScreenShareStop struct{}

type ScreenShareSignal struct {
	Kind MessageType     `json:"-"`
	Data json.RawMessage `json:"data"`
}

type RecordingRequest struct{}

type RecordingConsent struct {
	Consent     bool   `json:"consent"`
	RequesterID UserID `json:"requesterId,omitempty"`
}

type RecordingControl struct {
	Kind        MessageType `json:"-"`
	RecordingID string      `json:"recordingId"`
}

type AudioOnlyMode struct {
	Enabled bool `json:"enabled"`
}

type VirtualBackgroundUpdate struct {
	BackgroundType string `json:"backgroundType"`
	BackgroundURL  string `json:"backgroundUrl,omitempty"`
}

type NoiseSuppressionUpdate struct {
	Enabled bool `json:"enabled"`
}

type VolumeControl struct {
	Volume float64 `json:"volume"`
}

type BitrateUpdate struct {
	Bitrate int    `json:"bitrate"`
	Reason  string `json:"reason"`
}

type ParticipantSignal struct {
	Kind         MessageType     `json:"-"`
	TargetUserID UserID          `json:"targetUserId"`
	Data         json.RawMessage `json:"data"`
}

func (JoinQueue) Type() MessageType               { return MsgJoinQueue }
func (LeaveQueue) Type() MessageType              { return MsgLeaveQueue }
func (Heartbeat) Type() MessageType               { return MsgHeartbeat }
func (m PeerSignal) Type() MessageType            { return m.Kind }
func (ICERestartRequest) Type() MessageType       { return MsgICERestart }
func (EndSession) Type() MessageType              { return MsgEndSession }
func (MediaConstraintsUpdate) Type() MessageType  { return MsgMediaConstraints }
func (ScreenShareStart) Type() MessageType        { return MsgScreenShareStart }
func (ScreenShareStop) Type() MessageType         { return MsgScreenShareStop }
func (m ScreenShareSignal) Type() MessageType     { return m.Kind }
func (RecordingRequest) Type() MessageType        { return MsgRecordingRequest }
func (RecordingConsent) Type() MessageType        { return MsgRecordingConsent }
func (m RecordingControl) Type() MessageType      { return m.Kind }
func (AudioOnlyMode) Type() MessageType           { return MsgAudioOnlyMode }
func (VirtualBackgroundUpdate) Type() MessageType { return MsgVirtualBackground }
func (NoiseSuppressionUpdate) Type() MessageType  { return MsgNoiseSuppression }
func (VolumeControl) Type() MessageType           { return MsgVolumeControl }
func (BitrateUpdate) Type() MessageType           { return MsgBitrateUpdate }
func (m ParticipantSignal) Type() MessageType     { return m.Kind }

func (JoinQueue) outbound()               {}
func (LeaveQueue) outbound()              {}
func (Heartbeat) outbound()               {}
func (PeerSignal) outbound()              {}
func (ICERestartRequest) outbound()       {}
func (EndSession) outbound()              {}
func (MediaConstraintsUpdate) outbound()  {}
func (ScreenShareStart) outbound()        {}
func (ScreenShareStop) outbound()         {}
func (ScreenShareSignal) outbound()       {}
func (RecordingRequest) outbound()        {}
func (RecordingConsent) outbound()        {}
func (RecordingControl) outbound()        {}
func (AudioOnlyMode) outbound()           {}
func (VirtualBackgroundUpdate) outbound() {}
func (NoiseSuppressionUpdate) outbound()  {}
func (VolumeControl) outbound()           {}
func (BitrateUpdate) outbound()           {}
func (ParticipantSignal) outbound()       {}

// Inbound messages.

type Connected struct {
	UserID UserID `json:"userId,omitempty"`
}

type MatchFound struct {
	SessionID        SessionID         `json:"sessionId"`
	PeerID           UserID            `json:"peerId"`
	IsInitiator      bool              `json:"isInitiator"`
	WebRTCConfig     *ICEConfig        `json:"webrtcConfig,omitempty"`
	MediaConstraints *MediaConstraints `json:"mediaConstraints,omitempty"`
}

// RemoteSignal is an offer, answer or ice-candidate for the primary link.
type RemoteSignal struct {
	Kind MessageType     `json:"-"`
	Data json.RawMessage `json:"data"`
}

type ICERestart struct {
	WebRTCConfig *ICEConfig `json:"webrtcConfig,omitempty"`
	Attempt      int        `json:"attempt,omitempty"`
}

type PeerDisconnected struct{}

type SessionEnded struct {
	Reason string `json:"reason,omitempty"`
}

type PeerMediaUpdate struct {
	Constraints MediaConstraints `json:"constraints"`
}

type ScreenShareStatus struct {
	Kind MessageType `json:"-"`
}

type RemoteScreenShareSignal struct {
	Kind MessageType     `json:"-"`
	Data json.RawMessage `json:"data"`
}

type RecordingConsentRequest struct {
	RequesterID UserID `json:"requesterId"`
}

type RecordingConsentResponse struct {
	Consent bool `json:"consent"`
}

type RecordingEnabled struct{}

type PeerRecordingStatus struct {
	Kind        MessageType `json:"-"`
	RecordingID string      `json:"recordingId,omitempty"`
}

type PeerAudioOnlyMode struct {
	Enabled bool `json:"enabled"`
}

type PeerVirtualBackground struct {
	BackgroundType string `json:"backgroundType"`
	BackgroundURL  string `json:"backgroundUrl,omitempty"`
}

type PeerNoiseSuppression struct {
	Enabled bool `json:"enabled"`
}

type PeerVolumeControl struct {
	Volume float64 `json:"volume"`
}

type PeerBitrateUpdate struct {
	Bitrate int    `json:"bitrate"`
	Reason  string `json:"reason,omitempty"`
}

type ParticipantJoined struct {
	UserID           UserID `json:"userId"`
	ParticipantCount int    `json:"participantCount"`
}

type ParticipantLeft struct {
	UserID           UserID `json:"userId"`
	ParticipantCount int    `json:"participantCount"`
}

type RemoteParticipantSignal struct {
	Kind   MessageType     `json:"-"`
	UserID UserID          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

type ServerError struct {
	Message string `json:"error"`
}

type UnknownMessage struct {
	Kind MessageType
	Raw  json.RawMessage
}

func (Connected) Type() MessageType                 { return MsgConnected }
func (MatchFound) Type() MessageType                { return MsgMatchFound }
func (m RemoteSignal) Type() MessageType            { return m.Kind }
func (ICERestart) Type() MessageType                { return MsgICERestart }
func (PeerDisconnected) Type() MessageType          { return MsgPeerDisconnected }
func (SessionEnded) Type() MessageType              { return MsgSessionEnded }
func (PeerMediaUpdate) Type() MessageType           { return MsgPeerMediaUpdate }
func (m ScreenShareStatus) Type() MessageType       { return m.Kind }
func (m RemoteScreenShareSignal) Type() MessageType { return m.Kind }
func (RecordingConsentRequest) Type() MessageType   { return MsgRecordingConsentRequest }
func (RecordingConsentResponse) Type() MessageType  { return MsgRecordingConsentResponse }
func (RecordingEnabled) Type() MessageType          { return MsgRecordingEnabled }
func (m PeerRecordingStatus) Type() MessageType     { return m.Kind }
func (PeerAudioOnlyMode) Type() MessageType         { return MsgPeerAudioOnlyMode }
func (PeerVirtualBackground) Type() MessageType     { return MsgPeerVirtualBackground }
func (PeerNoiseSuppression) Type() MessageType      { return MsgPeerNoiseSuppression }
func (PeerVolumeControl) Type() MessageType         { return MsgVolumeControl }
func (PeerBitrateUpdate) Type() MessageType         { return MsgPeerBitrateUpdate }
func (ParticipantJoined) Type() MessageType         { return MsgParticipantJoined }
func (ParticipantLeft) Type() MessageType           { return MsgParticipantLeft }
func (m RemoteParticipantSignal) Type() MessageType { return m.Kind }
func (ServerError) Type() MessageType               { return MsgError }
func (m UnknownMessage) Type() MessageType          { return m.Kind }

func (Connected) inbound()                {}
func (MatchFound) inbound()               {}
func (RemoteSignal) inbound()             {}
func (ICERestart) inbound()               {}
func (PeerDisconnected) inbound()         {}
func (SessionEnded) inbound()             {}
func (PeerMediaUpdate) inbound()          {}
func (ScreenShareStatus) inbound()        {}
func (RemoteScreenShareSignal) inbound()  {}
func (RecordingConsentRequest) inbound()  {}
func (RecordingConsentResponse) inbound() {}
func (RecordingEnabled) inbound()         {}
func (PeerRecordingStatus) inbound()      {}
func (PeerAudioOnlyMode) inbound()        {}
func (PeerVirtualBackground) inbound()    {}
func (PeerNoiseSuppression) inbound()     {}
func (PeerVolumeControl) inbound()        {}
func (PeerBitrateUpdate) inbound()        {}
func (ParticipantJoined) inbound()        {}
func (ParticipantLeft) inbound()          {}
func (RemoteParticipantSignal) inbound()  {}
func (ServerError) inbound()              {}
func (UnknownMessage) inbound()           {}
