package domain

import "time"

// RecordingState tracks consent and the local recording. IsRecording is
// only ever true while HasConsent is true.
type RecordingState struct {
	IsRecording         bool   `json:"isRecording"`
	RecordingID         string `json:"recordingId,omitempty"`
	HasConsent          bool   `json:"hasConsent"`
	AwaitingPeerConsent bool   `json:"awaitingPeerConsent"`
	PendingRequestFrom  UserID `json:"pendingRequestFrom,omitempty"`
}

type RecordingArtifact struct {
	ID        string    `json:"id" msgpack:"id"`
	SessionID SessionID `json:"sessionId" msgpack:"session_id"`
	Dir       string    `json:"dir" msgpack:"dir"`
	Files     []string  `json:"files" msgpack:"files"`
	Bytes     int64     `json:"bytes" msgpack:"bytes"`
	StartedAt time.Time `json:"startedAt" msgpack:"started_at"`
	StoppedAt time.Time `json:"stoppedAt" msgpack:"stopped_at"`
}

// CallRecord is the history entry written when a session is torn down.
type CallRecord struct {
	SessionID   SessionID           `json:"sessionId" msgpack:"session_id"`
	UserID      UserID              `json:"userId" msgpack:"user_id"`
	PeerID      UserID              `json:"peerId" msgpack:"peer_id"`
	IsInitiator bool                `json:"isInitiator" msgpack:"is_initiator"`
	StartedAt   time.Time           `json:"startedAt" msgpack:"started_at"`
	ConnectedAt time.Time           `json:"connectedAt,omitempty" msgpack:"connected_at"`
	EndedAt     time.Time           `json:"endedAt" msgpack:"ended_at"`
	EndReason   string              `json:"endReason" msgpack:"end_reason"`
	FinalState  ConnectionState     `json:"finalState" msgpack:"final_state"`
	Quality     ConnectionQuality   `json:"quality" msgpack:"quality"`
	Reconnects  int                 `json:"reconnects" msgpack:"reconnects"`
	Recordings  []RecordingArtifact `json:"recordings,omitempty" msgpack:"recordings"`
}

func (r *CallRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
