package domain

import (
	"encoding/json"
	"strings"
)

type RoleKind int

const (
	RolePrimary RoleKind = iota
	RoleScreenShare
	RoleParticipant
)

// PeerRole identifies a peer link slot. Screen-share roles use ID "local"
// or "remote"; participant roles use the remote user id.
type PeerRole struct {
	Kind RoleKind
	ID   string
}

func PrimaryRole() PeerRole { return PeerRole{Kind: RolePrimary} }

func LocalScreenShareRole() PeerRole { return PeerRole{Kind: RoleScreenShare, ID: "local"} }

func RemoteScreenShareRole() PeerRole { return PeerRole{Kind: RoleScreenShare, ID: "remote"} }

func ParticipantRole(id UserID) PeerRole { return PeerRole{Kind: RoleParticipant, ID: string(id)} }

func (r PeerRole) IsPrimary() bool { return r.Kind == RolePrimary }

func (r PeerRole) IsParticipant() bool { return r.Kind == RoleParticipant }

func (r PeerRole) IsLocalScreenShare() bool { return r == LocalScreenShareRole() }

func (r PeerRole) IsRemoteScreenShare() bool { return r == RemoteScreenShareRole() }

func (r PeerRole) String() string {
	switch r.Kind {
	case RolePrimary:
		return "primary"
	case RoleScreenShare:
		return "screen-share:" + r.ID
	case RoleParticipant:
		return "participant:" + r.ID
	}
	return "unknown"
}

type PeerLinkState string

const (
	LinkNew       PeerLinkState = "new"
	LinkSignaling PeerLinkState = "signaling"
	LinkConnected PeerLinkState = "connected"
	LinkClosed    PeerLinkState = "closed"
	LinkError     PeerLinkState = "error"
)

type PeerEventType string

const (
	EventSignal       PeerEventType = "signal"
	EventConnect      PeerEventType = "connect"
	EventStream       PeerEventType = "stream"
	EventDisconnected PeerEventType = "disconnected"
	EventClose        PeerEventType = "close"
	EventError        PeerEventType = "error"
)

type PeerEvent struct {
	Type   PeerEventType
	Signal *Signal
	Stream *RemoteStream
	Err    error
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
	SignalUnknown   SignalKind = ""
)

// Signal is an opaque negotiation payload produced by a peer link.
type Signal struct {
	Kind SignalKind
	Data json.RawMessage
}

// ClassifySignal inspects a payload for an SDP type or a candidate field.
func ClassifySignal(data json.RawMessage) SignalKind {
	var shape struct {
		Type      string          `json:"type"`
		SDP       string          `json:"sdp"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return SignalUnknown
	}
	switch strings.ToLower(shape.Type) {
	case "offer":
		return SignalOffer
	case "answer":
		return SignalAnswer
	case "candidate", "ice-candidate":
		return SignalCandidate
	}
	if len(shape.Candidate) > 0 && string(shape.Candidate) != "null" {
		return SignalCandidate
	}
	return SignalUnknown
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type TrackInfo struct {
	ID    string    `json:"id"`
	Kind  TrackKind `json:"kind"`
	Codec string    `json:"codec,omitempty"`
}

type RemoteStream struct {
	ID     string      `json:"id"`
	Tracks []TrackInfo `json:"tracks"`
}

func (s *RemoteStream) Clone() *RemoteStream {
	if s == nil {
		return nil
	}
	out := &RemoteStream{ID: s.ID, Tracks: make([]TrackInfo, len(s.Tracks))}
	copy(out.Tracks, s.Tracks)
	return out
}
