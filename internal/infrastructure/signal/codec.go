package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"callcore/internal/core/domain"
	apperrors "callcore/pkg/errors"
)

var ErrMissingType = errors.New("signaling frame has no type")

// Encode renders an outbound message as a flat JSON object carrying its
// type plus the envelope's session and user ids.
func Encode(env domain.Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, errors.New("envelope has no message")
	}
	body, err := json.Marshal(env.Message)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Message.Type(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Message.Type(), err)
	}

	put := func(key, value string) error {
		if value == "" {
			return nil
		}
		if _, exists := fields[key]; exists {
			return nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := put("sessionId", string(env.SessionID)); err != nil {
		return nil, err
	}
	if err := put("userId", string(env.UserID)); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(env.Message.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = kind
	return json.Marshal(fields)
}

type decoder func(data []byte) (domain.Inbound, error)

func decodeAs[T domain.Inbound]() decoder {
	return func(data []byte) (domain.Inbound, error) {
		var msg T
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func remoteSignal(kind domain.MessageType) decoder {
	return func(data []byte) (domain.Inbound, error) {
		msg := domain.RemoteSignal{Kind: kind}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		if len(msg.Data) == 0 {
			return nil, fmt.Errorf("%s without data", kind)
		}
		return msg, nil
	}
}

func screenShareSignal(kind domain.MessageType) decoder {
	return func(data []byte) (domain.Inbound, error) {
		msg := domain.RemoteScreenShareSignal{Kind: kind}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		if len(msg.Data) == 0 {
			return nil, fmt.Errorf("%s without data", kind)
		}
		return msg, nil
	}
}

// participantSignal accepts the sender as either fromUserId or userId.
func participantSignal(kind domain.MessageType) decoder {
	return func(data []byte) (domain.Inbound, error) {
		var wire struct {
			FromUserID domain.UserID   `json:"fromUserId"`
			UserID     domain.UserID   `json:"userId"`
			Data       json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, err
		}
		from := wire.FromUserID
		if from == "" {
			from = wire.UserID
		}
		if from == "" || len(wire.Data) == 0 {
			return nil, fmt.Errorf("%s requires a sender and data", kind)
		}
		return domain.RemoteParticipantSignal{Kind: kind, UserID: from, Data: wire.Data}, nil
	}
}

func statusOnly[T domain.Inbound](build func(domain.MessageType) T, kind domain.MessageType) decoder {
	return func(data []byte) (domain.Inbound, error) {
		msg := build(kind)
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func screenShareStatus(kind domain.MessageType) domain.ScreenShareStatus {
	return domain.ScreenShareStatus{Kind: kind}
}

func recordingStatus(kind domain.MessageType) domain.PeerRecordingStatus {
	return domain.PeerRecordingStatus{Kind: kind}
}

var decoders = map[domain.MessageType]decoder{
	domain.MsgConnected:                decodeAs[domain.Connected](),
	domain.MsgMatchFound:               decodeAs[domain.MatchFound](),
	domain.MsgOffer:                    remoteSignal(domain.MsgOffer),
	domain.MsgAnswer:                   remoteSignal(domain.MsgAnswer),
	domain.MsgICECandidate:             remoteSignal(domain.MsgICECandidate),
	domain.MsgICERestart:               decodeAs[domain.ICERestart](),
	domain.MsgPeerDisconnected:         decodeAs[domain.PeerDisconnected](),
	domain.MsgSessionEnded:             decodeAs[domain.SessionEnded](),
	domain.MsgPeerMediaUpdate:          decodeAs[domain.PeerMediaUpdate](),
	domain.MsgScreenShareStarted:       statusOnly(screenShareStatus, domain.MsgScreenShareStarted),
	domain.MsgScreenShareStopped:       statusOnly(screenShareStatus, domain.MsgScreenShareStopped),
	domain.MsgScreenShareOffer:         screenShareSignal(domain.MsgScreenShareOffer),
	domain.MsgScreenShareAnswer:        screenShareSignal(domain.MsgScreenShareAnswer),
	domain.MsgRecordingConsentRequest:  decodeAs[domain.RecordingConsentRequest](),
	domain.MsgRecordingConsentResponse: decodeAs[domain.RecordingConsentResponse](),
	domain.MsgRecordingEnabled:         decodeAs[domain.RecordingEnabled](),
	domain.MsgRecordingStarted:         statusOnly(recordingStatus, domain.MsgRecordingStarted),
	domain.MsgRecordingStopped:         statusOnly(recordingStatus, domain.MsgRecordingStopped),
	domain.MsgPeerAudioOnlyMode:        decodeAs[domain.PeerAudioOnlyMode](),
	domain.MsgPeerVirtualBackground:    decodeAs[domain.PeerVirtualBackground](),
	domain.MsgPeerNoiseSuppression:     decodeAs[domain.PeerNoiseSuppression](),
	domain.MsgVolumeControl:            decodeAs[domain.PeerVolumeControl](),
	domain.MsgPeerBitrateUpdate:        decodeAs[domain.PeerBitrateUpdate](),
	domain.MsgParticipantJoined:        decodeAs[domain.ParticipantJoined](),
	domain.MsgParticipantLeft:          decodeAs[domain.ParticipantLeft](),
	domain.MsgParticipantOffer:         participantSignal(domain.MsgParticipantOffer),
	domain.MsgParticipantAnswer:        participantSignal(domain.MsgParticipantAnswer),
	domain.MsgError:                    decodeAs[domain.ServerError](),
}

// Decode parses one inbound frame. Frames with an unrecognised type decode
// to UnknownMessage; frames that are not JSON objects or lack a type are
// errors.
func Decode(data []byte) (domain.Inbound, error) {
	var head struct {
		Type domain.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, protocolError("signaling frame is not a JSON object", err)
	}
	if head.Type == "" {
		return nil, protocolError("signaling frame rejected", ErrMissingType)
	}
	decode, ok := decoders[head.Type]
	if !ok {
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return domain.UnknownMessage{Kind: head.Type, Raw: raw}, nil
	}
	msg, err := decode(data)
	if err != nil {
		return nil, protocolError("signaling frame rejected", err).WithContext("type", string(head.Type))
	}
	return msg, nil
}

// protocolError marks a frame the client cannot act on. Such frames are
// dropped and never surface in call state.
func protocolError(message string, cause error) *apperrors.AppError {
	appErr := apperrors.NewProtocolError(message)
	appErr.Cause = cause
	return appErr
}
