package services

import (
	"errors"
	"fmt"
	"time"

	"callcore/internal/core/domain"
	apperrors "callcore/pkg/errors"
	"callcore/pkg/tracing"
)

// dispatch routes one inbound signaling message. It runs on the loop.
func (c *CallController) dispatch(msg domain.Inbound) {
	ctx, span := tracing.TraceSignalingMessage(c.runCtx, string(msg.Type()))
	defer span.End()
	if c.session != nil {
		tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(c.session.ID)))
	}

	switch m := msg.(type) {
	case domain.Connected:
		c.logger.Infow("signaling session established", "server_user_id", m.UserID)
	case domain.MatchFound:
		c.onMatchFound(m)
	case domain.RemoteSignal:
		c.onPrimarySignal(m)
	case domain.ICERestart:
		c.onRemoteICERestart(m)
	case domain.PeerDisconnected:
		c.onPeerDisconnected()
	case domain.SessionEnded:
		c.onSessionEnded(m)
	case domain.PeerMediaUpdate:
		if c.session != nil {
			constraints := m.Constraints.Clone()
			c.peer.Constraints = &constraints
		}
	case domain.ScreenShareStatus:
		c.onScreenShareStatus(m)
	case domain.RemoteScreenShareSignal:
		c.onScreenShareSignal(m)
	case domain.RecordingConsentRequest:
		c.onRecordingConsentRequest(m)
	case domain.RecordingConsentResponse:
		c.onRecordingConsentResponse(m)
	case domain.RecordingEnabled:
		if c.session != nil {
			c.recording.HasConsent = true
			c.recording.AwaitingPeerConsent = false
		}
	case domain.PeerRecordingStatus:
		if c.session != nil {
			c.peer.Recording = m.Kind == domain.MsgRecordingStarted
		}
	case domain.PeerAudioOnlyMode:
		c.peer.AudioOnly = m.Enabled
	case domain.PeerVirtualBackground:
		c.peer.VirtualBackground = nil
		if m.BackgroundType != "" && m.BackgroundType != "none" {
			c.peer.VirtualBackground = &domain.VirtualBackground{Type: m.BackgroundType, URL: m.BackgroundURL}
		}
	case domain.PeerNoiseSuppression:
		c.peer.NoiseSuppression = m.Enabled
	case domain.PeerVolumeControl:
		volume := m.Volume
		c.peer.Volume = &volume
	case domain.PeerBitrateUpdate:
		c.peer.Bitrate = m.Bitrate
		c.peer.BitrateReason = m.Reason
	case domain.ParticipantJoined:
		c.onParticipantJoined(m)
	case domain.ParticipantLeft:
		c.onParticipantLeft(m)
	case domain.RemoteParticipantSignal:
		c.onParticipantSignal(m)
	case domain.ServerError:
		c.setError(apperrors.NewSignalingError(m.Message))
	case domain.UnknownMessage:
		c.logger.Debugw("ignoring unknown signaling message", "type", m.Kind)
	default:
		c.logger.Debugw("ignoring unhandled signaling message", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *CallController) onSignalingStatus(st domain.SignalingStatus) {
	c.signalingState = st.State
	c.metrics.SignalingState(st.State)

	c.logger.Infow("signaling status changed",
		"state", st.State,
		"attempt", st.Attempt,
	)

	if st.Err != nil && st.State != domain.SignalingClosed {
		c.setError(apperrors.NewTransientNetworkError(st.Err))
	}
	if st.State != domain.SignalingExhausted {
		return
	}
	hadSession := c.session != nil
	c.cleanup("signaling-exhausted")
	if hadSession {
		c.state = domain.StateDisconnected
		c.endReason = "signaling-exhausted"
	}
	err := st.Err
	if err == nil {
		err = domain.ErrSignalingExhausted
	}
	c.setError(apperrors.NewTransientNetworkError(err))
}

func (c *CallController) onMatchFound(m domain.MatchFound) {
	ctx, span := tracing.TraceMatch(c.runCtx, string(m.SessionID), string(m.PeerID), m.IsInitiator)
	defer span.End()

	if c.session != nil {
		c.logger.Warnw("match found while a session is active; replacing it",
			"session_id", c.session.ID,
			"new_session_id", m.SessionID,
		)
		c.cleanup("replaced")
	}
	c.generation++
	gen := c.generation

	c.session = &domain.Session{
		ID:          m.SessionID,
		PeerID:      m.PeerID,
		IsInitiator: m.IsInitiator,
		StartedAt:   time.Now(),
	}
	c.state = domain.StateConnecting
	c.endReason = ""
	c.lastErr = nil

	c.constraints = c.cfg.DefaultConstraints.Clone()
	if m.MediaConstraints != nil {
		c.constraints = m.MediaConstraints.Clone()
	}
	c.features.AudioOnly = !c.constraints.HasVideo()
	c.metrics.MatchFound()

	var serverICE *domain.ICEConfig
	if m.WebRTCConfig != nil && !m.WebRTCConfig.Empty() {
		cfg := *m.WebRTCConfig
		serverICE = &cfg
		c.iceConfig = cfg
	} else {
		c.iceConfig = c.cfg.FallbackICE
	}

	c.logger.Infow("match found",
		"session_id", m.SessionID,
		"peer_id", m.PeerID,
		"initiator", m.IsInitiator,
		"audio_only", c.features.AudioOnly,
	)

	if _, err := c.createLink(ctx, domain.PrimaryRole(), m.IsInitiator); err != nil {
		tracing.RecordError(ctx, err)
		c.state = domain.StateFailed
		c.setError(apperrors.NewPeerNegotiationError(err))
		return
	}

	go c.prepareSession(ctx, gen, m.SessionID, c.constraints.Clone(), serverICE)
}

func (c *CallController) onPrimarySignal(m domain.RemoteSignal) {
	link, ok := c.registry.Primary()
	if !ok {
		c.logger.Debugw("signal without a primary link", "type", m.Kind)
		return
	}
	c.applySignal(link, m.Data)
}

func (c *CallController) onRemoteICERestart(m domain.ICERestart) {
	if c.session == nil {
		return
	}
	c.logger.Infow("remote requested ice restart",
		"session_id", c.session.ID,
		"attempt", m.Attempt,
	)
	var cfg *domain.ICEConfig
	if m.WebRTCConfig != nil && !m.WebRTCConfig.Empty() {
		ice := *m.WebRTCConfig
		cfg = &ice
	}
	c.restartICE(cfg, false)
}

func (c *CallController) onPeerDisconnected() {
	if c.session == nil {
		return
	}
	c.monitor.Stop()
	c.state = domain.StateReconnecting
	c.logger.Infow("peer disconnected; waiting for return", "session_id", c.session.ID)
}

func (c *CallController) onSessionEnded(m domain.SessionEnded) {
	if c.session == nil {
		return
	}
	reason := m.Reason
	if reason == "" {
		reason = "session-ended"
	}
	c.cleanup(reason)
	c.state = domain.StateDisconnected
	c.endReason = reason
}

func (c *CallController) onParticipantJoined(m domain.ParticipantJoined) {
	if c.session == nil {
		return
	}
	if m.ParticipantCount > 0 {
		c.participantCount = m.ParticipantCount
	}
	if m.UserID == "" || m.UserID == c.cfg.UserID || m.UserID == c.session.PeerID {
		return
	}
	role := domain.ParticipantRole(m.UserID)
	if _, exists := c.registry.Get(role); exists {
		return
	}
	if err := c.checkParticipantCapacity(); err != nil {
		c.setError(apperrors.WrapError(err, apperrors.ErrCodeConflict, "participant rejected", 409).
			WithContext("participant_id", m.UserID))
		return
	}
	link, err := c.createLink(c.runCtx, role, true)
	if err != nil {
		c.setError(apperrors.NewPeerNegotiationError(err))
		return
	}
	c.startWhenReady(link)
}

func (c *CallController) onParticipantLeft(m domain.ParticipantLeft) {
	if c.session == nil {
		return
	}
	if m.ParticipantCount > 0 {
		c.participantCount = m.ParticipantCount
	}
	c.removeLink(domain.ParticipantRole(m.UserID))
}

func (c *CallController) onParticipantSignal(m domain.RemoteParticipantSignal) {
	if c.session == nil || m.UserID == "" {
		return
	}
	role := domain.ParticipantRole(m.UserID)
	link, ok := c.registry.Get(role)
	if !ok {
		if m.Kind != domain.MsgParticipantOffer {
			c.logger.Debugw("participant answer for unknown link", "participant_id", m.UserID)
			return
		}
		if err := c.checkParticipantCapacity(); err != nil {
			c.setError(apperrors.WrapError(err, apperrors.ErrCodeConflict, "participant rejected", 409).
				WithContext("participant_id", m.UserID))
			return
		}
		var err error
		if link, err = c.createLink(c.runCtx, role, false); err != nil {
			c.setError(apperrors.NewPeerNegotiationError(err))
			return
		}
		c.startWhenReady(link)
	}
	c.applySignal(link, m.Data)
}

func (c *CallController) checkParticipantCapacity() error {
	if c.registry.ParticipantCount() >= c.cfg.MaxParticipants-1 {
		return fmt.Errorf("%d participants: %w", c.registry.ParticipantCount(), domain.ErrParticipantLimit)
	}
	return nil
}

func (c *CallController) onScreenShareStatus(m domain.ScreenShareStatus) {
	if c.session == nil {
		return
	}
	switch m.Kind {
	case domain.MsgScreenShareStarted:
		c.peer.ScreenSharing = true
	case domain.MsgScreenShareStopped:
		c.peer.ScreenSharing = false
		c.removeLink(domain.RemoteScreenShareRole())
	}
}

func (c *CallController) onScreenShareSignal(m domain.RemoteScreenShareSignal) {
	if c.session == nil {
		return
	}
	if m.Kind == domain.MsgScreenShareAnswer {
		if link, ok := c.registry.Get(domain.LocalScreenShareRole()); ok {
			c.applySignal(link, m.Data)
		}
		return
	}

	role := domain.RemoteScreenShareRole()
	link, ok := c.registry.Get(role)
	if !ok {
		var err error
		if link, err = c.createLink(c.runCtx, role, false); err != nil {
			c.setError(apperrors.NewPeerNegotiationError(err))
			return
		}
		c.startWhenReady(link)
	}
	c.peer.ScreenSharing = true
	c.applySignal(link, m.Data)
}

func (c *CallController) onRecordingConsentRequest(m domain.RecordingConsentRequest) {
	if c.session == nil {
		return
	}
	requester := m.RequesterID
	if requester == "" {
		requester = c.session.PeerID
	}
	c.recording.PendingRequestFrom = requester
	c.logger.Infow("recording consent requested",
		"session_id", c.session.ID,
		"requester_id", requester,
	)
}

func (c *CallController) onRecordingConsentResponse(m domain.RecordingConsentResponse) {
	if c.session == nil {
		return
	}
	c.recording.AwaitingPeerConsent = false
	if m.Consent {
		c.recording.HasConsent = true
		return
	}
	if c.recording.IsRecording {
		if _, err := c.finishRecording(c.runCtx); err != nil && !errors.Is(err, domain.ErrNotRecording) {
			c.logger.Warnw("recording stop after revoked consent failed", "error", err)
		}
	}
	c.recording.HasConsent = false
	c.setError(apperrors.NewConsentError("peer declined recording"))
}
