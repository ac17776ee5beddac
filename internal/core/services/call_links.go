package services

import (
	"context"
	"fmt"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	apperrors "callcore/pkg/errors"
	"callcore/pkg/tracing"
)

// createLink constructs a link for role and registers it. The link is not
// started; signals applied before Start are buffered by the link.
func (c *CallController) createLink(ctx context.Context, role domain.PeerRole, initiator bool) (ports.PeerLink, error) {
	if _, exists := c.registry.Get(role); exists {
		return nil, fmt.Errorf("%s: %w", role, domain.ErrRoleOccupied)
	}
	link, err := c.factory.NewPeerLink(ctx, ports.PeerLinkOptions{
		Role:      role,
		Initiator: initiator,
		ICE:       c.iceConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s link: %w", role, err)
	}
	if err := c.registry.Insert(link); err != nil {
		_ = link.Destroy()
		return nil, err
	}
	c.metrics.ActiveLinks(c.registry.Len())
	c.watchLink(link)

	c.logger.Debugw("peer link created",
		"session_id", c.sessionID(),
		"role", role.String(),
		"initiator", initiator,
	)
	return link, nil
}

func (c *CallController) startLink(link ports.PeerLink, stream domain.MediaStream) {
	ice := c.iceConfig
	if err := link.Start(c.runCtx, stream, &ice); err != nil {
		c.handleLinkError(link.Role(), err)
		return
	}
	if !link.Role().IsLocalScreenShare() {
		c.applySendingState(link)
	}
}

// startWhenReady starts a secondary link once the session's ICE servers
// and local media are settled; until then the role waits in pendingStarts
// and its signals stay buffered in the link.
func (c *CallController) startWhenReady(link ports.PeerLink) {
	if !c.mediaReady {
		c.pendingStarts = append(c.pendingStarts, link.Role())
		return
	}
	c.startLink(link, c.outgoingStream(link.Role()))
}

// outgoingStream is the local stream a link sends. Receive-only screen-share
// links send nothing.
func (c *CallController) outgoingStream(role domain.PeerRole) domain.MediaStream {
	if role.IsRemoteScreenShare() {
		return nil
	}
	return c.localStream
}

// watchLink pumps a link's events into the loop until the link is done.
func (c *CallController) watchLink(link ports.PeerLink) {
	go func() {
		events := link.Events()
		forward := func(ev domain.PeerEvent) bool {
			select {
			case c.linkEvents <- linkEvent{link: link, event: ev}:
				return true
			case <-c.stopped:
				return false
			}
		}
		for {
			select {
			case ev := <-events:
				if !forward(ev) {
					return
				}
			case <-link.Done():
				for {
					select {
					case ev := <-events:
						if !forward(ev) {
							return
						}
					default:
						return
					}
				}
			case <-c.stopped:
				return
			}
		}
	}()
}

func (c *CallController) removeLink(role domain.PeerRole) {
	link, ok := c.registry.Remove(role)
	if !ok {
		return
	}
	if err := link.Destroy(); err != nil {
		c.logger.Debugw("peer link destroy failed", "role", role.String(), "error", err)
	}
	c.metrics.ActiveLinks(c.registry.Len())
	if role.IsRemoteScreenShare() {
		c.peer.ScreenSharing = false
	}
}

func (c *CallController) applySignal(link ports.PeerLink, data []byte) {
	if err := link.ApplySignal(c.runCtx, data); err != nil {
		c.logger.Warnw("discarding peer signal",
			"session_id", c.sessionID(),
			"role", link.Role().String(),
			"error", err,
		)
	}
}

func (c *CallController) onLinkEvent(ev linkEvent) {
	role, ok := c.registry.RoleOf(ev.link)
	if !ok {
		return
	}

	switch ev.event.Type {
	case domain.EventSignal:
		if ev.event.Signal != nil {
			c.forwardSignal(role, *ev.event.Signal)
		}
	case domain.EventConnect:
		c.logger.Infow("peer link connected", "session_id", c.sessionID(), "role", role.String())
		if role.IsPrimary() {
			c.onPrimaryConnected(ev.link)
		}
	case domain.EventStream:
		if ev.event.Stream != nil {
			c.logger.Debugw("remote stream updated",
				"role", role.String(),
				"tracks", len(ev.event.Stream.Tracks),
			)
		}
	case domain.EventDisconnected:
		if role.IsPrimary() && c.cfg.AutoReconnect && c.state == domain.StateConnected {
			c.monitor.Stop()
			c.state = domain.StateReconnecting
		}
	case domain.EventError:
		c.handleLinkError(role, ev.event.Err)
	case domain.EventClose:
		switch {
		case role.IsPrimary():
			c.cleanup("peer-closed")
		case role.IsLocalScreenShare():
			c.stopScreenShare()
		default:
			c.removeLink(role)
		}
	}
}

func (c *CallController) forwardSignal(role domain.PeerRole, sig domain.Signal) {
	if c.session == nil {
		return
	}
	switch role.Kind {
	case domain.RolePrimary:
		var kind domain.MessageType
		switch sig.Kind {
		case domain.SignalOffer:
			kind = domain.MsgOffer
		case domain.SignalAnswer:
			kind = domain.MsgAnswer
		case domain.SignalCandidate:
			kind = domain.MsgICECandidate
		default:
			c.logger.Debugw("dropping unclassified signal", "role", role.String())
			return
		}
		c.send(domain.PeerSignal{Kind: kind, Data: sig.Data})
	case domain.RoleScreenShare:
		switch sig.Kind {
		case domain.SignalOffer:
			c.send(domain.ScreenShareSignal{Kind: domain.MsgScreenShareOffer, Data: sig.Data})
		case domain.SignalAnswer:
			c.send(domain.ScreenShareSignal{Kind: domain.MsgScreenShareAnswer, Data: sig.Data})
		}
	case domain.RoleParticipant:
		msg := domain.ParticipantSignal{TargetUserID: domain.UserID(role.ID), Data: sig.Data}
		switch sig.Kind {
		case domain.SignalOffer:
			msg.Kind = domain.MsgParticipantOffer
		case domain.SignalAnswer:
			msg.Kind = domain.MsgParticipantAnswer
		default:
			return
		}
		c.send(msg)
	}
}

// prepareSession resolves ICE servers and captures local media off the
// loop, then hands the result back. Results for a superseded session are
// released.
func (c *CallController) prepareSession(ctx context.Context, gen uint64, sessionID domain.SessionID, constraints domain.MediaConstraints, serverICE *domain.ICEConfig) {
	ice := c.resolveICE(ctx, serverICE)

	mctx, span := tracing.TraceMediaAcquire(ctx, string(sessionID))
	stream, tier, err := c.media.Acquire(mctx, constraints)
	tracing.RecordError(mctx, err)
	span.End()

	delivered := c.post(func() {
		if gen != c.generation {
			c.releaseStream(stream)
			return
		}
		c.onMediaReady(ice, stream, tier, err)
	})
	if !delivered {
		c.releaseStream(stream)
	}
}

func (c *CallController) resolveICE(ctx context.Context, serverICE *domain.ICEConfig) domain.ICEConfig {
	if serverICE != nil {
		return *serverICE
	}
	if c.ice != nil {
		cfg, err := c.ice.ICEConfig(ctx)
		if err == nil && !cfg.Empty() {
			return cfg
		}
		c.logger.Warnw("ice configuration unavailable; using fallback servers", "error", err)
	}
	return c.cfg.FallbackICE
}

func (c *CallController) onMediaReady(ice domain.ICEConfig, stream domain.MediaStream, tier domain.CaptureTier, err error) {
	c.iceConfig = ice
	if err != nil {
		c.setError(apperrors.NewMediaAccessError(err))
		c.logger.Warnw("local media unavailable; continuing receive-only", "session_id", c.sessionID())
	} else {
		c.localStream = stream
		c.captureTier = tier
		c.metrics.MediaCaptured(tier)
		if tier == domain.TierAudioOnly {
			c.features.AudioOnly = true
		}
		c.logger.Infow("local media captured",
			"session_id", c.sessionID(),
			"tier", tier.String(),
		)
	}

	c.mediaReady = true

	if link, ok := c.registry.Primary(); ok {
		c.startLink(link, c.localStream)
	}

	pending := c.pendingStarts
	c.pendingStarts = nil
	for _, role := range pending {
		if link, ok := c.registry.Get(role); ok {
			c.startLink(link, c.outgoingStream(role))
		}
	}
}

// applySendingState reapplies local mute toggles to a link's senders.
func (c *CallController) applySendingState(link ports.PeerLink) {
	if c.features.AudioMuted {
		if err := link.SetSending(domain.TrackAudio, false); err != nil {
			c.logger.Debugw("mute audio sender failed", "role", link.Role().String(), "error", err)
		}
	}
	if c.features.VideoDisabled || c.features.AudioOnly {
		if err := link.SetSending(domain.TrackVideo, false); err != nil {
			c.logger.Debugw("disable video sender failed", "role", link.Role().String(), "error", err)
		}
	}
}

func (c *CallController) onPrimaryConnected(link ports.PeerLink) {
	if c.session == nil {
		return
	}
	c.state = domain.StateConnected
	c.reconnectAttempts = 0
	c.stopRestartTimer()
	if c.session.ConnectedAt.IsZero() {
		c.session.ConnectedAt = time.Now()
		c.metrics.CallConnected(c.session.ConnectedAt.Sub(c.session.StartedAt))
	}

	gen := c.generation
	c.monitor.Start(c.runCtx, link, func(sample domain.QualitySample) {
		c.post(func() {
			if gen != c.generation || c.state != domain.StateConnected {
				return
			}
			c.onQualitySample(sample)
		})
	})
}

func (c *CallController) onQualitySample(sample domain.QualitySample) {
	metrics := sample.Metrics
	c.lastMetrics = &metrics
	c.lastQuality = sample.Quality
	c.metrics.QualitySample(sample)

	if sample.Bitrate == c.targetBitrate {
		return
	}
	c.targetBitrate = sample.Bitrate
	c.logger.Debugw("target bitrate changed",
		"session_id", c.sessionID(),
		"bitrate", sample.Bitrate,
		"quality", sample.Quality,
		"penalties", sample.Reason,
	)
	c.send(domain.BitrateUpdate{Bitrate: sample.Bitrate, Reason: "auto"})
}

func (c *CallController) handleLinkError(role domain.PeerRole, err error) {
	c.logger.Warnw("peer link error",
		"session_id", c.sessionID(),
		"role", role.String(),
		"error", err,
	)
	switch {
	case role.IsPrimary():
		c.onPrimaryError(err)
	case role.IsLocalScreenShare():
		c.stopScreenShare()
	default:
		c.removeLink(role)
	}
}

func (c *CallController) onPrimaryError(err error) {
	if err == nil {
		err = domain.ErrConnectionFailed
	}
	c.monitor.Stop()
	c.state = domain.StateFailed
	c.setError(apperrors.NewPeerNegotiationError(err))
	c.scheduleRestart()
}

// scheduleRestart arms a single ICE restart after the reconnect delay,
// provided auto-reconnect is on and the budget allows it.
func (c *CallController) scheduleRestart() {
	if !c.cfg.AutoReconnect || c.restartTimer != nil || c.session == nil {
		return
	}
	if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
		c.setError(apperrors.NewPeerNegotiationError(
			fmt.Errorf("%d attempts: %w", c.reconnectAttempts, domain.ErrReconnectBudgetExhausted)))
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.post(func() {
			if c.restartTimer != timer {
				return
			}
			c.restartTimer = nil
			c.reconnectAttempts++
			c.totalReconnects++
			c.metrics.ReconnectAttempt()
			c.logger.Infow("attempting ice restart",
				"session_id", c.sessionID(),
				"attempt", c.reconnectAttempts,
				"max_attempts", c.cfg.MaxReconnectAttempts,
			)
			c.restartICE(nil, true)
		})
	})
	c.restartTimer = timer
}

// restartICE restarts the primary link's ICE agent. With notifyPeer the
// remote side is asked to restart as well.
func (c *CallController) restartICE(cfg *domain.ICEConfig, notifyPeer bool) {
	link, ok := c.registry.Primary()
	if !ok {
		return
	}
	if cfg != nil {
		c.iceConfig = *cfg
	}
	c.monitor.Stop()
	c.state = domain.StateReconnecting
	if notifyPeer {
		c.send(domain.ICERestartRequest{})
	}
	c.metrics.ICERestart()

	ice := c.iceConfig
	if err := link.RestartICE(c.runCtx, &ice); err != nil {
		c.state = domain.StateFailed
		c.setError(apperrors.NewPeerNegotiationError(err))
		c.scheduleRestart()
	}
}
