package services

import (
	"context"
	"fmt"

	"callcore/internal/core/domain"
	apperrors "callcore/pkg/errors"
	"callcore/pkg/validation"
)

// notify sends a session-scoped message. Without a session it is dropped.
func (c *CallController) notify(msg domain.Outbound) {
	if c.session == nil {
		return
	}
	c.send(msg)
}

func (c *CallController) requireSession() error {
	if c.session == nil {
		return domain.ErrNoActiveSession
	}
	return nil
}

// announcedConstraints is the local media state mirrored to the peer.
func (c *CallController) announcedConstraints() domain.MediaConstraints {
	out := c.constraints.Clone()
	if c.features.AudioMuted {
		out.Audio = nil
	}
	if c.features.VideoDisabled || c.features.AudioOnly {
		out.Video = nil
	}
	return out
}

// setTrackSending enables or disables kind on every link carrying the
// local camera stream and on the local tracks themselves.
func (c *CallController) setTrackSending(kind domain.TrackKind, enabled bool) {
	for _, link := range c.registry.All() {
		if link.Role().Kind == domain.RoleScreenShare {
			continue
		}
		if err := link.SetSending(kind, enabled); err != nil {
			c.logger.Debugw("sender update failed",
				"role", link.Role().String(),
				"kind", kind,
				"error", err,
			)
		}
	}
	for _, track := range domain.TracksOfKind(c.localStream, kind) {
		track.SetEnabled(enabled)
	}
}

func (c *CallController) JoinQueue(ctx context.Context, chainID string, preferences map[string]string) error {
	if err := validation.ValidateChainID(chainID); err != nil {
		return err
	}
	return c.do(ctx, func() error {
		if c.session != nil {
			return apperrors.NewConflictError("already in a call")
		}
		c.state = domain.StateIdle
		c.endReason = ""
		if !c.send(domain.JoinQueue{ChainID: chainID, Preferences: preferences}) {
			return domain.ErrSignalingClosed
		}
		c.logger.Infow("joined match queue", "chain_id", chainID)
		return nil
	})
}

func (c *CallController) LeaveQueue(ctx context.Context) error {
	return c.do(ctx, func() error {
		if !c.send(domain.LeaveQueue{}) {
			return domain.ErrSignalingClosed
		}
		return nil
	})
}

// EndCall ends the active session, if any, and releases everything it
// holds. It is safe to call repeatedly.
func (c *CallController) EndCall(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "user-ended"
	}
	return c.do(ctx, func() error {
		if c.session == nil {
			c.cleanup(reason)
			return nil
		}
		c.send(domain.EndSession{Reason: reason})
		c.cleanup(reason)
		c.endReason = reason
		return nil
	})
}

// ToggleAudio flips the local microphone and reports whether it is now
// muted.
func (c *CallController) ToggleAudio(ctx context.Context) (bool, error) {
	var muted bool
	err := c.do(ctx, func() error {
		muted = !c.features.AudioMuted
		c.features.AudioMuted = muted
		c.setTrackSending(domain.TrackAudio, !muted)
		c.notify(domain.MediaConstraintsUpdate{Constraints: c.announcedConstraints()})
		return nil
	})
	return muted, err
}

// ToggleVideo flips the local camera and reports whether it is now
// disabled.
func (c *CallController) ToggleVideo(ctx context.Context) (bool, error) {
	var disabled bool
	err := c.do(ctx, func() error {
		disabled = !c.features.VideoDisabled
		c.features.VideoDisabled = disabled
		c.setTrackSending(domain.TrackVideo, !disabled && !c.features.AudioOnly)
		c.notify(domain.MediaConstraintsUpdate{Constraints: c.announcedConstraints()})
		return nil
	})
	return disabled, err
}

func (c *CallController) SetAudioOnly(ctx context.Context, enabled bool) error {
	return c.do(ctx, func() error {
		c.features.AudioOnly = enabled
		c.setTrackSending(domain.TrackVideo, !enabled && !c.features.VideoDisabled)
		c.notify(domain.AudioOnlyMode{Enabled: enabled})
		return nil
	})
}

func (c *CallController) UpdateMediaConstraints(ctx context.Context, constraints domain.MediaConstraints) error {
	return c.do(ctx, func() error {
		c.constraints = constraints.Clone()
		c.features.AudioOnly = !constraints.HasVideo()
		c.notify(domain.MediaConstraintsUpdate{Constraints: c.announcedConstraints()})
		return nil
	})
}

// SetVirtualBackground records the background effect and announces it.
// A nil background or type "none" clears it.
func (c *CallController) SetVirtualBackground(ctx context.Context, bg *domain.VirtualBackground) error {
	kind, url := "none", ""
	if bg != nil {
		kind, url = bg.Type, bg.URL
	}
	if err := validation.ValidateBackground(kind, url); err != nil {
		return err
	}
	return c.do(ctx, func() error {
		c.features.VirtualBackground = nil
		if kind != "none" {
			c.features.VirtualBackground = &domain.VirtualBackground{Type: kind, URL: url}
		}
		c.notify(domain.VirtualBackgroundUpdate{BackgroundType: kind, BackgroundURL: url})
		return nil
	})
}

func (c *CallController) SetNoiseSuppression(ctx context.Context, enabled bool) error {
	return c.do(ctx, func() error {
		c.features.NoiseSuppression = enabled
		c.notify(domain.NoiseSuppressionUpdate{Enabled: enabled})
		return nil
	})
}

// SetVolume stores the playback volume for remote audio and mirrors it to
// the peer. Rendering remote audio is left to the embedding application.
func (c *CallController) SetVolume(ctx context.Context, volume float64) error {
	if err := validation.ValidateVolume(volume); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidVolume, err)
	}
	return c.do(ctx, func() error {
		c.features.Volume = volume
		c.notify(domain.VolumeControl{Volume: volume})
		return nil
	})
}

func (c *CallController) AdjustQuality(ctx context.Context, bitrate int, reason string) error {
	if err := validation.ValidateBitrate(bitrate); err != nil {
		return err
	}
	if reason == "" {
		reason = "manual"
	}
	return c.do(ctx, func() error {
		if err := c.requireSession(); err != nil {
			return err
		}
		c.targetBitrate = bitrate
		c.send(domain.BitrateUpdate{Bitrate: bitrate, Reason: reason})
		return nil
	})
}

// Reconnect resets the restart budget and restarts ICE on the primary
// link unless it is already connected.
func (c *CallController) Reconnect(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireSession(); err != nil {
			return err
		}
		c.stopRestartTimer()
		c.reconnectAttempts = 0
		if c.state == domain.StateConnected {
			return nil
		}
		if _, ok := c.registry.Primary(); !ok {
			return domain.ErrLinkNotFound
		}
		c.metrics.ReconnectAttempt()
		c.totalReconnects++
		c.restartICE(nil, true)
		return nil
	})
}
