package services

import (
	"context"
	"fmt"

	"callcore/internal/core/domain"
	apperrors "callcore/pkg/errors"
	"callcore/pkg/utils"
	"callcore/pkg/validation"
)

// StartScreenShare captures a display surface and offers it to the peer
// over a dedicated link.
func (c *CallController) StartScreenShare(ctx context.Context, screenType domain.ScreenType) error {
	if err := validation.ValidateScreenType(string(screenType)); err != nil {
		return err
	}

	var gen uint64
	err := c.do(ctx, func() error {
		if err := c.requireSession(); err != nil {
			return err
		}
		if c.screenStream != nil {
			return domain.ErrScreenShareActive
		}
		gen = c.generation
		return nil
	})
	if err != nil {
		return err
	}

	stream, err := c.media.AcquireDisplay(ctx, domain.DisplayConstraints{ScreenType: screenType})
	if err != nil {
		_ = c.do(ctx, func() error {
			if gen == c.generation {
				c.setError(apperrors.NewMediaAccessError(err))
			}
			return nil
		})
		return err
	}

	owned := false
	err = c.do(context.Background(), func() error {
		if gen != c.generation || c.session == nil {
			return domain.ErrNoActiveSession
		}
		if c.screenStream != nil {
			return domain.ErrScreenShareActive
		}
		link, err := c.createLink(c.runCtx, domain.LocalScreenShareRole(), true)
		if err != nil {
			return err
		}
		owned = true
		c.screenStream = stream
		c.screenType = screenType
		for _, track := range domain.TracksOfKind(stream, domain.TrackVideo) {
			track.OnEnded(func(error) {
				go c.post(func() {
					if c.screenStream == stream {
						c.logger.Infow("screen capture ended by source", "session_id", c.sessionID())
						c.stopScreenShare()
					}
				})
			})
		}
		c.startLink(link, stream)
		c.notify(domain.ScreenShareStart{ScreenType: screenType})
		c.logger.Infow("screen share started",
			"session_id", c.sessionID(),
			"screen_type", screenType,
		)
		return nil
	})
	if !owned {
		c.releaseStream(stream)
	}
	return err
}

func (c *CallController) StopScreenShare(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.stopScreenShare()
		return nil
	})
}

// stopScreenShare tears down the local screen share. Explicit stops, a
// failed link and the capture source ending all come through here.
func (c *CallController) stopScreenShare() {
	_, hadLink := c.registry.Get(domain.LocalScreenShareRole())
	if c.screenStream == nil && !hadLink {
		return
	}
	c.removeLink(domain.LocalScreenShareRole())
	c.releaseStream(c.screenStream)
	c.screenStream = nil
	c.screenType = ""
	c.notify(domain.ScreenShareStop{})
	c.logger.Infow("screen share stopped", "session_id", c.sessionID())
}

// RequestRecording asks the peer for consent. It never starts recording.
func (c *CallController) RequestRecording(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.requireSession(); err != nil {
			return err
		}
		c.send(domain.RecordingRequest{})
		c.recording.AwaitingPeerConsent = true
		return nil
	})
}

// RespondToRecordingRequest sends the local decision. Accepting grants
// consent for this session; neither answer starts or stops a recording.
func (c *CallController) RespondToRecordingRequest(ctx context.Context, consent bool, requesterID domain.UserID) error {
	return c.do(ctx, func() error {
		if err := c.requireSession(); err != nil {
			return err
		}
		if requesterID == "" {
			requesterID = c.recording.PendingRequestFrom
		}
		c.send(domain.RecordingConsent{Consent: consent, RequesterID: requesterID})
		c.recording.PendingRequestFrom = ""
		if consent {
			c.recording.HasConsent = true
		}
		return nil
	})
}

// StartRecording begins capturing the local stream. Consent must already
// be granted.
func (c *CallController) StartRecording(ctx context.Context) (string, error) {
	var id string
	err := c.do(ctx, func() error {
		if err := c.requireSession(); err != nil {
			return err
		}
		if !c.recording.HasConsent {
			c.setError(apperrors.NewConsentError("recording requires consent"))
			return domain.ErrConsentRequired
		}
		if c.recording.IsRecording {
			return apperrors.NewConflictError("recording already in progress")
		}
		if c.recorder == nil {
			return domain.ErrRecordingUnsupported
		}
		if c.localStream == nil {
			return fmt.Errorf("no local stream: %w", domain.ErrMediaUnavailable)
		}

		recID := utils.NewRecordingID()
		if err := c.recorder.Start(c.runCtx, recID, c.localStream); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		id = recID
		c.recording.IsRecording = true
		c.recording.RecordingID = recID
		c.send(domain.RecordingControl{Kind: domain.MsgRecordingStart, RecordingID: recID})
		c.logger.Infow("recording started",
			"session_id", c.sessionID(),
			"recording_id", recID,
		)
		return nil
	})
	return id, err
}

func (c *CallController) StopRecording(ctx context.Context) (*domain.RecordingArtifact, error) {
	var artifact *domain.RecordingArtifact
	err := c.do(ctx, func() error {
		var err error
		artifact, err = c.finishRecording(c.runCtx)
		return err
	})
	return artifact, err
}

func (c *CallController) finishRecording(ctx context.Context) (*domain.RecordingArtifact, error) {
	if !c.recording.IsRecording {
		return nil, domain.ErrNotRecording
	}
	id := c.recording.RecordingID
	artifact, err := c.recorder.Stop(ctx)
	c.recording.IsRecording = false
	c.recording.RecordingID = ""
	c.notify(domain.RecordingControl{Kind: domain.MsgRecordingStop, RecordingID: id})
	if err != nil {
		return nil, fmt.Errorf("stop recorder: %w", err)
	}
	artifact.SessionID = c.sessionID()
	c.artifacts = append(c.artifacts, *artifact)
	c.metrics.RecordingStopped(artifact.Bytes)
	c.logger.Infow("recording stopped",
		"session_id", c.sessionID(),
		"recording_id", id,
		"bytes", artifact.Bytes,
	)
	return artifact, nil
}
