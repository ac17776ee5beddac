package services

import (
	"context"
	"errors"
	"fmt"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"go.uber.org/zap"
)

type LowResolution struct {
	Width  int
	Height int
}

// MediaAcquirer captures local media with a fixed downgrade ladder:
// requested constraints, then video capped to LowRes, then audio only.
type MediaAcquirer struct {
	devices ports.MediaDevices
	lowRes  LowResolution
	logger  *zap.SugaredLogger
}

func NewMediaAcquirer(devices ports.MediaDevices, lowRes LowResolution, logger *zap.SugaredLogger) *MediaAcquirer {
	if lowRes.Width <= 0 || lowRes.Height <= 0 {
		lowRes = LowResolution{Width: 640, Height: 360}
	}
	return &MediaAcquirer{devices: devices, lowRes: lowRes, logger: logger}
}

type captureAttempt struct {
	tier        domain.CaptureTier
	constraints domain.MediaConstraints
}

func (a *MediaAcquirer) ladder(requested domain.MediaConstraints) []captureAttempt {
	attempts := []captureAttempt{{tier: domain.TierRequested, constraints: requested.Clone()}}

	if requested.HasVideo() {
		reduced := requested.Clone()
		reduced.Video.Width = a.lowRes.Width
		reduced.Video.Height = a.lowRes.Height
		reduced.Video.MaxWidth = a.lowRes.Width
		reduced.Video.MaxHeight = a.lowRes.Height
		attempts = append(attempts, captureAttempt{tier: domain.TierReducedVideo, constraints: reduced})

		audioOnly := domain.MediaConstraints{Audio: requested.Audio}
		if audioOnly.Audio == nil {
			audioOnly.Audio = domain.DefaultAudioConstraints()
		}
		attempts = append(attempts, captureAttempt{tier: domain.TierAudioOnly, constraints: audioOnly.Clone()})
	}
	return attempts
}

// Acquire returns the first stream the ladder produces. It fails with
// ErrMediaAccessDenied only when every step fails.
func (a *MediaAcquirer) Acquire(ctx context.Context, requested domain.MediaConstraints) (domain.MediaStream, domain.CaptureTier, error) {
	var errs []error
	for _, attempt := range a.ladder(requested) {
		if err := ctx.Err(); err != nil {
			return nil, domain.TierNone, err
		}
		stream, err := a.devices.GetUserMedia(ctx, attempt.constraints)
		if err == nil {
			if attempt.tier != domain.TierRequested {
				a.logger.Warnw("media captured with degraded constraints",
					"tier", attempt.tier.String(),
					"attempts", len(errs)+1,
				)
			}
			return stream, attempt.tier, nil
		}
		a.logger.Debugw("media capture attempt failed",
			"tier", attempt.tier.String(),
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", attempt.tier, err))
	}
	return nil, domain.TierNone, fmt.Errorf("%w: %w", domain.ErrMediaAccessDenied, errors.Join(errs...))
}

func (a *MediaAcquirer) AcquireDisplay(ctx context.Context, constraints domain.DisplayConstraints) (domain.MediaStream, error) {
	stream, err := a.devices.GetDisplayMedia(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaAccessDenied, err)
	}
	return stream, nil
}
