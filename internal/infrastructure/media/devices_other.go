//go:build !linux

package media

import (
	"context"
	"fmt"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Devices reports capture as unavailable; links fall back to receive-only.
type Devices struct {
	logger *zap.SugaredLogger
}

var _ ports.MediaDevices = (*Devices)(nil)

func NewDevices(_ DeviceConfig, logger *zap.SugaredLogger) (*Devices, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Warnw("local media capture is only available on linux")
	return &Devices{logger: logger}, nil
}

func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (d *Devices) GetUserMedia(context.Context, domain.MediaConstraints) (domain.MediaStream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", domain.ErrMediaUnavailable)
}

func (d *Devices) GetDisplayMedia(context.Context, domain.DisplayConstraints) (domain.MediaStream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", domain.ErrMediaUnavailable)
}
