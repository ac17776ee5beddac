//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Devices captures camera, microphone and screen through V4L2, malgo
// and X11, encoding VP8 and Opus.
type Devices struct {
	selector *mediadevices.CodecSelector
	logger   *zap.SugaredLogger
}

var _ ports.MediaDevices = (*Devices)(nil)

func NewDevices(cfg DeviceConfig, logger *zap.SugaredLogger) (*Devices, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create vp8 params: %w", err)
	}
	if cfg.VideoBitrate > 0 {
		vpxParams.BitRate = cfg.VideoBitrate
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		logger.Warnw("no media devices found")
	}
	for _, d := range devices {
		logger.Debugw("media device", "kind", d.Kind, "label", d.Label)
	}
	return &Devices{selector: selector, logger: logger}, nil
}

// RegisterCodecs registers the encoders' codecs with a pion media engine.
func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (domain.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.HasAudio() && !c.HasVideo() {
		return nil, errors.New("no media kinds requested")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video != nil {
		video := *c.Video
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG nodes on some cameras poison the encoder.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if video.Width > 0 || video.MaxWidth > 0 {
				mc.Width = prop.IntRanged{Ideal: video.Width, Max: video.MaxWidth}
			}
			if video.Height > 0 || video.MaxHeight > 0 {
				mc.Height = prop.IntRanged{Ideal: video.Height, Max: video.MaxHeight}
			}
			if video.FrameRate > 0 {
				mc.FrameRate = prop.Float(float32(video.FrameRate))
			}
		}
	}
	if c.Audio != nil {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	stream := newStream(ms)
	d.logger.Infow("local media captured",
		"stream_id", stream.ID(),
		"tracks", len(stream.Tracks()),
		"audio", c.HasAudio(),
		"video", c.HasVideo(),
	)
	return stream, nil
}

// GetDisplayMedia captures the whole screen. Window and tab selection
// are not offered by the X11 driver.
func (d *Devices) GetDisplayMedia(ctx context.Context, c domain.DisplayConstraints) (domain.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.ScreenType != domain.ScreenTypeScreen {
		d.logger.Debugw("capturing full screen for narrower share", "screen_type", c.ScreenType)
	}
	if c.Audio {
		d.logger.Debugw("display audio capture not supported; sharing video only")
	}

	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatI420, frame.FormatRGBA}
		},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("get display media: %w", err)
	}
	return newStream(ms), nil
}
