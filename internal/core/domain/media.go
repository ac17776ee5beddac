package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type AudioConstraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

type VideoConstraints struct {
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frameRate,omitempty"`
	MaxWidth  int     `json:"maxWidth,omitempty"`
	MaxHeight int     `json:"maxHeight,omitempty"`
}

// MediaConstraints describes the capture request. A nil Audio or Video
// means that kind is not requested. On the wire each kind is either a
// boolean or an object.
type MediaConstraints struct {
	Audio *AudioConstraints
	Video *VideoConstraints
}

func DefaultAudioConstraints() *AudioConstraints {
	return &AudioConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

func (c MediaConstraints) HasAudio() bool { return c.Audio != nil }

func (c MediaConstraints) HasVideo() bool { return c.Video != nil }

func (c MediaConstraints) Clone() MediaConstraints {
	out := MediaConstraints{}
	if c.Audio != nil {
		a := *c.Audio
		out.Audio = &a
	}
	if c.Video != nil {
		v := *c.Video
		out.Video = &v
	}
	return out
}

func (c MediaConstraints) MarshalJSON() ([]byte, error) {
	wire := struct {
		Audio any `json:"audio"`
		Video any `json:"video"`
	}{Audio: false, Video: false}
	if c.Audio != nil {
		wire.Audio = c.Audio
	}
	if c.Video != nil {
		wire.Video = c.Video
	}
	return json.Marshal(wire)
}

func (c *MediaConstraints) UnmarshalJSON(data []byte) error {
	var wire struct {
		Audio json.RawMessage `json:"audio"`
		Video json.RawMessage `json:"video"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	audio, err := decodeKind(wire.Audio, DefaultAudioConstraints)
	if err != nil {
		return fmt.Errorf("audio constraints: %w", err)
	}
	video, err := decodeKind(wire.Video, func() *VideoConstraints { return &VideoConstraints{} })
	if err != nil {
		return fmt.Errorf("video constraints: %w", err)
	}
	c.Audio, c.Video = audio, video
	return nil
}

func decodeKind[T any](raw json.RawMessage, enabled func() *T) (*T, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, bytes.Equal(raw, []byte("null")), bytes.Equal(raw, []byte("false")):
		return nil, nil
	case bytes.Equal(raw, []byte("true")):
		return enabled(), nil
	}
	out := enabled()
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

type ScreenType string

const (
	ScreenTypeScreen ScreenType = "screen"
	ScreenTypeWindow ScreenType = "window"
	ScreenTypeTab    ScreenType = "tab"
)

func (t ScreenType) Valid() bool {
	switch t {
	case ScreenTypeScreen, ScreenTypeWindow, ScreenTypeTab:
		return true
	}
	return false
}

type DisplayConstraints struct {
	ScreenType ScreenType
	Audio      bool
}

// CaptureTier records which fallback step produced the local stream.
type CaptureTier int

const (
	TierNone CaptureTier = iota
	TierRequested
	TierReducedVideo
	TierAudioOnly
)

func (t CaptureTier) String() string {
	switch t {
	case TierRequested:
		return "requested"
	case TierReducedVideo:
		return "reduced-video"
	case TierAudioOnly:
		return "audio-only"
	}
	return "none"
}

type MediaTrack interface {
	ID() string
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// OnEnded registers a handler invoked once when the source stops
	// producing, for example when the user ends a display capture.
	OnEnded(handler func(error))
	Stop() error
}

type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	Close() error
}

type StreamInfo struct {
	ID     string      `json:"id"`
	Tracks []TrackInfo `json:"tracks"`
}

func DescribeStream(s MediaStream) *StreamInfo {
	if s == nil {
		return nil
	}
	info := &StreamInfo{ID: s.ID()}
	for _, t := range s.Tracks() {
		info.Tracks = append(info.Tracks, TrackInfo{ID: t.ID(), Kind: t.Kind()})
	}
	return info
}

func TracksOfKind(s MediaStream, kind TrackKind) []MediaTrack {
	if s == nil {
		return nil
	}
	var out []MediaTrack
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}
