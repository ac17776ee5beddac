package media

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"callcore/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// Track adapts a captured mediadevices track. It feeds pion senders
// directly and can open its own RTP reader for recording.
type Track struct {
	track    mediadevices.Track
	kind     domain.TrackKind
	enabled  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func newTrack(t mediadevices.Track) *Track {
	kind := domain.TrackVideo
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.TrackAudio
	}
	tr := &Track{track: t, kind: kind}
	tr.enabled.Store(true)
	return tr
}

func (t *Track) ID() string                    { return t.track.ID() }
func (t *Track) Kind() domain.TrackKind        { return t.kind }
func (t *Track) Enabled() bool                 { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *Track) OnEnded(handler func(error))   { t.track.OnEnded(handler) }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.track }

func (t *Track) Stop() error {
	t.stopOnce.Do(func() { t.stopErr = t.track.Close() })
	return t.stopErr
}

// NewRTPReader encodes the track a second time into RTP packets of at
// most mtu bytes: VP8 for video, Opus for audio.
func (t *Track) NewRTPReader(mtu int) (RTPReader, error) {
	mime := webrtc.MimeTypeOpus
	if t.kind == domain.TrackVideo {
		mime = webrtc.MimeTypeVP8
	}
	return t.track.NewRTPReader(mime, rand.Uint32(), mtu)
}

type Stream struct {
	id        string
	tracks    []domain.MediaTrack
	closeOnce sync.Once
}

func newStream(ms mediadevices.MediaStream) *Stream {
	s := &Stream{id: uuid.NewString()}
	for _, t := range ms.GetTracks() {
		s.tracks = append(s.tracks, newTrack(t))
	}
	return s
}

func (s *Stream) ID() string                  { return s.id }
func (s *Stream) Tracks() []domain.MediaTrack { return s.tracks }

// Close stops every track. Later calls do nothing.
func (s *Stream) Close() error {
	var first error
	s.closeOnce.Do(func() {
		for _, t := range s.tracks {
			if err := t.Stop(); err != nil && first == nil {
				first = err
			}
		}
	})
	return first
}
