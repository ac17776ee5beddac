package webrtc

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IncludeLoopback = true
	cfg.GatherTimeout = 3 * time.Second
	f, err := NewFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return f
}

func newTestLink(t *testing.T, f *Factory, role domain.PeerRole, initiator bool) *PeerLink {
	t.Helper()
	link, err := f.NewPeerLink(context.Background(), ports.PeerLinkOptions{Role: role, Initiator: initiator})
	require.NoError(t, err)
	pl := link.(*PeerLink)
	t.Cleanup(func() { pl.Destroy() })
	return pl
}

// wire forwards signals from one link to the other and counts connects.
func wire(from, to *PeerLink, connects *atomic.Int32, offers *atomic.Int32) {
	go func() {
		for {
			select {
			case ev := <-from.Events():
				switch ev.Type {
				case domain.EventSignal:
					if ev.Signal.Kind == domain.SignalOffer && offers != nil {
						offers.Add(1)
					}
					_ = to.ApplySignal(context.Background(), ev.Signal.Data)
				case domain.EventConnect:
					connects.Add(1)
				}
			case <-from.Done():
				return
			}
		}
	}()
}

// detachCandidates removes the candidate lines from a description and
// returns them as separate candidate signals.
func detachCandidates(data json.RawMessage) (json.RawMessage, []json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, nil, err
	}

	mid := "0"
	index := uint16(0)
	seen := make(map[string]bool)
	var kept []string
	var candidates []json.RawMessage
	for _, line := range strings.Split(desc.SDP, "\r\n") {
		switch {
		case strings.HasPrefix(line, "a=candidate:"):
			c := strings.TrimPrefix(line, "a=")
			if seen[c] {
				continue
			}
			seen[c] = true
			raw, err := json.Marshal(webrtc.ICECandidateInit{Candidate: c, SDPMid: &mid, SDPMLineIndex: &index})
			if err != nil {
				return nil, nil, err
			}
			candidates = append(candidates, raw)
		case line == "a=end-of-candidates":
		default:
			kept = append(kept, line)
		}
	}
	desc.SDP = strings.Join(kept, "\r\n")
	stripped, err := json.Marshal(desc)
	return stripped, candidates, err
}

// relayDetached forwards descriptions without their candidates and
// delivers those candidates as separate signals, split around the
// description by arrange. An undecodable description is dropped and the
// link never connects.
func relayDetached(from, to *PeerLink, connects *atomic.Int32, arrange func([]json.RawMessage) (before, after []json.RawMessage)) {
	go func() {
		for {
			select {
			case ev := <-from.Events():
				switch ev.Type {
				case domain.EventSignal:
					if ev.Signal.Kind == domain.SignalCandidate {
						_ = to.ApplySignal(context.Background(), ev.Signal.Data)
						continue
					}
					desc, candidates, err := detachCandidates(ev.Signal.Data)
					if err != nil {
						continue
					}
					before, after := arrange(candidates)
					for _, c := range before {
						_ = to.ApplySignal(context.Background(), c)
					}
					_ = to.ApplySignal(context.Background(), desc)
					for _, c := range after {
						_ = to.ApplySignal(context.Background(), c)
					}
				case domain.EventConnect:
					connects.Add(1)
				}
			case <-from.Done():
				return
			}
		}
	}()
}

type staticTrack struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func newStaticTrack(t *testing.T) *staticTrack {
	t.Helper()
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	require.NoError(t, err)
	tr := &staticTrack{TrackLocalStaticSample: local}
	tr.enabled.Store(true)
	return tr
}

func (s *staticTrack) Kind() domain.TrackKind        { return domain.TrackAudio }
func (s *staticTrack) Enabled() bool                 { return s.enabled.Load() }
func (s *staticTrack) SetEnabled(enabled bool)       { s.enabled.Store(enabled) }
func (s *staticTrack) OnEnded(func(error))           {}
func (s *staticTrack) Stop() error                   { return nil }
func (s *staticTrack) TrackLocal() webrtc.TrackLocal { return s.TrackLocalStaticSample }

type staticStream struct{ tracks []domain.MediaTrack }

func (s staticStream) ID() string                  { return "local" }
func (s staticStream) Tracks() []domain.MediaTrack { return s.tracks }
func (s staticStream) Close() error                { return nil }

func TestPeerLink_Connects(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sockets")
	}
	f := newTestFactory(t)
	caller := newTestLink(t, f, domain.PrimaryRole(), true)
	callee := newTestLink(t, f, domain.PrimaryRole(), false)

	var callerConnects, calleeConnects, offers atomic.Int32
	wire(caller, callee, &callerConnects, &offers)
	wire(callee, caller, &calleeConnects, nil)

	track := newStaticTrack(t)
	require.NoError(t, callee.Start(context.Background(), nil, nil))
	require.NoError(t, caller.Start(context.Background(), staticStream{tracks: []domain.MediaTrack{track}}, nil))

	require.Eventually(t, func() bool {
		return callerConnects.Load() > 0 && calleeConnects.Load() > 0
	}, 15*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.LinkConnected, caller.State())
	assert.Equal(t, domain.LinkConnected, callee.State())

	require.NoError(t, caller.SetSending(domain.TrackAudio, false))
	require.NoError(t, caller.SetSending(domain.TrackAudio, true))

	_, err := caller.Stats(context.Background())
	require.NoError(t, err)

	require.NoError(t, caller.RestartICE(context.Background(), nil))
	require.Eventually(t, func() bool { return offers.Load() >= 2 }, 10*time.Second, 20*time.Millisecond)
}

func TestPeerLink_CandidateOrderDoesNotAffectConnectivity(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sockets")
	}

	shuffled := func(seed uint64, split func(n int) int) func([]json.RawMessage) ([]json.RawMessage, []json.RawMessage) {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		return func(candidates []json.RawMessage) ([]json.RawMessage, []json.RawMessage) {
			out := append([]json.RawMessage(nil), candidates...)
			rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
			n := split(len(out))
			return out[:n], out[n:]
		}
	}

	tests := []struct {
		name  string
		split func(n int) int
	}{
		{name: "all before description", split: func(n int) int { return n }},
		{name: "all after description", split: func(int) int { return 0 }},
		{name: "split around description", split: func(n int) int { return n / 2 }},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFactory(t)
			caller := newTestLink(t, f, domain.PrimaryRole(), true)
			callee := newTestLink(t, f, domain.PrimaryRole(), false)

			var callerConnects, calleeConnects atomic.Int32
			relayDetached(caller, callee, &callerConnects, shuffled(uint64(i+1), tt.split))
			relayDetached(callee, caller, &calleeConnects, shuffled(uint64(i+101), tt.split))

			require.NoError(t, callee.Start(context.Background(), nil, nil))
			require.NoError(t, caller.Start(context.Background(), nil, nil))

			require.Eventually(t, func() bool {
				return callerConnects.Load() > 0 && calleeConnects.Load() > 0
			}, 15*time.Second, 20*time.Millisecond)
			assert.Equal(t, domain.LinkConnected, caller.State())
			assert.Equal(t, domain.LinkConnected, callee.State())
		})
	}
}

func TestPeerLink_BuffersSignalsBeforeStart(t *testing.T) {
	f := newTestFactory(t)
	link := newTestLink(t, f, domain.ParticipantRole("carol"), false)

	require.NoError(t, link.ApplySignal(context.Background(), json.RawMessage(`{"type":"offer","sdp":"v=0"}`)))
	require.NoError(t, link.ApplySignal(context.Background(), json.RawMessage(`{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`)))

	link.mu.Lock()
	pending := len(link.pending)
	link.mu.Unlock()
	assert.Equal(t, 2, pending)
	assert.Equal(t, domain.LinkNew, link.State())
}

func TestPeerLink_RejectsUnknownSignal(t *testing.T) {
	f := newTestFactory(t)
	link := newTestLink(t, f, domain.PrimaryRole(), false)
	err := link.ApplySignal(context.Background(), json.RawMessage(`{"hello":"world"}`))
	assert.ErrorIs(t, err, domain.ErrUnknownSignal)
}

func TestPeerLink_LifecycleErrors(t *testing.T) {
	f := newTestFactory(t)
	link := newTestLink(t, f, domain.PrimaryRole(), true)

	assert.ErrorIs(t, link.RestartICE(context.Background(), nil), ErrLinkNotStarted)
	_, err := link.Stats(context.Background())
	assert.ErrorIs(t, err, ErrLinkNotStarted)
	assert.NoError(t, link.SetSending(domain.TrackVideo, false), "recorded until the connection exists")

	require.NoError(t, link.Destroy())
	require.NoError(t, link.Destroy())
	assert.Equal(t, domain.LinkClosed, link.State())

	select {
	case <-link.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.ErrorIs(t, link.Start(context.Background(), nil, nil), domain.ErrLinkClosed)
	assert.ErrorIs(t, link.ApplySignal(context.Background(), json.RawMessage(`{"type":"answer","sdp":"x"}`)), domain.ErrLinkClosed)
	assert.ErrorIs(t, link.RestartICE(context.Background(), nil), domain.ErrLinkClosed)
}

func TestPeerLink_StartTwice(t *testing.T) {
	f := newTestFactory(t)
	link := newTestLink(t, f, domain.RemoteScreenShareRole(), false)
	require.NoError(t, link.Start(context.Background(), nil, nil))
	assert.Error(t, link.Start(context.Background(), nil, nil))
}

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "bare", data: `{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host","sdpMid":"0"}`, want: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"},
		{name: "nested", data: `{"type":"candidate","candidate":{"candidate":"candidate:2 1 udp 1 10.0.0.2 6000 typ host","sdpMLineIndex":0}}`, want: "candidate:2 1 udp 1 10.0.0.2 6000 typ host"},
		{name: "empty", data: `{"candidate":""}`, wantErr: true},
		{name: "garbage", data: `nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCandidate(json.RawMessage(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Candidate)
		})
	}
}

func TestPionConfiguration(t *testing.T) {
	cfg := pionConfiguration(domain.ICEConfig{
		ICEServers: []domain.ICEServer{
			{URLs: []string{"stun:a"}},
			{URLs: []string{"turn:b"}, Username: "u", Credential: "p"},
		},
		ICETransportPolicy: "relay",
	})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{"stun:a"}, cfg.ICEServers[0].URLs)
	assert.Equal(t, "u", cfg.ICEServers[1].Username)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, cfg.ICETransportPolicy)

	assert.Equal(t, webrtc.ICETransportPolicyAll, pionConfiguration(domain.ICEConfig{}).ICETransportPolicy)
}
