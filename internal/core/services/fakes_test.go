package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// fakeSignaling records outbound envelopes and lets tests inject inbound
// messages and status changes.
type fakeSignaling struct {
	messages chan domain.Inbound
	status   chan domain.SignalingStatus

	mu     sync.Mutex
	closed bool
	sent   []domain.Envelope
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{
		messages: make(chan domain.Inbound, 32),
		status:   make(chan domain.SignalingStatus, 8),
	}
}

func (s *fakeSignaling) Connect(context.Context) error         { return nil }
func (s *fakeSignaling) Messages() <-chan domain.Inbound       { return s.messages }
func (s *fakeSignaling) Status() <-chan domain.SignalingStatus { return s.status }

func (s *fakeSignaling) Send(env domain.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sent = append(s.sent, env)
	return true
}

func (s *fakeSignaling) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSignaling) setClosed(closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = closed
}

func (s *fakeSignaling) sentOfType(t domain.MessageType) []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Envelope
	for _, env := range s.sent {
		if env.Message.Type() == t {
			out = append(out, env)
		}
	}
	return out
}

func (s *fakeSignaling) countOf(t domain.MessageType) int {
	return len(s.sentOfType(t))
}

type fakeTrack struct {
	id      string
	kind    domain.TrackKind
	enabled atomic.Bool
	stopped atomic.Bool

	mu    sync.Mutex
	ended func(error)
}

func newFakeTrack(id string, kind domain.TrackKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string              { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind  { return t.kind }
func (t *fakeTrack) Enabled() bool           { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *fakeTrack) OnEnded(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = handler
}

func (t *fakeTrack) Stop() error {
	t.stopped.Store(true)
	return nil
}

// end simulates the capture source going away.
func (t *fakeTrack) end() {
	t.mu.Lock()
	handler := t.ended
	t.mu.Unlock()
	if handler != nil {
		handler(nil)
	}
}

type fakeStream struct {
	id     string
	tracks []*fakeTrack
	closed atomic.Int32
}

func newFakeStream(id string, c domain.MediaConstraints) *fakeStream {
	s := &fakeStream{id: id}
	if c.HasAudio() {
		s.tracks = append(s.tracks, newFakeTrack(id+"-audio", domain.TrackAudio))
	}
	if c.HasVideo() {
		s.tracks = append(s.tracks, newFakeTrack(id+"-video", domain.TrackVideo))
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []domain.MediaTrack {
	out := make([]domain.MediaTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	for _, t := range s.tracks {
		_ = t.Stop()
	}
	return nil
}

func (s *fakeStream) track(kind domain.TrackKind) *fakeTrack {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

var errDenied = errors.New("permission denied")

// fakeDevices hands out fake streams. denyVideo rejects any request with
// video; gate, when set, blocks GetUserMedia until it is closed.
type fakeDevices struct {
	denyVideo   bool
	denyAll     bool
	denyDisplay bool
	gate        chan struct{}

	mu      sync.Mutex
	calls   []domain.MediaConstraints
	streams []*fakeStream
	display []*fakeStream
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (domain.MediaStream, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c.Clone())
	if d.denyAll || (d.denyVideo && c.HasVideo()) {
		return nil, errDenied
	}
	s := newFakeStream(fmt.Sprintf("local-%d", len(d.streams)+1), c)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevices) GetDisplayMedia(_ context.Context, c domain.DisplayConstraints) (domain.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denyDisplay {
		return nil, errDenied
	}
	s := newFakeStream(fmt.Sprintf("screen-%d", len(d.display)+1), domain.MediaConstraints{
		Video: &domain.VideoConstraints{},
	})
	d.display = append(d.display, s)
	return s, nil
}

func (d *fakeDevices) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDevices) lastDisplay() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.display) == 0 {
		return nil
	}
	return d.display[len(d.display)-1]
}

const (
	fakeOffer  = `{"type":"offer","sdp":"v=0 fake-offer"}`
	fakeAnswer = `{"type":"answer","sdp":"v=0 fake-answer"}`
)

// fakeLink negotiates instantly: an initiator emits an offer on Start and
// connects when an answer is applied; a responder answers an applied offer
// and connects.
type fakeLink struct {
	role      domain.PeerRole
	initiator bool
	events    chan domain.PeerEvent
	done      chan struct{}
	once      sync.Once

	mu        sync.Mutex
	state     domain.PeerLinkState
	started   bool
	stream    domain.MediaStream
	ice       domain.ICEConfig
	applied   []json.RawMessage
	sending   map[domain.TrackKind]bool
	restarts  int
	destroyed int
	stats     domain.ConnectionMetrics
	statsErr  error
}

func newFakeLink(opts ports.PeerLinkOptions) *fakeLink {
	return &fakeLink{
		role:      opts.Role,
		initiator: opts.Initiator,
		events:    make(chan domain.PeerEvent, 32),
		done:      make(chan struct{}),
		state:     domain.LinkNew,
		sending:   map[domain.TrackKind]bool{domain.TrackAudio: true, domain.TrackVideo: true},
	}
}

func (l *fakeLink) Role() domain.PeerRole              { return l.role }
func (l *fakeLink) Initiator() bool                    { return l.initiator }
func (l *fakeLink) Events() <-chan domain.PeerEvent    { return l.events }
func (l *fakeLink) Done() <-chan struct{}              { return l.done }
func (l *fakeLink) RemoteStream() *domain.RemoteStream { return nil }

func (l *fakeLink) State() domain.PeerLinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLink) emit(ev domain.PeerEvent) {
	select {
	case <-l.done:
	case l.events <- ev:
	}
}

func (l *fakeLink) signal(kind domain.SignalKind, data string) {
	l.emit(domain.PeerEvent{Type: domain.EventSignal, Signal: &domain.Signal{Kind: kind, Data: json.RawMessage(data)}})
}

func (l *fakeLink) Start(_ context.Context, stream domain.MediaStream, ice *domain.ICEConfig) error {
	l.mu.Lock()
	l.started = true
	l.stream = stream
	if ice != nil {
		l.ice = *ice
	}
	l.state = domain.LinkSignaling
	l.mu.Unlock()
	if l.initiator {
		l.signal(domain.SignalOffer, fakeOffer)
	}
	return nil
}

func (l *fakeLink) ApplySignal(_ context.Context, data json.RawMessage) error {
	kind := domain.ClassifySignal(data)
	if kind == domain.SignalUnknown {
		return domain.ErrUnknownSignal
	}
	l.mu.Lock()
	l.applied = append(l.applied, data)
	l.mu.Unlock()

	switch {
	case kind == domain.SignalOffer && !l.initiator:
		l.signal(domain.SignalAnswer, fakeAnswer)
		l.connect()
	case kind == domain.SignalAnswer && l.initiator:
		l.connect()
	}
	return nil
}

func (l *fakeLink) connect() {
	l.mu.Lock()
	l.state = domain.LinkConnected
	l.mu.Unlock()
	l.emit(domain.PeerEvent{Type: domain.EventConnect})
}

func (l *fakeLink) fail(err error) {
	l.mu.Lock()
	l.state = domain.LinkError
	l.mu.Unlock()
	l.emit(domain.PeerEvent{Type: domain.EventError, Err: err})
}

func (l *fakeLink) SetSending(kind domain.TrackKind, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sending[kind] = enabled
	return nil
}

func (l *fakeLink) isSending(kind domain.TrackKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sending[kind]
}

func (l *fakeLink) RestartICE(context.Context, *domain.ICEConfig) error {
	l.mu.Lock()
	l.restarts++
	l.mu.Unlock()
	if l.initiator {
		l.signal(domain.SignalOffer, fakeOffer)
	}
	return nil
}

func (l *fakeLink) restartCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restarts
}

func (l *fakeLink) Stats(context.Context) (domain.ConnectionMetrics, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats, l.statsErr
}

func (l *fakeLink) setStats(m domain.ConnectionMetrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats = m
}

func (l *fakeLink) Destroy() error {
	l.mu.Lock()
	l.destroyed++
	l.state = domain.LinkClosed
	l.mu.Unlock()
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *fakeLink) destroyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

func (l *fakeLink) startedWith() (bool, domain.MediaStream) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started, l.stream
}

func (l *fakeLink) startedICE() domain.ICEConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ice
}

type fakeLinkFactory struct {
	mu    sync.Mutex
	links []*fakeLink
}

func (f *fakeLinkFactory) NewPeerLink(_ context.Context, opts ports.PeerLinkOptions) (ports.PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link := newFakeLink(opts)
	f.links = append(f.links, link)
	return link, nil
}

// latest returns the most recently created link for role.
func (f *fakeLinkFactory) latest(role domain.PeerRole) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.links) - 1; i >= 0; i-- {
		if f.links[i].role == role {
			return f.links[i]
		}
	}
	return nil
}

func (f *fakeLinkFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

type staticICE struct {
	cfg domain.ICEConfig
	err error
}

func (s staticICE) ICEConfig(context.Context) (domain.ICEConfig, error) { return s.cfg, s.err }

type fakeRecorder struct {
	mu     sync.Mutex
	active bool
	id     string
}

func (r *fakeRecorder) Start(_ context.Context, id string, _ domain.MediaStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.id = id
	return nil
}

func (r *fakeRecorder) Stop(context.Context) (*domain.RecordingArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil, domain.ErrNotRecording
	}
	r.active = false
	return &domain.RecordingArtifact{ID: r.id, Files: []string{"audio.ogg"}, Bytes: 1024}, nil
}

func (r *fakeRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) Save(ctx context.Context, record *domain.CallRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockHistory) Get(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallRecord), args.Error(1)
}

func (m *mockHistory) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallRecord), args.Error(1)
}
