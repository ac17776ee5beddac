package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var (
	ErrLinkNotStarted = errors.New("peer link not started")
	errQueueFull      = errors.New("negotiation queue full")
)

const (
	eventBuffer = 32
	workBuffer  = 64
	rtpMTU      = 1500
)

// LocalTrack is a captured track that can feed an RTP sender. Tracks that
// do not implement it are not sent.
type LocalTrack interface {
	domain.MediaTrack
	TrackLocal() webrtc.TrackLocal
}

type senderBinding struct {
	kind   domain.TrackKind
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// PeerLink drives one pion PeerConnection. Negotiation steps run on a
// single worker goroutine in the order they were requested, and ICE
// gathering completes before a description is signalled.
type PeerLink struct {
	role       domain.PeerRole
	initiator  bool
	defaultICE domain.ICEConfig
	api        *webrtc.API
	cfg        Config
	logger     *zap.SugaredLogger

	events chan domain.PeerEvent
	work   chan func()
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	state    domain.PeerLinkState
	started  bool
	pending  []json.RawMessage
	pc       *webrtc.PeerConnection
	pcConfig webrtc.Configuration
	senders  []senderBinding
	sending  map[domain.TrackKind]bool
	remote   *domain.RemoteStream

	// Remote candidates that arrived before a remote description. Owned by
	// the worker.
	candidates []webrtc.ICECandidateInit
}

var _ ports.PeerLink = (*PeerLink)(nil)

func newPeerLink(api *webrtc.API, cfg Config, opts ports.PeerLinkOptions, logger *zap.SugaredLogger) *PeerLink {
	l := &PeerLink{
		role:       opts.Role,
		initiator:  opts.Initiator,
		defaultICE: opts.ICE,
		api:        api,
		cfg:        cfg,
		logger:     logger.With("role", opts.Role.String()),
		events:     make(chan domain.PeerEvent, eventBuffer),
		work:       make(chan func(), workBuffer),
		done:       make(chan struct{}),
		state:      domain.LinkNew,
		sending:    make(map[domain.TrackKind]bool),
	}
	go l.run()
	return l
}

func (l *PeerLink) Role() domain.PeerRole           { return l.role }
func (l *PeerLink) Initiator() bool                 { return l.initiator }
func (l *PeerLink) Events() <-chan domain.PeerEvent { return l.events }
func (l *PeerLink) Done() <-chan struct{}           { return l.done }

func (l *PeerLink) State() domain.PeerLinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) RemoteStream() *domain.RemoteStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote.Clone()
}

// Start creates the peer connection, attaches the stream's tracks and,
// for initiators, signals an offer. It returns before negotiation
// completes; progress is reported on Events.
func (l *PeerLink) Start(_ context.Context, stream domain.MediaStream, ice *domain.ICEConfig) error {
	cfg := l.defaultICE
	if ice != nil && !ice.Empty() {
		cfg = *ice
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.state == domain.LinkClosed:
		return domain.ErrLinkClosed
	case l.started:
		return errors.New("peer link already started")
	}
	l.started = true
	l.state = domain.LinkSignaling

	if err := l.enqueue(func() {
		if err := l.setup(stream, cfg); err != nil {
			l.fail(fmt.Errorf("set up peer connection: %w", err))
			return
		}
		if l.initiator {
			l.negotiate(nil)
		}
	}); err != nil {
		return err
	}
	for _, data := range l.pending {
		if err := l.enqueue(func() { l.apply(data) }); err != nil {
			return err
		}
	}
	l.pending = nil
	return nil
}

// ApplySignal queues a remote offer, answer or candidate. Signals that
// arrive before Start are held and replayed once the link starts.
func (l *PeerLink) ApplySignal(_ context.Context, data json.RawMessage) error {
	if domain.ClassifySignal(data) == domain.SignalUnknown {
		return domain.ErrUnknownSignal
	}
	data = bytes.Clone(data)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.state == domain.LinkClosed:
		return domain.ErrLinkClosed
	case !l.started:
		l.pending = append(l.pending, data)
		return nil
	}
	return l.enqueue(func() { l.apply(data) })
}

// SetSending swaps the senders of kind between their track and nothing.
func (l *PeerLink) SetSending(kind domain.TrackKind, enabled bool) error {
	l.mu.Lock()
	l.sending[kind] = enabled
	ready := l.pc != nil
	l.mu.Unlock()
	if !ready {
		return nil
	}
	return l.replaceTracks(kind, enabled)
}

// RestartICE applies new ICE servers, when given, and has the initiator
// signal an ICE-restart offer. Responders wait for that offer.
func (l *PeerLink) RestartICE(_ context.Context, ice *domain.ICEConfig) error {
	var servers *domain.ICEConfig
	if ice != nil && !ice.Empty() {
		cp := *ice
		servers = &cp
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.state == domain.LinkClosed:
		return domain.ErrLinkClosed
	case !l.started:
		return ErrLinkNotStarted
	}
	return l.enqueue(func() {
		pc := l.peer()
		if pc == nil {
			return
		}
		if servers != nil {
			l.updateServers(pc, *servers)
		}
		l.setState(domain.LinkSignaling)
		if l.initiator {
			l.negotiate(&webrtc.OfferOptions{ICERestart: true})
		}
	})
}

func (l *PeerLink) Stats(ctx context.Context) (domain.ConnectionMetrics, error) {
	pc := l.peer()
	if pc == nil {
		return domain.ConnectionMetrics{}, ErrLinkNotStarted
	}
	if err := ctx.Err(); err != nil {
		return domain.ConnectionMetrics{}, err
	}
	return MetricsFromReport(pc.GetStats(), time.Now()), nil
}

// Destroy closes the peer connection. It is safe to call more than once.
func (l *PeerLink) Destroy() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.state = domain.LinkClosed
		l.pending = nil
		pc := l.pc
		l.mu.Unlock()

		close(l.done)
		if pc != nil {
			err = pc.Close()
		}
		l.logger.Debugw("peer link destroyed")
	})
	return err
}

func (l *PeerLink) run() {
	for {
		select {
		case job := <-l.work:
			job()
		case <-l.done:
			return
		}
	}
}

func (l *PeerLink) enqueue(job func()) error {
	select {
	case l.work <- job:
		return nil
	default:
		return errQueueFull
	}
}

func (l *PeerLink) peer() *webrtc.PeerConnection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pc
}

func (l *PeerLink) destroyed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *PeerLink) setState(state domain.PeerLinkState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != domain.LinkClosed {
		l.state = state
	}
}

func (l *PeerLink) emit(ev domain.PeerEvent) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *PeerLink) fail(err error) {
	if l.destroyed() {
		return
	}
	l.logger.Warnw("peer link failed", "error", err)
	l.setState(domain.LinkError)
	l.emit(domain.PeerEvent{Type: domain.EventError, Err: err})
}

func (l *PeerLink) setup(stream domain.MediaStream, ice domain.ICEConfig) error {
	pcConfig := pionConfiguration(ice)
	pc, err := l.api.NewPeerConnection(pcConfig)
	if err != nil {
		return err
	}
	pc.OnConnectionStateChange(l.onConnectionState)
	pc.OnTrack(l.onTrack)

	var bindings []senderBinding
	local := make(map[domain.TrackKind]bool)
	if stream != nil {
		for _, t := range stream.Tracks() {
			lt, ok := t.(LocalTrack)
			if !ok {
				l.logger.Warnw("track cannot feed an RTP sender; skipping", "track_id", t.ID(), "kind", t.Kind())
				continue
			}
			sender, err := pc.AddTrack(lt.TrackLocal())
			if err != nil {
				pc.Close()
				return fmt.Errorf("add %s track: %w", t.Kind(), err)
			}
			bindings = append(bindings, senderBinding{kind: t.Kind(), sender: sender, track: lt.TrackLocal()})
			local[t.Kind()] = true
			go l.readSenderRTCP(sender)
		}
	}

	// Initiators offer an m-line per kind so the remote side can send even
	// when nothing local is captured.
	if l.initiator && !l.role.IsLocalScreenShare() {
		for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
			if local[kind] {
				continue
			}
			if _, err := pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}

	l.mu.Lock()
	if l.state == domain.LinkClosed {
		l.mu.Unlock()
		pc.Close()
		return domain.ErrLinkClosed
	}
	l.pc = pc
	l.pcConfig = pcConfig
	l.senders = bindings
	muted := make([]domain.TrackKind, 0, len(l.sending))
	for kind, enabled := range l.sending {
		if !enabled {
			muted = append(muted, kind)
		}
	}
	l.mu.Unlock()

	for _, kind := range muted {
		if err := l.replaceTracks(kind, false); err != nil {
			l.logger.Warnw("failed to mute sender", "kind", kind, "error", err)
		}
	}
	l.logger.Debugw("peer connection created", "initiator", l.initiator, "senders", len(bindings))
	return nil
}

func (l *PeerLink) negotiate(opts *webrtc.OfferOptions) {
	pc := l.peer()
	if pc == nil {
		return
	}
	offer, err := pc.CreateOffer(opts)
	if err != nil {
		l.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := l.describe(pc, offer); err != nil {
		l.fail(fmt.Errorf("set local offer: %w", err))
	}
}

// describe sets the local description, waits for gathering and signals
// the description with its candidates.
func (l *PeerLink) describe(pc *webrtc.PeerConnection, desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return err
	}

	timer := time.NewTimer(l.cfg.GatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		l.logger.Warnw("ice gathering timed out; signalling partial candidates", "timeout", l.cfg.GatherTimeout)
	case <-l.done:
		return domain.ErrLinkClosed
	}

	local := pc.LocalDescription()
	if local == nil {
		return errors.New("no local description after gathering")
	}
	data, err := json.Marshal(local)
	if err != nil {
		return err
	}
	l.emit(domain.PeerEvent{
		Type:   domain.EventSignal,
		Signal: &domain.Signal{Kind: domain.SignalKind(local.Type.String()), Data: data},
	})
	return nil
}

func (l *PeerLink) apply(data json.RawMessage) {
	pc := l.peer()
	if pc == nil {
		return
	}
	switch domain.ClassifySignal(data) {
	case domain.SignalOffer:
		if l.initiator && pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			l.logger.Warnw("ignoring remote offer while our offer is outstanding")
			return
		}
		if err := l.answer(pc, data); err != nil {
			l.fail(err)
		}
	case domain.SignalAnswer:
		if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
			l.logger.Warnw("ignoring answer without an outstanding offer", "signaling_state", pc.SignalingState().String())
			return
		}
		if err := l.acceptAnswer(pc, data); err != nil {
			l.fail(err)
		}
	case domain.SignalCandidate:
		if err := l.addCandidate(pc, data); err != nil {
			l.logger.Warnw("discarding remote candidate", "error", err)
		}
	}
}

func (l *PeerLink) answer(pc *webrtc.PeerConnection, data json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	l.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.describe(pc, answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	return nil
}

func (l *PeerLink) acceptAnswer(pc *webrtc.PeerConnection, data json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.flushCandidates(pc)
	return nil
}

func (l *PeerLink) addCandidate(pc *webrtc.PeerConnection, data json.RawMessage) error {
	candidate, err := parseCandidate(data)
	if err != nil {
		return err
	}
	if pc.RemoteDescription() == nil {
		l.candidates = append(l.candidates, candidate)
		return nil
	}
	return pc.AddICECandidate(candidate)
}

func (l *PeerLink) flushCandidates(pc *webrtc.PeerConnection) {
	queued := l.candidates
	l.candidates = nil
	for _, c := range queued {
		if err := pc.AddICECandidate(c); err != nil {
			l.logger.Warnw("discarding queued candidate", "error", err)
		}
	}
}

// parseCandidate accepts a bare candidate init or one nested under
// "candidate".
func parseCandidate(data json.RawMessage) (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit
	var wrapped struct {
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return init, fmt.Errorf("decode candidate: %w", err)
	}
	if raw := bytes.TrimSpace(wrapped.Candidate); len(raw) > 0 && raw[0] == '{' {
		data = raw
	}
	if err := json.Unmarshal(data, &init); err != nil {
		return init, fmt.Errorf("decode candidate: %w", err)
	}
	if init.Candidate == "" {
		return init, errors.New("empty candidate")
	}
	return init, nil
}

func (l *PeerLink) updateServers(pc *webrtc.PeerConnection, ice domain.ICEConfig) {
	l.mu.Lock()
	cfg := l.pcConfig
	l.mu.Unlock()

	next := pionConfiguration(ice)
	cfg.ICEServers = next.ICEServers
	cfg.ICETransportPolicy = next.ICETransportPolicy
	if err := pc.SetConfiguration(cfg); err != nil {
		l.logger.Warnw("failed to apply new ice servers", "error", err)
		return
	}
	l.mu.Lock()
	l.pcConfig = cfg
	l.mu.Unlock()
}

func (l *PeerLink) replaceTracks(kind domain.TrackKind, enabled bool) error {
	l.mu.Lock()
	bindings := slices.Clone(l.senders)
	l.mu.Unlock()

	var errs []error
	for _, b := range bindings {
		if b.kind != kind {
			continue
		}
		var track webrtc.TrackLocal
		if enabled {
			track = b.track
		}
		if err := b.sender.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("replace %s track: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

func (l *PeerLink) onConnectionState(state webrtc.PeerConnectionState) {
	l.logger.Debugw("peer connection state changed", "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.setState(domain.LinkConnected)
		l.emit(domain.PeerEvent{Type: domain.EventConnect})
	case webrtc.PeerConnectionStateDisconnected:
		l.emit(domain.PeerEvent{Type: domain.EventDisconnected})
	case webrtc.PeerConnectionStateFailed:
		l.fail(domain.ErrConnectionFailed)
	case webrtc.PeerConnectionStateClosed:
		if !l.destroyed() {
			l.setState(domain.LinkClosed)
			l.emit(domain.PeerEvent{Type: domain.EventClose})
		}
	}
}

func (l *PeerLink) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	info := domain.TrackInfo{
		ID:    track.ID(),
		Kind:  trackKind(track.Kind()),
		Codec: track.Codec().MimeType,
	}

	l.mu.Lock()
	if l.remote == nil || l.remote.ID != track.StreamID() {
		l.remote = &domain.RemoteStream{ID: track.StreamID()}
	}
	l.remote.Tracks = append(l.remote.Tracks, info)
	snapshot := l.remote.Clone()
	pc := l.pc
	l.mu.Unlock()

	l.logger.Infow("remote track received", "track_id", info.ID, "kind", info.Kind, "codec", info.Codec)
	l.emit(domain.PeerEvent{Type: domain.EventStream, Stream: snapshot})

	if info.Kind == domain.TrackVideo && pc != nil {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := pc.WriteRTCP(pli); err != nil {
			l.logger.Debugw("failed to request keyframe", "error", err)
		}
	}
	go drainTrack(track)
}

// drainTrack consumes remote RTP so receive buffers keep moving.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, rtpMTU)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// readSenderRTCP drains sender RTCP so interceptors see receiver feedback.
func (l *PeerLink) readSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			switch p := p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				l.logger.Debugw("remote requested a keyframe")
			case *rtcp.TransportLayerNack:
				l.logger.Debugw("remote reported lost packets", "nacks", len(p.Nacks))
			case *rtcp.ReceiverReport:
				for _, r := range p.Reports {
					l.logger.Debugw("receiver report", "ssrc", r.SSRC, "fraction_lost", r.FractionLost, "jitter", r.Jitter)
				}
			}
		}
	}
}

func codecType(kind domain.TrackKind) webrtc.RTPCodecType {
	if kind == domain.TrackAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func trackKind(t webrtc.RTPCodecType) domain.TrackKind {
	if t == webrtc.RTPCodecTypeAudio {
		return domain.TrackAudio
	}
	return domain.TrackVideo
}
