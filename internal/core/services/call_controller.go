package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	apperrors "callcore/pkg/errors"

	"go.uber.org/zap"
)

const (
	inboxSize      = 64
	linkEventsSize = 64
	teardownBudget = 5 * time.Second
)

type ControllerConfig struct {
	UserID               domain.UserID
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	MaxParticipants      int
	QualityInterval      time.Duration
	StatsTimeout         time.Duration
	DefaultConstraints   domain.MediaConstraints
	FallbackICE          domain.ICEConfig
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       2 * time.Second,
		MaxParticipants:      4,
		QualityInterval:      5 * time.Second,
		StatsTimeout:         2 * time.Second,
		DefaultConstraints: domain.MediaConstraints{
			Audio: domain.DefaultAudioConstraints(),
			Video: &domain.VideoConstraints{Width: 1280, Height: 720, FrameRate: 30},
		},
		FallbackICE: domain.PublicSTUNConfig(),
	}
}

// ControllerDeps are the collaborators a CallController drives. Signaling,
// Media and Links are required; the rest may be nil.
type ControllerDeps struct {
	Signaling ports.SignalingChannel
	Media     *MediaAcquirer
	Links     ports.PeerLinkFactory
	ICE       ports.ICEConfigProvider
	Recorder  ports.Recorder
	History   ports.CallHistoryRepository
	Metrics   ports.MetricsRecorder
	Quality   *QualityService
	Logger    *zap.SugaredLogger
}

var _ ports.CallControl = (*CallController)(nil)

type linkEvent struct {
	link  ports.PeerLink
	event domain.PeerEvent
}

// CallController orchestrates one client's calls. All state below the
// loop-owned marker is read and written only by the Run goroutine; other
// goroutines hand work to it through the inbox.
type CallController struct {
	cfg       ControllerConfig
	signaling ports.SignalingChannel
	media     *MediaAcquirer
	factory   ports.PeerLinkFactory
	ice       ports.ICEConfigProvider
	recorder  ports.Recorder
	history   ports.CallHistoryRepository
	metrics   ports.MetricsRecorder
	quality   *QualityService
	monitor   *QualityMonitor
	logger    *zap.SugaredLogger

	inbox      chan func()
	linkEvents chan linkEvent
	updates    chan domain.CallSnapshot
	stopped    chan struct{}
	running    atomic.Bool
	latest     atomic.Pointer[domain.CallSnapshot]
	runCtx     context.Context

	// loop-owned
	state             domain.ConnectionState
	signalingState    domain.SignalingState
	session           *domain.Session
	generation        uint64
	registry          *PeerRegistry
	iceConfig         domain.ICEConfig
	constraints       domain.MediaConstraints
	localStream       domain.MediaStream
	captureTier       domain.CaptureTier
	mediaReady        bool
	pendingStarts     []domain.PeerRole
	screenStream      domain.MediaStream
	screenType        domain.ScreenType
	features          domain.FeatureState
	peer              domain.PeerFeatureState
	recording         domain.RecordingState
	artifacts         []domain.RecordingArtifact
	lastMetrics       *domain.ConnectionMetrics
	lastQuality       domain.ConnectionQuality
	targetBitrate     int
	reconnectAttempts int
	totalReconnects   int
	restartTimer      *time.Timer
	participantCount  int
	lastErr           *apperrors.AppError
	lastErrAt         time.Time
	endReason         string
}

func NewCallController(cfg ControllerConfig, deps ControllerDeps) *CallController {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Quality == nil {
		deps.Quality = NewQualityService()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if cfg.MaxParticipants < 2 {
		cfg.MaxParticipants = 2
	}
	if cfg.QualityInterval <= 0 {
		cfg.QualityInterval = 5 * time.Second
	}
	if cfg.StatsTimeout <= 0 {
		cfg.StatsTimeout = 2 * time.Second
	}
	if cfg.FallbackICE.Empty() {
		cfg.FallbackICE = domain.PublicSTUNConfig()
	}

	c := &CallController{
		cfg:            cfg,
		signaling:      deps.Signaling,
		media:          deps.Media,
		factory:        deps.Links,
		ice:            deps.ICE,
		recorder:       deps.Recorder,
		history:        deps.History,
		metrics:        deps.Metrics,
		quality:        deps.Quality,
		logger:         deps.Logger.With("user_id", cfg.UserID),
		monitor:        NewQualityMonitor(deps.Quality, cfg.QualityInterval, cfg.StatsTimeout, deps.Logger),
		inbox:          make(chan func(), inboxSize),
		linkEvents:     make(chan linkEvent, linkEventsSize),
		updates:        make(chan domain.CallSnapshot, 1),
		stopped:        make(chan struct{}),
		runCtx:         context.Background(),
		state:          domain.StateIdle,
		signalingState: domain.SignalingConnecting,
		registry:       NewPeerRegistry(),
		features:       domain.DefaultFeatureState(),
		lastQuality:    domain.QualityUnknown,
	}
	c.publish()
	return c
}

// Run drives the controller until ctx is cancelled. It cleans up any
// active session before returning.
func (c *CallController) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("call controller already running")
	}
	c.runCtx = ctx
	defer func() {
		c.cleanup("controller-stopped")
		c.publish()
		close(c.stopped)
	}()

	messages := c.signaling.Messages()
	status := c.signaling.Status()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-messages:
			c.dispatch(msg)
		case st := <-status:
			c.onSignalingStatus(st)
		case ev := <-c.linkEvents:
			c.onLinkEvent(ev)
		case fn := <-c.inbox:
			fn()
		}
		c.publish()
	}
}

// Snapshot returns the most recently published state.
func (c *CallController) Snapshot() domain.CallSnapshot {
	return *c.latest.Load()
}

// Updates delivers snapshots after state changes. Only the newest
// undelivered snapshot is kept.
func (c *CallController) Updates() <-chan domain.CallSnapshot {
	return c.updates
}

// Done is closed once Run has returned.
func (c *CallController) Done() <-chan struct{} {
	return c.stopped
}

// post queues fn for the loop. It reports false if the loop has stopped.
func (c *CallController) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (c *CallController) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	task := func() {
		err := fn()
		c.publish()
		errc <- err
	}
	select {
	case c.inbox <- task:
	case <-c.stopped:
		return domain.ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-c.stopped:
		select {
		case err := <-errc:
			return err
		default:
			return domain.ErrControllerStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CallController) publish() {
	snap := c.snapshot()
	c.latest.Store(&snap)
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

func (c *CallController) snapshot() domain.CallSnapshot {
	snap := domain.CallSnapshot{
		State:             c.state,
		SignalingState:    c.signalingState,
		LocalStream:       domain.DescribeStream(c.localStream),
		ScreenStream:      domain.DescribeStream(c.screenStream),
		ScreenType:        c.screenType,
		CaptureTier:       c.captureTier,
		Quality:           c.lastQuality,
		TargetBitrate:     c.targetBitrate,
		Features:          c.features,
		Peer:              c.peer,
		Recording:         c.recording,
		ParticipantCount:  c.participantCount,
		ReconnectAttempts: c.reconnectAttempts,
		EndReason:         c.endReason,
	}
	if c.session != nil {
		s := *c.session
		snap.Session = &s
	}
	if c.lastMetrics != nil {
		m := *c.lastMetrics
		snap.Metrics = &m
	}
	for _, link := range c.registry.All() {
		snap.Links = append(snap.Links, domain.LinkInfo{
			Role:         link.Role().String(),
			State:        link.State(),
			Initiator:    link.Initiator(),
			RemoteStream: link.RemoteStream(),
		})
	}
	if c.lastErr != nil {
		snap.Error = &domain.SessionError{
			Code:    string(c.lastErr.Code),
			Message: c.lastErr.Error(),
			At:      c.lastErrAt,
		}
	}
	return snap
}

// setError records err as the session's latest error.
func (c *CallController) setError(err *apperrors.AppError) {
	c.lastErr = err
	c.lastErrAt = time.Now()
	c.logger.Warnw("call error",
		"code", err.Code,
		"error", err.Error(),
		"state", c.state,
	)
}

func (c *CallController) send(msg domain.Outbound) bool {
	env := domain.Envelope{UserID: c.cfg.UserID, Message: msg}
	if c.session != nil {
		env.SessionID = c.session.ID
	}
	if !c.signaling.Send(env) {
		c.logger.Debugw("signaling message dropped", "type", msg.Type())
		return false
	}
	return true
}

func (c *CallController) sessionID() domain.SessionID {
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

func (c *CallController) stopRestartTimer() {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
}

// cleanup tears down every resource the current session holds and returns
// the controller to idle. Calling it with nothing to release is a no-op
// apart from the state reset.
func (c *CallController) cleanup(reason string) {
	c.stopRestartTimer()
	c.monitor.Stop()
	c.generation++

	ctx, cancel := context.WithTimeout(context.Background(), teardownBudget)
	defer cancel()

	if c.recording.IsRecording {
		if _, err := c.finishRecording(ctx); err != nil {
			c.logger.Warnw("recording stop failed during cleanup", "error", err)
		}
	}

	for _, link := range c.registry.Clear() {
		if err := link.Destroy(); err != nil {
			c.logger.Debugw("peer link destroy failed", "role", link.Role().String(), "error", err)
		}
	}
	c.metrics.ActiveLinks(0)

	c.releaseStream(c.localStream)
	c.localStream = nil
	c.releaseStream(c.screenStream)
	c.screenStream = nil
	c.screenType = ""

	if c.session != nil {
		record := c.callRecord(reason)
		c.metrics.CallEnded(reason, record.Duration())
		c.saveHistory(record)
		c.logger.Infow("session cleaned up",
			"session_id", c.session.ID,
			"reason", reason,
		)
	}

	c.session = nil
	c.state = domain.StateIdle
	c.constraints = domain.MediaConstraints{}
	c.captureTier = domain.TierNone
	c.mediaReady = false
	c.pendingStarts = nil
	c.features = domain.DefaultFeatureState()
	c.peer = domain.PeerFeatureState{}
	c.recording = domain.RecordingState{}
	c.artifacts = nil
	c.lastMetrics = nil
	c.lastQuality = domain.QualityUnknown
	c.targetBitrate = 0
	c.reconnectAttempts = 0
	c.totalReconnects = 0
	c.participantCount = 0
}

func (c *CallController) releaseStream(stream domain.MediaStream) {
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		c.logger.Debugw("media stream close failed", "stream_id", stream.ID(), "error", err)
	}
}

func (c *CallController) callRecord(reason string) *domain.CallRecord {
	record := &domain.CallRecord{
		SessionID:   c.session.ID,
		UserID:      c.cfg.UserID,
		PeerID:      c.session.PeerID,
		IsInitiator: c.session.IsInitiator,
		StartedAt:   c.session.StartedAt,
		ConnectedAt: c.session.ConnectedAt,
		EndedAt:     time.Now(),
		EndReason:   reason,
		FinalState:  c.state,
		Quality:     c.lastQuality,
		Reconnects:  c.totalReconnects,
	}
	record.Recordings = append(record.Recordings, c.artifacts...)
	return record
}

func (c *CallController) saveHistory(record *domain.CallRecord) {
	if c.history == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownBudget)
		defer cancel()
		if err := c.history.Save(ctx, record); err != nil {
			c.logger.Warnw("call history save failed",
				"session_id", record.SessionID,
				"error", err,
			)
		}
	}()
}

// History lists saved call records, newest first.
func (c *CallController) History(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if c.history == nil {
		return []*domain.CallRecord{}, nil
	}
	return c.history.List(ctx, limit)
}

type noopMetrics struct{}

func (noopMetrics) MatchFound()                          {}
func (noopMetrics) CallConnected(time.Duration)          {}
func (noopMetrics) CallEnded(string, time.Duration)      {}
func (noopMetrics) ReconnectAttempt()                    {}
func (noopMetrics) ICERestart()                          {}
func (noopMetrics) SignalingState(domain.SignalingState) {}
func (noopMetrics) MediaCaptured(domain.CaptureTier)     {}
func (noopMetrics) QualitySample(domain.QualitySample)   {}
func (noopMetrics) RecordingStopped(int64)               {}
func (noopMetrics) ActiveLinks(int)                      {}
