package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/services"
	httphandlers "callcore/internal/handlers/http"
	"callcore/internal/infrastructure/media"
	"callcore/internal/infrastructure/middleware"
	"callcore/internal/infrastructure/monitoring"
	"callcore/internal/infrastructure/repositories"
	"callcore/internal/infrastructure/signal"
	webrtcinfra "callcore/internal/infrastructure/webrtc"
	"callcore/pkg/config"
	"callcore/pkg/logger"
	"callcore/pkg/retry"
	"callcore/pkg/tracing"
	"callcore/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	chainID     string
	preferences map[string]string
	noJoin      bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to signaling, join the queue and run calls until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			defer log.Sync()
			return runClient(cmd.Context(), cfg, log, opts)
		},
	}

	cmd.Flags().StringVar(&opts.chainID, "chain", "", "matchmaking chain id")
	cmd.Flags().StringToStringVar(&opts.preferences, "pref", nil, "matchmaking preference key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.noJoin, "no-join", false, "connect without joining the queue (use the control API)")
	return cmd
}

func runClient(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, opts *runOptions) error {
	userID, err := utils.ResolveUserID(cfg.Identity.UserID, cfg.Identity.Token)
	if err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}
	ctx = logger.WithUserID(ctx, userID)
	clog := logger.NewContextLogger(log)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracer shutdown failed", "error", err)
		}
	}()

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	defer repoFactory.Close()
	history := repoFactory.CreateHistoryRepository()

	devices, err := media.NewDevices(media.DeviceConfig{VideoBitrate: cfg.Call.BaseBitrateKbps * 1000}, log)
	if err != nil {
		return fmt.Errorf("failed to open media devices: %w", err)
	}

	linkFactory, err := webrtcinfra.NewFactory(webrtcinfra.Config{
		DisconnectedTimeout: cfg.WebRTC.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.WebRTC.ICEFailedTimeout,
		KeepAliveInterval:   webrtcinfra.DefaultConfig().KeepAliveInterval,
		GatherTimeout:       webrtcinfra.DefaultConfig().GatherTimeout,
		IncludeLoopback:     cfg.WebRTC.IncludeLoopback,
		RegisterCodecs:      devices.RegisterCodecs,
	}, log)
	if err != nil {
		return err
	}

	fallbackICE := domain.PublicSTUNConfig(cfg.WebRTC.FallbackICEServers...)
	iceCfg := webrtcinfra.DefaultICEProviderConfig(cfg.WebRTC.ConfigEndpoint)
	iceCfg.Timeout = cfg.WebRTC.ConfigTimeout
	iceCfg.CacheTTL = cfg.WebRTC.ConfigCacheTTL
	iceCfg.Header = authHeader(cfg.Identity.Token)
	iceProvider := webrtcinfra.NewICEProvider(iceCfg, fallbackICE, log)
	defer iceProvider.Close()

	sigCfg := signal.DefaultConfig(cfg.Signaling.URL)
	sigCfg.Header = authHeader(cfg.Identity.Token)
	sigCfg.UserID = domain.UserID(userID)
	sigCfg.HeartbeatInterval = cfg.Signaling.HeartbeatInterval
	sigCfg.WriteTimeout = cfg.Signaling.WriteTimeout
	sigCfg.ReadLimit = cfg.Signaling.ReadLimit
	sigCfg.Reconnect.InitialDelay = cfg.Signaling.Reconnect.MinDelay
	sigCfg.Reconnect.MaxDelay = cfg.Signaling.Reconnect.MaxDelay
	sigCfg.Reconnect.Multiplier = cfg.Signaling.Reconnect.Factor
	sigCfg.Reconnect.MaxAttempts = cfg.Signaling.Reconnect.MaxRetries
	signaling := signal.NewClient(sigCfg, log)
	defer signaling.Close()

	ccfg := services.DefaultControllerConfig()
	ccfg.UserID = domain.UserID(userID)
	ccfg.AutoReconnect = cfg.Call.AutoReconnect
	ccfg.MaxReconnectAttempts = cfg.Call.MaxReconnectAttempts
	ccfg.ReconnectDelay = cfg.Call.ReconnectDelay
	ccfg.MaxParticipants = cfg.Call.MaxParticipants
	ccfg.QualityInterval = cfg.Call.QualityInterval
	ccfg.StatsTimeout = cfg.Call.StatsTimeout
	ccfg.FallbackICE = fallbackICE
	ccfg.DefaultConstraints = defaultConstraints(cfg)

	deps := services.ControllerDeps{
		Signaling: signaling,
		Media: services.NewMediaAcquirer(devices, services.LowResolution{
			Width:  cfg.Media.LowRes.Width,
			Height: cfg.Media.LowRes.Height,
		}, log),
		Links:    linkFactory,
		ICE:      iceProvider,
		Recorder: media.NewFileRecorder(cfg.Recording.Dir, log),
		History:  history,
		Quality:  services.NewQualityServiceWithBitrates(cfg.Call.BaseBitrateKbps, cfg.Call.MinBitrateKbps),
		Logger:   log,
	}
	if collector != nil {
		deps.Metrics = collector
	}
	controller := services.NewCallController(ccfg, deps)

	health := monitoring.NewHealthChecker()
	health.AddSignalingCheck(func() domain.SignalingState {
		return controller.Snapshot().SignalingState
	}, 0)
	health.AddHistoryCheck(history, time.Minute, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	health.StartBackgroundChecks(runCtx, func(name string, err error) {
		log.Warnw("health check failed", "check", name, "error", err)
	})

	servers := startServers(cfg, controller, health, log)
	defer shutdownServers(servers, log)

	connectRetry := sigCfg.Reconnect
	if err := retry.Retry(runCtx, connectRetry, func() error {
		return signaling.Connect(runCtx)
	}); err != nil {
		return fmt.Errorf("failed to connect to signaling at %s: %w", cfg.Signaling.URL, err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- controller.Run(runCtx) }()
	go logSnapshots(runCtx, controller, clog)

	clog.Infow(ctx, "call client started",
		"signaling_url", cfg.Signaling.URL,
		"control_api", cfg.ControlAPI.Enabled,
	)

	if !opts.noJoin {
		if err := controller.JoinQueue(runCtx, opts.chainID, opts.preferences); err != nil {
			clog.Errorw(ctx, err, "failed to join queue")
		}
	}

	select {
	case <-ctx.Done():
		clog.Infow(ctx, "shutting down call client")
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(shutdownTimeout):
		log.Warn("controller did not stop in time")
	}
	return nil
}

func defaultConstraints(cfg *config.Config) domain.MediaConstraints {
	c := domain.MediaConstraints{
		Video: &domain.VideoConstraints{
			Width:     cfg.Media.Video.Width,
			Height:    cfg.Media.Video.Height,
			FrameRate: cfg.Media.Video.FrameRate,
		},
	}
	if cfg.Media.Audio {
		c.Audio = domain.DefaultAudioConstraints()
	}
	return c
}

func authHeader(token string) http.Header {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// logSnapshots logs connection state transitions published by the controller.
func logSnapshots(ctx context.Context, controller *services.CallController, clog *logger.ContextLogger) {
	var last domain.ConnectionState
	for {
		select {
		case <-ctx.Done():
			return
		case <-controller.Done():
			return
		case snap := <-controller.Updates():
			if snap.State == last {
				continue
			}
			last = snap.State
			logSnapshot(ctx, clog, snap)
		}
	}
}

func logSnapshot(ctx context.Context, clog *logger.ContextLogger, snap domain.CallSnapshot) {
	kv := []interface{}{"state", snap.State, "signaling", snap.SignalingState}
	if snap.Session != nil {
		ctx = logger.WithSessionID(ctx, string(snap.Session.ID))
		kv = append(kv, "peer_id", snap.Session.PeerID)
	}
	if snap.Error != nil {
		kv = append(kv, "error", snap.Error.Message)
	}
	clog.Infow(ctx, "call state", kv...)
}

func startServers(cfg *config.Config, controller *services.CallController, health *monitoring.HealthChecker, log *zap.SugaredLogger) []*http.Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	var servers []*http.Server

	if cfg.ControlAPI.Enabled {
		router := gin.New()
		router.Use(
			middleware.RecoveryMiddleware(log),
			middleware.TracingMiddleware(),
			middleware.NewHTTPRateLimitMiddleware(cfg),
			middleware.ErrorHandlerMiddleware(log),
		)
		httphandlers.NewCallHandler(controller, health).SetupRoutes(router)
		if cfg.Monitoring.PrometheusEnabled && cfg.Monitoring.Address == cfg.ControlAPI.Address {
			router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		}
		servers = append(servers, serve(cfg.ControlAPI.Address, router, "control api", log))
	}

	if cfg.Monitoring.PrometheusEnabled && (!cfg.ControlAPI.Enabled || cfg.Monitoring.Address != cfg.ControlAPI.Address) {
		router := gin.New()
		router.Use(middleware.RecoveryMiddleware(log))
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		servers = append(servers, serve(cfg.Monitoring.Address, router, "metrics", log))
	}

	return servers
}

func serve(addr string, handler http.Handler, name string, log *zap.SugaredLogger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infow("starting http server", "server", name, "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("http server failed", "server", name, "error", err)
		}
	}()
	return srv
}

func shutdownServers(servers []*http.Server, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorw("error during server shutdown", "address", srv.Addr, "error", err)
			srv.Close()
		}
	}
}
