package webrtc

import (
	"context"
	"fmt"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

type Config struct {
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// GatherTimeout bounds the wait for ICE gathering before a description
	// is signalled with whatever candidates were found.
	GatherTimeout   time.Duration
	IncludeLoopback bool
	// RegisterCodecs populates the media engine. Nil registers the pion
	// default codecs.
	RegisterCodecs func(*webrtc.MediaEngine) error
}

func DefaultConfig() Config {
	return Config{
		DisconnectedTimeout: 10 * time.Second,
		FailedTimeout:       30 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		GatherTimeout:       10 * time.Second,
	}
}

// Factory builds pion-backed peer links sharing one API instance.
type Factory struct {
	api    *webrtc.API
	cfg    Config
	logger *zap.SugaredLogger
}

var _ ports.PeerLinkFactory = (*Factory)(nil)

func NewFactory(cfg Config, logger *zap.SugaredLogger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultConfig().GatherTimeout
	}

	mediaEngine := &webrtc.MediaEngine{}
	register := cfg.RegisterCodecs
	if register == nil {
		register = (*webrtc.MediaEngine).RegisterDefaultCodecs
	}
	if err := register(mediaEngine); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		settingEngine.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	settingEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return &Factory{api: api, cfg: cfg, logger: logger}, nil
}

func (f *Factory) NewPeerLink(ctx context.Context, opts ports.PeerLinkOptions) (ports.PeerLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newPeerLink(f.api, f.cfg, opts, f.logger), nil
}

// pionConfiguration converts an ICE configuration into a pion one.
func pionConfiguration(ice domain.ICEConfig) webrtc.Configuration {
	cfg := webrtc.Configuration{
		ICEServers:         make([]webrtc.ICEServer, 0, len(ice.ICEServers)),
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	for _, s := range ice.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		cfg.ICEServers = append(cfg.ICEServers, server)
	}
	if ice.ICETransportPolicy == "relay" {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cfg
}
