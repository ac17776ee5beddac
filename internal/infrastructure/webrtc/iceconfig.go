package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/pkg/cache"
	"callcore/pkg/circuitbreaker"
	"callcore/pkg/retry"
	"callcore/pkg/tracing"

	"go.uber.org/zap"
)

const (
	iceCacheKey      = "ice-config"
	maxICEConfigBody = 1 << 20
)

var ErrNoICEServers = errors.New("ice config endpoint returned no servers")

type ICEProviderConfig struct {
	Endpoint string
	Header   http.Header
	Timeout  time.Duration
	CacheTTL time.Duration
	Retry    retry.Config
	Breaker  circuitbreaker.Config
}

func DefaultICEProviderConfig(endpoint string) ICEProviderConfig {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = 2
	return ICEProviderConfig{
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
		CacheTTL: 5 * time.Minute,
		Retry:    rc,
		Breaker:  circuitbreaker.DefaultConfig(),
	}
}

// ICEProvider fetches ICE servers from a configuration endpoint. Results
// are cached for CacheTTL; when the endpoint is unset or unreachable the
// fallback servers are returned.
type ICEProvider struct {
	cfg      ICEProviderConfig
	fallback domain.ICEConfig
	client   *http.Client
	cache    *cache.Cache[domain.ICEConfig]
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.SugaredLogger
}

var _ ports.ICEConfigProvider = (*ICEProvider)(nil)

func NewICEProvider(cfg ICEProviderConfig, fallback domain.ICEConfig, logger *zap.SugaredLogger) *ICEProvider {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg.Retry.Permanent = append(cfg.Retry.Permanent, circuitbreaker.ErrOpen, context.Canceled)

	p := &ICEProvider{
		cfg:      cfg,
		fallback: fallback,
		client:   &http.Client{Timeout: cfg.Timeout},
		cache:    cache.New[domain.ICEConfig](cfg.CacheTTL),
		breaker:  circuitbreaker.New(cfg.Breaker),
		logger:   logger,
	}
	p.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("ice config circuit changed", "from", from.String(), "to", to.String())
	})
	return p
}

func (p *ICEProvider) ICEConfig(ctx context.Context) (domain.ICEConfig, error) {
	if p.cfg.Endpoint == "" {
		return p.fallback, nil
	}
	if cfg, ok := p.cache.Get(iceCacheKey); ok {
		return cfg, nil
	}

	ctx, span := tracing.TraceICEConfig(ctx, "endpoint")
	defer span.End()

	cfg, err := retry.RetryWithResult(ctx, p.cfg.Retry, func() (domain.ICEConfig, error) {
		return circuitbreaker.ExecuteWithResult(ctx, p.breaker, p.fetch)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		if p.fallback.Empty() {
			return domain.ICEConfig{}, err
		}
		p.logger.Warnw("ice config fetch failed; using fallback servers",
			"endpoint", p.cfg.Endpoint,
			"error", err,
		)
		return p.fallback, nil
	}

	if p.cfg.CacheTTL > 0 {
		p.cache.Set(iceCacheKey, cfg)
	}
	p.logger.Debugw("ice config fetched", "servers", len(cfg.ICEServers))
	return cfg, nil
}

func (p *ICEProvider) Close() {
	p.cache.Stop()
}

func (p *ICEProvider) fetch(ctx context.Context) (domain.ICEConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint, nil)
	if err != nil {
		return domain.ICEConfig{}, err
	}
	for key, values := range p.cfg.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ICEConfig{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ICEConfig{}, fmt.Errorf("ice config endpoint returned %s", resp.Status)
	}
	var cfg domain.ICEConfig
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxICEConfigBody)).Decode(&cfg); err != nil {
		return domain.ICEConfig{}, fmt.Errorf("decode ice config: %w", err)
	}
	if cfg.Empty() {
		return domain.ICEConfig{}, ErrNoICEServers
	}
	return cfg, nil
}
