package config

import (
	"fmt"
	"os"
	"time"

	"callcore/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Signaling struct {
		URL               string        `yaml:"url"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		ReadLimit         int64         `yaml:"read_limit"`
		Reconnect         struct {
			MinDelay   time.Duration `yaml:"min_delay"`
			MaxDelay   time.Duration `yaml:"max_delay"`
			Factor     float64       `yaml:"factor"`
			MaxRetries int           `yaml:"max_retries"`
		} `yaml:"reconnect"`
	} `yaml:"signaling"`

	WebRTC struct {
		ConfigEndpoint         string        `yaml:"config_endpoint"`
		ConfigTimeout          time.Duration `yaml:"config_timeout"`
		ConfigCacheTTL         time.Duration `yaml:"config_cache_ttl"`
		FallbackICEServers     []string      `yaml:"fallback_ice_servers"`
		IncludeLoopback        bool          `yaml:"include_loopback"`
		ICEDisconnectedTimeout time.Duration `yaml:"ice_disconnected_timeout"`
		ICEFailedTimeout       time.Duration `yaml:"ice_failed_timeout"`
	} `yaml:"webrtc"`

	Call struct {
		AutoReconnect        bool          `yaml:"auto_reconnect"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
		MaxParticipants      int           `yaml:"max_participants"`
		QualityInterval      time.Duration `yaml:"quality_interval"`
		StatsTimeout         time.Duration `yaml:"stats_timeout"`
		BaseBitrateKbps      int           `yaml:"base_bitrate_kbps"`
		MinBitrateKbps       int           `yaml:"min_bitrate_kbps"`
	} `yaml:"call"`

	Media struct {
		Audio bool `yaml:"audio"`
		Video struct {
			Width     int     `yaml:"width"`
			Height    int     `yaml:"height"`
			FrameRate float64 `yaml:"frame_rate"`
		} `yaml:"video"`
		LowRes struct {
			Width  int `yaml:"width"`
			Height int `yaml:"height"`
		} `yaml:"low_res"`
	} `yaml:"media"`

	Recording struct {
		Dir string `yaml:"dir"`
	} `yaml:"recording"`

	Identity struct {
		UserID string `yaml:"user_id"`
		Token  string `yaml:"token"`
	} `yaml:"identity"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		Address           string `yaml:"address"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
		Environment string  `yaml:"environment"`
	} `yaml:"tracing"`

	Redis struct {
		Enabled    bool          `yaml:"enabled"`
		Address    string        `yaml:"address"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		PoolSize   int           `yaml:"pool_size"`
		HistoryTTL time.Duration `yaml:"history_ttl"`
	} `yaml:"redis"`

	ControlAPI struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		RateLimit struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"control_api"`
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if c.Signaling.URL != "" {
		if err := validation.ValidateURL(c.Signaling.URL, "ws", "wss"); err != nil {
			return fmt.Errorf("signaling.url: %w", err)
		}
	}
	if c.WebRTC.ConfigEndpoint != "" {
		if err := validation.ValidateURL(c.WebRTC.ConfigEndpoint, "http", "https"); err != nil {
			return fmt.Errorf("webrtc.config_endpoint: %w", err)
		}
	}
	if c.Signaling.HeartbeatInterval <= 0 {
		return fmt.Errorf("signaling.heartbeat_interval must be > 0")
	}
	if c.Signaling.Reconnect.MinDelay <= 0 {
		return fmt.Errorf("signaling.reconnect.min_delay must be > 0")
	}
	if c.Signaling.Reconnect.MaxDelay < c.Signaling.Reconnect.MinDelay {
		return fmt.Errorf("signaling.reconnect.max_delay must be >= min_delay")
	}
	if c.Signaling.Reconnect.Factor < 1 {
		return fmt.Errorf("signaling.reconnect.factor must be >= 1")
	}
	if c.Signaling.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("signaling.reconnect.max_retries must be >= 0")
	}

	if c.Call.MaxReconnectAttempts < 0 {
		return fmt.Errorf("call.max_reconnect_attempts must be >= 0")
	}
	if c.Call.MaxParticipants < 2 {
		return fmt.Errorf("call.max_participants must be >= 2")
	}
	if c.Call.QualityInterval <= 0 {
		return fmt.Errorf("call.quality_interval must be > 0")
	}
	if c.Call.StatsTimeout <= 0 || c.Call.StatsTimeout > c.Call.QualityInterval {
		return fmt.Errorf("call.stats_timeout must be > 0 and <= quality_interval")
	}
	if c.Call.MinBitrateKbps <= 0 || c.Call.BaseBitrateKbps < c.Call.MinBitrateKbps {
		return fmt.Errorf("call.base_bitrate_kbps must be >= min_bitrate_kbps > 0")
	}

	if c.Media.Video.Width <= 0 || c.Media.Video.Height <= 0 {
		return fmt.Errorf("media.video dimensions must be > 0")
	}
	if c.Media.LowRes.Width <= 0 || c.Media.LowRes.Height <= 0 {
		return fmt.Errorf("media.low_res dimensions must be > 0")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	if c.ControlAPI.Enabled && c.ControlAPI.RateLimit.Enabled {
		if c.ControlAPI.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("control_api.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.ControlAPI.RateLimit.Burst <= 0 {
			return fmt.Errorf("control_api.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signaling.URL = "ws://localhost:8081/ws"
	cfg.Signaling.HeartbeatInterval = 30 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second
	cfg.Signaling.ReadLimit = 64 * 1024
	cfg.Signaling.Reconnect.MinDelay = time.Second
	cfg.Signaling.Reconnect.MaxDelay = 30 * time.Second
	cfg.Signaling.Reconnect.Factor = 2.0
	cfg.Signaling.Reconnect.MaxRetries = 10

	cfg.WebRTC.ConfigTimeout = 5 * time.Second
	cfg.WebRTC.ConfigCacheTTL = 5 * time.Minute
	cfg.WebRTC.FallbackICEServers = []string{"stun:stun.l.google.com:19302"}
	cfg.WebRTC.ICEDisconnectedTimeout = 5 * time.Second
	cfg.WebRTC.ICEFailedTimeout = 25 * time.Second

	cfg.Call.AutoReconnect = true
	cfg.Call.MaxReconnectAttempts = 3
	cfg.Call.ReconnectDelay = 2 * time.Second
	cfg.Call.MaxParticipants = 4
	cfg.Call.QualityInterval = 5 * time.Second
	cfg.Call.StatsTimeout = 2 * time.Second
	cfg.Call.BaseBitrateKbps = 2500
	cfg.Call.MinBitrateKbps = 500

	cfg.Media.Audio = true
	cfg.Media.Video.Width = 1280
	cfg.Media.Video.Height = 720
	cfg.Media.Video.FrameRate = 30
	cfg.Media.LowRes.Width = 640
	cfg.Media.LowRes.Height = 360

	cfg.Recording.Dir = "recordings"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.Address = ":9090"

	cfg.Tracing.ServiceName = "callcore"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 0.1
	cfg.Tracing.Environment = "development"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.HistoryTTL = 30 * 24 * time.Hour

	cfg.ControlAPI.Enabled = false
	cfg.ControlAPI.Address = "127.0.0.1:8090"
	cfg.ControlAPI.RateLimit.Enabled = true
	cfg.ControlAPI.RateLimit.RequestsPerSecond = 20
	cfg.ControlAPI.RateLimit.Burst = 40

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if u := os.Getenv("CALLCORE_SIGNAL_URL"); u != "" {
		c.Signaling.URL = u
	}
	if level := os.Getenv("CALLCORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if id := os.Getenv("CALLCORE_USER_ID"); id != "" {
		c.Identity.UserID = id
	}
	if token := os.Getenv("CALLCORE_IDENTITY_TOKEN"); token != "" {
		c.Identity.Token = token
	}
	if addr := os.Getenv("CALLCORE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
