package monitoring

import (
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signalingStates = []domain.SignalingState{
		domain.SignalingConnecting,
		domain.SignalingOpen,
		domain.SignalingReconnecting,
		domain.SignalingExhausted,
		domain.SignalingClosed,
	}
	qualityLevels = []domain.ConnectionQuality{
		domain.QualityExcellent,
		domain.QualityGood,
		domain.QualityPoor,
		domain.QualityUnknown,
	}
)

type PrometheusCollector struct {
	// Counters
	matchesTotal      prometheus.Counter
	connectionsTotal  prometheus.Counter
	callsEndedTotal   *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	iceRestarts       prometheus.Counter
	signalingChanges  *prometheus.CounterVec
	mediaCaptures     *prometheus.CounterVec
	recordingsTotal   prometheus.Counter
	recordedBytes     prometheus.Counter

	// Histograms
	callSetupDuration prometheus.Histogram
	callDuration      prometheus.Histogram
	roundTripTime     prometheus.Histogram
	jitter            prometheus.Histogram

	// Gauges
	signalingState    *prometheus.GaugeVec
	connectionQuality *prometheus.GaugeVec
	packetsLost       prometheus.Gauge
	targetBitrate     prometheus.Gauge
	activeLinks       prometheus.Gauge
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the call metrics with reg, or with the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		matchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callcore_matches_total",
			Help: "Total number of matches received from the queue",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callcore_connections_total",
			Help: "Total number of calls that reached the connected state",
		}),

		callsEndedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_calls_ended_total",
			Help: "Total number of calls torn down, by reason",
		}, []string{"reason"}),

		reconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "callcore_reconnect_attempts_total",
			Help: "Total number of automatic reconnect attempts",
		}),

		iceRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "callcore_ice_restarts_total",
			Help: "Total number of ICE restarts initiated",
		}),

		signalingChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_signaling_state_changes_total",
			Help: "Signaling channel state transitions, by new state",
		}, []string{"state"}),

		mediaCaptures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callcore_media_captures_total",
			Help: "Local media captures, by fallback tier",
		}, []string{"tier"}),

		recordingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callcore_recordings_total",
			Help: "Total number of finished recordings",
		}),

		recordedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "callcore_recorded_bytes_total",
			Help: "Total bytes written by finished recordings",
		}),

		callSetupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcore_call_setup_duration_seconds",
			Help:    "Time from match to connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcore_call_duration_seconds",
			Help:    "Duration of finished calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		roundTripTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcore_round_trip_time_seconds",
			Help:    "Sampled round-trip time of the primary link",
			Buckets: []float64{0.01, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1, 2},
		}),

		jitter: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "callcore_jitter_seconds",
			Help:    "Sampled inbound jitter of the primary link",
			Buckets: []float64{0.005, 0.01, 0.02, 0.03, 0.05, 0.1, 0.2},
		}),

		signalingState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callcore_signaling_state",
			Help: "1 for the current signaling channel state",
		}, []string{"state"}),

		connectionQuality: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callcore_connection_quality",
			Help: "1 for the current connection quality level",
		}, []string{"quality"}),

		packetsLost: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_packets_lost",
			Help: "Cumulative inbound packets lost on the primary link",
		}),

		targetBitrate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_target_bitrate_kbps",
			Help: "Bitrate last suggested by the quality monitor",
		}),

		activeLinks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callcore_active_peer_links",
			Help: "Number of live peer links",
		}),
	}
}

func (p *PrometheusCollector) MatchFound() {
	p.matchesTotal.Inc()
}

func (p *PrometheusCollector) CallConnected(setup time.Duration) {
	p.connectionsTotal.Inc()
	p.callSetupDuration.Observe(setup.Seconds())
}

func (p *PrometheusCollector) CallEnded(reason string, duration time.Duration) {
	if reason == "" {
		reason = "unknown"
	}
	p.callsEndedTotal.WithLabelValues(reason).Inc()
	if duration > 0 {
		p.callDuration.Observe(duration.Seconds())
	}
	p.packetsLost.Set(0)
	p.targetBitrate.Set(0)
	p.setQuality(domain.QualityUnknown)
}

func (p *PrometheusCollector) ReconnectAttempt() {
	p.reconnectAttempts.Inc()
}

func (p *PrometheusCollector) ICERestart() {
	p.iceRestarts.Inc()
}

func (p *PrometheusCollector) SignalingState(state domain.SignalingState) {
	p.signalingChanges.WithLabelValues(string(state)).Inc()
	for _, s := range signalingStates {
		p.signalingState.WithLabelValues(string(s)).Set(boolGauge(s == state))
	}
}

func (p *PrometheusCollector) MediaCaptured(tier domain.CaptureTier) {
	p.mediaCaptures.WithLabelValues(tier.String()).Inc()
}

func (p *PrometheusCollector) QualitySample(sample domain.QualitySample) {
	if rtt := sample.Metrics.RoundTripTime; rtt > 0 {
		p.roundTripTime.Observe(rtt.Seconds())
	}
	p.jitter.Observe(sample.Metrics.Jitter.Seconds())
	p.packetsLost.Set(float64(sample.Metrics.PacketsLost))
	if sample.Bitrate > 0 {
		p.targetBitrate.Set(float64(sample.Bitrate))
	}
	p.setQuality(sample.Quality)
}

func (p *PrometheusCollector) RecordingStopped(bytes int64) {
	p.recordingsTotal.Inc()
	if bytes > 0 {
		p.recordedBytes.Add(float64(bytes))
	}
}

func (p *PrometheusCollector) ActiveLinks(n int) {
	p.activeLinks.Set(float64(n))
}

func (p *PrometheusCollector) setQuality(q domain.ConnectionQuality) {
	for _, level := range qualityLevels {
		p.connectionQuality.WithLabelValues(string(level)).Set(boolGauge(level == q))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
