package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"callcore/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			switch {
			case m.Counter != nil:
				return m.GetCounter().GetValue()
			case m.Gauge != nil:
				return m.GetGauge().GetValue()
			case m.Histogram != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(want)
}

func TestPrometheusCollector_CallLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.MatchFound()
	c.CallConnected(1500 * time.Millisecond)
	c.ReconnectAttempt()
	c.ICERestart()
	c.CallEnded("peer-disconnected", time.Minute)
	c.CallEnded("", 0)

	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_matches_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_connections_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_call_setup_duration_seconds", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_reconnect_attempts_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_ice_restarts_total", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_calls_ended_total", map[string]string{"reason": "peer-disconnected"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_calls_ended_total", map[string]string{"reason": "unknown"}))
	// zero durations are not observed
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_call_duration_seconds", nil))
}

func TestPrometheusCollector_SignalingStateIsOneHot(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SignalingState(domain.SignalingOpen)
	c.SignalingState(domain.SignalingReconnecting)

	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_signaling_state", map[string]string{"state": "reconnecting"}))
	assert.Equal(t, 0.0, gatherValue(t, reg, "callcore_signaling_state", map[string]string{"state": "open"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_signaling_state_changes_total", map[string]string{"state": "open"}))
}

func TestPrometheusCollector_QualityAndMedia(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.MediaCaptured(domain.TierAudioOnly)
	c.QualitySample(domain.QualitySample{
		Metrics: domain.ConnectionMetrics{
			RoundTripTime: 120 * time.Millisecond,
			Jitter:        10 * time.Millisecond,
			PacketsLost:   7,
		},
		Quality: domain.QualityGood,
		Bitrate: 1000,
	})
	c.RecordingStopped(4096)
	c.ActiveLinks(2)

	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_media_captures_total", map[string]string{"tier": "audio-only"}))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_round_trip_time_seconds", nil))
	assert.Equal(t, 7.0, gatherValue(t, reg, "callcore_packets_lost", nil))
	assert.Equal(t, 1000.0, gatherValue(t, reg, "callcore_target_bitrate_kbps", nil))
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_connection_quality", map[string]string{"quality": "good"}))
	assert.Equal(t, 0.0, gatherValue(t, reg, "callcore_connection_quality", map[string]string{"quality": "poor"}))
	assert.Equal(t, 4096.0, gatherValue(t, reg, "callcore_recorded_bytes_total", nil))
	assert.Equal(t, 2.0, gatherValue(t, reg, "callcore_active_peer_links", nil))

	c.CallEnded("local-end", time.Second)
	assert.Equal(t, 1.0, gatherValue(t, reg, "callcore_connection_quality", map[string]string{"quality": "unknown"}))
	assert.Equal(t, 0.0, gatherValue(t, reg, "callcore_target_bitrate_kbps", nil))
}

type stubHistory struct {
	err error
}

func (s stubHistory) Save(context.Context, *domain.CallRecord) error { return s.err }

func (s stubHistory) Get(context.Context, domain.SessionID) (*domain.CallRecord, error) { return nil, s.err }

func (s stubHistory) List(context.Context, int) ([]*domain.CallRecord, error) { return nil, s.err }

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	state := domain.SignalingOpen
	h.AddSignalingCheck(func() domain.SignalingState { return state }, 0)
	h.AddHistoryCheck(stubHistory{}, 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["signaling"])
	assert.True(t, h.IsHealthy(context.Background()))

	state = domain.SignalingExhausted
	status = h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "signaling exhausted", status.Checks["signaling"])
}

func TestHealthChecker_HistoryFailure(t *testing.T) {
	h := NewHealthChecker()
	h.AddHistoryCheck(stubHistory{err: errors.New("store down")}, 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "store down", status.Checks["history"])
}

func TestHealthChecker_BackgroundFailureCallback(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("flaky", func(context.Context) (bool, error) { return false, nil }, 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failed := make(chan string, 4)
	h.StartBackgroundChecks(ctx, func(name string, err error) {
		select {
		case failed <- name:
		default:
		}
	})

	select {
	case name := <-failed:
		assert.Equal(t, "flaky", name)
	case <-time.After(time.Second):
		t.Fatal("background check never reported")
	}
}
