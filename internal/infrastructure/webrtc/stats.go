package webrtc

import (
	"maps"
	"slices"
	"time"

	"callcore/internal/core/domain"

	"github.com/pion/webrtc/v4"
)

// MetricsFromReport folds a stats report into connection metrics. Bytes,
// losses and jitter are summed across inbound RTP streams and bytes sent
// across outbound ones. Round-trip time comes from the first succeeded
// candidate pair in stats id order, or from remote-inbound reports when no
// pair has measured one.
func MetricsFromReport(report webrtc.StatsReport, at time.Time) domain.ConnectionMetrics {
	m := domain.ConnectionMetrics{Timestamp: at}
	var pairRTT, remoteRTT float64

	for _, id := range slices.Sorted(maps.Keys(report)) {
		switch s := report[id].(type) {
		case webrtc.InboundRTPStreamStats:
			addInbound(&m, s)
		case *webrtc.InboundRTPStreamStats:
			addInbound(&m, *s)
		case webrtc.OutboundRTPStreamStats:
			m.BytesSent += s.BytesSent
		case *webrtc.OutboundRTPStreamStats:
			m.BytesSent += s.BytesSent
		case webrtc.RemoteInboundRTPStreamStats:
			remoteRTT = max(remoteRTT, s.RoundTripTime)
		case *webrtc.RemoteInboundRTPStreamStats:
			remoteRTT = max(remoteRTT, s.RoundTripTime)
		case webrtc.ICECandidatePairStats:
			if pairRTT == 0 {
				pairRTT = succeededPairRTT(s)
			}
		case *webrtc.ICECandidatePairStats:
			if pairRTT == 0 {
				pairRTT = succeededPairRTT(*s)
			}
		}
	}

	switch {
	case pairRTT > 0:
		m.RoundTripTime = seconds(pairRTT)
	case remoteRTT > 0:
		m.RoundTripTime = seconds(remoteRTT)
	}
	return m
}

func addInbound(m *domain.ConnectionMetrics, s webrtc.InboundRTPStreamStats) {
	m.BytesReceived += s.BytesReceived
	if s.PacketsLost > 0 {
		m.PacketsLost += int64(s.PacketsLost)
	}
	m.Jitter += seconds(s.Jitter)
}

func succeededPairRTT(s webrtc.ICECandidatePairStats) float64 {
	if s.State != webrtc.StatsICECandidatePairStateSucceeded {
		return 0
	}
	return s.CurrentRoundTripTime
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
