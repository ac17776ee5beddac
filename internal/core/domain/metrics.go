package domain

import "time"

type ConnectionMetrics struct {
	Timestamp     time.Time     `json:"timestamp"`
	BytesReceived uint64        `json:"bytesReceived"`
	BytesSent     uint64        `json:"bytesSent"`
	PacketsLost   int64         `json:"packetsLost"`
	RoundTripTime time.Duration `json:"roundTripTime"`
	Jitter        time.Duration `json:"jitter"`
}

type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityUnknown   ConnectionQuality = "unknown"
)

type QualitySample struct {
	Metrics ConnectionMetrics
	Quality ConnectionQuality
	Bitrate int // kbps
	Reason  string
}
