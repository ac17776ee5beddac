package services

import (
	"math"
	"strings"
	"time"

	"callcore/internal/core/domain"
)

type qualityThreshold struct {
	quality   domain.ConnectionQuality
	maxRTT    time.Duration
	maxLost   int64
	maxJitter time.Duration
}

type penalty struct {
	reason string
	factor float64
}

type QualityService struct {
	thresholds  []qualityThreshold
	baseBitrate int // kbps
	minBitrate  int // kbps
}

func NewQualityService() *QualityService {
	return NewQualityServiceWithBitrates(2500, 500)
}

func NewQualityServiceWithBitrates(base, min int) *QualityService {
	return &QualityService{
		thresholds: []qualityThreshold{
			{
				quality:   domain.QualityExcellent,
				maxRTT:    100 * time.Millisecond,
				maxLost:   1,
				maxJitter: 30 * time.Millisecond,
			},
			{
				quality:   domain.QualityGood,
				maxRTT:    300 * time.Millisecond,
				maxLost:   5,
				maxJitter: 100 * time.Millisecond,
			},
		},
		baseBitrate: base,
		minBitrate:  min,
	}
}

func (qs *QualityService) BaseBitrate() int { return qs.baseBitrate }

// Classify grades a sample. A nil sample is unknown.
func (qs *QualityService) Classify(m *domain.ConnectionMetrics) domain.ConnectionQuality {
	if m == nil {
		return domain.QualityUnknown
	}
	for _, th := range qs.thresholds {
		if qs.meetsThreshold(*m, th) {
			return th.quality
		}
	}
	return domain.QualityPoor
}

func (qs *QualityService) meetsThreshold(m domain.ConnectionMetrics, th qualityThreshold) bool {
	return m.RoundTripTime < th.maxRTT &&
		m.PacketsLost < th.maxLost &&
		m.Jitter < th.maxJitter
}

// SuggestBitrate scales the base bitrate down by one penalty per degraded
// dimension and floors the result. The reason names the applied penalties.
func (qs *QualityService) SuggestBitrate(m domain.ConnectionMetrics) (int, string) {
	penalties := []penalty{
		qs.rttPenalty(m.RoundTripTime),
		qs.lossPenalty(m.PacketsLost),
		qs.jitterPenalty(m.Jitter),
	}

	bitrate := float64(qs.baseBitrate)
	var reasons []string
	for _, p := range penalties {
		if p.factor == 1 {
			continue
		}
		bitrate *= p.factor
		reasons = append(reasons, p.reason)
	}

	kbps := int(math.Round(bitrate))
	if kbps < qs.minBitrate {
		kbps = qs.minBitrate
	}
	if len(reasons) == 0 {
		return kbps, "stable"
	}
	return kbps, strings.Join(reasons, "+")
}

func (qs *QualityService) rttPenalty(rtt time.Duration) penalty {
	switch {
	case rtt > 300*time.Millisecond:
		return penalty{"high-rtt", 0.6}
	case rtt > 150*time.Millisecond:
		return penalty{"rtt", 0.8}
	}
	return penalty{factor: 1}
}

func (qs *QualityService) lossPenalty(lost int64) penalty {
	switch {
	case lost > 5:
		return penalty{"high-loss", 0.5}
	case lost > 2:
		return penalty{"loss", 0.7}
	}
	return penalty{factor: 1}
}

func (qs *QualityService) jitterPenalty(jitter time.Duration) penalty {
	switch {
	case jitter > 100*time.Millisecond:
		return penalty{"high-jitter", 0.7}
	case jitter > 50*time.Millisecond:
		return penalty{"jitter", 0.9}
	}
	return penalty{factor: 1}
}

// Score maps a quality grade to a 0-100 gauge value.
func (qs *QualityService) Score(q domain.ConnectionQuality) float64 {
	switch q {
	case domain.QualityExcellent:
		return 100
	case domain.QualityGood:
		return 66
	case domain.QualityPoor:
		return 33
	}
	return 0
}
