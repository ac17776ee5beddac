package services

import (
	"context"
	"sync"
	"time"

	"callcore/internal/core/domain"

	"go.uber.org/zap"
)

const maxQualityHistory = 100

// StatsSource is anything that can report connection statistics.
type StatsSource interface {
	Stats(ctx context.Context) (domain.ConnectionMetrics, error)
}

// QualityMonitor samples one stats source on a fixed interval and hands
// each graded sample to a callback. At most one source is monitored.
type QualityMonitor struct {
	quality  *QualityService
	logger   *zap.SugaredLogger
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	history []domain.QualitySample
}

func NewQualityMonitor(quality *QualityService, interval, timeout time.Duration, logger *zap.SugaredLogger) *QualityMonitor {
	return &QualityMonitor{
		quality:  quality,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Start replaces any running sampler with one reading from source.
func (m *QualityMonitor) Start(parent context.Context, source StatsSource, onSample func(domain.QualitySample)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.history = m.history[:0]

	go m.run(ctx, source, onSample)
}

// Stop cancels sampling. It does not wait for an in-flight sample; the
// callback is never invoked after Stop returns unless it was already
// running.
func (m *QualityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *QualityMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *QualityMonitor) History() []domain.QualitySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.QualitySample, len(m.history))
	copy(out, m.history)
	return out
}

func (m *QualityMonitor) run(ctx context.Context, source StatsSource, onSample func(domain.QualitySample)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, ok := m.sample(ctx, source)
			if !ok || ctx.Err() != nil {
				continue
			}
			m.record(sample)
			onSample(sample)
		}
	}
}

func (m *QualityMonitor) sample(ctx context.Context, source StatsSource) (domain.QualitySample, bool) {
	statsCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	type result struct {
		metrics domain.ConnectionMetrics
		err     error
	}
	done := make(chan result, 1)
	go func() {
		metrics, err := source.Stats(statsCtx)
		done <- result{metrics, err}
	}()

	var metrics domain.ConnectionMetrics
	var err error
	select {
	case r := <-done:
		metrics, err = r.metrics, r.err
	case <-statsCtx.Done():
		err = statsCtx.Err()
	}
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Debugw("stats sample skipped", "error", err)
		}
		return domain.QualitySample{}, false
	}
	if metrics.Timestamp.IsZero() {
		metrics.Timestamp = time.Now()
	}

	bitrate, reason := m.quality.SuggestBitrate(metrics)
	return domain.QualitySample{
		Metrics: metrics,
		Quality: m.quality.Classify(&metrics),
		Bitrate: bitrate,
		Reason:  reason,
	}, true
}

func (m *QualityMonitor) record(sample domain.QualitySample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, sample)
	if len(m.history) > maxQualityHistory {
		m.history = m.history[len(m.history)-maxQualityHistory:]
	}
}
