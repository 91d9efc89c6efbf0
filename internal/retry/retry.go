// Package retry implements per-channel exponential-backoff delivery retry
// with lock-free metrics, grounded on the channel delivery manager pattern
// the rest of this repository's channel adapters consume.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// RetryConfig controls retry behavior for one channel.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // in [0, 1]
	Enabled      bool
}

// DefaultRetryConfig applies a moderate three-retry exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
		Enabled:      true,
	}
}

// Outcome tags the three possible results of DeliverWithRetry.
type Outcome struct {
	Kind      OutcomeKind
	Attempts  int
	LastError error
}

type OutcomeKind int

const (
	Delivered OutcomeKind = iota
	Failed
	NotRetried
)

// metrics holds free-running atomic counters for one channel.
type metrics struct {
	totalAttempts   atomic.Uint64
	successful      atomic.Uint64
	failed          atomic.Uint64
	retried         atomic.Uint64
	totalRetryDelay atomic.Int64 // nanoseconds
}

// Snapshot is a point-in-time read of a channel's delivery metrics with
// derived fields computed.
type Snapshot struct {
	TotalAttempts  uint64
	Successful     uint64
	Failed         uint64
	Retried        uint64
	AvgRetryDelay  time.Duration
	SuccessRate    float64
}

func (m *metrics) snapshot() Snapshot {
	successful := m.successful.Load()
	failed := m.failed.Load()
	retried := m.retried.Load()
	totalDelay := m.totalRetryDelay.Load()

	retriedDenom := retried
	if retriedDenom == 0 {
		retriedDenom = 1
	}
	completedDenom := successful + failed
	if completedDenom == 0 {
		completedDenom = 1
	}

	return Snapshot{
		TotalAttempts: m.totalAttempts.Load(),
		Successful:    successful,
		Failed:        failed,
		Retried:       retried,
		AvgRetryDelay: time.Duration(totalDelay / int64(retriedDenom)),
		SuccessRate:   float64(successful) / float64(completedDenom),
	}
}

// Operation is a delivery attempt. It is retried on non-nil error.
type Operation func(ctx context.Context) error

// Manager executes operations with per-channel retry policy and tracks
// per-channel metrics.
type Manager struct {
	mu            sync.RWMutex
	configs       map[string]RetryConfig
	channelMetrics map[string]*metrics
	defaultConfig RetryConfig
}

// NewManager creates a retry manager using defaultConfig for any channel that
// has no explicit configuration.
func NewManager(defaultConfig RetryConfig) *Manager {
	return &Manager{
		configs:        make(map[string]RetryConfig),
		channelMetrics: make(map[string]*metrics),
		defaultConfig:  defaultConfig,
	}
}

// SetChannelConfig installs a retry policy for channel.
func (m *Manager) SetChannelConfig(channel string, cfg RetryConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[channel] = cfg
}

// GetConfig returns the effective config for channel, falling back to the
// manager's default.
func (m *Manager) GetConfig(channel string) RetryConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[channel]; ok {
		return cfg
	}
	return m.defaultConfig
}

// ensureMetrics returns the metrics struct for channel, creating it on first
// use. Uses a read lock for the common case and only takes the write lock
// when the entry is genuinely missing (double-checked).
func (m *Manager) ensureMetrics(channel string) *metrics {
	m.mu.RLock()
	mm, ok := m.channelMetrics[channel]
	m.mu.RUnlock()
	if ok {
		return mm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mm, ok := m.channelMetrics[channel]; ok {
		return mm
	}
	mm = &metrics{}
	m.channelMetrics[channel] = mm
	return mm
}

// GetMetrics returns a snapshot for channel, or false if nothing has been
// recorded for it yet.
func (m *Manager) GetMetrics(channel string) (Snapshot, bool) {
	m.mu.RLock()
	mm, ok := m.channelMetrics[channel]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return mm.snapshot(), true
}

// GetAllMetrics returns a snapshot for every channel with recorded metrics.
func (m *Manager) GetAllMetrics() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.channelMetrics))
	for ch, mm := range m.channelMetrics {
		out[ch] = mm.snapshot()
	}
	return out
}

// ResetMetrics zeroes all counters for channel.
func (m *Manager) ResetMetrics(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelMetrics[channel] = &metrics{}
}

// delay computes the backoff duration for the given zero-based attempt
// index, saturating rather than overflowing for large attempt values, and
// adding jitter in [0, jitterFactor * cappedDelay] (never negative).
func delay(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	capped := base
	if attempt > 0 {
		// Saturate the shift instead of overflowing for large attempt.
		if attempt >= 63 {
			capped = cfg.MaxDelay
		} else {
			shifted := base << uint(attempt)
			if shifted < base || shifted > cfg.MaxDelay { // overflow or over cap
				capped = cfg.MaxDelay
			} else {
				capped = shifted
			}
		}
	}
	if capped > cfg.MaxDelay {
		capped = cfg.MaxDelay
	}

	if cfg.JitterFactor <= 0 {
		return capped
	}
	jitter := time.Duration(rand.Float64() * cfg.JitterFactor * float64(capped))
	return capped + jitter
}

// DeliverWithRetry executes operation against channel's retry policy.
func (m *Manager) DeliverWithRetry(ctx context.Context, channel string, operation Operation) Outcome {
	cfg := m.GetConfig(channel)
	mm := m.ensureMetrics(channel)

	mm.totalAttempts.Add(1)
	err := operation(ctx)
	if err == nil {
		mm.successful.Add(1)
		return Outcome{Kind: Delivered, Attempts: 1}
	}

	if !cfg.Enabled {
		return Outcome{Kind: NotRetried, Attempts: 1, LastError: err}
	}
	if cfg.MaxRetries == 0 {
		mm.failed.Add(1)
		return Outcome{Kind: Failed, Attempts: 1, LastError: err}
	}

	var totalDelay time.Duration
	lastErr := err
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		d := delay(cfg, attempt)
		totalDelay += d

		select {
		case <-time.After(d):
		case <-ctx.Done():
			// Cancellation mid-sleep: no further retries, no final metric
			// update beyond the attempt already counted above.
			return Outcome{Kind: Failed, Attempts: attempt + 1, LastError: ctx.Err()}
		}

		mm.totalAttempts.Add(1)
		lastErr = operation(ctx)
		if lastErr == nil {
			mm.successful.Add(1)
			mm.retried.Add(1)
			mm.totalRetryDelay.Add(int64(totalDelay))
			return Outcome{Kind: Delivered, Attempts: attempt + 2}
		}
	}

	mm.failed.Add(1)
	mm.retried.Add(1)
	mm.totalRetryDelay.Add(int64(totalDelay))
	return Outcome{Kind: Failed, Attempts: cfg.MaxRetries + 1, LastError: lastErr}
}
