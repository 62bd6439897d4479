// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles           prometheus.Counter
	TripwireFailures     prometheus.Counter
	QuotaExhaustions     prometheus.Counter
	VideosDetected       prometheus.Counter
	TranscriptsReady     prometheus.Counter
	TranscriptsNotReady  prometheus.Counter
	TranscriptsFailed    prometheus.Counter
	TradesPlaced         prometheus.Counter
	TradesSkipped        prometheus.Counter

	// Histograms (seconds)
	PollDuration       prometheus.Observer
	TranscriptDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
	ExhaustedKeysGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_poll_cycles_total", Help: "Number of tripwire poll cycles"})
		TripwireFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_tripwire_failures_total", Help: "Number of failed upload-count fetches"})
		QuotaExhaustions = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_quota_exhaustions_total", Help: "Number of times the whole API key pool was exhausted"})
		VideosDetected = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_videos_detected_total", Help: "Number of new long-form videos detected"})
		TranscriptsReady = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_transcripts_ready_total", Help: "Number of transcripts fetched with text"})
		TranscriptsNotReady = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_transcripts_not_ready_total", Help: "Number of transcript fetches that returned no captions yet"})
		TranscriptsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_transcripts_failed_total", Help: "Number of transcript fetches that failed"})
		TradesPlaced = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_trades_placed_total", Help: "Number of auto-trade orders placed (including dry runs)"})
		TradesSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "buzzwatch_trades_skipped_total", Help: "Number of markets evaluated but not traded"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "buzzwatch_poll_duration_seconds", Help: "Tripwire poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		TranscriptDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "buzzwatch_transcript_fetch_duration_seconds", Help: "Transcript fetch duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "buzzwatch_active_watch_sessions", Help: "Current number of running watch sessions"})
		ExhaustedKeysGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "buzzwatch_exhausted_api_keys", Help: "Current number of quota-exhausted API keys"})
	})
}

// SetActiveSessions records the current number of running watch sessions.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetExhaustedKeys records the current number of quota-exhausted API keys.
func SetExhaustedKeys(n int) {
	if ExhaustedKeysGauge != nil {
		ExhaustedKeysGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
