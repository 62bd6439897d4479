package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"buzzwatch/telemetry"
	"buzzwatch/transcript"
)

// TranscriptFetcher is the captioning collaborator.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (transcript.Result, error)
}

// Notifier delivers operator-visible messages (chat, log, ...). Routine
// "no change" polls are silent; only detections, transcript outcomes, and
// credential exhaustion reach the operator.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// LogNotifier is the fallback Notifier writing to slog.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, text string) {
	slog.Info("operator notice", slog.String("text", text))
}

// State is the poll-loop session state.
type State int

const (
	StateSeeding State = iota
	StateWaiting
	StateDetected
	StateResolving
	StateTranscribing
	StateDone
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateSeeding:
		return "seeding"
	case StateWaiting:
		return "waiting"
	case StateDetected:
		return "detected"
	case StateResolving:
		return "resolving"
	case StateTranscribing:
		return "transcribing"
	case StateDone:
		return "done"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the per-session knobs. Zero values get defaults in NewSession.
type Config struct {
	ChannelID          string
	PollInterval       time.Duration
	ClassifyRetryDelay time.Duration
	QuotaPause         time.Duration
	// TranscriptRetryInterval 0 means one-shot: a transcript that is not ready
	// when the video is detected is reported once and the session ends.
	TranscriptRetryInterval time.Duration
	TranscriptRetryFor      time.Duration
	MaxCandidates           int
	// FailureAlertAfter is the number of consecutive tripwire failures before
	// a single operator notice is emitted. 0 uses the default.
	FailureAlertAfter int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.ClassifyRetryDelay <= 0 {
		c.ClassifyRetryDelay = 18 * time.Second
	}
	if c.QuotaPause <= 0 {
		c.QuotaPause = 15 * time.Minute
	}
	if c.TranscriptRetryFor <= 0 {
		c.TranscriptRetryFor = 30 * time.Minute
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 8
	}
	if c.FailureAlertAfter <= 0 {
		c.FailureAlertAfter = 3
	}
}

// Result is the terminal outcome of one watch session.
type Result struct {
	State      State
	Video      *Upload
	Transcript *transcript.Result
}

// SessionStatus is a read-only snapshot for the status endpoint and chat /status.
type SessionStatus struct {
	ID              string    `json:"id"`
	ChannelID       string    `json:"channel_id"`
	State           string    `json:"state"`
	BaselineCount   int64     `json:"baseline_count"`
	BaselineVideoID string    `json:"baseline_video_id"`
	StartedAt       time.Time `json:"started_at"`
}

// Session runs the poll loop for one channel: Seeding -> Waiting -> Detected
// -> Resolving -> Transcribing -> Done, with Stopped reachable from anywhere
// via context cancellation. One goroutine per session; all mutable state is
// owned by the session and only exposed through snapshots.
type Session struct {
	ID string

	cfg         Config
	src         MetadataSource
	prober      Prober
	transcripts TranscriptFetcher
	notifier    Notifier

	mu              sync.Mutex
	state           State
	baselineCount   int64
	baselineVideoID string
	startedAt       time.Time
	quotaAlerted    bool
}

// NewSession builds a session. prober may be nil (duration-only classification);
// notifier nil falls back to LogNotifier.
func NewSession(cfg Config, src MetadataSource, prober Prober, tf TranscriptFetcher, n Notifier) *Session {
	cfg.applyDefaults()
	if n == nil {
		n = LogNotifier{}
	}
	return &Session{
		ID:          uuid.New().String(),
		cfg:         cfg,
		src:         src,
		prober:      prober,
		transcripts: tf,
		notifier:    n,
		state:       StateSeeding,
		startedAt:   time.Now().UTC(),
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStatus{
		ID:              s.ID,
		ChannelID:       s.cfg.ChannelID,
		State:           s.state.String(),
		BaselineCount:   s.baselineCount,
		BaselineVideoID: s.baselineVideoID,
		StartedAt:       s.startedAt,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setBaseline(count int64, videoID string) {
	s.mu.Lock()
	s.baselineCount = count
	if videoID != "" {
		s.baselineVideoID = videoID
	}
	s.mu.Unlock()
}

func (s *Session) baseline() (int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselineCount, s.baselineVideoID
}

func (s *Session) notify(ctx context.Context, text string) {
	s.notifier.Notify(ctx, text)
}

// Run executes the session until a qualifying video is transcribed (Done) or
// the context is canceled (Stopped). A single fetch failure never aborts the
// loop.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	logger := slog.Default().With(
		slog.String("session_id", s.ID),
		slog.String("channel_id", s.cfg.ChannelID),
		slog.String("component", "watch"),
	)

	// Seeding: capture baseline count and baseline latest long-form video.
	for {
		if ctx.Err() != nil {
			return s.stop(logger)
		}
		count, err := s.src.VideoCount(ctx, s.cfg.ChannelID)
		if err == nil {
			s.setBaseline(count, "")
			break
		}
		if s.pauseOnQuota(ctx, logger, err) {
			continue
		}
		logger.Warn("seed count fetch failed", slog.Any("err", err))
		if sleepCtx(ctx, s.cfg.PollInterval) != nil {
			return s.stop(logger)
		}
	}
	if cand, err := s.resolveLatestLong(ctx); err == nil && cand != nil {
		s.mu.Lock()
		s.baselineVideoID = cand.ID
		s.mu.Unlock()
	} else if err != nil && ctx.Err() == nil {
		logger.Warn("seed resolver failed; starting without baseline video", slog.Any("err", err))
	}
	count, baseVideo := s.baseline()
	logger.Info("watch session seeded", slog.Int64("upload_count", count), slog.String("baseline_video", baseVideo))
	s.setState(StateWaiting)

	consecutiveFailures := 0
	for {
		if sleepCtx(ctx, s.cfg.PollInterval) != nil {
			return s.stop(logger)
		}
		bump(telemetry.PollCycles)
		var ch CountChange
		telemetry.TimeFunc(telemetry.PollDuration, func() {
			last, _ := s.baseline()
			ch = CheckUploadCount(ctx, s.src, s.cfg.ChannelID, last)
		})
		switch ch.Kind {
		case ChangeFetchFailed:
			if ctx.Err() != nil {
				return s.stop(logger)
			}
			bump(telemetry.TripwireFailures)
			consecutiveFailures++
			if s.pauseOnQuota(ctx, logger, ch.Err) {
				continue
			}
			logger.Warn("upload count fetch failed", slog.Any("err", ch.Err), slog.Int("consecutive", consecutiveFailures))
			if consecutiveFailures == s.cfg.FailureAlertAfter {
				s.notify(ctx, fmt.Sprintf("⚠️ Upload checks for %s failing (%d in a row); still watching.", s.cfg.ChannelID, consecutiveFailures))
			}
			continue
		case ChangeUnchanged:
			consecutiveFailures = 0
			s.clearQuotaAlert()
			continue
		case ChangeIncreased:
			consecutiveFailures = 0
			s.clearQuotaAlert()
		}

		s.setState(StateDetected)
		logger.Info("upload count increased", slog.Int64("delta", ch.Delta), slog.Int64("count", ch.Count))
		cand, err := s.resolveLatestLong(ctx)
		if ctx.Err() != nil {
			return s.stop(logger)
		}
		if err != nil {
			// Keep the old count baseline so the signal fires again next poll.
			logger.Warn("resolver failed after detection", slog.Any("err", err))
			s.setState(StateWaiting)
			continue
		}
		_, baseVideo := s.baseline()
		if cand == nil || cand.ID == baseVideo {
			// A short consumed the count increase (or duplicate signal).
			// Advance the count baseline so the next increase is measured
			// from the new value, but keep the video baseline.
			logger.Info("count increase not a new long-form video", slog.Int64("new_count", ch.Count))
			s.setBaseline(ch.Count, "")
			s.setState(StateWaiting)
			continue
		}

		s.setBaseline(ch.Count, cand.ID)
		bump(telemetry.VideosDetected)
		s.notify(ctx, fmt.Sprintf("🎥 New video detected: %s\nhttps://www.youtube.com/watch?v=%s", cand.Title, cand.ID))
		s.setState(StateResolving)
		s.setState(StateTranscribing)
		tr, err := s.awaitTranscript(ctx, cand.ID)
		if ctx.Err() != nil {
			return s.stop(logger)
		}
		s.setState(StateDone)
		res := &Result{State: StateDone, Video: cand, Transcript: tr}
		if err != nil {
			logger.Warn("watch session done with transcript failure", slog.Any("err", err))
			return res, nil
		}
		logger.Info("watch session done", slog.String("video_id", cand.ID), slog.String("transcript", statusLabel(tr)))
		return res, nil
	}
}

func statusLabel(tr *transcript.Result) string {
	if tr == nil {
		return "failed"
	}
	return tr.Status.String()
}

// awaitTranscript fetches the transcript, optionally retrying NotYetAvailable
// until the configured window closes. Failures are terminal for the video.
func (s *Session) awaitTranscript(ctx context.Context, videoID string) (*transcript.Result, error) {
	var deadline time.Time
	if s.cfg.TranscriptRetryInterval > 0 {
		deadline = time.Now().Add(s.cfg.TranscriptRetryFor)
	}
	for {
		var tr transcript.Result
		var err error
		telemetry.TimeFunc(telemetry.TranscriptDuration, func() {
			tr, err = s.transcripts.Fetch(ctx, videoID)
		})
		if err != nil {
			bump(telemetry.TranscriptsFailed)
			s.notify(ctx, fmt.Sprintf("❌ Transcript fetch failed for %s: %v", videoID, err))
			return nil, err
		}
		if tr.Status == transcript.StatusReady {
			bump(telemetry.TranscriptsReady)
			s.notify(ctx, fmt.Sprintf("📝 Transcript ready for %s (%d chars)", videoID, len(tr.Text)))
			return &tr, nil
		}
		bump(telemetry.TranscriptsNotReady)
		if s.cfg.TranscriptRetryInterval <= 0 || time.Now().After(deadline) {
			s.notify(ctx, fmt.Sprintf("⏳ Transcript for %s not available yet (no captions).", videoID))
			return &tr, nil
		}
		if sleepCtx(ctx, s.cfg.TranscriptRetryInterval) != nil {
			return &tr, ctx.Err()
		}
	}
}

// resolveLatestLong fetches the most recent uploads newest-first and returns
// the first one classifying Long. Unknown durations are probed, then retried
// once after a short delay, then treated as Long (wrongly processing a short
// is recoverable; silently dropping a long video is not).
func (s *Session) resolveLatestLong(ctx context.Context) (*Upload, error) {
	ups, err := s.src.RecentUploads(ctx, s.cfg.ChannelID, s.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}
	for i := range ups {
		up := ups[i]
		c := ClassifyDuration(up.DurationSeconds)
		if c == ClassUnknown && s.prober != nil {
			if short, err := s.prober.IsShort(ctx, up.ID); err == nil {
				if short {
					c = ClassShort
				} else {
					c = ClassLong
				}
			}
		}
		if c == ClassUnknown {
			if sleepCtx(ctx, s.cfg.ClassifyRetryDelay) != nil {
				return nil, ctx.Err()
			}
			if d, err := s.src.VideoDuration(ctx, up.ID); err == nil {
				c = ClassifyDuration(d)
				if d > 0 {
					up.DurationSeconds = d
				}
			}
			if c == ClassUnknown {
				c = ClassLong
			}
		}
		if c == ClassLong {
			return &up, nil
		}
	}
	return nil, nil
}

// pauseOnQuota handles whole-pool credential exhaustion: one operator alert
// per episode, then an extended pause instead of busy-retrying.
func (s *Session) pauseOnQuota(ctx context.Context, logger *slog.Logger, err error) bool {
	if !errors.Is(err, ErrCredentialsExhausted) {
		return false
	}
	bump(telemetry.QuotaExhaustions)
	s.mu.Lock()
	alerted := s.quotaAlerted
	s.quotaAlerted = true
	s.mu.Unlock()
	if !alerted {
		s.notify(ctx, "⚠️ All API credentials exhausted; pausing upload checks until quota resets.")
	}
	logger.Warn("credential pool exhausted; extended pause", slog.Duration("pause", s.cfg.QuotaPause))
	_ = sleepCtx(ctx, s.cfg.QuotaPause)
	return true
}

func (s *Session) clearQuotaAlert() {
	s.mu.Lock()
	s.quotaAlerted = false
	s.mu.Unlock()
}

func (s *Session) stop(logger *slog.Logger) (*Result, error) {
	s.setState(StateStopped)
	logger.Info("watch session stopped")
	return &Result{State: StateStopped}, context.Canceled
}

// sleepCtx sleeps for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func bump(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
