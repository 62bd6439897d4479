package watch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"buzzwatch/db"
	"buzzwatch/telemetry"
	"buzzwatch/transcript"
)

// ManagerDeps bundles the collaborators shared by all sessions. DB is
// optional; with it, sessions and detected videos are audited to Postgres.
// OnTranscript runs downstream processing (buzzword counts, auto-trading)
// once a session finishes with a ready transcript.
type ManagerDeps struct {
	Source       MetadataSource
	Prober       Prober
	Transcripts  TranscriptFetcher
	Notifier     Notifier
	DB           *sql.DB
	OnTranscript func(ctx context.Context, video Upload, tr transcript.Result)
}

type runningSession struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the set of running watch sessions. Start spawns a session
// goroutine; Stop cancels it. All bookkeeping is behind the mutex.
type Manager struct {
	deps     ManagerDeps
	defaults Config

	mu      sync.Mutex
	running map[string]*runningSession
}

// NewManager builds a manager with per-session defaults.
func NewManager(defaults Config, deps ManagerDeps) *Manager {
	defaults.applyDefaults()
	return &Manager{deps: deps, defaults: defaults, running: make(map[string]*runningSession)}
}

// SetOnTranscript installs the downstream pipeline after construction. The
// chat bot and the manager reference each other, so one side has to be wired
// late. Call before Start.
func (m *Manager) SetOnTranscript(fn func(ctx context.Context, video Upload, tr transcript.Result)) {
	m.deps.OnTranscript = fn
}

// Start launches a watch session for the channel and returns its id. Multiple
// concurrent sessions for the same channel are allowed but usually pointless,
// so a second Start for a channel that already has one returns an error.
// notifier overrides the manager-wide notifier for this session (a chat
// conversation that issued /watch gets the replies).
func (m *Manager) Start(ctx context.Context, channelID string, notifier Notifier) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("channel id required")
	}
	if m.deps.Source == nil {
		return "", fmt.Errorf("metadata source not configured")
	}
	m.mu.Lock()
	for _, rs := range m.running {
		if rs.session.cfg.ChannelID == channelID {
			m.mu.Unlock()
			return "", fmt.Errorf("channel %s already being watched (session %s)", channelID, rs.session.ID)
		}
	}
	cfg := m.defaults
	cfg.ChannelID = channelID
	if notifier == nil {
		notifier = m.deps.Notifier
	}
	s := NewSession(cfg, m.deps.Source, m.deps.Prober, m.deps.Transcripts, notifier)
	sctx, cancel := context.WithCancel(ctx)
	rs := &runningSession{session: s, cancel: cancel, done: make(chan struct{})}
	m.running[s.ID] = rs
	telemetry.SetActiveSessions(len(m.running))
	m.mu.Unlock()

	if m.deps.DB != nil {
		if err := db.UpsertSession(ctx, m.deps.DB, s.ID, channelID, s.State().String(), 0, ""); err != nil {
			slog.Warn("session audit insert failed", slog.Any("err", err))
		}
	}

	go m.run(sctx, rs)
	return s.ID, nil
}

func (m *Manager) run(ctx context.Context, rs *runningSession) {
	defer close(rs.done)
	s := rs.session
	res, err := s.Run(ctx)
	reason := "completed"
	if err != nil {
		reason = "canceled"
	}
	if res != nil && res.State == StateDone {
		m.finish(s, res)
	}
	if m.deps.DB != nil {
		st := StateStopped
		if res != nil {
			st = res.State
		}
		if derr := db.EndSession(context.Background(), m.deps.DB, s.ID, st.String(), reason); derr != nil {
			slog.Warn("session audit close failed", slog.Any("err", derr))
		}
	}
	m.mu.Lock()
	delete(m.running, s.ID)
	telemetry.SetActiveSessions(len(m.running))
	m.mu.Unlock()
}

// finish audits the detected video and hands a ready transcript to the
// downstream pipeline. Session cancellation must not abort auditing or
// processing, so this runs on a background context.
func (m *Manager) finish(s *Session, res *Result) {
	if res.Video == nil {
		return
	}
	ctx := context.Background()
	if m.deps.DB != nil {
		v := res.Video
		if err := db.RecordVideo(ctx, m.deps.DB, v.ID, s.cfg.ChannelID, v.Title, ClassifyDuration(v.DurationSeconds).String(), v.DurationSeconds); err != nil {
			slog.Warn("video audit failed", slog.Any("err", err))
		}
		status := "failed"
		chars := 0
		if res.Transcript != nil {
			status = res.Transcript.Status.String()
			chars = len(res.Transcript.Text)
		}
		if err := db.SetTranscriptStatus(ctx, m.deps.DB, v.ID, status, chars); err != nil {
			slog.Warn("transcript audit failed", slog.Any("err", err))
		}
	}
	if m.deps.OnTranscript != nil && res.Transcript != nil && res.Transcript.Status == transcript.StatusReady {
		m.deps.OnTranscript(ctx, *res.Video, *res.Transcript)
	}
}

// Stop cancels a session by id and waits for its goroutine to exit.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	rs, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	rs.cancel()
	<-rs.done
	return true
}

// StopChannel cancels every session watching the channel and returns how many
// it stopped.
func (m *Manager) StopChannel(channelID string) int {
	m.mu.Lock()
	var targets []*runningSession
	for _, rs := range m.running {
		if rs.session.cfg.ChannelID == channelID {
			targets = append(targets, rs)
		}
	}
	m.mu.Unlock()
	for _, rs := range targets {
		rs.cancel()
		<-rs.done
	}
	return len(targets)
}

// StopAll cancels all sessions (shutdown path).
func (m *Manager) StopAll() {
	m.mu.Lock()
	var targets []*runningSession
	for _, rs := range m.running {
		targets = append(targets, rs)
	}
	m.mu.Unlock()
	for _, rs := range targets {
		rs.cancel()
		<-rs.done
	}
}

// Active returns the number of running sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Status returns snapshots of all running sessions, ordered by start time.
func (m *Manager) Status() []SessionStatus {
	m.mu.Lock()
	out := make([]SessionStatus, 0, len(m.running))
	for _, rs := range m.running {
		out = append(out, rs.session.Status())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
