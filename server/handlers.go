package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"buzzwatch/db"
	"buzzwatch/watch"
	"buzzwatch/youtubeapi"
)

// Deps holds the collaborators the HTTP handlers need. DB may be nil in
// tests; handlers that need it answer 503.
type Deps struct {
	DB             *sql.DB
	Manager        *watch.Manager
	Keys           *youtubeapi.KeyRotator
	DefaultChannel string
}

// Handlers holds dependencies for all HTTP handlers. ctx is the process
// context: sessions started over HTTP must outlive the request.
type Handlers struct {
	ctx  context.Context
	deps Deps
}

// NewHandlers creates a Handlers instance.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{ctx: ctx, deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseIntQuery extracts an int parameter from the query string with a default.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// HandleHealthz responds to liveness probes by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with per-dependency checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.deps.DB == nil {
				return fmt.Errorf("database not configured")
			}
			return h.deps.DB.PingContext(r.Context())
		}},
		{"api_keys", func() error {
			if h.deps.Keys == nil {
				return fmt.Errorf("api key pool not configured")
			}
			total, exhausted := h.deps.Keys.Status()
			if total == 0 {
				return fmt.Errorf("no api keys configured")
			}
			if exhausted >= total {
				return fmt.Errorf("all %d api keys exhausted", total)
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports running sessions, key pool health, and job heartbeats.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"default_channel": h.deps.DefaultChannel,
	}
	if h.deps.Manager != nil {
		out["sessions"] = h.deps.Manager.Status()
		out["active_sessions"] = h.deps.Manager.Active()
	}
	if h.deps.Keys != nil {
		total, exhausted := h.deps.Keys.Status()
		out["api_keys"] = map[string]int{"total": total, "exhausted": exhausted, "usable": total - exhausted}
	}
	if h.deps.DB != nil {
		heartbeats := map[string]string{}
		for _, job := range []string{"key_reset"} {
			if v, err := db.GetKV(r.Context(), h.deps.DB, "job_"+job+"_last"); err == nil && v != "" {
				heartbeats[job] = v
			}
		}
		out["job_heartbeats"] = heartbeats
	}
	writeJSON(w, http.StatusOK, out)
}

type videoRow struct {
	VideoID          string `json:"video_id"`
	ChannelID        string `json:"channel_id"`
	Title            string `json:"title"`
	DurationSeconds  int    `json:"duration_seconds"`
	Classification   string `json:"classification"`
	TranscriptStatus string `json:"transcript_status"`
	TranscriptChars  int    `json:"transcript_chars"`
	CountsJSON       string `json:"counts,omitempty"`
}

// HandleVideos lists recently detected videos.
func (h *Handlers) HandleVideos(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := h.deps.DB.QueryContext(r.Context(), `SELECT video_id, COALESCE(channel_id,''), COALESCE(title,''),
		COALESCE(duration_seconds,0), COALESCE(classification,''), COALESCE(transcript_status,''),
		COALESCE(transcript_chars,0), COALESCE(counts_json,'')
		FROM videos ORDER BY detected_at DESC NULLS LAST LIMIT $1`, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()
	out := []videoRow{}
	for rows.Next() {
		var v videoRow
		if err := rows.Scan(&v.VideoID, &v.ChannelID, &v.Title, &v.DurationSeconds, &v.Classification,
			&v.TranscriptStatus, &v.TranscriptChars, &v.CountsJSON); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type tradeRow struct {
	VideoID   string  `json:"video_id"`
	MarketID  string  `json:"market_id"`
	Question  string  `json:"question"`
	Category  string  `json:"category"`
	WordCount int     `json:"word_count"`
	Threshold int     `json:"threshold"`
	MidPrice  float64 `json:"mid_price"`
	USDC      float64 `json:"usdc"`
	DryRun    bool    `json:"dry_run"`
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
}

// HandleTrades lists the auto-trade audit log, newest first.
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := h.deps.DB.QueryContext(r.Context(), `SELECT COALESCE(video_id,''), COALESCE(market_id,''),
		COALESCE(question,''), COALESCE(category,''), COALESCE(word_count,0), COALESCE(threshold,0),
		COALESCE(mid_price,0), COALESCE(usdc,0), COALESCE(dry_run,true), COALESCE(order_id,''), COALESCE(status,'')
		FROM trades ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rows.Close()
	out := []tradeRow{}
	for rows.Next() {
		var t tradeRow
		if err := rows.Scan(&t.VideoID, &t.MarketID, &t.Question, &t.Category, &t.WordCount, &t.Threshold,
			&t.MidPrice, &t.USDC, &t.DryRun, &t.OrderID, &t.Status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, t)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleSessions lists running sessions (GET) or starts a new one (POST).
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Manager == nil {
		http.Error(w, "watch manager not configured", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.deps.Manager.Status())
	case http.MethodPost:
		var body struct {
			ChannelID string `json:"channel_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		channel := body.ChannelID
		if channel == "" {
			channel = h.deps.DefaultChannel
		}
		id, err := h.deps.Manager.Start(h.ctx, channel, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"session_id": id, "channel_id": channel})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSessionByID stops a session (DELETE /sessions/{id}).
func (h *Handlers) HandleSessionByID(w http.ResponseWriter, r *http.Request) {
	if h.deps.Manager == nil {
		http.Error(w, "watch manager not configured", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.deps.Manager.Stop(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"stopped": id})
}

// HandleKeysReset clears quota exhaustion on the key pool ahead of schedule.
func (h *Handlers) HandleKeysReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Keys == nil {
		http.Error(w, "api key pool not configured", http.StatusServiceUnavailable)
		return
	}
	h.deps.Keys.Reset()
	total, exhausted := h.deps.Keys.Status()
	writeJSON(w, http.StatusOK, map[string]int{"total": total, "exhausted": exhausted})
}
