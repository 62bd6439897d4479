// Package youtubeapi wraps the YouTube Data API v3 for channel metadata reads
// (upload counts, recent uploads, durations) behind a pool of rotating API
// keys, plus a redirect probe that tells Shorts from regular uploads when the
// API has not populated a duration yet. All access is key-based; no OAuth.
package youtubeapi

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"buzzwatch/db"
	"buzzwatch/telemetry"
	"buzzwatch/watch"
)

// ErrAllKeysExhausted is returned when every configured key has hit its quota.
// It wraps both watch.ErrQuotaExceeded (the pool drained because quotas were
// hit) and watch.ErrCredentialsExhausted (nothing left to rotate to) so
// sessions recognize either.
var ErrAllKeysExhausted = fmt.Errorf("api key pool: %w: %w", watch.ErrQuotaExceeded, watch.ErrCredentialsExhausted)

// KeyRotator hands out API keys and tracks quota exhaustion. A key is used
// until it hits quota, then the rotator moves to the next one. Reset (daily,
// when Google's quota window rolls over) clears the exhausted set.
type KeyRotator struct {
	mu        sync.Mutex
	keys      []string
	exhausted map[string]bool
	cur       int
}

// NewKeyRotator builds a rotator over the given keys.
func NewKeyRotator(keys []string) *KeyRotator {
	return &KeyRotator{keys: keys, exhausted: make(map[string]bool)}
}

// Next returns the current usable key, or ErrAllKeysExhausted.
func (r *KeyRotator) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return "", fmt.Errorf("no api keys configured: %w", watch.ErrCredentialsExhausted)
	}
	for i := 0; i < len(r.keys); i++ {
		idx := (r.cur + i) % len(r.keys)
		k := r.keys[idx]
		if !r.exhausted[k] {
			r.cur = idx
			return k, nil
		}
	}
	return "", ErrAllKeysExhausted
}

// MarkExhausted records a key hitting its quota and advances to the next key.
func (r *KeyRotator) MarkExhausted(key string) {
	r.mu.Lock()
	if !r.exhausted[key] {
		r.exhausted[key] = true
		slog.Warn("api key quota exhausted", slog.Int("exhausted", len(r.exhausted)), slog.Int("total", len(r.keys)))
	}
	if len(r.keys) > 0 {
		r.cur = (r.cur + 1) % len(r.keys)
	}
	n := len(r.exhausted)
	r.mu.Unlock()
	telemetry.SetExhaustedKeys(n)
}

// Reset clears exhaustion state for all keys.
func (r *KeyRotator) Reset() {
	r.mu.Lock()
	r.exhausted = make(map[string]bool)
	r.cur = 0
	r.mu.Unlock()
	telemetry.SetExhaustedKeys(0)
	slog.Info("api key pool reset")
}

// Status returns total and exhausted key counts.
func (r *KeyRotator) Status() (total, exhausted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys), len(r.exhausted)
}

// StartKeyResetJob resets the key pool once a day at resetHourUTC, matching
// Google's quota rollover. Runs until ctx is canceled. database may be nil;
// with it, each reset records a heartbeat for the status endpoint.
func StartKeyResetJob(ctx context.Context, r *KeyRotator, resetHourUTC int, database *sql.DB) {
	go func() {
		for {
			d := untilNextHourUTC(time.Now().UTC(), resetHourUTC)
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			r.Reset()
			if database != nil {
				db.Heartbeat(ctx, database, "key_reset")
			}
		}
	}()
}

func untilNextHourUTC(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
