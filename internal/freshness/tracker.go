// Package freshness tracks when data behind a cached response last changed so
// cache validators move whenever a result could have moved.
package freshness

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Tracker records the latest mutation time per key.
type Tracker struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{marks: make(map[string]time.Time)}
}

// EntryKey identifies a journal entry.
func EntryKey(entryID string) string {
	return "entry:" + entryID
}

// UserKey identifies one user's activities in one store.
func UserKey(userID, mode string) string {
	return "user:" + mode + ":" + userID
}

// Touch records a mutation at ts. Older timestamps never move a mark back.
func (t *Tracker) Touch(key string, ts time.Time) {
	if t == nil || ts.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.marks[key]; !ok || ts.After(prev) {
		t.marks[key] = ts.UTC()
	}
}

// Last returns the latest mutation recorded for key.
func (t *Tracker) Last(key string) time.Time {
	if t == nil {
		return time.Time{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.marks[key]
}

// Marker combines the recorded marks for keys with known mutation times and
// the current TTL window. Flooring to the window keeps the marker moving even
// when no mutation event is observed.
func (t *Tracker) Marker(now time.Time, window time.Duration, known []time.Time, keys ...string) time.Time {
	marker := now.UTC()
	if window > 0 {
		marker = marker.Truncate(window)
	}
	for _, ts := range known {
		if ts.After(marker) {
			marker = ts.UTC()
		}
	}
	for _, key := range keys {
		if ts := t.Last(key); ts.After(marker) {
			marker = ts
		}
	}
	return marker
}

// WeakETag derives a weak validator from a marker and the parts that identify
// the result.
func WeakETag(marker time.Time, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x1f")))
	h.Write([]byte{0x1e})
	h.Write([]byte(marker.UTC().Format(time.RFC3339Nano)))
	return `W/"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}

// Matches reports whether an If-None-Match header value matches etag using
// weak comparison.
func Matches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}
