// Package usage tracks query and document consumption against rolling
// daily and monthly windows. Counters survive restarts and tier changes.
package usage

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docsift/docsift/internal/atomicfile"
	"github.com/docsift/docsift/internal/tier"
)

const FileName = "usage.json"

// Window is a rolling counter that resets when its boundary passes.
type Window struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// UploadEntry records one document upload.
type UploadEntry struct {
	DocumentID string    `json:"document_id"`
	SizeMB     float64   `json:"size_mb"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Record is the persisted usage aggregate.
type Record struct {
	QueriesDaily   Window        `json:"queries_daily"`
	QueriesMonthly Window        `json:"queries_monthly"`
	DocumentCount  int           `json:"document_count"`
	UploadHistory  []UploadEntry `json:"upload_history"`
}

// QueryStatus is the result of a quota check.
type QueryStatus struct {
	Allowed          bool
	RemainingDaily   int // -1 when unlimited
	RemainingMonthly int // -1 when unlimited
	DailyResetAt     time.Time
	MonthlyResetAt   time.Time

	// LimitedBy names the violated window ("daily" or "monthly") when
	// Allowed is false. Daily wins when both are exhausted.
	LimitedBy string
}

// Tracker owns the usage record. Every mutation is serialized through one
// lock and rewrites the backing file atomically.
type Tracker struct {
	mu   sync.Mutex
	path string
	rec  Record

	now func() time.Time
}

// NewTracker loads (or initializes) the usage record under dataDir.
// A corrupt or missing file is treated as no usage yet, never as fatal.
func NewTracker(dataDir string) *Tracker {
	t := &Tracker{
		path: filepath.Join(dataDir, FileName),
		now:  time.Now,
	}

	data, err := atomicfile.ReadFile(t.path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, &t.rec); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", t.path).Msg("Usage file corrupt, reinitializing counters")
			t.rec = Record{}
		}
	case atomicfile.IsNotExist(err):
		// First run.
	default:
		log.Warn().Err(err).Str("path", t.path).Msg("Usage file unreadable, reinitializing counters")
	}

	now := t.now()
	if t.rec.QueriesDaily.ResetAt.IsZero() {
		t.rec.QueriesDaily.ResetAt = nextMidnight(now)
	}
	if t.rec.QueriesMonthly.ResetAt.IsZero() {
		t.rec.QueriesMonthly.ResetAt = nextMonthStart(now)
	}
	return t
}

// CheckQuery applies lazy window resets and reports whether another query
// fits within the given limits. tier.Unlimited disables a dimension.
func (t *Tracker) CheckQuery(dailyLimit, monthlyLimit int) QueryStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetExpiredWindows()

	status := QueryStatus{
		Allowed:          true,
		RemainingDaily:   remaining(dailyLimit, t.rec.QueriesDaily.Count),
		RemainingMonthly: remaining(monthlyLimit, t.rec.QueriesMonthly.Count),
		DailyResetAt:     t.rec.QueriesDaily.ResetAt,
		MonthlyResetAt:   t.rec.QueriesMonthly.ResetAt,
	}

	dailyExceeded := dailyLimit != tier.Unlimited && t.rec.QueriesDaily.Count >= dailyLimit
	monthlyExceeded := monthlyLimit != tier.Unlimited && t.rec.QueriesMonthly.Count >= monthlyLimit

	switch {
	case dailyExceeded:
		status.Allowed = false
		status.LimitedBy = "daily"
	case monthlyExceeded:
		status.Allowed = false
		status.LimitedBy = "monthly"
	}
	return status
}

// RecordQuery increments both query windows. The caller is responsible for
// calling it at most once per completed query.
func (t *Tracker) RecordQuery() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetExpiredWindows()
	t.rec.QueriesDaily.Count++
	t.rec.QueriesMonthly.Count++
	return t.persistLocked()
}

// CheckDocuments reports whether another document fits under limit.
func (t *Tracker) CheckDocuments(limit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return limit == tier.Unlimited || t.rec.DocumentCount < limit
}

// DocumentCount returns the current tracked document total.
func (t *Tracker) DocumentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.DocumentCount
}

// RecordUpload appends to the upload history.
func (t *Tracker) RecordUpload(documentID string, sizeMB float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rec.UploadHistory = append(t.rec.UploadHistory, UploadEntry{
		DocumentID: documentID,
		SizeMB:     sizeMB,
		UploadedAt: t.now(),
	})
	t.rec.DocumentCount++
	return t.persistLocked()
}

// RemoveDocuments drops the given document IDs from the upload history and
// decrements the total. Used only by the downgrade side effect.
func (t *Tracker) RemoveDocuments(documentIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	drop := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		drop[id] = true
	}

	kept := t.rec.UploadHistory[:0]
	removed := 0
	for _, entry := range t.rec.UploadHistory {
		if drop[entry.DocumentID] {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	t.rec.UploadHistory = kept
	t.rec.DocumentCount -= removed
	if t.rec.DocumentCount < 0 {
		t.rec.DocumentCount = 0
	}
	return t.persistLocked()
}

// TotalStorageMB sums the sizes of every tracked upload.
func (t *Tracker) TotalStorageMB() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, entry := range t.rec.UploadHistory {
		total += entry.SizeMB
	}
	return total
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.rec
	rec.UploadHistory = append([]UploadEntry(nil), t.rec.UploadHistory...)
	return rec
}

// resetExpiredWindows zeroes any window whose boundary has passed and
// advances its reset time. Persisted only when something actually reset.
// Must be called with t.mu held.
func (t *Tracker) resetExpiredWindows() {
	now := t.now()
	changed := false

	if now.After(t.rec.QueriesDaily.ResetAt) {
		t.rec.QueriesDaily.Count = 0
		t.rec.QueriesDaily.ResetAt = nextMidnight(now)
		changed = true
	}
	if now.After(t.rec.QueriesMonthly.ResetAt) {
		t.rec.QueriesMonthly.Count = 0
		t.rec.QueriesMonthly.ResetAt = nextMonthStart(now)
		changed = true
	}

	if changed {
		if err := t.persistLocked(); err != nil {
			log.Warn().Err(err).Msg("Failed to persist usage window reset")
		}
	}
}

func (t *Tracker) persistLocked() error {
	data, err := json.MarshalIndent(t.rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(t.path, data)
}

func remaining(limit, count int) int {
	if limit == tier.Unlimited {
		return tier.Unlimited
	}
	if count >= limit {
		return 0
	}
	return limit - count
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

func nextMonthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
}
