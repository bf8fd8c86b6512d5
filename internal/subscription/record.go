package subscription

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docsift/docsift/internal/atomicfile"
	"github.com/docsift/docsift/internal/tier"
)

// FileName is the entitlement record file under the data directory.
const FileName = "subscription.json"

// Record is the single mutable entitlement record for this installation.
// The grace-period fields are non-nil exactly while Tier is paid_limited;
// Features always mirrors the catalog entry for Tier.
type Record struct {
	Tier       tier.Tier `json:"tier"`
	LicenseKey string    `json:"license_key,omitempty"`

	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	TrialExpiresAt *time.Time `json:"trial_expires_at,omitempty"`

	GracePeriodStartedAt *time.Time `json:"grace_period_started_at,omitempty"`
	GracePeriodExpiresAt *time.Time `json:"grace_period_expires_at,omitempty"`

	Features       tier.FeatureFlags `json:"features"`
	LastTierChange time.Time         `json:"last_tier_change"`

	// PendingDocumentTrim is set when a downgrade's document deletion
	// partially failed; the next startup expiry check retries it.
	PendingDocumentTrim bool `json:"pending_document_trim,omitempty"`
}

// clone returns a deep copy so callers can hold a snapshot without racing
// the engine's mutations.
func (r Record) clone() Record {
	copied := r
	copied.TrialStartedAt = cloneTime(r.TrialStartedAt)
	copied.TrialExpiresAt = cloneTime(r.TrialExpiresAt)
	copied.GracePeriodStartedAt = cloneTime(r.GracePeriodStartedAt)
	copied.GracePeriodExpiresAt = cloneTime(r.GracePeriodExpiresAt)
	return copied
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// loadRecord reads the entitlement record from dataDir. A missing or corrupt
// file returns ok=false; the caller initializes a fresh record.
func loadRecord(dataDir string) (Record, bool) {
	path := filepath.Join(dataDir, FileName)

	data, err := atomicfile.ReadFile(path)
	if err != nil {
		if !atomicfile.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Entitlement record unreadable, reinitializing")
		}
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Entitlement record corrupt, reinitializing")
		return Record{}, false
	}
	if _, err := tier.Parse(string(rec.Tier)); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Entitlement record has unknown tier, reinitializing")
		return Record{}, false
	}

	// Features are denormalized for fast reads but the catalog is the
	// source of truth.
	rec.Features = tier.LimitsFor(rec.Tier)
	return rec, true
}

// saveRecord atomically rewrites the entitlement record.
func saveRecord(dataDir string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(filepath.Join(dataDir, FileName), data)
}
