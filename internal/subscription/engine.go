// Package subscription owns the installation's entitlement record and the
// tier state machine that mutates it.
package subscription

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docsift/docsift/internal/license"
	"github.com/docsift/docsift/internal/metrics"
	"github.com/docsift/docsift/internal/notify"
	"github.com/docsift/docsift/internal/registry"
	"github.com/docsift/docsift/internal/tier"
	"github.com/docsift/docsift/internal/usage"
)

const (
	// TrialDuration is how long a fresh installation stays on the trial tier.
	TrialDuration = 7 * 24 * time.Hour

	// GracePeriod is how long full document access survives a failed
	// license check before the downgrade side effects fire.
	GracePeriod = 7 * 24 * time.Hour
)

var allTierNames = []string{
	string(tier.TierTrial),
	string(tier.TierFree),
	string(tier.TierPaid),
	string(tier.TierPaidLimited),
}

// SettingsController lets the engine force the installation's API-key mode
// when a transition revokes access to operator default keys.
type SettingsController interface {
	ForceAPIKeyMode(useDefaultKeys bool) error
}

// Engine orchestrates tier transitions, quota decisions and downgrade side
// effects. All entitlement mutations are serialized through one lock; usage
// counters carry their own lock inside the tracker.
type Engine struct {
	mu      sync.Mutex
	dataDir string
	rec     Record

	validator *license.Validator
	usage     *usage.Tracker
	docs      registry.Store
	notifier  notify.Sink
	settings  SettingsController

	now func() time.Time
}

// NewEngine loads (or initializes) the entitlement record and wires the
// collaborators. A first run or an unreadable record starts a fresh trial.
func NewEngine(dataDir string, validator *license.Validator, tracker *usage.Tracker, docs registry.Store, notifier notify.Sink) *Engine {
	e := &Engine{
		dataDir:   dataDir,
		validator: validator,
		usage:     tracker,
		docs:      docs,
		notifier:  notifier,
		now:       time.Now,
	}

	rec, ok := loadRecord(dataDir)
	if ok {
		e.rec = rec
	} else {
		now := e.now()
		trialEnd := now.Add(TrialDuration)
		e.rec = Record{
			Tier:           tier.TierTrial,
			TrialStartedAt: &now,
			TrialExpiresAt: &trialEnd,
			Features:       tier.LimitsFor(tier.TierTrial),
			LastTierChange: now,
		}
		if err := saveRecord(dataDir, e.rec); err != nil {
			log.Warn().Err(err).Msg("Failed to persist initial entitlement record")
		}
		log.Info().Time("expires", trialEnd).Msg("Started trial period")
	}

	metrics.SetCurrentTier(string(e.rec.Tier), allTierNames)
	return e
}

// SetSettingsController wires the optional settings collaborator.
func (e *Engine) SetSettingsController(s SettingsController) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = s
}

// CurrentEntitlement returns a snapshot of the entitlement record.
func (e *Engine) CurrentEntitlement() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone()
}

// CheckExpiry reconciles time-based transitions. It runs once at process
// startup and is idempotent: a second call with no elapsed time observes a
// record that no longer satisfies any trigger. It also retries a document
// trim that failed during a previous downgrade.
func (e *Engine) CheckExpiry() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	switch e.rec.Tier {
	case tier.TierTrial:
		if e.rec.TrialExpiresAt != nil && now.After(*e.rec.TrialExpiresAt) {
			e.transitionLocked(tier.TierFree, func(r *Record) {})
			e.forceUserKeysLocked()
			e.emit(notify.KindTrialEnded, "Trial ended",
				"Your trial period is over. You are now on the free tier.")
		}

	case tier.TierPaidLimited:
		if e.rec.GracePeriodExpiresAt != nil && now.After(*e.rec.GracePeriodExpiresAt) {
			e.transitionLocked(tier.TierFree, func(r *Record) {
				r.GracePeriodStartedAt = nil
				r.GracePeriodExpiresAt = nil
			})
			// The tier flip is already durable; a deletion failure only
			// leaves the trim pending, never an inconsistent record.
			if err := e.trimDocumentsLocked(); err != nil {
				log.Error().Err(err).Msg("Document trim failed during downgrade, will retry on next startup")
				e.rec.PendingDocumentTrim = true
				e.persistLocked()
			}
			e.forceUserKeysLocked()
			e.emit(notify.KindDowngraded, "Subscription downgraded",
				"Your grace period has ended. Documents beyond the free limit were permanently removed.")
		}

	case tier.TierFree:
		if e.rec.PendingDocumentTrim {
			if err := e.trimDocumentsLocked(); err != nil {
				log.Error().Err(err).Msg("Retried document trim failed, will retry on next startup")
			} else {
				e.rec.PendingDocumentTrim = false
				e.persistLocked()
			}
		}
	}
}

// ActivateLicense validates the token and, if it asserts the paid tier,
// activates it. The current tier is untouched on any validation failure.
func (e *Engine) ActivateLicense(token string) (tier.Tier, error) {
	assertedTier, expiry, err := e.validator.Validate(token)
	if err != nil {
		metrics.LicenseActivationsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}
	if assertedTier != tier.TierPaid {
		metrics.LicenseActivationsTotal.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: token asserts unsupported tier %s", license.ErrInvalidLicense, assertedTier)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	restored := e.rec.Tier == tier.TierPaidLimited
	e.transitionLocked(tier.TierPaid, func(r *Record) {
		r.LicenseKey = token
		r.GracePeriodStartedAt = nil
		r.GracePeriodExpiresAt = nil
		r.PendingDocumentTrim = false
	})
	metrics.LicenseActivationsTotal.WithLabelValues("accepted").Inc()

	log.Info().Time("expires", expiry).Msg("License activated")
	if restored {
		e.emit(notify.KindLicenseActivated, "Subscription restored",
			"Your license was renewed. Full access is restored and no documents were removed.")
	} else {
		e.emit(notify.KindLicenseActivated, "License activated",
			"Your paid subscription is now active.")
	}
	return tier.TierPaid, nil
}

// ValidateLicensePreview validates a token without any side effects.
func (e *Engine) ValidateLicensePreview(token string) (license.Preview, error) {
	return e.validator.Preview(token)
}

// ReportLicenseFailure moves a paid installation into the grace period.
// The trigger is external (the host's license re-check); the engine never
// polls. A non-paid tier makes this a no-op.
func (e *Engine) ReportLicenseFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Tier != tier.TierPaid {
		return
	}

	now := e.now()
	end := now.Add(GracePeriod)
	e.transitionLocked(tier.TierPaidLimited, func(r *Record) {
		r.GracePeriodStartedAt = &now
		r.GracePeriodExpiresAt = &end
	})
	e.forceUserKeysLocked()
	e.emit(notify.KindPaymentIssue, "Payment issue",
		"We could not verify your license. Full access continues until "+end.Format("2006-01-02")+".")
}

// CheckUpload reports whether a document of the given size may be uploaded
// right now. Never blocks on collaborator I/O.
func (e *Engine) CheckUpload(fileSizeMB float64) error {
	e.mu.Lock()
	features := e.rec.Features
	current := e.rec.Tier
	e.mu.Unlock()

	if features.MaxDocSizeMB != tier.Unlimited && fileSizeMB > float64(features.MaxDocSizeMB) {
		return denial(DenialFileTooLarge, current, features.MaxDocSizeMB,
			"document is %.1fMB, the %s tier allows up to %dMB per document",
			fileSizeMB, tier.DisplayName(current), features.MaxDocSizeMB)
	}
	if !e.usage.CheckDocuments(features.MaxDocuments) {
		return denial(DenialUploadLimit, current, features.MaxDocuments,
			"the %s tier allows up to %d documents", tier.DisplayName(current), features.MaxDocuments)
	}
	if features.MaxTotalStorageMB != tier.Unlimited {
		if e.usage.TotalStorageMB()+fileSizeMB > float64(features.MaxTotalStorageMB) {
			return denial(DenialUploadLimit, current, features.MaxTotalStorageMB,
				"the %s tier allows up to %dMB of total storage", tier.DisplayName(current), features.MaxTotalStorageMB)
		}
	}
	return nil
}

// RecordUpload records a completed upload in the usage counters.
func (e *Engine) RecordUpload(documentID string, sizeMB float64) error {
	return e.usage.RecordUpload(documentID, sizeMB)
}

// CheckQuery reports whether another query fits within the current tier's
// daily and monthly windows.
func (e *Engine) CheckQuery() (usage.QueryStatus, error) {
	e.mu.Lock()
	features := e.rec.Features
	current := e.rec.Tier
	e.mu.Unlock()

	status := e.usage.CheckQuery(features.MaxQueriesDaily, features.MaxQueriesMonthly)
	if status.Allowed {
		return status, nil
	}

	limit := features.MaxQueriesDaily
	if status.LimitedBy == "monthly" {
		limit = features.MaxQueriesMonthly
	}
	return status, denial(DenialQueryLimit, current, limit,
		"%s query limit reached for the %s tier", status.LimitedBy, tier.DisplayName(current))
}

// RecordQuery records a completed query.
func (e *Engine) RecordQuery() error {
	return e.usage.RecordQuery()
}

// GuardAPIKeyMode is the synchronous guard the settings collaborator calls
// before persisting an API-key-mode change.
func (e *Engine) GuardAPIKeyMode(useDefaultKeys bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if useDefaultKeys && !e.rec.Features.UseDefaultKeys {
		return denial(DenialDefaultKeys, e.rec.Tier, 0,
			"the %s tier requires your own API credentials", tier.DisplayName(e.rec.Tier))
	}
	return nil
}

// VisibleDocumentCap returns the read-path document cap for the current
// tier. capped is false when the tier imposes no cap.
func (e *Engine) VisibleDocumentCap() (limit int, capped bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Features.MaxDocuments == tier.Unlimited {
		return 0, false
	}
	return e.rec.Features.MaxDocuments, true
}

// VisibleDocuments lists the documents the current tier may see: the
// earliest by creation time up to the cap. Hidden documents are filtered,
// not deleted.
func (e *Engine) VisibleDocuments() ([]registry.Document, error) {
	limit, capped := e.VisibleDocumentCap()

	docs, err := e.docs.List()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	sortByCreation(docs)

	if capped && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// transitionLocked flips the tier, reapplies the catalog snapshot and
// persists the record. mutate runs before the flip so grace/trial fields
// change in the same durable write. Must be called with e.mu held.
func (e *Engine) transitionLocked(to tier.Tier, mutate func(*Record)) {
	from := e.rec.Tier
	mutate(&e.rec)
	e.rec.Tier = to
	e.rec.Features = tier.LimitsFor(to)
	e.rec.LastTierChange = e.now()
	e.persistLocked()

	metrics.TierTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	metrics.SetCurrentTier(string(to), allTierNames)
	log.Info().Str("from", string(from)).Str("to", string(to)).Msg("Tier transition")
}

func (e *Engine) persistLocked() {
	if err := saveRecord(e.dataDir, e.rec); err != nil {
		log.Error().Err(err).Msg("Failed to persist entitlement record")
	}
}

// trimDocumentsLocked permanently deletes every document beyond the current
// tier's cap, keeping the earliest by creation time. Must be called with
// e.mu held.
func (e *Engine) trimDocumentsLocked() error {
	limit := e.rec.Features.MaxDocuments
	if limit == tier.Unlimited {
		return nil
	}

	docs, err := e.docs.List()
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	sortByCreation(docs)
	if len(docs) <= limit {
		return nil
	}

	ids := make([]string, 0, len(docs)-limit)
	for _, doc := range docs[limit:] {
		ids = append(ids, doc.ID)
	}

	if err := e.docs.Delete(ids); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if err := e.usage.RemoveDocuments(ids); err != nil {
		log.Warn().Err(err).Msg("Failed to update usage history after document trim")
	}

	metrics.DocumentsDeletedTotal.Add(float64(len(ids)))
	log.Info().Int("deleted", len(ids)).Int("kept", limit).Msg("Trimmed documents beyond tier cap")
	return nil
}

func (e *Engine) forceUserKeysLocked() {
	if e.settings == nil {
		return
	}
	if err := e.settings.ForceAPIKeyMode(false); err != nil {
		log.Warn().Err(err).Msg("Failed to force API-key mode to user keys")
	}
}

func (e *Engine) emit(kind notify.Kind, title, body string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Emit(kind, title, body)
}

func sortByCreation(docs []registry.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
}
