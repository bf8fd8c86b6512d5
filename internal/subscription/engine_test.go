package subscription

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/license"
	"github.com/docsift/docsift/internal/notify"
	"github.com/docsift/docsift/internal/registry"
	"github.com/docsift/docsift/internal/tier"
	"github.com/docsift/docsift/internal/usage"
)

var testSecret = []byte("docsift-test-secret")

type fakeRegistry struct {
	docs       []registry.Document
	failDelete bool
	deleted    []string
}

func (f *fakeRegistry) List() ([]registry.Document, error) {
	return append([]registry.Document(nil), f.docs...), nil
}

func (f *fakeRegistry) Delete(ids []string) error {
	if f.failDelete {
		return errors.New("registry unavailable")
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.docs[:0]
	for _, doc := range f.docs {
		if drop[doc.ID] {
			f.deleted = append(f.deleted, doc.ID)
			continue
		}
		kept = append(kept, doc)
	}
	f.docs = kept
	return nil
}

type sinkRecorder struct {
	events []notify.Event
}

func (s *sinkRecorder) Emit(kind notify.Kind, title, body string) {
	s.events = append(s.events, notify.Event{Kind: kind, Title: title, Body: body})
}

func (s *sinkRecorder) kinds() []notify.Kind {
	kinds := make([]notify.Kind, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type fakeSettings struct {
	forced []bool
}

func (f *fakeSettings) ForceAPIKeyMode(useDefaultKeys bool) error {
	f.forced = append(f.forced, useDefaultKeys)
	return nil
}

type testHarness struct {
	engine   *Engine
	registry *fakeRegistry
	sink     *sinkRecorder
	settings *fakeSettings
	tracker  *usage.Tracker
	clock    *time.Time
	dataDir  string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()
	now := time.Now()

	h := &testHarness{
		registry: &fakeRegistry{},
		sink:     &sinkRecorder{},
		settings: &fakeSettings{},
		clock:    &now,
		dataDir:  dir,
	}
	h.tracker = usage.NewTracker(dir)
	validator := license.NewValidator(nil, testSecret)
	h.engine = NewEngine(dir, validator, h.tracker, h.registry, h.sink)
	h.engine.now = func() time.Time { return *h.clock }
	h.engine.SetSettingsController(h.settings)
	return h
}

func (h *testHarness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

func (h *testHarness) mintToken(t *testing.T, tierName string, expiresAt time.Time) string {
	t.Helper()
	claims := license.Claims{
		Tier: tierName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(*h.clock),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

// uploadDocuments registers n documents at one-minute intervals, in both the
// registry and the usage tracker, oldest first.
func (h *testHarness) uploadDocuments(t *testing.T, n int) {
	t.Helper()
	base := h.clock.Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("doc-%d", i+1)
		h.registry.docs = append(h.registry.docs, registry.Document{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			SizeMB:    1,
		})
		require.NoError(t, h.engine.RecordUpload(id, 1))
	}
}

func (h *testHarness) activatePaid(t *testing.T) {
	t.Helper()
	token := h.mintToken(t, "paid", h.clock.Add(365*24*time.Hour))
	newTier, err := h.engine.ActivateLicense(token)
	require.NoError(t, err)
	require.Equal(t, tier.TierPaid, newTier)
}

func TestFreshInstallStartsTrial(t *testing.T) {
	h := newHarness(t)
	h.engine.CheckExpiry()

	rec := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierTrial, rec.Tier)
	require.NotNil(t, rec.TrialStartedAt)
	require.NotNil(t, rec.TrialExpiresAt)
	assert.WithinDuration(t, rec.TrialStartedAt.Add(TrialDuration), *rec.TrialExpiresAt, time.Second)
	assert.Nil(t, rec.GracePeriodStartedAt)
	assert.Nil(t, rec.GracePeriodExpiresAt)

	assert.Zero(t, h.tracker.DocumentCount())
	assert.Zero(t, h.tracker.Snapshot().QueriesDaily.Count)
}

func TestTrialExpiryDowngradesToFree(t *testing.T) {
	h := newHarness(t)

	h.advance(TrialDuration + time.Hour)
	h.engine.CheckExpiry()

	rec := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierFree, rec.Tier)
	assert.False(t, rec.Features.UseDefaultKeys)
	assert.Equal(t, []notify.Kind{notify.KindTrialEnded}, h.sink.kinds())
	assert.Equal(t, []bool{false}, h.settings.forced, "API-key mode forced to user keys")
}

func TestCheckExpiryIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.advance(TrialDuration + time.Hour)
	h.engine.CheckExpiry()
	h.engine.CheckExpiry()

	assert.Equal(t, tier.TierFree, h.engine.CurrentEntitlement().Tier)
	assert.Len(t, h.sink.events, 1, "second call must not produce another transition")
}

func TestFreeTierDailyQueryLimit(t *testing.T) {
	h := newHarness(t)
	h.advance(TrialDuration + time.Hour)
	h.engine.CheckExpiry()
	require.Equal(t, tier.TierFree, h.engine.CurrentEntitlement().Tier)

	for i := 0; i < 20; i++ {
		_, err := h.engine.CheckQuery()
		require.NoError(t, err, "query %d should be allowed", i+1)
		require.NoError(t, h.engine.RecordQuery())
	}

	status, err := h.engine.CheckQuery()
	assert.False(t, status.Allowed)
	assert.Equal(t, 0, status.RemainingDaily)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryLimitReached)

	var de *DenialError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, tier.TierFree, de.Tier)
	assert.Equal(t, 20, de.Limit)
}

func TestTrialQueriesUnlimited(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, h.engine.RecordQuery())
	}
	status, err := h.engine.CheckQuery()
	assert.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestLicenseFailureEntersGracePeriod(t *testing.T) {
	h := newHarness(t)
	h.activatePaid(t)
	h.uploadDocuments(t, 5)

	h.engine.ReportLicenseFailure()

	rec := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierPaidLimited, rec.Tier)
	require.NotNil(t, rec.GracePeriodStartedAt)
	require.NotNil(t, rec.GracePeriodExpiresAt)
	assert.WithinDuration(t, h.clock.Add(GracePeriod), *rec.GracePeriodExpiresAt, time.Second)
	assert.False(t, rec.Features.UseDefaultKeys)

	// All 5 documents remain; only 3 earliest are visible.
	visible, err := h.engine.VisibleDocuments()
	require.NoError(t, err)
	require.Len(t, visible, 3)
	assert.Equal(t, []string{"doc-1", "doc-2", "doc-3"},
		[]string{visible[0].ID, visible[1].ID, visible[2].ID})
	assert.Len(t, h.registry.docs, 5, "no documents deleted during grace")

	assert.Contains(t, h.sink.kinds(), notify.KindPaymentIssue)
}

func TestReportLicenseFailureIgnoredOffPaid(t *testing.T) {
	h := newHarness(t)
	h.engine.ReportLicenseFailure()

	rec := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierTrial, rec.Tier)
	assert.Nil(t, rec.GracePeriodExpiresAt)
}

func TestGraceExpiryDeletesNewestDocuments(t *testing.T) {
	h := newHarness(t)
	h.activatePaid(t)
	h.uploadDocuments(t, 5)
	h.engine.ReportLicenseFailure()

	h.advance(GracePeriod + time.Hour)
	h.engine.CheckExpiry()

	rec := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierFree, rec.Tier)
	assert.Nil(t, rec.GracePeriodStartedAt)
	assert.Nil(t, rec.GracePeriodExpiresAt)

	// The 2 newest were deleted; the 3 earliest remain.
	require.Len(t, h.registry.docs, 3)
	assert.Equal(t, []string{"doc-1", "doc-2", "doc-3"},
		[]string{h.registry.docs[0].ID, h.registry.docs[1].ID, h.registry.docs[2].ID})
	assert.ElementsMatch(t, []string{"doc-4", "doc-5"}, h.registry.deleted)
	assert.Equal(t, 3, h.tracker.DocumentCount())

	assert.Contains(t, h.sink.kinds(), notify.KindDowngraded)
}

func TestGraceExpiryWithFewDocumentsDeletesNothing(t *testing.T) {
	h := newHarness(t)
	h.activatePaid(t)
	h.uploadDocuments(t, 2)
	h.engine.ReportLicenseFailure()

	h.advance(GracePeriod + time.Hour)
	h.engine.CheckExpiry()

	assert.Equal(t, tier.TierFree, h.engine.CurrentEntitlement().Tier)
	assert.Len(t, h.registry.docs, 2)
	assert.Empty(t, h.registry.deleted)
}

func TestRenewalBeforeGraceExpiryRestoresPaid(t *testing.T) {
	h := newHarness(t)
	h.activatePaid(t)
	h.uploadDocuments(t, 5)
	h.engine.ReportLicenseFailure()

	h.advance(24 * time.Hour) // still inside grace
	h.activatePaid(t)

	rec := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierPaid, rec.Tier)
	assert.Nil(t, rec.GracePeriodStartedAt)
	assert.Nil(t, rec.GracePeriodExpiresAt)

	visible, err := h.engine.VisibleDocuments()
	require.NoError(t, err)
	assert.Len(t, visible, 5, "full visibility restored")
	assert.Empty(t, h.registry.deleted, "zero deletions on renewal")

	// A later expiry check must not downgrade.
	h.engine.CheckExpiry()
	assert.Equal(t, tier.TierPaid, h.engine.CurrentEntitlement().Tier)
}

func TestActivateExpiredTokenLeavesTierUnchanged(t *testing.T) {
	h := newHarness(t)
	before := h.engine.CurrentEntitlement().Tier

	token := h.mintToken(t, "paid", h.clock.Add(-time.Hour))
	_, err := h.engine.ActivateLicense(token)
	assert.ErrorIs(t, err, license.ErrInvalidLicense)
	assert.Equal(t, before, h.engine.CurrentEntitlement().Tier)
}

func TestActivateNonPaidTokenRejected(t *testing.T) {
	h := newHarness(t)

	token := h.mintToken(t, "free", h.clock.Add(time.Hour))
	_, err := h.engine.ActivateLicense(token)
	assert.ErrorIs(t, err, license.ErrInvalidLicense)
	assert.Equal(t, tier.TierTrial, h.engine.CurrentEntitlement().Tier)
}

func TestFailedTrimRetriedOnNextStartup(t *testing.T) {
	h := newHarness(t)
	h.activatePaid(t)
	h.uploadDocuments(t, 5)
	h.engine.ReportLicenseFailure()

	h.registry.failDelete = true
	h.advance(GracePeriod + time.Hour)
	h.engine.CheckExpiry()

	rec := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierFree, rec.Tier, "tier flip survives the deletion failure")
	assert.True(t, rec.PendingDocumentTrim)
	assert.Len(t, h.registry.docs, 5)

	// Next startup: registry is back, the trim completes.
	h.registry.failDelete = false
	h.engine.CheckExpiry()

	rec = h.engine.CurrentEntitlement()
	assert.False(t, rec.PendingDocumentTrim)
	assert.Len(t, h.registry.docs, 3)
	assert.Equal(t, 3, h.tracker.DocumentCount())
}

func TestGuardAPIKeyMode(t *testing.T) {
	h := newHarness(t)

	// Trial allows operator default keys.
	assert.NoError(t, h.engine.GuardAPIKeyMode(true))
	assert.NoError(t, h.engine.GuardAPIKeyMode(false))

	h.advance(TrialDuration + time.Hour)
	h.engine.CheckExpiry()

	err := h.engine.GuardAPIKeyMode(true)
	assert.ErrorIs(t, err, ErrDefaultKeysNotAllowed)
	assert.NoError(t, h.engine.GuardAPIKeyMode(false), "switching to user keys is always allowed")

	h.activatePaid(t)
	assert.NoError(t, h.engine.GuardAPIKeyMode(true))
}

func TestCheckUploadLimits(t *testing.T) {
	h := newHarness(t)

	// Trial: 10MB per document, 3 documents.
	assert.NoError(t, h.engine.CheckUpload(5))

	err := h.engine.CheckUpload(11)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	var de *DenialError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 10, de.Limit)

	h.uploadDocuments(t, 3)
	assert.ErrorIs(t, h.engine.CheckUpload(5), ErrUploadLimitReached)
}

func TestCheckUploadStorageLimit(t *testing.T) {
	h := newHarness(t)
	h.activatePaid(t)

	// Paid has unlimited storage.
	assert.NoError(t, h.engine.CheckUpload(99))

	h.advance(time.Hour)
	h.engine.ReportLicenseFailure()

	// paid_limited: 100MB total storage cap.
	require.NoError(t, h.engine.RecordUpload("big-doc", 95))
	assert.ErrorIs(t, h.engine.CheckUpload(6), ErrUploadLimitReached)
	assert.NoError(t, h.engine.CheckUpload(5))
}

func TestVisibleDocumentCap(t *testing.T) {
	h := newHarness(t)

	limit, capped := h.engine.VisibleDocumentCap()
	assert.True(t, capped)
	assert.Equal(t, 3, limit)

	h.activatePaid(t)
	_, capped = h.engine.VisibleDocumentCap()
	assert.False(t, capped)
}

func TestEntitlementPersistsAcrossRestart(t *testing.T) {
	h := newHarness(t)
	h.activatePaid(t)

	validator := license.NewValidator(nil, testSecret)
	reloaded := NewEngine(h.dataDir, validator, h.tracker, h.registry, h.sink)

	rec := reloaded.CurrentEntitlement()
	assert.Equal(t, tier.TierPaid, rec.Tier)
	assert.NotEmpty(t, rec.LicenseKey)
	assert.True(t, rec.Features.UseDefaultKeys)
}

func TestGraceFieldsOnlyWhilePaidLimited(t *testing.T) {
	h := newHarness(t)

	check := func(stage string) {
		rec := h.engine.CurrentEntitlement()
		if rec.Tier == tier.TierPaidLimited {
			assert.NotNil(t, rec.GracePeriodStartedAt, stage)
			assert.NotNil(t, rec.GracePeriodExpiresAt, stage)
		} else {
			assert.Nil(t, rec.GracePeriodStartedAt, stage)
			assert.Nil(t, rec.GracePeriodExpiresAt, stage)
		}
	}

	check("trial")
	h.activatePaid(t)
	check("paid")
	h.engine.ReportLicenseFailure()
	check("grace")
	h.advance(GracePeriod + time.Hour)
	h.engine.CheckExpiry()
	check("free")
	h.activatePaid(t)
	check("paid again")
}

func TestCurrentEntitlementReturnsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.engine.ReportLicenseFailure() // no-op on trial

	rec := h.engine.CurrentEntitlement()
	rec.Tier = tier.TierPaid
	if rec.TrialExpiresAt != nil {
		*rec.TrialExpiresAt = time.Time{}
	}

	fresh := h.engine.CurrentEntitlement()
	assert.Equal(t, tier.TierTrial, fresh.Tier)
	require.NotNil(t, fresh.TrialExpiresAt)
	assert.False(t, fresh.TrialExpiresAt.IsZero())
}
