// Package enforcement is the façade request handlers use to ask whether an
// action is allowed right now and to report that it happened.
package enforcement

import (
	"github.com/docsift/docsift/internal/license"
	"github.com/docsift/docsift/internal/metrics"
	"github.com/docsift/docsift/internal/registry"
	"github.com/docsift/docsift/internal/subscription"
	"github.com/docsift/docsift/internal/tier"
)

// Gateway wraps the subscription engine with the narrow contract request
// handlers need, and instruments every quota decision.
type Gateway struct {
	engine *subscription.Engine
}

// NewGateway creates the façade over the given engine.
func NewGateway(engine *subscription.Engine) *Gateway {
	return &Gateway{engine: engine}
}

// CheckUploadAllowed reports whether a document of the given size may be
// uploaded. The returned error, when non-nil, is the typed denial reason.
func (g *Gateway) CheckUploadAllowed(fileSizeMB float64) (bool, error) {
	err := g.engine.CheckUpload(fileSizeMB)
	if err != nil {
		metrics.QuotaChecksTotal.WithLabelValues("upload", "denied").Inc()
		return false, err
	}
	metrics.QuotaChecksTotal.WithLabelValues("upload", "allowed").Inc()
	return true, nil
}

// RecordUpload reports a completed upload. Call it only after the upload
// genuinely finished; the engine does not deduplicate.
func (g *Gateway) RecordUpload(documentID string, sizeMB float64) error {
	return g.engine.RecordUpload(documentID, sizeMB)
}

// CheckQueryAllowed reports whether another query is allowed, along with the
// remaining daily and monthly budget (-1 when unlimited).
func (g *Gateway) CheckQueryAllowed() (allowed bool, remainingDaily, remainingMonthly int, err error) {
	status, err := g.engine.CheckQuery()
	if err != nil {
		metrics.QuotaChecksTotal.WithLabelValues("query", "denied").Inc()
		return false, status.RemainingDaily, status.RemainingMonthly, err
	}
	metrics.QuotaChecksTotal.WithLabelValues("query", "allowed").Inc()
	return true, status.RemainingDaily, status.RemainingMonthly, nil
}

// RecordQuery reports a completed query.
func (g *Gateway) RecordQuery() error {
	return g.engine.RecordQuery()
}

// ActivateLicense validates and activates a license token.
func (g *Gateway) ActivateLicense(token string) (tier.Tier, error) {
	return g.engine.ActivateLicense(token)
}

// ValidateLicensePreview validates a token without activating it.
func (g *Gateway) ValidateLicensePreview(token string) (license.Preview, error) {
	return g.engine.ValidateLicensePreview(token)
}

// CurrentEntitlement returns a read-only snapshot of the entitlement record.
func (g *Gateway) CurrentEntitlement() subscription.Record {
	return g.engine.CurrentEntitlement()
}

// CheckExpiry reconciles time-based transitions; the host process calls it
// once at startup.
func (g *Gateway) CheckExpiry() {
	g.engine.CheckExpiry()
}

// ReportLicenseFailure tells the engine an external license re-check failed.
func (g *Gateway) ReportLicenseFailure() {
	g.engine.ReportLicenseFailure()
}

// GuardAPIKeyMode is the synchronous guard consulted before the settings
// collaborator persists an API-key-mode change.
func (g *Gateway) GuardAPIKeyMode(useDefaultKeys bool) error {
	return g.engine.GuardAPIKeyMode(useDefaultKeys)
}

// VisibleDocuments lists the documents the current tier may see.
func (g *Gateway) VisibleDocuments() ([]registry.Document, error) {
	return g.engine.VisibleDocuments()
}
