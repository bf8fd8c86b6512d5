// Package tier defines the DocSift capability tiers and their limits.
package tier

import "fmt"

// Tier represents an entitlement tier.
type Tier string

const (
	TierTrial       Tier = "trial"
	TierFree        Tier = "free"
	TierPaid        Tier = "paid"
	TierPaidLimited Tier = "paid_limited"
)

// Unlimited marks a numeric limit as uncapped.
const Unlimited = -1

// FeatureFlags holds the per-tier limits. Values are fixed at startup and
// never mutated; callers receive copies.
type FeatureFlags struct {
	MaxDocuments      int  `json:"max_documents"`
	MaxDocSizeMB      int  `json:"max_doc_size_mb"`
	MaxTotalStorageMB int  `json:"max_total_storage_mb"`
	MaxQueriesMonthly int  `json:"max_queries_monthly"`
	MaxQueriesDaily   int  `json:"max_queries_daily"`
	UseDefaultKeys    bool `json:"use_default_keys"`
}

var tierLimits = map[Tier]FeatureFlags{
	TierTrial: {
		MaxDocuments:      3,
		MaxDocSizeMB:      10,
		MaxTotalStorageMB: 100,
		MaxQueriesMonthly: Unlimited,
		MaxQueriesDaily:   Unlimited,
		UseDefaultKeys:    true,
	},
	TierFree: {
		MaxDocuments:      3,
		MaxDocSizeMB:      10,
		MaxTotalStorageMB: 100,
		MaxQueriesMonthly: 50,
		MaxQueriesDaily:   20,
		UseDefaultKeys:    false,
	},
	TierPaid: {
		MaxDocuments:      Unlimited,
		MaxDocSizeMB:      100,
		MaxTotalStorageMB: Unlimited,
		MaxQueriesMonthly: Unlimited,
		MaxQueriesDaily:   Unlimited,
		UseDefaultKeys:    true,
	},
	TierPaidLimited: {
		MaxDocuments:      3,
		MaxDocSizeMB:      10,
		MaxTotalStorageMB: 100,
		MaxQueriesMonthly: 50,
		MaxQueriesDaily:   20,
		UseDefaultKeys:    false,
	},
}

// LimitsFor returns the limits for the given tier. Calling it with a tier
// that is not part of the catalog is a programming error and panics.
func LimitsFor(t Tier) FeatureFlags {
	f, ok := tierLimits[t]
	if !ok {
		panic(fmt.Sprintf("tier: unknown tier %q", t))
	}
	return f
}

// Parse converts an external tier string into a Tier, rejecting anything
// outside the catalog.
func Parse(s string) (Tier, error) {
	t := Tier(s)
	if _, ok := tierLimits[t]; !ok {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// DisplayName returns a human-readable name for the tier.
func DisplayName(t Tier) string {
	switch t {
	case TierTrial:
		return "Trial"
	case TierFree:
		return "Free"
	case TierPaid:
		return "Pro"
	case TierPaidLimited:
		return "Pro (payment issue)"
	default:
		return string(t)
	}
}
