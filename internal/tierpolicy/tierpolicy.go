// Package tierpolicy holds the hard-coded per-subscription-tier policy
// table: each contributor tier gates scan cadence, match side
// effects, and preview detail at a different level.
package tierpolicy

import (
	"time"

	"scanner/internal/model"
)

// Policy is one tier's full set of gated behaviors.
type Policy struct {
	ReverseImageInterval time.Duration
	MaxPhotosPerScan     int

	URLCheckEnabled  bool
	URLCheckInterval time.Duration

	StoreMatches      bool
	NotifyAtTier      model.ConfidenceTier // minimum confidence tier that triggers a notification; "" disables
	CaptureEvidence   bool
	RunAIClassify     bool
	EnableTakedown    bool
	EnableLegalEscal  bool
	FullDetailPreview bool
}

var policies = map[model.Tier]Policy{
	model.TierFree: {
		ReverseImageInterval: 30 * 24 * time.Hour,
		MaxPhotosPerScan:     1,
		URLCheckEnabled:      false,
		StoreMatches:         true,
		NotifyAtTier:         "", // free tier: no proactive notification
		CaptureEvidence:      false,
		RunAIClassify:        false,
		EnableTakedown:       false,
		EnableLegalEscal:     false,
		FullDetailPreview:    false,
	},
	model.TierProtected: {
		ReverseImageInterval: 7 * 24 * time.Hour,
		MaxPhotosPerScan:     3,
		URLCheckEnabled:      true,
		URLCheckInterval:     24 * time.Hour,
		StoreMatches:         true,
		NotifyAtTier:         model.TierMedium,
		CaptureEvidence:      true,
		RunAIClassify:        true,
		EnableTakedown:       false,
		EnableLegalEscal:     false,
		FullDetailPreview:    false,
	},
	model.TierPremium: {
		ReverseImageInterval: 24 * time.Hour,
		MaxPhotosPerScan:     10,
		URLCheckEnabled:      true,
		URLCheckInterval:     6 * time.Hour,
		StoreMatches:         true,
		NotifyAtTier:         model.TierLow,
		CaptureEvidence:      true,
		RunAIClassify:        true,
		EnableTakedown:       true,
		EnableLegalEscal:     true,
		FullDetailPreview:    true,
	},
}

// For returns tier's policy, defaulting to the free-tier policy for an
// unrecognized value rather than panicking — tier is owned by the web
// application, not validated here.
func For(tier model.Tier) Policy {
	if p, ok := policies[tier]; ok {
		return p
	}
	return policies[model.TierFree]
}

// tierRank orders confidence tiers low < medium < high for "at least"
// comparisons against a policy's NotifyAtTier / AI-classify gate.
var tierRank = map[model.ConfidenceTier]int{
	model.TierLow:    1,
	model.TierMedium: 2,
	model.TierHigh:   3,
}

// AtLeast reports whether got meets or exceeds the minimum tier min.
// An empty min means the gate never fires.
func AtLeast(got, min model.ConfidenceTier) bool {
	if min == "" {
		return false
	}
	return tierRank[got] >= tierRank[min]
}

// IsPaid reports whether tier is a paying tier.
func IsPaid(tier model.Tier) bool {
	return tier == model.TierProtected || tier == model.TierPremium
}
