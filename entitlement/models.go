package entitlement

import (
	"github.com/xraph/entitle/plan"
)

// Denial reasons reported in Result.Reason.
const (
	ReasonDisabled      = "feature not available on this plan"
	ReasonQuotaExceeded = "monthly limit reached"
)

// Result answers "may this user use feature F right now".
type Result struct {
	Allowed   bool         `json:"allowed"`
	Feature   plan.Feature `json:"feature"`
	Used      int64        `json:"used"`
	Limit     plan.Limit   `json:"limit"`
	Remaining int64        `json:"remaining"` // -1 when unlimited
	Tier      plan.Tier    `json:"tier"`
	// UpgradeTier is the next tier up, set on denials when one exists.
	UpgradeTier plan.Tier `json:"upgrade_tier,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Evaluate computes the result of checking used against limit.
func Evaluate(feature plan.Feature, tier plan.Tier, limit plan.Limit, used int64) *Result {
	r := &Result{
		Allowed:   limit.Allows(used),
		Feature:   feature,
		Used:      used,
		Limit:     limit,
		Remaining: limit.Remaining(used),
		Tier:      tier,
	}
	if !r.Allowed {
		r.UpgradeTier = tier.Next()
		if limit.IsDisabled() {
			r.Reason = ReasonDisabled
		} else {
			r.Reason = ReasonQuotaExceeded
		}
	}
	return r
}

// FeatureUsage is one row of Stats.
type FeatureUsage struct {
	Feature     plan.Feature `json:"feature"`
	Used        int64        `json:"used"`
	Limit       plan.Limit   `json:"limit"`
	Remaining   int64        `json:"remaining"`
	PercentUsed float64      `json:"percent_used"`
}

// Stats is the per-feature usage summary for the current month.
type Stats struct {
	Tier     plan.Tier      `json:"tier"`
	PlanName string         `json:"plan_name"`
	Features []FeatureUsage `json:"features"`
}

// NewFeatureUsage builds a Stats row.
func NewFeatureUsage(feature plan.Feature, limit plan.Limit, used int64) FeatureUsage {
	return FeatureUsage{
		Feature:     feature,
		Used:        used,
		Limit:       limit,
		Remaining:   limit.Remaining(used),
		PercentUsed: limit.PercentUsed(used),
	}
}
