package entitle

import (
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

// Re-export common types so callers don't have to import the sub-packages.

// ID is the primary identifier type for all entitle records.
type ID = id.ID

// Money is re-exported from types package.
type Money = types.Money

// Tier is re-exported from plan package.
type Tier = plan.Tier

// Feature is re-exported from plan package.
type Feature = plan.Feature

// Period is re-exported from plan package.
type Period = plan.Period

// Tiers, features and billing periods.
const (
	TierFree    = plan.TierFree
	TierPro     = plan.TierPro
	TierPremium = plan.TierPremium

	FeatureMockInterview      = plan.FeatureMockInterview
	FeatureResumeAnalysis     = plan.FeatureResumeAnalysis
	FeatureQuestionGeneration = plan.FeatureQuestionGeneration
	FeatureCoverLetter        = plan.FeatureCoverLetter
	FeatureResumeRewrite      = plan.FeatureResumeRewrite

	Monthly = plan.PeriodMonthly
	Yearly  = plan.PeriodYearly
)

// Named effective-plan rules.
var (
	ActiveOnly        = subscription.ActiveOnly
	ThroughPaidPeriod = subscription.ThroughPaidPeriod
)

// Money constructors.
var (
	INR = types.INR
	USD = types.USD
)
