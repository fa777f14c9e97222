// Package plan defines subscription tiers, their prices and their
// per-feature monthly limits.
package plan

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/types"
)

// Tier names a subscription level. Exactly one plan exists per tier.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierPro     Tier = "PRO"
	TierPremium Tier = "PREMIUM"
)

// Tiers lists every tier from lowest to highest.
func Tiers() []Tier { return []Tier{TierFree, TierPro, TierPremium} }

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// Rank orders tiers; unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierPro:
		return 1
	case TierPremium:
		return 2
	default:
		return -1
	}
}

// Next returns the tier above t, or "" when t is the top tier.
func (t Tier) Next() Tier {
	switch t {
	case TierFree:
		return TierPro
	case TierPro:
		return TierPremium
	default:
		return ""
	}
}

// Feature is the key a gated feature meters under.
type Feature string

const (
	FeatureMockInterview      Feature = "mock_interview"
	FeatureResumeAnalysis     Feature = "resume_analysis"
	FeatureQuestionGeneration Feature = "question_generation"
	FeatureCoverLetter        Feature = "cover_letter"
	FeatureResumeRewrite      Feature = "resume_rewrite"
)

// AllFeatures lists every metered feature in display order.
func AllFeatures() []Feature {
	return []Feature{
		FeatureMockInterview,
		FeatureResumeAnalysis,
		FeatureQuestionGeneration,
		FeatureCoverLetter,
		FeatureResumeRewrite,
	}
}

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	_, ok := Limits{}.For(f)
	return ok
}

// Noun returns the plural noun used in user-facing quota messages.
func (f Feature) Noun() string {
	switch f {
	case FeatureMockInterview:
		return "mock interviews"
	case FeatureResumeAnalysis:
		return "resume analyses"
	case FeatureQuestionGeneration:
		return "question generations"
	case FeatureCoverLetter:
		return "cover letters"
	case FeatureResumeRewrite:
		return "resume rewrites"
	default:
		return string(f)
	}
}

// Period is a billing period.
type Period string

const (
	PeriodMonthly Period = "MONTHLY"
	PeriodYearly  Period = "YEARLY"
)

// Valid reports whether p is a known billing period.
func (p Period) Valid() bool { return p == PeriodMonthly || p == PeriodYearly }

// Advance returns t moved forward by one period. When the target month is
// shorter than t's day, the result clamps to its last day (Jan 31 + 1 month
// is Feb 28 or 29; Feb 29 + 1 year is Feb 28).
func (p Period) Advance(t time.Time) time.Time {
	months := 1
	if p == PeriodYearly {
		months = 12
	}
	return addMonthsClamped(t, months)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// Limits holds one Limit per metered feature.
type Limits struct {
	MockInterviews      Limit `json:"mock_interviews"`
	ResumeAnalyses      Limit `json:"resume_analyses"`
	QuestionGenerations Limit `json:"question_generations"`
	CoverLetters        Limit `json:"cover_letters"`
	ResumeRewrites      Limit `json:"resume_rewrites"`
}

// For returns the limit for f. ok is false for unknown features.
func (l Limits) For(f Feature) (Limit, bool) {
	switch f {
	case FeatureMockInterview:
		return l.MockInterviews, true
	case FeatureResumeAnalysis:
		return l.ResumeAnalyses, true
	case FeatureQuestionGeneration:
		return l.QuestionGenerations, true
	case FeatureCoverLetter:
		return l.CoverLetters, true
	case FeatureResumeRewrite:
		return l.ResumeRewrites, true
	default:
		return Disabled(), false
	}
}

// Set replaces the limit for f. It reports false for unknown features.
func (l *Limits) Set(f Feature, v Limit) bool {
	switch f {
	case FeatureMockInterview:
		l.MockInterviews = v
	case FeatureResumeAnalysis:
		l.ResumeAnalyses = v
	case FeatureQuestionGeneration:
		l.QuestionGenerations = v
	case FeatureCoverLetter:
		l.CoverLetters = v
	case FeatureResumeRewrite:
		l.ResumeRewrites = v
	default:
		return false
	}
	return true
}

// Plan is a subscription tier with its prices and limits.
type Plan struct {
	types.Entity
	ID              id.PlanID         `json:"id"`
	Tier            Tier              `json:"tier" validate:"required,oneof=FREE PRO PREMIUM"`
	Name            string            `json:"name" validate:"required,max=100"`
	MonthlyPrice    types.Money       `json:"monthly_price"`
	YearlyPrice     types.Money       `json:"yearly_price"`
	Limits          Limits            `json:"limits"`
	AIEvaluation    bool              `json:"ai_evaluation"`
	PrioritySupport bool              `json:"priority_support"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

var validate = validator.New()

// Validate checks the plan's required fields and prices.
func (p *Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.MonthlyPrice.Amount < 0 || p.YearlyPrice.Amount < 0 {
		return errors.New("plan: prices must not be negative")
	}
	return nil
}

// Validate checks the patch's field constraints.
func (p *Patch) Validate() error {
	return validate.Struct(p)
}

// Price returns the charge for one billing period.
func (p *Plan) Price(period Period) types.Money {
	if period == PeriodYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// Limit returns the limit for f. Unknown features report ok=false.
func (p *Plan) Limit(f Feature) (Limit, bool) {
	return p.Limits.For(f)
}

// IsFree reports whether the plan is the FREE tier.
func (p *Plan) IsFree() bool { return p.Tier == TierFree }

// Patch is a partial plan update; nil fields are left unchanged. The tier
// is immutable.
type Patch struct {
	Name            *string           `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	MonthlyPrice    *types.Money      `json:"monthly_price,omitempty"`
	YearlyPrice     *types.Money      `json:"yearly_price,omitempty"`
	Limits          map[Feature]Limit `json:"limits,omitempty"`
	AIEvaluation    *bool             `json:"ai_evaluation,omitempty"`
	PrioritySupport *bool             `json:"priority_support,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.MonthlyPrice == nil && p.YearlyPrice == nil &&
		len(p.Limits) == 0 && p.AIEvaluation == nil && p.PrioritySupport == nil &&
		p.Metadata == nil
}

// Apply writes the patch onto pl. It reports false if a limit names an
// unknown feature, leaving pl unmodified.
func (p Patch) Apply(pl *Plan) bool {
	for f := range p.Limits {
		if !f.Valid() {
			return false
		}
	}
	if p.Name != nil {
		pl.Name = *p.Name
	}
	if p.MonthlyPrice != nil {
		pl.MonthlyPrice = *p.MonthlyPrice
	}
	if p.YearlyPrice != nil {
		pl.YearlyPrice = *p.YearlyPrice
	}
	for f, v := range p.Limits {
		pl.Limits.Set(f, v)
	}
	if p.AIEvaluation != nil {
		pl.AIEvaluation = *p.AIEvaluation
	}
	if p.PrioritySupport != nil {
		pl.PrioritySupport = *p.PrioritySupport
	}
	if p.Metadata != nil {
		pl.Metadata = p.Metadata
	}
	return true
}

// Defaults returns the seed catalog: FREE, PRO and PREMIUM priced in INR.
// IDs are left nil for the caller to assign.
func Defaults() []*Plan {
	return []*Plan{
		{
			Tier:         TierFree,
			Name:         "Free",
			MonthlyPrice: types.INR(0),
			YearlyPrice:  types.INR(0),
			Limits: Limits{
				MockInterviews:      Bounded(2),
				ResumeAnalyses:      Bounded(1),
				QuestionGenerations: Bounded(5),
				CoverLetters:        Bounded(1),
				ResumeRewrites:      Disabled(),
			},
		},
		{
			Tier:         TierPro,
			Name:         "Pro",
			MonthlyPrice: types.INR(24900),
			YearlyPrice:  types.INR(249000),
			Limits: Limits{
				MockInterviews:      Bounded(20),
				ResumeAnalyses:      Bounded(15),
				QuestionGenerations: Bounded(100),
				CoverLetters:        Bounded(20),
				ResumeRewrites:      Bounded(10),
			},
			AIEvaluation: true,
		},
		{
			Tier:         TierPremium,
			Name:         "Premium",
			MonthlyPrice: types.INR(49900),
			YearlyPrice:  types.INR(499000),
			Limits: Limits{
				MockInterviews:      Unlimited(),
				ResumeAnalyses:      Unlimited(),
				QuestionGenerations: Unlimited(),
				CoverLetters:        Unlimited(),
				ResumeRewrites:      Unlimited(),
			},
			AIEvaluation:    true,
			PrioritySupport: true,
		},
	}
}
