package plan_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

func TestLimitVariants(t *testing.T) {
	tests := []struct {
		name      string
		limit     plan.Limit
		kind      plan.LimitKind
		encoded   int64
		used      int64
		allows    bool
		remaining int64
		percent   float64
	}{
		{"unlimited", plan.Unlimited(), plan.KindUnlimited, -1, 1_000_000, true, -1, 0},
		{"disabled", plan.Disabled(), plan.KindDisabled, 0, 0, false, 0, 100},
		{"zero value", plan.Limit{}, plan.KindDisabled, 0, 0, false, 0, 100},
		{"bounded fresh", plan.Bounded(4), plan.KindBounded, 4, 0, true, 4, 0},
		{"bounded partial", plan.Bounded(4), plan.KindBounded, 4, 1, true, 3, 25},
		{"bounded exhausted", plan.Bounded(4), plan.KindBounded, 4, 4, false, 0, 100},
		{"bounded over", plan.Bounded(4), plan.KindBounded, 4, 9, false, 0, 100},
		{"bounded zero", plan.Bounded(0), plan.KindDisabled, 0, 0, false, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.limit.Kind(); got != tt.kind {
				t.Errorf("Kind: got %v, want %v", got, tt.kind)
			}
			if got := tt.limit.Int(); got != tt.encoded {
				t.Errorf("Int: got %d, want %d", got, tt.encoded)
			}
			if got := tt.limit.Allows(tt.used); got != tt.allows {
				t.Errorf("Allows(%d): got %v, want %v", tt.used, got, tt.allows)
			}
			if got := tt.limit.Remaining(tt.used); got != tt.remaining {
				t.Errorf("Remaining(%d): got %d, want %d", tt.used, got, tt.remaining)
			}
			if got := tt.limit.PercentUsed(tt.used); got != tt.percent {
				t.Errorf("PercentUsed(%d): got %v, want %v", tt.used, got, tt.percent)
			}
		})
	}
}

func TestLimitFromInt(t *testing.T) {
	tests := []struct {
		in   int64
		want plan.Limit
	}{
		{-1, plan.Unlimited()},
		{0, plan.Disabled()},
		{7, plan.Bounded(7)},
		{-5, plan.Disabled()},
	}
	for _, tt := range tests {
		if got := plan.LimitFromInt(tt.in); got != tt.want {
			t.Errorf("LimitFromInt(%d): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLimitsJSON(t *testing.T) {
	in := plan.Limits{
		MockInterviews: plan.Unlimited(),
		ResumeAnalyses: plan.Bounded(3),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"mock_interviews":-1,"resume_analyses":3,"question_generations":0,"cover_letters":0,"resume_rewrites":0}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var out plan.Limits
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip: got %+v", out)
	}

	if err := json.Unmarshal([]byte(`{"mock_interviews":"lots"}`), &out); err == nil {
		t.Error("expected error for non-integer limit")
	}
}

func TestLimitsFor(t *testing.T) {
	l := plan.Limits{CoverLetters: plan.Bounded(2)}
	if got, ok := l.For(plan.FeatureCoverLetter); !ok || got != plan.Bounded(2) {
		t.Errorf("For(cover_letter): got %v, %v", got, ok)
	}
	if got, ok := l.For("telepathy"); ok || !got.IsDisabled() {
		t.Errorf("unknown feature should be disabled and not ok, got %v, %v", got, ok)
	}
	if l.Set("telepathy", plan.Unlimited()) {
		t.Error("Set should reject unknown features")
	}
	for _, f := range plan.AllFeatures() {
		if !f.Valid() {
			t.Errorf("%s should be valid", f)
		}
	}
}

func TestPeriodAdvance(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
	}
	tests := []struct {
		name   string
		period plan.Period
		from   time.Time
		want   time.Time
	}{
		{"monthly mid-month", plan.PeriodMonthly, day(2024, 3, 10), day(2024, 4, 10)},
		{"monthly into leap february", plan.PeriodMonthly, day(2024, 1, 31), day(2024, 2, 29)},
		{"monthly into short february", plan.PeriodMonthly, day(2023, 1, 31), day(2023, 2, 28)},
		{"monthly into april", plan.PeriodMonthly, day(2024, 3, 31), day(2024, 4, 30)},
		{"monthly across year", plan.PeriodMonthly, day(2024, 12, 15), day(2025, 1, 15)},
		{"yearly", plan.PeriodYearly, day(2024, 6, 1), day(2025, 6, 1)},
		{"yearly from leap day", plan.PeriodYearly, day(2024, 2, 29), day(2025, 2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.period.Advance(tt.from); !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTierOrdering(t *testing.T) {
	if plan.TierFree.Next() != plan.TierPro || plan.TierPro.Next() != plan.TierPremium {
		t.Error("unexpected upgrade chain")
	}
	if plan.TierPremium.Next() != "" {
		t.Error("PREMIUM should have no next tier")
	}
	if plan.Tier("GOLD").Valid() {
		t.Error("GOLD should not be a valid tier")
	}
	tiers := plan.Tiers()
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Rank() <= tiers[i-1].Rank() {
			t.Errorf("%s should rank above %s", tiers[i], tiers[i-1])
		}
	}
}

func TestPatchApply(t *testing.T) {
	p := plan.Defaults()[1]
	name := "Pro Plus"
	price := types.INR(29900)
	ok := plan.Patch{
		Name:         &name,
		MonthlyPrice: &price,
		Limits:       map[plan.Feature]plan.Limit{plan.FeatureResumeRewrite: plan.Unlimited()},
	}.Apply(p)
	if !ok {
		t.Fatal("Apply rejected a valid patch")
	}
	if p.Name != name || !p.MonthlyPrice.Equal(price) || !p.Limits.ResumeRewrites.IsUnlimited() {
		t.Errorf("patch not applied: %+v", p)
	}
	if p.Tier != plan.TierPro || !p.YearlyPrice.Equal(types.INR(249000)) {
		t.Error("unpatched fields changed")
	}

	bad := plan.Patch{Name: &name, Limits: map[plan.Feature]plan.Limit{"telepathy": plan.Unlimited()}}
	before := *p
	if bad.Apply(p) {
		t.Error("Apply should reject unknown features")
	}
	if p.Name != before.Name {
		t.Error("rejected patch must not modify the plan")
	}
	if !(plan.Patch{}).IsEmpty() || bad.IsEmpty() {
		t.Error("IsEmpty mismatch")
	}
}

func TestDefaults(t *testing.T) {
	plans := plan.Defaults()
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}
	free, pro, premium := plans[0], plans[1], plans[2]
	if !free.IsFree() || !free.Price(plan.PeriodMonthly).IsZero() {
		t.Error("FREE plan should cost nothing")
	}
	if got := free.Limits.ResumeAnalyses; got != plan.Bounded(1) {
		t.Errorf("FREE resume analyses: got %v", got)
	}
	if got := pro.Price(plan.PeriodMonthly); !got.Equal(types.INR(24900)) {
		t.Errorf("PRO monthly: got %v", got)
	}
	if got := pro.Price(plan.PeriodYearly); !got.Equal(types.INR(249000)) {
		t.Errorf("PRO yearly: got %v", got)
	}
	for _, f := range plan.AllFeatures() {
		if l, _ := premium.Limit(f); !l.IsUnlimited() {
			t.Errorf("PREMIUM %s should be unlimited", f)
		}
	}
}

func TestPlanValidate(t *testing.T) {
	for _, p := range plan.Defaults() {
		if err := p.Validate(); err != nil {
			t.Errorf("%s: %v", p.Tier, err)
		}
	}

	bad := []*plan.Plan{
		{Tier: "GOLD", Name: "Gold"},
		{Tier: plan.TierPro},
		{Tier: plan.TierPro, Name: "Pro", MonthlyPrice: types.INR(-1)},
	}
	for _, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", p)
		}
	}

	empty := ""
	if err := (&plan.Patch{Name: &empty}).Validate(); err == nil {
		t.Error("expected validation error for empty name patch")
	}
}
