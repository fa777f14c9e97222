package subscription

import (
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
	StatusPastDue   Status = "PAST_DUE"
	StatusTrialing  Status = "TRIALING"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusExpired, StatusPastDue, StatusTrialing:
		return true
	}
	return false
}

// Subscription is the single subscription row a user owns. It is updated in
// place on renewal, cancel and downgrade, never duplicated or deleted.
type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	UserID             string            `json:"user_id"`
	PlanID             id.PlanID         `json:"plan_id"`
	Status             Status            `json:"status"`
	BillingPeriod      plan.Period       `json:"billing_period"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	MandateID          string            `json:"mandate_id,omitempty"`
	// Version increases with every write. UpdateSubscription only applies
	// when the stored row still carries the version the caller read.
	Version int64 `json:"version"`
}

// HasMandate reports whether a recurring gateway mandate is attached.
func (s *Subscription) HasMandate() bool { return s.MandateID != "" }

// View is the subscription as callers see it. When the user has no row,
// Subscription is synthesized over the current calendar month and Implicit
// is set; an implicit view is read-only and never persisted.
type View struct {
	Subscription *Subscription `json:"subscription"`
	Plan         *plan.Plan    `json:"plan"`
	Implicit     bool          `json:"implicit"`
}

// Tier returns the tier of the plan in view.
func (v *View) Tier() plan.Tier {
	if v == nil || v.Plan == nil {
		return plan.TierFree
	}
	return v.Plan.Tier
}

// Implicit builds the synthesized FREE view for a user without a row.
func Implicit(userID string, free *plan.Plan, periodStart, periodEnd time.Time) *View {
	return &View{
		Subscription: &Subscription{
			Entity:             types.NewEntityAt(periodStart),
			UserID:             userID,
			PlanID:             free.ID,
			Status:             StatusActive,
			BillingPeriod:      plan.PeriodMonthly,
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodEnd,
		},
		Plan:     free,
		Implicit: true,
	}
}
