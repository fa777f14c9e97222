package subscription

import (
	"fmt"
	"time"
)

// Rule decides whether a subscription row still entitles its user to the
// row's plan at time now. A user who is not entitled falls back to FREE.
type Rule func(s *Subscription, now time.Time) bool

// ActiveOnly entitles a subscription only while its status is ACTIVE.
// Cancelling drops the user to FREE immediately.
func ActiveOnly(s *Subscription, _ time.Time) bool {
	return s != nil && s.Status == StatusActive
}

// ThroughPaidPeriod entitles ACTIVE subscriptions, and CANCELLED or
// TRIALING ones until their current period ends. This honors "access
// continues until the end of the billing period" after a cancel.
func ThroughPaidPeriod(s *Subscription, now time.Time) bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case StatusActive:
		return true
	case StatusCancelled, StatusTrialing:
		return now.Before(s.CurrentPeriodEnd)
	default:
		return false
	}
}

// Rule names accepted by RuleByName.
const (
	RuleActiveOnly        = "active_only"
	RuleThroughPaidPeriod = "through_paid_period"
)

// RuleByName looks up a named rule. The empty name selects ThroughPaidPeriod.
func RuleByName(name string) (Rule, error) {
	switch name {
	case "", RuleThroughPaidPeriod:
		return ThroughPaidPeriod, nil
	case RuleActiveOnly:
		return ActiveOnly, nil
	default:
		return nil, fmt.Errorf("subscription: unknown effective plan rule %q", name)
	}
}
