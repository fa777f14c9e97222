package entitle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/subscription"
)

// ReconcileReport summarizes one ReconcileExpired pass.
type ReconcileReport struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	PastDue int `json:"past_due"`
	Skipped int `json:"skipped"`
}

// ReconcileExpired moves subscriptions whose period has ended out of their
// paid state:
//
//   - CANCELLED or TRIALING past period end becomes EXPIRED.
//   - ACTIVE past period end becomes PAST_DUE when a mandate may still
//     renew it, EXPIRED otherwise.
//   - PAST_DUE past period end plus the expiry grace becomes EXPIRED.
//
// Rows on the FREE plan never expire. Each write is conditional on the row
// being unchanged since the scan, so a renewal or cancel that lands
// mid-pass wins and the row is counted as skipped. Failures on individual
// rows are collected and do not stop the pass.
func (e *Engine) ReconcileExpired(ctx context.Context) (*ReconcileReport, error) {
	now := e.now()
	subs, err := e.store.ListSubscriptions(ctx, subscription.ListOpts{
		Statuses: []subscription.Status{
			subscription.StatusActive,
			subscription.StatusCancelled,
			subscription.StatusTrialing,
			subscription.StatusPastDue,
		},
		PeriodEndBefore: now,
	})
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	report := &ReconcileReport{Scanned: len(subs)}
	var errs MultiError
	free := make(map[id.PlanID]bool)

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			errs.Add(err)
			break
		}

		isFree, ok := free[sub.PlanID]
		if !ok {
			p, err := e.GetPlanByID(ctx, sub.PlanID)
			if err != nil {
				errs.Add(fmt.Errorf("subscription %s: %w", sub.ID, err))
				continue
			}
			isFree = p.IsFree()
			free[sub.PlanID] = isFree
		}
		if isFree {
			report.Skipped++
			continue
		}

		from := sub.Status
		next, ok := e.nextStatus(sub)
		if !ok {
			report.Skipped++
			continue
		}

		sub.Status = next
		sub.Touch(now)
		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			if errors.Is(err, ErrSubscriptionConflict) {
				e.logger.Debug("subscription changed since scan, left for next pass",
					"user_id", sub.UserID,
					"subscription_id", sub.ID.String(),
				)
				report.Skipped++
				continue
			}
			errs.Add(fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}

		if next == subscription.StatusPastDue {
			report.PastDue++
		} else {
			report.Expired++
		}
		e.logger.Info("subscription period ended",
			"user_id", sub.UserID,
			"subscription_id", sub.ID.String(),
			"from", from,
			"to", next,
		)
		e.plugins.EmitSubscriptionExpired(ctx, sub, from)
	}

	return report, errs.Err()
}

// nextStatus returns the status a subscription past its period end moves
// to, or false when it stays as is.
func (e *Engine) nextStatus(sub *subscription.Subscription) (subscription.Status, bool) {
	now := e.now()
	if now.Before(sub.CurrentPeriodEnd) {
		return "", false
	}
	switch sub.Status {
	case subscription.StatusCancelled, subscription.StatusTrialing:
		return subscription.StatusExpired, true
	case subscription.StatusActive:
		if sub.HasMandate() {
			return subscription.StatusPastDue, true
		}
		return subscription.StatusExpired, true
	case subscription.StatusPastDue:
		if now.Before(sub.CurrentPeriodEnd.Add(e.expiryGrace)) {
			return "", false
		}
		return subscription.StatusExpired, true
	default:
		return "", false
	}
}
