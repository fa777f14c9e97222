package subscription

import (
	"context"
	"time"
)

type Store interface {
	// GetSubscriptionByUser returns the user's row or
	// entitle.ErrSubscriptionNotFound.
	GetSubscriptionByUser(ctx context.Context, userID string) (*Subscription, error)
	// UpsertSubscription inserts s or replaces the row keyed by s.UserID.
	// On replace the existing ID and CreatedAt win and are written back to s.
	// Both the insert and the replace bump Version, which is written back.
	UpsertSubscription(ctx context.Context, s *Subscription) error
	// UpdateSubscription replaces the row with id s.ID if its stored
	// Version still equals s.Version, then sets s.Version to the new one.
	// A row that changed since it was read yields
	// entitle.ErrSubscriptionConflict; a missing row
	// entitle.ErrSubscriptionNotFound.
	UpdateSubscription(ctx context.Context, s *Subscription) error
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
}

type ListOpts struct {
	Statuses        []Status
	PeriodEndBefore time.Time
	Limit           int
	Offset          int
}

// Matches reports whether s passes the filter. Backends without native
// filtering use it.
func (o ListOpts) Matches(s *Subscription) bool {
	if len(o.Statuses) > 0 {
		found := false
		for _, st := range o.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !o.PeriodEndBefore.IsZero() && !s.CurrentPeriodEnd.Before(o.PeriodEndBefore) {
		return false
	}
	return true
}
