// Package memory implements store.Store in process memory. It is intended
// for tests and single-instance development.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
	"github.com/xraph/entitle/usage"
)

var _ store.Store = (*Store)(nil)

// Store keeps every record in maps guarded by one mutex. Reads return
// copies so callers never alias stored state.
type Store struct {
	mu sync.RWMutex

	// Plan storage, keyed by plan ID
	plans map[string]*plan.Plan

	// Subscription storage, keyed by user ID
	subscriptions map[string]*subscription.Subscription

	// Payment storage, keyed by payment.Key
	payments map[string]*payment.Payment

	// Usage storage, keyed by usageKey
	usage map[usageKey]*usage.Record

	closed bool
}

type usageKey struct {
	userID  string
	feature plan.Feature
	start   int64
}

func keyOf(userID string, feature plan.Feature, start time.Time) usageKey {
	return usageKey{userID: userID, feature: feature, start: start.UTC().UnixNano()}
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		plans:         make(map[string]*plan.Plan),
		subscriptions: make(map[string]*subscription.Subscription),
		payments:      make(map[string]*payment.Payment),
		usage:         make(map[usageKey]*usage.Record),
	}
}

// ──────────────────────────────────────────────────
// Plan Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return entitle.ErrAlreadyExists
	}
	for _, existing := range s.plans {
		if existing.Tier == p.Tier {
			return entitle.ErrPlanTierExists
		}
	}
	s.plans[p.ID.String()] = copyPlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return copyPlan(p), nil
	}
	return nil, entitle.ErrPlanNotFound
}

func (s *Store) GetPlanByTier(_ context.Context, tier plan.Tier) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Tier == tier {
			return copyPlan(p), nil
		}
	}
	return nil, entitle.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		result = append(result, copyPlan(p))
	}
	slices.SortFunc(result, func(a, b *plan.Plan) int {
		if c := cmp.Compare(a.MonthlyPrice.Amount, b.MonthlyPrice.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.Tier.Rank(), b.Tier.Rank())
	})
	return result, nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.plans[p.ID.String()]
	if !ok {
		return entitle.ErrPlanNotFound
	}
	if existing.Tier != p.Tier {
		for _, other := range s.plans {
			if other.Tier == p.Tier {
				return entitle.ErrPlanTierExists
			}
		}
	}
	s.plans[p.ID.String()] = copyPlan(p)
	return nil
}

// ──────────────────────────────────────────────────
// Subscription Store
// ──────────────────────────────────────────────────

func (s *Store) GetSubscriptionByUser(_ context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[userID]; ok {
		return copySubscription(sub), nil
	}
	return nil, entitle.ErrSubscriptionNotFound
}

func (s *Store) UpsertSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.Version = 1
	if existing, ok := s.subscriptions[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
		sub.Version = existing.Version + 1
	}
	s.subscriptions[sub.UserID] = copySubscription(sub)
	return nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.UserID]
	if !ok || existing.ID.String() != sub.ID.String() {
		return entitle.ErrSubscriptionNotFound
	}
	if existing.Version != sub.Version {
		return entitle.ErrSubscriptionConflict
	}
	sub.Version++
	s.subscriptions[sub.UserID] = copySubscription(sub)
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if opts.Matches(sub) {
			result = append(result, copySubscription(sub))
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return a.CurrentPeriodEnd.Compare(b.CurrentPeriodEnd)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Payment Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := payment.Key(p.GatewayOrderID, p.GatewayPaymentID)
	if _, exists := s.payments[key]; exists {
		return entitle.ErrDuplicatePayment
	}
	cp := *p
	s.payments[key] = &cp
	return nil
}

func (s *Store) GetPaymentByGatewayRef(_ context.Context, orderID, paymentID string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.payments[payment.Key(orderID, paymentID)]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, entitle.ErrPaymentNotFound
}

func (s *Store) ListPayments(_ context.Context, userID string, opts payment.ListOpts) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, p := range s.payments {
		if p.UserID == userID {
			cp := *p
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *payment.Payment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Usage Store
// ──────────────────────────────────────────────────

func (s *Store) GetUsage(_ context.Context, userID string, feature plan.Feature, periodStart time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.usage[keyOf(userID, feature, periodStart)]; ok {
		return r.Count, nil
	}
	return 0, nil
}

func (s *Store) IncrementUsage(_ context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.record(userID, feature, periodStart, periodEnd)
	r.Count++
	r.Touch(time.Now())
	return r.Count, nil
}

func (s *Store) IncrementUsageIfBelow(_ context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.usage[keyOf(userID, feature, periodStart)]; ok && r.Count >= limit {
		return r.Count, entitle.ErrQuotaExceeded
	}
	if limit <= 0 {
		return 0, entitle.ErrQuotaExceeded
	}
	r := s.record(userID, feature, periodStart, periodEnd)
	r.Count++
	r.Touch(time.Now())
	return r.Count, nil
}

func (s *Store) ListUsage(_ context.Context, userID string, periodStart time.Time) ([]*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := periodStart.UTC().UnixNano()
	result := make([]*usage.Record, 0)
	for k, r := range s.usage {
		if k.userID == userID && k.start == start {
			cp := *r
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *usage.Record) int {
		return cmp.Compare(a.Feature, b.Feature)
	})
	return result, nil
}

// record returns the stored record for the key, creating it with a zero
// count. Callers hold the write lock.
func (s *Store) record(userID string, feature plan.Feature, periodStart, periodEnd time.Time) *usage.Record {
	k := keyOf(userID, feature, periodStart)
	r, ok := s.usage[k]
	if !ok {
		r = &usage.Record{
			ID:          id.NewUsageID(),
			UserID:      userID,
			Feature:     feature,
			PeriodStart: periodStart.UTC(),
			PeriodEnd:   periodEnd.UTC(),
		}
		r.Entity = types.NewEntity()
		s.usage[k] = r
	}
	return r
}

// ──────────────────────────────────────────────────
// Store management
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return entitle.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyPlan(p *plan.Plan) *plan.Plan {
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	if sub.CancelledAt != nil {
		t := *sub.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
