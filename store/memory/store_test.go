package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
	"github.com/xraph/entitle/usage"
)

func seedPlans(t *testing.T, s *memory.Store) map[plan.Tier]*plan.Plan {
	t.Helper()
	out := make(map[plan.Tier]*plan.Plan)
	for _, p := range plan.Defaults() {
		p.ID = id.NewPlanID()
		p.Entity = types.NewEntity()
		require.NoError(t, s.CreatePlan(context.Background(), p))
		out[p.Tier] = p
	}
	return out
}

func TestPlans(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	plans := seedPlans(t, s)

	list, err := s.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, plan.TierFree, list[0].Tier)
	assert.Equal(t, plan.TierPremium, list[2].Tier)

	dup := plan.Defaults()[1]
	dup.ID = id.NewPlanID()
	assert.ErrorIs(t, s.CreatePlan(ctx, dup), entitle.ErrPlanTierExists)

	got, err := s.GetPlanByTier(ctx, plan.TierPro)
	require.NoError(t, err)
	assert.Equal(t, plans[plan.TierPro].ID, got.ID)

	got.Name = "Pro 2"
	require.NoError(t, s.UpdatePlan(ctx, got))
	again, err := s.GetPlan(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pro 2", again.Name)

	_, err = s.GetPlan(ctx, id.NewPlanID())
	assert.ErrorIs(t, err, entitle.ErrPlanNotFound)
}

func TestSubscriptionUpsertKeepsIdentity(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	plans := seedPlans(t, s)
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	first := &subscription.Subscription{
		Entity:             types.NewEntityAt(now),
		ID:                 id.NewSubscriptionID(),
		UserID:             "u1",
		PlanID:             plans[plan.TierPro].ID,
		Status:             subscription.StatusActive,
		BillingPeriod:      plan.PeriodMonthly,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.PeriodMonthly.Advance(now),
	}
	require.NoError(t, s.UpsertSubscription(ctx, first))

	later := now.Add(48 * time.Hour)
	second := &subscription.Subscription{
		Entity:             types.NewEntityAt(later),
		ID:                 id.NewSubscriptionID(),
		UserID:             "u1",
		PlanID:             plans[plan.TierPremium].ID,
		Status:             subscription.StatusActive,
		BillingPeriod:      plan.PeriodYearly,
		CurrentPeriodStart: later,
		CurrentPeriodEnd:   plan.PeriodYearly.Advance(later),
	}
	require.NoError(t, s.UpsertSubscription(ctx, second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.EqualValues(t, 1, first.Version)
	assert.EqualValues(t, 2, second.Version)

	got, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, plans[plan.TierPremium].ID, got.PlanID)
	assert.Equal(t, plan.PeriodYearly, got.BillingPeriod)

	// Mutating the returned copy does not touch stored state.
	got.Status = subscription.StatusExpired
	again, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, again.Status)

	stranger := *got
	stranger.ID = id.NewSubscriptionID()
	assert.ErrorIs(t, s.UpdateSubscription(ctx, &stranger), entitle.ErrSubscriptionNotFound)
}

func TestUpdateSubscriptionIsConditional(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	plans := seedPlans(t, s)
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertSubscription(ctx, &subscription.Subscription{
		Entity:           types.NewEntityAt(now),
		ID:               id.NewSubscriptionID(),
		UserID:           "u1",
		PlanID:           plans[plan.TierPro].ID,
		Status:           subscription.StatusActive,
		BillingPeriod:    plan.PeriodMonthly,
		CurrentPeriodEnd: plan.PeriodMonthly.Advance(now),
	}))

	stale, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	fresh, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)

	fresh.Status = subscription.StatusCancelled
	require.NoError(t, s.UpdateSubscription(ctx, fresh))
	assert.Equal(t, stale.Version+1, fresh.Version)

	stale.Status = subscription.StatusExpired
	assert.ErrorIs(t, s.UpdateSubscription(ctx, stale), entitle.ErrSubscriptionConflict)

	got, err := s.GetSubscriptionByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, got.Status)
	assert.Equal(t, fresh.Version, got.Version)
}

func TestListSubscriptions(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i, st := range []subscription.Status{subscription.StatusActive, subscription.StatusCancelled, subscription.StatusExpired} {
		require.NoError(t, s.UpsertSubscription(ctx, &subscription.Subscription{
			ID:               id.NewSubscriptionID(),
			UserID:           string(rune('a' + i)),
			Status:           st,
			CurrentPeriodEnd: base.AddDate(0, 0, i),
		}))
	}

	subs, err := s.ListSubscriptions(ctx, subscription.ListOpts{
		Statuses:        []subscription.Status{subscription.StatusActive, subscription.StatusCancelled},
		PeriodEndBefore: base.AddDate(0, 0, 5),
	})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "a", subs[0].UserID)
	assert.Equal(t, "b", subs[1].UserID)

	subs, err = s.ListSubscriptions(ctx, subscription.ListOpts{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "c", subs[0].UserID)
}

func TestPaymentsUniqueOnGatewayRef(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	p := &payment.Payment{
		Entity:           types.NewEntity(),
		ID:               id.NewPaymentID(),
		UserID:           "u1",
		Amount:           types.INR(24900),
		Status:           payment.StatusCaptured,
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
	}
	require.NoError(t, s.CreatePayment(ctx, p))

	dup := *p
	dup.ID = id.NewPaymentID()
	assert.ErrorIs(t, s.CreatePayment(ctx, &dup), entitle.ErrDuplicatePayment)

	other := *p
	other.ID = id.NewPaymentID()
	other.GatewayPaymentID = "pay_2"
	other.CreatedAt = p.CreatedAt.Add(time.Minute)
	require.NoError(t, s.CreatePayment(ctx, &other))

	got, err := s.GetPaymentByGatewayRef(ctx, "order_1", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = s.GetPaymentByGatewayRef(ctx, "order_1", "pay_9")
	assert.ErrorIs(t, err, entitle.ErrPaymentNotFound)

	list, err := s.ListPayments(ctx, "u1", payment.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "pay_2", list[0].GatewayPaymentID)
}

func TestUsageCounters(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	march, marchEnd := usage.MonthBounds(time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC))
	april, aprilEnd := usage.MonthBounds(time.Date(2026, time.April, 2, 0, 0, 0, 0, time.UTC))

	n, err := s.GetUsage(ctx, "u1", plan.FeatureMockInterview, march)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := int64(1); i <= 3; i++ {
		n, err = s.IncrementUsage(ctx, "u1", plan.FeatureMockInterview, march, marchEnd)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	_, err = s.IncrementUsage(ctx, "u1", plan.FeatureCoverLetter, march, marchEnd)
	require.NoError(t, err)
	_, err = s.IncrementUsage(ctx, "u1", plan.FeatureMockInterview, april, aprilEnd)
	require.NoError(t, err)

	records, err := s.ListUsage(ctx, "u1", march)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, march, r.PeriodStart)
		assert.Equal(t, marchEnd, r.PeriodEnd)
	}

	n, err = s.GetUsage(ctx, "u1", plan.FeatureMockInterview, april)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIncrementUsageIfBelowIsAtomic(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	start, end := usage.MonthBounds(time.Now())

	const limit = 7
	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsageIfBelow(ctx, "u1", plan.FeatureQuestionGeneration, start, end, limit)
			if err == nil {
				granted.Add(1)
			} else if !errors.Is(err, entitle.ErrQuotaExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), granted.Load())
	n, err := s.GetUsage(ctx, "u1", plan.FeatureQuestionGeneration, start)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), n)
}

func TestIncrementUsageIfBelowZeroLimit(t *testing.T) {
	s := memory.New()
	start, end := usage.MonthBounds(time.Now())

	_, err := s.IncrementUsageIfBelow(context.Background(), "u1", plan.FeatureResumeRewrite, start, end, 0)
	require.ErrorIs(t, err, entitle.ErrQuotaExceeded)

	records, err := s.ListUsage(context.Background(), "u1", start)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPingAfterClose(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), entitle.ErrStoreClosed)
}
