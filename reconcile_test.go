package entitle_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/subscription"
)

func (f *fixture) status(t *testing.T, userID string) subscription.Status {
	t.Helper()
	sub, err := f.store.GetSubscriptionByUser(context.Background(), userID)
	require.NoError(t, err)
	return sub.Status
}

func TestReconcileExpired(t *testing.T) {
	f := newFixture(t, entitle.WithExpiryGrace(48*time.Hour))
	ctx := context.Background()

	// Cancelled PRO, no mandate.
	f.subscribe(t, "user-cancelled", plan.TierPro, plan.PeriodMonthly)
	_, err := f.engine.Cancel(ctx, "user-cancelled")
	require.NoError(t, err)

	// Active PRO without a mandate.
	f.subscribe(t, "user-lapsed", plan.TierPro, plan.PeriodMonthly)

	// Active PRO with a mandate awaiting renewal.
	order, err := f.engine.CreateOrder(ctx, "user-mandate", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	in := f.callback(t, "user-mandate", order, "pay_m", "sub_Mandate789")
	_, err = f.engine.Activate(ctx, in)
	require.NoError(t, err)

	// Yearly PREMIUM, still in period.
	f.subscribe(t, "user-yearly", plan.TierPremium, plan.PeriodYearly)

	// Downgraded row on FREE.
	f.subscribe(t, "user-free", plan.TierPro, plan.PeriodMonthly)
	_, err = f.engine.DowngradeToFree(ctx, "user-free")
	require.NoError(t, err)

	// Nothing is due yet.
	report, err := f.engine.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	assert.Zero(t, report.PastDue)

	// One hour past the end of every monthly period.
	f.advance(31*24*time.Hour + time.Hour)
	report, err = f.engine.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Expired)
	assert.Equal(t, 1, report.PastDue)
	assert.Equal(t, 1, report.Skipped)

	assert.Equal(t, subscription.StatusExpired, f.status(t, "user-cancelled"))
	assert.Equal(t, subscription.StatusExpired, f.status(t, "user-lapsed"))
	assert.Equal(t, subscription.StatusPastDue, f.status(t, "user-mandate"))
	assert.Equal(t, subscription.StatusActive, f.status(t, "user-yearly"))
	assert.Equal(t, subscription.StatusActive, f.status(t, "user-free"))

	p, err := f.engine.ResolveEffectivePlan(ctx, "user-mandate")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, p.Tier)

	// PAST_DUE expires once the grace has passed since period end.
	f.advance(24 * time.Hour)
	report, err = f.engine.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	assert.Equal(t, subscription.StatusPastDue, f.status(t, "user-mandate"))

	f.advance(24 * time.Hour)
	report, err = f.engine.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, subscription.StatusExpired, f.status(t, "user-mandate"))
}

func TestReconcileRenewalAfterPastDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-r", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	in := f.callback(t, "user-r", order, "pay_1", "sub_MandateR")
	_, err = f.engine.Activate(ctx, in)
	require.NoError(t, err)

	f.advance(32 * 24 * time.Hour)
	_, err = f.engine.ReconcileExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusPastDue, f.status(t, "user-r"))

	view := f.subscribe(t, "user-r", plan.TierPro, plan.PeriodMonthly)
	assert.Equal(t, subscription.StatusActive, view.Subscription.Status)
	assert.True(t, view.Subscription.CurrentPeriodEnd.After(f.clock()))
}

// racingStore runs a one-shot hook right after a subscription read, so a
// concurrent writer lands between an engine's read and its write.
type racingStore struct {
	*memory.Store

	mu        sync.Mutex
	afterList func()
	afterGet  func()
}

func (s *racingStore) take(hook *func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (s *racingStore) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	subs, err := s.Store.ListSubscriptions(ctx, opts)
	if fn := s.take(&s.afterList); fn != nil {
		fn()
	}
	return subs, err
}

func (s *racingStore) GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error) {
	sub, err := s.Store.GetSubscriptionByUser(ctx, userID)
	if fn := s.take(&s.afterGet); fn != nil {
		fn()
	}
	return sub, err
}

// racingEngine returns an engine over f's store wrapped in a racingStore.
// Writes made through f.engine bypass the hooks.
func (f *fixture) racingEngine() (*entitle.Engine, *racingStore) {
	rs := &racingStore{Store: f.store}
	e := entitle.New(rs,
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithGateway(f.gw),
		entitle.WithSigningSecret(testSecret),
		entitle.WithClock(f.clock),
		entitle.WithAutoMigrate(false),
	)
	return e, rs
}

func TestReconcileKeepsConcurrentRenewal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.subscribe(t, "user-r", plan.TierPro, plan.PeriodMonthly)
	f.advance(31*24*time.Hour + time.Hour)

	e, rs := f.racingEngine()
	var renewed *subscription.View
	rs.afterList = func() {
		renewed = f.subscribe(t, "user-r", plan.TierPro, plan.PeriodMonthly)
	}

	report, err := e.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Expired)
	assert.Zero(t, report.PastDue)

	sub, err := f.store.GetSubscriptionByUser(ctx, "user-r")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	require.NotNil(t, renewed)
	assert.Equal(t, renewed.Subscription.CurrentPeriodEnd, sub.CurrentPeriodEnd)

	p, err := f.engine.ResolveEffectivePlan(ctx, "user-r")
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, p.Tier)

	// The next pass sees the renewed period and leaves the row alone.
	report, err = e.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}
