package entitle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
)

func TestGetCurrentSubscriptionImplicitFree(t *testing.T) {
	f := newFixture(t)

	view, err := f.engine.GetCurrentSubscription(context.Background(), "user-new")
	require.NoError(t, err)
	assert.True(t, view.Implicit)
	assert.Equal(t, plan.TierFree, view.Tier())
	assert.Equal(t, subscription.StatusActive, view.Subscription.Status)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), view.Subscription.CurrentPeriodStart)

	// Reading never creates a row.
	_, err = f.store.GetSubscriptionByUser(context.Background(), "user-new")
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
}

func TestCheckoutProMonthly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(24900), order.Amount.Amount)
	assert.Equal(t, "INR", order.Amount.Currency)
	assert.Equal(t, "memory_public_key", order.GatewayPublicKey)
	assert.LessOrEqual(t, len(order.Receipt), gateway.MaxReceiptLen)

	reqs := f.gw.Orders()
	require.Len(t, reqs, 1)
	assert.Equal(t, "user-b", reqs[0].Metadata["userId"])
	assert.Equal(t, string(plan.TierPro), reqs[0].Metadata["tier"])
	assert.Equal(t, "MONTHLY", reqs[0].Metadata["billingPeriod"])

	view, err := f.engine.Activate(ctx, f.callback(t, "user-b", order, "pay_001"))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, view.Subscription.Status)
	assert.Equal(t, plan.TierPro, view.Tier())
	assert.Equal(t, f.clock(), view.Subscription.CurrentPeriodStart)
	assert.Equal(t, time.Date(2026, time.April, 10, 9, 30, 0, 0, time.UTC), view.Subscription.CurrentPeriodEnd)

	pay, err := f.store.GetPaymentByGatewayRef(ctx, order.OrderID, "pay_001")
	require.NoError(t, err)
	assert.Equal(t, int64(24900), pay.Amount.Amount)
	assert.Equal(t, payment.StatusCaptured, pay.Status)
	assert.Equal(t, view.Subscription.ID, pay.SubscriptionID)
}

func TestActivateYearly(t *testing.T) {
	f := newFixture(t)

	view := f.subscribe(t, "user-y", plan.TierPremium, plan.PeriodYearly)
	assert.Equal(t, plan.PeriodYearly, view.Subscription.BillingPeriod)
	assert.Equal(t, time.Date(2027, time.March, 10, 9, 30, 0, 0, time.UTC), view.Subscription.CurrentPeriodEnd)

	pays, err := f.store.ListPayments(context.Background(), "user-y", payment.ListOpts{})
	require.NoError(t, err)
	require.Len(t, pays, 1)
	assert.Equal(t, int64(499000), pays[0].Amount.Amount)
}

func TestActivateMonthlyClampsToMonthEnd(t *testing.T) {
	f := newFixture(t)
	f.set(time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC))

	view := f.subscribe(t, "user-c", plan.TierPro, plan.PeriodMonthly)
	assert.Equal(t, time.Date(2026, time.February, 28, 12, 0, 0, 0, time.UTC), view.Subscription.CurrentPeriodEnd)
}

func TestActivateRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)

	in := f.callback(t, "user-b", order, "pay_001")
	in.PaymentID = "pay_002"

	_, err = f.engine.Activate(ctx, in)
	require.ErrorIs(t, err, entitle.ErrInvalidPaymentSignature)

	// Nothing was written.
	_, err = f.store.GetSubscriptionByUser(ctx, "user-b")
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
	pays, err := f.store.ListPayments(ctx, "user-b", payment.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, pays)
}

func TestActivateWithoutVerifierFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := entitle.New(f.store, entitle.WithGateway(f.gw), entitle.WithAutoMigrate(false))

	pro, err := e.GetPlan(ctx, plan.TierPro)
	require.NoError(t, err)

	_, err = e.Activate(ctx, entitle.ActivateInput{
		UserID:        "user-b",
		OrderID:       "order_1",
		PaymentID:     "pay_1",
		Signature:     f.signer.Sign("order_1", "pay_1"),
		PlanID:        pro.ID,
		BillingPeriod: plan.PeriodMonthly,
	})
	assert.ErrorIs(t, err, entitle.ErrInvalidPaymentSignature)
}

func TestActivateReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	in := f.callback(t, "user-b", order, "pay_001")

	first, err := f.engine.Activate(ctx, in)
	require.NoError(t, err)

	f.advance(24 * time.Hour)
	second, err := f.engine.Activate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.Subscription.ID, second.Subscription.ID)
	assert.Equal(t, first.Subscription.CurrentPeriodEnd, second.Subscription.CurrentPeriodEnd)

	pays, err := f.store.ListPayments(ctx, "user-b", payment.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, pays, 1)
}

func TestActivateReplayByOtherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	_, err = f.engine.Activate(ctx, f.callback(t, "user-b", order, "pay_001"))
	require.NoError(t, err)

	_, err = f.engine.Activate(ctx, f.callback(t, "user-x", order, "pay_001"))
	assert.ErrorIs(t, err, entitle.ErrDuplicatePayment)

	_, err = f.store.GetSubscriptionByUser(ctx, "user-x")
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
}

func TestActivateRenewalKeepsSubscriptionID(t *testing.T) {
	f := newFixture(t)

	first := f.subscribe(t, "user-b", plan.TierPro, plan.PeriodMonthly)
	f.advance(30 * 24 * time.Hour)
	second := f.subscribe(t, "user-b", plan.TierPremium, plan.PeriodMonthly)

	assert.Equal(t, first.Subscription.ID, second.Subscription.ID)
	assert.Equal(t, first.Subscription.CreatedAt, second.Subscription.CreatedAt)
	assert.Equal(t, plan.TierPremium, second.Tier())

	pays, err := f.store.ListPayments(context.Background(), "user-b", payment.ListOpts{})
	require.NoError(t, err)
	require.Len(t, pays, 2)
	assert.Equal(t, int64(49900), pays[0].Amount.Amount)
}

func TestActivateRejectsFreePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free, err := f.engine.GetPlan(ctx, plan.TierFree)
	require.NoError(t, err)

	// An order for FREE can only come from outside CreateOrder.
	order, err := f.gw.CreateOrder(ctx, &gateway.OrderRequest{
		Amount:  types.INR(100),
		Receipt: "rcpt_free",
		Metadata: map[string]string{
			"userId":        "user-b",
			"planId":        free.ID.String(),
			"billingPeriod": string(plan.PeriodMonthly),
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.gw.Pay(order.ID, "pay_1", ""))

	_, err = f.engine.Activate(ctx, entitle.ActivateInput{
		UserID:    "user-b",
		OrderID:   order.ID,
		PaymentID: "pay_1",
		Signature: f.signer.Sign(order.ID, "pay_1"),
	})
	assert.ErrorIs(t, err, entitle.ErrInvalidPlanPricing)
}

func TestActivateRejectsPlanSwap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	premium, err := f.engine.GetPlan(ctx, plan.TierPremium)
	require.NoError(t, err)
	order, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)

	// The signature only covers order and payment ids.
	in := f.callback(t, "user-b", order, "pay_001")
	in.PlanID = premium.ID
	in.BillingPeriod = plan.PeriodYearly
	_, err = f.engine.Activate(ctx, in)
	require.ErrorIs(t, err, entitle.ErrInvalidInput)

	in = f.callback(t, "user-b", order, "pay_001")
	in.BillingPeriod = plan.PeriodYearly
	_, err = f.engine.Activate(ctx, in)
	require.ErrorIs(t, err, entitle.ErrInvalidInput)

	_, err = f.store.GetSubscriptionByUser(ctx, "user-b")
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
	pays, err := f.store.ListPayments(ctx, "user-b", payment.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, pays)

	// Without plan and period in the callback the order decides both.
	in = f.callback(t, "user-b", order, "pay_001")
	in.PlanID = entitle.ID{}
	in.BillingPeriod = ""
	view, err := f.engine.Activate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, view.Tier())
	assert.Equal(t, plan.PeriodMonthly, view.Subscription.BillingPeriod)

	pay, err := f.store.GetPaymentByGatewayRef(ctx, order.OrderID, "pay_001")
	require.NoError(t, err)
	assert.Equal(t, int64(24900), pay.Amount.Amount)
}

func TestActivateRejectsOrderOfAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-a", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)

	_, err = f.engine.Activate(ctx, f.callback(t, "user-b", order, "pay_001"))
	require.ErrorIs(t, err, entitle.ErrInvalidPaymentSignature)

	_, err = f.store.GetSubscriptionByUser(ctx, "user-b")
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
}

func TestActivateRequiresGatewayPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	second, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPremium, plan.PeriodYearly)
	require.NoError(t, err)

	// Signed but never paid.
	_, err = f.engine.Activate(ctx, entitle.ActivateInput{
		UserID:    "user-b",
		OrderID:   second.OrderID,
		PaymentID: "pay_unknown",
		Signature: f.signer.Sign(second.OrderID, "pay_unknown"),
	})
	require.ErrorIs(t, err, entitle.ErrInvalidPaymentSignature)

	// A payment for the cheap order presented against the expensive one.
	f.callback(t, "user-b", first, "pay_cheap")
	_, err = f.engine.Activate(ctx, entitle.ActivateInput{
		UserID:    "user-b",
		OrderID:   second.OrderID,
		PaymentID: "pay_cheap",
		Signature: f.signer.Sign(second.OrderID, "pay_cheap"),
	})
	require.ErrorIs(t, err, entitle.ErrInvalidPaymentSignature)

	_, err = f.store.GetSubscriptionByUser(ctx, "user-b")
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
}

func TestActivateRejectsRepricedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	premium, err := f.engine.GetPlan(ctx, plan.TierPremium)
	require.NoError(t, err)
	order, err := f.gw.CreateOrder(ctx, &gateway.OrderRequest{
		Amount:  types.INR(100),
		Receipt: "rcpt_cheap",
		Metadata: map[string]string{
			"userId":        "user-b",
			"planId":        premium.ID.String(),
			"billingPeriod": string(plan.PeriodYearly),
		},
	})
	require.NoError(t, err)
	require.NoError(t, f.gw.Pay(order.ID, "pay_1", ""))

	_, err = f.engine.Activate(ctx, entitle.ActivateInput{
		UserID:    "user-b",
		OrderID:   order.ID,
		PaymentID: "pay_1",
		Signature: f.signer.Sign(order.ID, "pay_1"),
	})
	assert.ErrorIs(t, err, entitle.ErrInvalidInput)
}

func TestActivateGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-b", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	in := f.callback(t, "user-b", order, "pay_001")

	f.gw.FetchErr = &gateway.Error{Gateway: "memory", Op: "fetch order", StatusCode: 503}
	_, err = f.engine.Activate(ctx, in)
	require.ErrorIs(t, err, entitle.ErrGateway)
	assert.True(t, entitle.IsRetryable(err))

	f.gw.FetchErr = nil
	_, err = f.engine.Activate(ctx, in)
	require.NoError(t, err)
}

func TestActivateTakesMandateFromGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-m", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	view, err := f.engine.Activate(ctx, f.callback(t, "user-m", order, "pay_001", "sub_OwnMandate"))
	require.NoError(t, err)
	assert.Equal(t, "sub_OwnMandate", view.Subscription.MandateID)

	_, err = f.engine.Cancel(ctx, "user-m")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_OwnMandate"}, f.gw.CancelledMandates())

	// A payment without a recurring authorization leaves no mandate to
	// cancel, whatever the client claims.
	order, err = f.engine.CreateOrder(ctx, "user-n", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	view, err = f.engine.Activate(ctx, f.callback(t, "user-n", order, "pay_002"))
	require.NoError(t, err)
	assert.False(t, view.Subscription.HasMandate())

	_, err = f.engine.DowngradeToFree(ctx, "user-n")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_OwnMandate"}, f.gw.CancelledMandates())
}

func TestCreateOrderErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		tier   plan.Tier
		period plan.Period
		want   error
	}{
		{"no user", "", plan.TierPro, plan.PeriodMonthly, entitle.ErrUnauthenticated},
		{"bad period", "u", plan.TierPro, plan.Period("WEEKLY"), entitle.ErrInvalidInput},
		{"free tier", "u", plan.TierFree, plan.PeriodMonthly, entitle.ErrNoPaymentRequired},
		{"unknown tier", "u", plan.Tier("GOLD"), plan.PeriodMonthly, entitle.ErrPlanNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateOrder(ctx, tt.userID, tt.tier, tt.period)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.gw.Orders())
}

func TestCreateOrderZeroPricedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pro, err := f.engine.GetPlan(ctx, plan.TierPro)
	require.NoError(t, err)
	zero := entitle.INR(0)
	_, err = f.engine.UpdatePlan(ctx, pro.ID, plan.Patch{MonthlyPrice: &zero})
	require.NoError(t, err)

	_, err = f.engine.CreateOrder(ctx, "u", plan.TierPro, plan.PeriodMonthly)
	assert.ErrorIs(t, err, entitle.ErrInvalidPlanPricing)
}

func TestCreateOrderGatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.OrderErr = &gateway.Error{Gateway: "memory", Op: "create order", StatusCode: 502, Message: "bad gateway"}

	_, err := f.engine.CreateOrder(context.Background(), "u", plan.TierPro, plan.PeriodMonthly)
	require.ErrorIs(t, err, entitle.ErrGateway)
	assert.True(t, entitle.IsRetryable(err))

	var gerr *gateway.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, 502, gerr.StatusCode)
	assert.Equal(t, "Payment service is unavailable. Please try again shortly.", entitle.UserMessage(err))
}

func TestCreateOrderWithoutGateway(t *testing.T) {
	f := newFixture(t)
	e := entitle.New(f.store, entitle.WithAutoMigrate(false))

	_, err := e.CreateOrder(context.Background(), "u", plan.TierPro, plan.PeriodMonthly)
	assert.ErrorIs(t, err, entitle.ErrGatewayNotConfigured)
}

func TestCreateOrderPrefill(t *testing.T) {
	f := newFixture(t, entitle.WithProfileResolver(func(_ context.Context, userID string) (gateway.Prefill, error) {
		if userID == "ghost" {
			return gateway.Prefill{}, errors.New("no profile")
		}
		return gateway.Prefill{Name: "Asha", Email: "asha@example.com"}, nil
	}))
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "u", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", order.Prefill.Email)

	order, err = f.engine.CreateOrder(ctx, "ghost", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	assert.Empty(t, order.Prefill.Email)
}

func TestCancelKeepsAccessThroughPaidPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.subscribe(t, "user-c", plan.TierPro, plan.PeriodMonthly)

	f.advance(10 * 24 * time.Hour)
	view, err := f.engine.Cancel(ctx, "user-c")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, view.Subscription.Status)
	require.NotNil(t, view.Subscription.CancelledAt)
	assert.Equal(t, f.clock(), *view.Subscription.CancelledAt)
	assert.Equal(t, plan.TierPro, view.Tier())
	assert.Equal(t, before.Subscription.CurrentPeriodStart, view.Subscription.CurrentPeriodStart)
	assert.Equal(t, before.Subscription.CurrentPeriodEnd, view.Subscription.CurrentPeriodEnd)

	p, err := f.engine.ResolveEffectivePlan(ctx, "user-c")
	require.NoError(t, err)
	assert.Equal(t, plan.TierPro, p.Tier)

	f.set(before.Subscription.CurrentPeriodEnd)
	p, err = f.engine.ResolveEffectivePlan(ctx, "user-c")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, p.Tier)
}

func TestCancelUnderActiveOnlyRule(t *testing.T) {
	f := newFixture(t, entitle.WithEffectivePlanRule(subscription.ActiveOnly))
	ctx := context.Background()
	f.subscribe(t, "user-c", plan.TierPro, plan.PeriodMonthly)

	_, err := f.engine.Cancel(ctx, "user-c")
	require.NoError(t, err)

	p, err := f.engine.ResolveEffectivePlan(ctx, "user-c")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, p.Tier)
}

func TestCancelErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Cancel(ctx, "")
	require.ErrorIs(t, err, entitle.ErrUnauthenticated)

	_, err = f.engine.Cancel(ctx, "user-none")
	require.ErrorIs(t, err, entitle.ErrNoPaidSubscription)

	f.subscribe(t, "user-c", plan.TierPro, plan.PeriodMonthly)
	_, err = f.engine.Cancel(ctx, "user-c")
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, "user-c")
	require.ErrorIs(t, err, entitle.ErrSubscriptionCancelled)

	_, err = f.engine.DowngradeToFree(ctx, "user-c")
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, "user-c")
	require.ErrorIs(t, err, entitle.ErrNoPaidSubscription)
}

func TestCancelMandateBestEffort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-m", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	in := f.callback(t, "user-m", order, "pay_001", "sub_Mandate123")
	_, err = f.engine.Activate(ctx, in)
	require.NoError(t, err)

	f.gw.CancelErr = errors.New("gateway down")
	view, err := f.engine.Cancel(ctx, "user-m")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, view.Subscription.Status)
	assert.Empty(t, f.gw.CancelledMandates())
}

func TestDowngradeToFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-d", plan.TierPremium, plan.PeriodMonthly)
	require.NoError(t, err)
	in := f.callback(t, "user-d", order, "pay_001", "sub_Mandate456")
	before, err := f.engine.Activate(ctx, in)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, "user-d")
	require.NoError(t, err)

	view, err := f.engine.DowngradeToFree(ctx, "user-d")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, view.Tier())
	assert.Equal(t, subscription.StatusActive, view.Subscription.Status)
	assert.Nil(t, view.Subscription.CancelledAt)
	assert.False(t, view.Subscription.HasMandate())
	assert.Equal(t, before.Subscription.ID, view.Subscription.ID)

	p, err := f.engine.ResolveEffectivePlan(ctx, "user-d")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, p.Tier)

	// Cancel already released the mandate; downgrade has none left.
	assert.Equal(t, []string{"sub_Mandate456"}, f.gw.CancelledMandates())
}

func TestDowngradeWithoutRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.engine.DowngradeToFree(ctx, "user-none")
	require.NoError(t, err)
	assert.True(t, view.Implicit)

	_, err = f.store.GetSubscriptionByUser(ctx, "user-none")
	assert.ErrorIs(t, err, entitle.ErrSubscriptionNotFound)
}

func TestCancelRetriesOnConcurrentRenewal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.subscribe(t, "user-c", plan.TierPro, plan.PeriodMonthly)
	f.advance(20 * 24 * time.Hour)

	e, rs := f.racingEngine()
	var renewed *subscription.View
	rs.afterGet = func() {
		renewed = f.subscribe(t, "user-c", plan.TierPremium, plan.PeriodYearly)
	}

	view, err := e.Cancel(ctx, "user-c")
	require.NoError(t, err)
	require.NotNil(t, renewed)
	assert.Equal(t, subscription.StatusCancelled, view.Subscription.Status)
	assert.Equal(t, plan.TierPremium, view.Tier())

	// The cancel applied on top of the renewal instead of replacing it.
	sub, err := f.store.GetSubscriptionByUser(ctx, "user-c")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, sub.Status)
	assert.Equal(t, renewed.Subscription.PlanID, sub.PlanID)
	assert.Equal(t, renewed.Subscription.CurrentPeriodEnd, sub.CurrentPeriodEnd)
}

func TestDowngradeCancelsMandateAttachedMidway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "user-d", plan.TierPro, plan.PeriodMonthly)
	require.NoError(t, err)
	_, err = f.engine.Activate(ctx, f.callback(t, "user-d", order, "pay_001", "sub_Old"))
	require.NoError(t, err)

	e, rs := f.racingEngine()
	rs.afterGet = func() {
		renewal, err := f.engine.CreateOrder(ctx, "user-d", plan.TierPro, plan.PeriodMonthly)
		require.NoError(t, err)
		_, err = f.engine.Activate(ctx, f.callback(t, "user-d", renewal, "pay_002", "sub_New"))
		require.NoError(t, err)
	}

	view, err := e.DowngradeToFree(ctx, "user-d")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, view.Tier())

	sub, err := f.store.GetSubscriptionByUser(ctx, "user-d")
	require.NoError(t, err)
	assert.False(t, sub.HasMandate())
	assert.ElementsMatch(t, []string{"sub_Old", "sub_New"}, f.gw.CancelledMandates())
}
