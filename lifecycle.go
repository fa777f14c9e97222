package entitle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
	"github.com/xraph/entitle/usage"
)

// Order is what checkout needs to collect a payment.
type Order struct {
	OrderID          string          `json:"order_id"`
	Amount           types.Money     `json:"amount"`
	Receipt          string          `json:"receipt"`
	GatewayPublicKey string          `json:"gateway_public_key"`
	PlanID           id.PlanID       `json:"plan_id"`
	Tier             plan.Tier       `json:"tier"`
	BillingPeriod    plan.Period     `json:"billing_period"`
	Prefill          gateway.Prefill `json:"prefill"`
}

// ActivateInput is a payment callback to verify and apply. PlanID and
// BillingPeriod are optional; when set they must match what the order was
// created for. The plan, period, amount and recurring mandate applied are
// always the ones the gateway reports for the order and payment.
type ActivateInput struct {
	UserID        string      `json:"user_id"`
	OrderID       string      `json:"order_id"`
	PaymentID     string      `json:"payment_id"`
	Signature     string      `json:"signature"`
	PlanID        id.PlanID   `json:"plan_id"`
	BillingPeriod plan.Period `json:"billing_period"`
}

// Order metadata keys. Activation reads the plan and period back from them.
const (
	metaUserID        = "userId"
	metaPlanID        = "planId"
	metaTier          = "tier"
	metaBillingPeriod = "billingPeriod"
)

// maxUpdateAttempts bounds the read-modify-write retries on a subscription
// row that keeps changing underneath.
const maxUpdateAttempts = 3

// ──────────────────────────────────────────────────
// Subscription lifecycle
// ──────────────────────────────────────────────────

// GetCurrentSubscription returns the user's subscription and plan. A user
// without a row gets a synthesized FREE view over the current calendar
// month. Nothing is written.
func (e *Engine) GetCurrentSubscription(ctx context.Context, userID string) (*subscription.View, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	sub, err := e.store.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return e.implicitView(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	p, err := e.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan of subscription %s: %w", sub.ID, err)
	}
	return &subscription.View{Subscription: sub, Plan: p}, nil
}

func (e *Engine) implicitView(ctx context.Context, userID string) (*subscription.View, error) {
	free, err := e.GetPlan(ctx, plan.TierFree)
	if err != nil {
		return nil, err
	}
	start, end := usage.MonthBounds(e.now())
	return subscription.Implicit(userID, free, start, end), nil
}

// CreateOrder asks the gateway for an order to buy tier for one billing
// period. Nothing is written locally.
func (e *Engine) CreateOrder(ctx context.Context, userID string, tier plan.Tier, period plan.Period) (*Order, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if !period.Valid() {
		return nil, fmt.Errorf("%w: billing period %q", ErrInvalidInput, period)
	}
	if tier == plan.TierFree {
		return nil, ErrNoPaymentRequired
	}

	p, err := e.GetPlan(ctx, tier)
	if err != nil {
		return nil, err
	}
	amount := p.Price(period)
	if !amount.IsPositive() {
		return nil, ErrInvalidPlanPricing
	}
	if e.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}

	req := &gateway.OrderRequest{
		Amount:  amount,
		Receipt: gateway.NewReceipt(),
		Metadata: map[string]string{
			metaUserID:        userID,
			metaPlanID:        p.ID.String(),
			metaTier:          string(p.Tier),
			metaBillingPeriod: string(period),
		},
	}

	gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	order, err := e.gateway.CreateOrder(gctx, req)
	if err != nil {
		return nil, e.gatewayFailure(ctx, "create order", err)
	}

	out := &Order{
		OrderID:          order.ID,
		Amount:           amount,
		Receipt:          req.Receipt,
		GatewayPublicKey: e.gateway.PublicKey(),
		PlanID:           p.ID,
		Tier:             p.Tier,
		BillingPeriod:    period,
	}
	if e.profiles != nil {
		prefill, err := e.profiles(ctx, userID)
		if err != nil {
			e.logger.Debug("prefill lookup failed", "user_id", userID, "error", err)
		} else {
			out.Prefill = prefill
		}
	}

	e.logger.Info("order created",
		"user_id", userID,
		"order_id", order.ID,
		"tier", p.Tier,
		"billing_period", period,
		"amount", amount.Amount,
	)
	e.plugins.EmitOrderCreated(ctx, userID, p, order)
	return out, nil
}

// Activate verifies a payment callback and, only if the signature is
// valid and the gateway confirms the order was paid by this user, moves the
// user onto the order's plan for one billing period and records the
// payment. Replaying an already recorded payment returns the current
// subscription without writing anything.
func (e *Engine) Activate(ctx context.Context, in ActivateInput) (*subscription.View, error) {
	if in.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if !e.verifier.Verify(in.OrderID, in.PaymentID, in.Signature) {
		e.logger.Warn("payment signature rejected",
			"user_id", in.UserID,
			"order_id", in.OrderID,
			"payment_id", in.PaymentID,
		)
		e.plugins.EmitPaymentRejected(ctx, in.UserID, in.OrderID, in.PaymentID)
		return nil, ErrInvalidPaymentSignature
	}
	if in.BillingPeriod != "" && !in.BillingPeriod.Valid() {
		return nil, fmt.Errorf("%w: billing period %q", ErrInvalidInput, in.BillingPeriod)
	}

	if replay, err := e.replayedPayment(ctx, in); replay || err != nil {
		if err != nil {
			return nil, err
		}
		return e.GetCurrentSubscription(ctx, in.UserID)
	}

	if e.gateway == nil {
		return nil, ErrGatewayNotConfigured
	}
	paid, err := e.confirmCheckout(ctx, in)
	if err != nil {
		return nil, err
	}
	p := paid.plan

	now := e.now()
	sub := &subscription.Subscription{
		Entity:             types.NewEntityAt(now),
		ID:                 id.NewSubscriptionID(),
		UserID:             in.UserID,
		PlanID:             p.ID,
		Status:             subscription.StatusActive,
		BillingPeriod:      paid.period,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   paid.period.Advance(now),
		MandateID:          paid.mandateID,
	}
	if err := e.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	pay := &payment.Payment{
		Entity:           types.NewEntityAt(now),
		ID:               id.NewPaymentID(),
		SubscriptionID:   sub.ID,
		UserID:           in.UserID,
		PlanID:           p.ID,
		Amount:           paid.amount,
		Status:           payment.StatusCaptured,
		BillingPeriod:    paid.period,
		GatewayOrderID:   in.OrderID,
		GatewayPaymentID: in.PaymentID,
		GatewaySignature: in.Signature,
	}
	if err := e.store.CreatePayment(ctx, pay); err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			// A concurrent activation with the same callback won the insert.
			return e.GetCurrentSubscription(ctx, in.UserID)
		}
		return nil, fmt.Errorf("record payment: %w", err)
	}

	e.logger.Info("subscription activated",
		"user_id", in.UserID,
		"subscription_id", sub.ID.String(),
		"tier", p.Tier,
		"billing_period", paid.period,
		"period_end", sub.CurrentPeriodEnd,
	)
	e.plugins.EmitSubscriptionActivated(ctx, sub, p)
	e.plugins.EmitPaymentRecorded(ctx, pay)

	return &subscription.View{Subscription: sub, Plan: p}, nil
}

// checkout is a paid order as the gateway reports it.
type checkout struct {
	plan      *plan.Plan
	period    plan.Period
	amount    types.Money
	mandateID string
}

// confirmCheckout reads the order and payment back from the gateway and
// checks them against the callback and the plan catalog. Only the
// signature covers the callback, so nothing else in it is trusted.
func (e *Engine) confirmCheckout(ctx context.Context, in ActivateInput) (*checkout, error) {
	gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	order, err := e.gateway.FetchOrder(gctx, in.OrderID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, e.rejectPayment(ctx, in, "unknown order", ErrInvalidPaymentSignature)
		}
		return nil, e.gatewayFailure(ctx, "fetch order", err)
	}
	paid, err := e.gateway.FetchPayment(gctx, in.PaymentID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, e.rejectPayment(ctx, in, "unknown payment", ErrInvalidPaymentSignature)
		}
		return nil, e.gatewayFailure(ctx, "fetch payment", err)
	}

	switch {
	case paid.OrderID != order.ID:
		return nil, e.rejectPayment(ctx, in, "payment belongs to another order", ErrInvalidPaymentSignature)
	case order.Metadata[metaUserID] != in.UserID:
		return nil, e.rejectPayment(ctx, in, "order belongs to another user", ErrInvalidPaymentSignature)
	case paid.Status != "captured" && paid.Status != "authorized":
		return nil, e.rejectPayment(ctx, in, "payment not completed",
			fmt.Errorf("%w: payment status %q", ErrInvalidInput, paid.Status))
	case !paid.Amount.Equal(order.Amount):
		return nil, e.rejectPayment(ctx, in, "partial payment",
			fmt.Errorf("%w: paid %s of %s", ErrInvalidInput, paid.Amount, order.Amount))
	}

	planID, err := id.ParsePlanID(order.Metadata[metaPlanID])
	if err != nil {
		return nil, e.rejectPayment(ctx, in, "order has no plan",
			fmt.Errorf("%w: order plan: %w", ErrInvalidInput, err))
	}
	period := plan.Period(order.Metadata[metaBillingPeriod])
	switch {
	case !period.Valid():
		return nil, e.rejectPayment(ctx, in, "order has no billing period",
			fmt.Errorf("%w: order billing period %q", ErrInvalidInput, period))
	case !in.PlanID.IsNil() && in.PlanID.String() != planID.String():
		return nil, e.rejectPayment(ctx, in, "plan does not match order",
			fmt.Errorf("%w: order %s was placed for plan %s", ErrInvalidInput, order.ID, planID))
	case in.BillingPeriod != "" && in.BillingPeriod != period:
		return nil, e.rejectPayment(ctx, in, "billing period does not match order",
			fmt.Errorf("%w: order %s was placed for %s billing", ErrInvalidInput, order.ID, period))
	}

	p, err := e.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	price := p.Price(period)
	if p.IsFree() || !price.IsPositive() {
		return nil, ErrInvalidPlanPricing
	}
	if !order.Amount.Equal(price) {
		return nil, e.rejectPayment(ctx, in, "order amount does not match plan price",
			fmt.Errorf("%w: order amount %s, %s %s price %s", ErrInvalidInput, order.Amount, p.Tier, period, price))
	}

	return &checkout{plan: p, period: period, amount: paid.Amount, mandateID: paid.MandateID}, nil
}

// rejectPayment logs and reports a callback that failed gateway
// confirmation and returns err.
func (e *Engine) rejectPayment(ctx context.Context, in ActivateInput, reason string, err error) error {
	e.logger.Warn("payment rejected",
		"user_id", in.UserID,
		"order_id", in.OrderID,
		"payment_id", in.PaymentID,
		"reason", reason,
	)
	e.plugins.EmitPaymentRejected(ctx, in.UserID, in.OrderID, in.PaymentID)
	return err
}

// replayedPayment reports whether the callback was already applied. A
// payment recorded for another user is rejected.
func (e *Engine) replayedPayment(ctx context.Context, in ActivateInput) (bool, error) {
	existing, err := e.store.GetPaymentByGatewayRef(ctx, in.OrderID, in.PaymentID)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return false, nil
	case err != nil:
		return false, err
	case existing.UserID != in.UserID:
		return false, ErrDuplicatePayment
	}
	e.logger.Info("payment replay ignored", "user_id", in.UserID, "order_id", in.OrderID, "payment_id", in.PaymentID)
	return true, nil
}

// Cancel marks the user's paid subscription CANCELLED. Plan and period are
// kept, so access continues until the period ends under the
// ThroughPaidPeriod rule. The gateway mandate is cancelled best effort
// afterwards; its failure does not undo the local change.
func (e *Engine) Cancel(ctx context.Context, userID string) (*subscription.View, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	var p *plan.Plan
	now := e.now()
	sub, err := e.updateSubscription(ctx, userID, func(sub *subscription.Subscription) error {
		var err error
		if p, err = e.GetPlanByID(ctx, sub.PlanID); err != nil {
			return err
		}
		switch {
		case p.IsFree():
			return ErrNoPaidSubscription
		case sub.Status == subscription.StatusCancelled:
			return ErrSubscriptionCancelled
		case sub.Status == subscription.StatusExpired:
			return ErrNoPaidSubscription
		}
		sub.Status = subscription.StatusCancelled
		sub.CancelledAt = &now
		sub.Touch(now)
		return nil
	})
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, ErrNoPaidSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}

	if mandateID := sub.MandateID; e.cancelMandate(ctx, sub) {
		cleared, err := e.updateSubscription(ctx, userID, func(cur *subscription.Subscription) error {
			if cur.MandateID != mandateID {
				return errMandateReplaced
			}
			cur.MandateID = ""
			return nil
		})
		switch {
		case err == nil:
			sub = cleared
		case !errors.Is(err, errMandateReplaced):
			e.logger.Warn("mandate cancelled but not cleared", "user_id", userID, "error", err)
		}
	}

	e.logger.Info("subscription cancelled",
		"user_id", userID,
		"subscription_id", sub.ID.String(),
		"access_until", sub.CurrentPeriodEnd,
	)
	e.plugins.EmitSubscriptionCancelled(ctx, sub)
	return &subscription.View{Subscription: sub, Plan: p}, nil
}

// errMandateReplaced stops clearing a mandate that a renewal already
// swapped for a new one.
var errMandateReplaced = errors.New("mandate replaced")

// DowngradeToFree moves the user to FREE immediately, whatever the current
// status. The mandate is cancelled best effort first. A user without a row
// is already on FREE and nothing is written.
func (e *Engine) DowngradeToFree(ctx context.Context, userID string) (*subscription.View, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	free, err := e.GetPlan(ctx, plan.TierFree)
	if err != nil {
		return nil, err
	}

	var from plan.Tier
	var cancelled string
	sub, err := e.updateSubscription(ctx, userID, func(sub *subscription.Subscription) error {
		from = ""
		if prev, err := e.GetPlanByID(ctx, sub.PlanID); err == nil {
			from = prev.Tier
		}
		// A retry only calls the gateway again for a mandate it has not seen.
		if sub.HasMandate() && sub.MandateID != cancelled {
			e.cancelMandate(ctx, sub)
			cancelled = sub.MandateID
		}

		sub.PlanID = free.ID
		sub.Status = subscription.StatusActive
		sub.CancelledAt = nil
		sub.MandateID = ""
		sub.Touch(e.now())
		return nil
	})
	if errors.Is(err, ErrSubscriptionNotFound) {
		return e.implicitView(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("downgrade subscription: %w", err)
	}

	e.logger.Info("subscription downgraded", "user_id", userID, "from", from)
	e.plugins.EmitSubscriptionDowngraded(ctx, sub, from)
	return &subscription.View{Subscription: sub, Plan: free}, nil
}

// updateSubscription reads the user's row, applies mutate and writes it back
// conditionally, starting over from a fresh read when another writer got
// there first. An error from mutate aborts without writing.
func (e *Engine) updateSubscription(ctx context.Context, userID string, mutate func(*subscription.Subscription) error) (*subscription.Subscription, error) {
	var err error
	for range maxUpdateAttempts {
		var sub *subscription.Subscription
		sub, err = e.store.GetSubscriptionByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := mutate(sub); err != nil {
			return nil, err
		}
		err = e.store.UpdateSubscription(ctx, sub)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrSubscriptionConflict) {
			return nil, err
		}
		e.logger.Debug("subscription changed during update, retrying", "user_id", userID)
	}
	return nil, err
}

// cancelMandate cancels the subscription's recurring mandate, logging any
// failure. It reports whether a mandate was cancelled.
func (e *Engine) cancelMandate(ctx context.Context, sub *subscription.Subscription) bool {
	if !sub.HasMandate() || e.gateway == nil {
		return false
	}
	gctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	if err := e.gateway.CancelMandate(gctx, sub.MandateID); err != nil {
		_ = e.gatewayFailure(ctx, "cancel mandate", err) //nolint:errcheck // best effort, local state is authoritative
		return false
	}
	e.logger.Info("mandate cancelled", "user_id", sub.UserID, "mandate_id", sub.MandateID)
	return true
}

// gatewayFailure logs err in full and returns an ErrGateway for callers.
func (e *Engine) gatewayFailure(ctx context.Context, op string, err error) error {
	name := e.gateway.Name()
	e.logger.Error("gateway call failed", "gateway", name, "op", op, "error", err)
	e.plugins.EmitGatewayError(ctx, name, op, err)
	return fmt.Errorf("%w: %s: %w", ErrGateway, op, err)
}
