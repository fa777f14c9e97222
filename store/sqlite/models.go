package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/types"
	"github.com/xraph/entitle/usage"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:entitle_plans"`

	ID              string            `grove:"id,pk"`
	Tier            string            `grove:"tier"`
	Name            string            `grove:"name"`
	Currency        string            `grove:"currency"`
	MonthlyPrice    int64             `grove:"monthly_price"`
	YearlyPrice     int64             `grove:"yearly_price"`
	Limits          string            `grove:"limits"`
	AIEvaluation    bool              `grove:"ai_evaluation"`
	PrioritySupport bool              `grove:"priority_support"`
	Metadata        string            `grove:"metadata"`
	CreatedAt       time.Time         `grove:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"`
}

func toPlanModel(p *plan.Plan) (*planModel, error) {
	limits, err := json.Marshal(p.Limits)
	if err != nil {
		return nil, fmt.Errorf("encode limits: %w", err)
	}
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return &planModel{
		ID:              p.ID.String(),
		Tier:            string(p.Tier),
		Name:            p.Name,
		Currency:        p.MonthlyPrice.Currency,
		MonthlyPrice:    p.MonthlyPrice.Amount,
		YearlyPrice:     p.YearlyPrice.Amount,
		Limits:          string(limits),
		AIEvaluation:    p.AIEvaluation,
		PrioritySupport: p.PrioritySupport,
		Metadata:        string(metadata),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}, nil
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}

	var limits plan.Limits
	if m.Limits != "" {
		if err := json.Unmarshal([]byte(m.Limits), &limits); err != nil {
			return nil, fmt.Errorf("decode limits of plan %s: %w", m.ID, err)
		}
	}
	var metadata map[string]string
	if m.Metadata != "" && m.Metadata != "null" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of plan %s: %w", m.ID, err)
		}
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              planID,
		Tier:            plan.Tier(m.Tier),
		Name:            m.Name,
		MonthlyPrice:    types.Money{Amount: m.MonthlyPrice, Currency: m.Currency},
		YearlyPrice:     types.Money{Amount: m.YearlyPrice, Currency: m.Currency},
		Limits:          limits,
		AIEvaluation:    m.AIEvaluation,
		PrioritySupport: m.PrioritySupport,
		Metadata:        metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID                 string     `grove:"id,pk"`
	UserID             string     `grove:"user_id"`
	PlanID             string     `grove:"plan_id"`
	Status             string     `grove:"status"`
	BillingPeriod      string     `grove:"billing_period"`
	CurrentPeriodStart time.Time  `grove:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"`
	CancelledAt        *time.Time `grove:"cancelled_at"`
	MandateID          string     `grove:"mandate_id"`
	Version            int64      `grove:"version"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		UserID:             s.UserID,
		PlanID:             s.PlanID.String(),
		Status:             string(s.Status),
		BillingPeriod:      string(s.BillingPeriod),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelledAt:        s.CancelledAt,
		MandateID:          s.MandateID,
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 subID,
		UserID:             m.UserID,
		PlanID:             planID,
		Status:             subscription.Status(m.Status),
		BillingPeriod:      plan.Period(m.BillingPeriod),
		CurrentPeriodStart: m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   m.CurrentPeriodEnd.UTC(),
		CancelledAt:        utcPtr(m.CancelledAt),
		MandateID:          m.MandateID,
		Version:            m.Version,
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:entitle_payments"`

	ID               string    `grove:"id,pk"`
	SubscriptionID   string    `grove:"subscription_id"`
	UserID           string    `grove:"user_id"`
	PlanID           string    `grove:"plan_id"`
	Amount           int64     `grove:"amount"`
	Currency         string    `grove:"currency"`
	Status           string    `grove:"status"`
	BillingPeriod    string    `grove:"billing_period"`
	GatewayOrderID   string    `grove:"gateway_order_id"`
	GatewayPaymentID string    `grove:"gateway_payment_id"`
	GatewaySignature string    `grove:"gateway_signature"`
	CreatedAt        time.Time `grove:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:               p.ID.String(),
		SubscriptionID:   p.SubscriptionID.String(),
		UserID:           p.UserID,
		PlanID:           p.PlanID.String(),
		Amount:           p.Amount.Amount,
		Currency:         p.Amount.Currency,
		Status:           string(p.Status),
		BillingPeriod:    string(p.BillingPeriod),
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		GatewaySignature: p.GatewaySignature,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	payID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}

	return &payment.Payment{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               payID,
		SubscriptionID:   subID,
		UserID:           m.UserID,
		PlanID:           planID,
		Amount:           types.Money{Amount: m.Amount, Currency: m.Currency},
		Status:           payment.Status(m.Status),
		BillingPeriod:    plan.Period(m.BillingPeriod),
		GatewayOrderID:   m.GatewayOrderID,
		GatewayPaymentID: m.GatewayPaymentID,
		GatewaySignature: m.GatewaySignature,
	}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	grove.BaseModel `grove:"table:entitle_usage"`

	ID          string    `grove:"id,pk"`
	UserID      string    `grove:"user_id"`
	Feature     string    `grove:"feature"`
	PeriodStart time.Time `grove:"period_start"`
	PeriodEnd   time.Time `grove:"period_end"`
	UsageCount  int64     `grove:"usage_count"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func fromUsageModel(m *usageModel) (*usage.Record, error) {
	useID, err := id.ParseUsageID(m.ID)
	if err != nil {
		return nil, err
	}
	return &usage.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          useID,
		UserID:      m.UserID,
		Feature:     plan.Feature(m.Feature),
		PeriodStart: m.PeriodStart.UTC(),
		PeriodEnd:   m.PeriodEnd.UTC(),
		Count:       m.UsageCount,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
