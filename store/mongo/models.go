package mongo

import (
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

	ID              string            `grove:"id,pk"            bson:"_id"`
	Tier            string            `grove:"tier"             bson:"tier"`
	Name            string            `grove:"name"             bson:"name"`
	Currency        string            `grove:"currency"         bson:"currency"`
	MonthlyPrice    int64             `grove:"monthly_price"    bson:"monthly_price"`
	YearlyPrice     int64             `grove:"yearly_price"     bson:"yearly_price"`
	Limits          limitsModel       `grove:"limits"           bson:"limits"`
	AIEvaluation    bool              `grove:"ai_evaluation"    bson:"ai_evaluation"`
	PrioritySupport bool              `grove:"priority_support" bson:"priority_support"`
	Metadata        map[string]string `grove:"metadata"         bson:"metadata,omitempty"`
	CreatedAt       time.Time         `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"       bson:"updated_at"`
}

// limitsModel stores each plan.Limit in its integer encoding: -1 for
// unlimited, 0 for disabled, n for a cap of n.
type limitsModel struct {
	MockInterviews      int64 `bson:"mock_interviews"`
	ResumeAnalyses      int64 `bson:"resume_analyses"`
	QuestionGenerations int64 `bson:"question_generations"`
	CoverLetters        int64 `bson:"cover_letters"`
	ResumeRewrites      int64 `bson:"resume_rewrites"`
}

func toLimitsModel(l plan.Limits) limitsModel {
	return limitsModel{
		MockInterviews:      l.MockInterviews.Int(),
		ResumeAnalyses:      l.ResumeAnalyses.Int(),
		QuestionGenerations: l.QuestionGenerations.Int(),
		CoverLetters:        l.CoverLetters.Int(),
		ResumeRewrites:      l.ResumeRewrites.Int(),
	}
}

func (m limitsModel) limits() plan.Limits {
	return plan.Limits{
		MockInterviews:      plan.LimitFromInt(m.MockInterviews),
		ResumeAnalyses:      plan.LimitFromInt(m.ResumeAnalyses),
		QuestionGenerations: plan.LimitFromInt(m.QuestionGenerations),
		CoverLetters:        plan.LimitFromInt(m.CoverLetters),
		ResumeRewrites:      plan.LimitFromInt(m.ResumeRewrites),
	}
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:              p.ID.String(),
		Tier:            string(p.Tier),
		Name:            p.Name,
		Currency:        p.MonthlyPrice.Currency,
		MonthlyPrice:    p.MonthlyPrice.Amount,
		YearlyPrice:     p.YearlyPrice.Amount,
		Limits:          toLimitsModel(p.Limits),
		AIEvaluation:    p.AIEvaluation,
		PrioritySupport: p.PrioritySupport,
		Metadata:        p.Metadata,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:              planID,
		Tier:            plan.Tier(m.Tier),
		Name:            m.Name,
		MonthlyPrice:    types.Money{Amount: m.MonthlyPrice, Currency: m.Currency},
		YearlyPrice:     types.Money{Amount: m.YearlyPrice, Currency: m.Currency},
		Limits:          m.Limits.limits(),
		AIEvaluation:    m.AIEvaluation,
		PrioritySupport: m.PrioritySupport,
		Metadata:        m.Metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID                 string     `grove:"id,pk"                bson:"_id"`
	UserID             string     `grove:"user_id"              bson:"user_id"`
	PlanID             string     `grove:"plan_id"              bson:"plan_id"`
	Status             string     `grove:"status"               bson:"status"`
	BillingPeriod      string     `grove:"billing_period"       bson:"billing_period"`
	CurrentPeriodStart time.Time  `grove:"current_period_start" bson:"current_period_start"`
	CurrentPeriodEnd   time.Time  `grove:"current_period_end"   bson:"current_period_end"`
	CancelledAt        *time.Time `grove:"cancelled_at"         bson:"cancelled_at,omitempty"`
	MandateID          string     `grove:"mandate_id"           bson:"mandate_id"`
	Version            int64      `grove:"version"              bson:"version"`
	CreatedAt          time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
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

	var cancelledAt *time.Time
	if m.CancelledAt != nil {
		t := m.CancelledAt.UTC()
		cancelledAt = &t
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:                 subID,
		UserID:             m.UserID,
		PlanID:             planID,
		Status:             subscription.Status(m.Status),
		BillingPeriod:      plan.Period(m.BillingPeriod),
		CurrentPeriodStart: m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   m.CurrentPeriodEnd.UTC(),
		CancelledAt:        cancelledAt,
		MandateID:          m.MandateID,
		Version:            m.Version,
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:entitle_payments"`

	ID               string    `grove:"id,pk"              bson:"_id"`
	SubscriptionID   string    `grove:"subscription_id"    bson:"subscription_id"`
	UserID           string    `grove:"user_id"            bson:"user_id"`
	PlanID           string    `grove:"plan_id"            bson:"plan_id"`
	Amount           int64     `grove:"amount"             bson:"amount"`
	Currency         string    `grove:"currency"           bson:"currency"`
	Status           string    `grove:"status"             bson:"status"`
	BillingPeriod    string    `grove:"billing_period"     bson:"billing_period"`
	GatewayOrderID   string    `grove:"gateway_order_id"   bson:"gateway_order_id"`
	GatewayPaymentID string    `grove:"gateway_payment_id" bson:"gateway_payment_id"`
	GatewaySignature string    `grove:"gateway_signature"  bson:"gateway_signature"`
	CreatedAt        time.Time `grove:"created_at"         bson:"created_at"`
	UpdatedAt        time.Time `grove:"updated_at"         bson:"updated_at"`
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
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
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

	ID          string    `grove:"id,pk"        bson:"_id"`
	UserID      string    `grove:"user_id"      bson:"user_id"`
	Feature     string    `grove:"feature"      bson:"feature"`
	PeriodStart time.Time `grove:"period_start" bson:"period_start"`
	PeriodEnd   time.Time `grove:"period_end"   bson:"period_end"`
	UsageCount  int64     `grove:"usage_count"  bson:"usage_count"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func fromUsageModel(m *usageModel) (*usage.Record, error) {
	useID, err := id.ParseUsageID(m.ID)
	if err != nil {
		return nil, err
	}
	return &usage.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:          useID,
		UserID:      m.UserID,
		Feature:     plan.Feature(m.Feature),
		PeriodStart: m.PeriodStart.UTC(),
		PeriodEnd:   m.PeriodEnd.UTC(),
		Count:       m.UsageCount,
	}, nil
}
