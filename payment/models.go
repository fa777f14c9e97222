package payment

import (
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

type Status string

const (
	StatusCaptured Status = "captured"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Payment is one verified gateway charge. Payments are append-only and
// unique on (GatewayOrderID, GatewayPaymentID).
type Payment struct {
	types.Entity
	ID               id.PaymentID      `json:"id"`
	SubscriptionID   id.SubscriptionID `json:"subscription_id"`
	UserID           string            `json:"user_id"`
	PlanID           id.PlanID         `json:"plan_id"`
	Amount           types.Money       `json:"amount"`
	Status           Status            `json:"status"`
	BillingPeriod    plan.Period       `json:"billing_period"`
	GatewayOrderID   string            `json:"gateway_order_id"`
	GatewayPaymentID string            `json:"gateway_payment_id"`
	GatewaySignature string            `json:"gateway_signature"`
}

// Key returns the idempotency key "orderID|paymentID".
func Key(orderID, paymentID string) string {
	return orderID + "|" + paymentID
}
