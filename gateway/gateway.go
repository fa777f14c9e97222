// Package gateway abstracts the external payment gateway that creates
// orders and manages recurring mandates.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/xraph/entitle/types"
)

// MaxReceiptLen is the longest receipt a gateway accepts.
const MaxReceiptLen = 40

// Gateway creates orders, reports what was paid and cancels recurring
// mandates.
type Gateway interface {
	// Name identifies the gateway in logs and metrics.
	Name() string
	// PublicKey is the client-side key returned to checkout.
	PublicKey() string
	CreateOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	// FetchOrder returns an order as the gateway recorded it, including
	// the metadata it was created with.
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
	// FetchPayment returns a captured or authorized payment.
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	// CancelMandate cancels a recurring mandate. Callers treat it as best
	// effort.
	CancelMandate(ctx context.Context, mandateID string) error
}

// OrderRequest asks the gateway for a new order.
type OrderRequest struct {
	Amount   types.Money       `json:"amount"`
	Receipt  string            `json:"receipt" validate:"required,max=40"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

var validate = validator.New()

// Validate checks the request before it is sent.
func (r *OrderRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return errors.New("gateway: order amount must be positive")
	}
	if len(r.Amount.Currency) != 3 {
		return fmt.Errorf("gateway: invalid currency %q", r.Amount.Currency)
	}
	return nil
}

// Order is an order created by the gateway.
type Order struct {
	ID       string            `json:"id"`
	Amount   types.Money       `json:"amount"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Payment is a payment made against an order. MandateID is set when the
// customer authorized recurring charges during checkout.
type Payment struct {
	ID        string      `json:"id"`
	OrderID   string      `json:"order_id"`
	Amount    types.Money `json:"amount"`
	Status    string      `json:"status"`
	MandateID string      `json:"mandate_id,omitempty"`
}

// ErrNotFound is returned by FetchOrder and FetchPayment for unknown ids.
var ErrNotFound = errors.New("gateway: not found")

// Prefill is customer data the checkout form is pre-populated with.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// NewReceipt returns a unique receipt within MaxReceiptLen.
func NewReceipt() string {
	return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Error is a failure reported by, or while talking to, a gateway.
type Error struct {
	Gateway    string
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s: %s", e.Gateway, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether retrying may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
