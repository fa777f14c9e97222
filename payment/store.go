package payment

import (
	"context"
)

type Store interface {
	// CreatePayment inserts p. A payment with the same gateway order and
	// payment ids fails with entitle.ErrDuplicatePayment.
	CreatePayment(ctx context.Context, p *Payment) error
	GetPaymentByGatewayRef(ctx context.Context, orderID, paymentID string) (*Payment, error)
	// ListPayments returns a user's payments, newest first.
	ListPayments(ctx context.Context, userID string, opts ListOpts) ([]*Payment, error)
}

type ListOpts struct {
	Limit  int
	Offset int
}
