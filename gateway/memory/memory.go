// Package memory provides an in-process gateway.Gateway for tests and local
// development. Orders are recorded instead of charged.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/xraph/entitle/gateway"
)

var _ gateway.Gateway = (*Gateway)(nil)

// Gateway records orders, payments and cancelled mandates.
type Gateway struct {
	mu        sync.Mutex
	seq       int
	requests  []*gateway.OrderRequest
	orders    map[string]*gateway.Order
	payments  map[string]*gateway.Payment
	cancelled []string

	// OrderErr, when set, is returned by CreateOrder.
	OrderErr error
	// FetchErr, when set, is returned by FetchOrder and FetchPayment.
	FetchErr error
	// CancelErr, when set, is returned by CancelMandate.
	CancelErr error
}

// New returns an empty fake gateway.
func New() *Gateway {
	return &Gateway{
		orders:   make(map[string]*gateway.Order),
		payments: make(map[string]*gateway.Payment),
	}
}

func (g *Gateway) Name() string      { return "memory" }
func (g *Gateway) PublicKey() string { return "memory_public_key" }

func (g *Gateway) CreateOrder(ctx context.Context, req *gateway.OrderRequest) (*gateway.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.OrderErr != nil {
		return nil, g.OrderErr
	}
	g.seq++
	cp := *req
	cp.Metadata = maps.Clone(req.Metadata)
	g.requests = append(g.requests, &cp)

	order := &gateway.Order{
		ID:       fmt.Sprintf("order_%06d", g.seq),
		Amount:   req.Amount,
		Receipt:  req.Receipt,
		Status:   "created",
		Metadata: maps.Clone(req.Metadata),
	}
	g.orders[order.ID] = order
	out := *order
	return &out, nil
}

func (g *Gateway) FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %q: %w", orderID, gateway.ErrNotFound)
	}
	out := *order
	out.Metadata = maps.Clone(order.Metadata)
	return &out, nil
}

func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %q: %w", paymentID, gateway.ErrNotFound)
	}
	out := *p
	return &out, nil
}

// Pay captures the full amount of orderID as paymentID, the way checkout
// would. A non-empty mandateID records a recurring mandate on the payment.
func (g *Gateway) Pay(orderID, paymentID, mandateID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	if !ok {
		return fmt.Errorf("order %q: %w", orderID, gateway.ErrNotFound)
	}
	order.Status = "paid"
	g.payments[paymentID] = &gateway.Payment{
		ID:        paymentID,
		OrderID:   orderID,
		Amount:    order.Amount,
		Status:    "captured",
		MandateID: mandateID,
	}
	return nil
}

func (g *Gateway) CancelMandate(ctx context.Context, mandateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CancelErr != nil {
		return g.CancelErr
	}
	g.cancelled = append(g.cancelled, mandateID)
	return nil
}

// Orders returns the order requests received so far.
func (g *Gateway) Orders() []*gateway.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*gateway.OrderRequest(nil), g.requests...)
}

// CancelledMandates returns the mandate ids cancelled so far.
func (g *Gateway) CancelledMandates() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}
