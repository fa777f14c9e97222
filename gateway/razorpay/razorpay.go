// Package razorpay implements gateway.Gateway against the Razorpay REST API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/types"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

const name = "razorpay"

// Compile-time interface check.
var _ gateway.Gateway = (*Client)(nil)

// Client talks to Razorpay with basic auth (key id / key secret).
type Client struct {
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the given key pair.
func New(keyID, keySecret string, opts ...Option) *Client {
	c := &Client{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   DefaultBaseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string      { return name }
func (c *Client) PublicKey() string { return c.keyID }

type orderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Status   string            `json:"status"`
	Notes    map[string]string `json:"notes"`
}

func (o *orderResponse) order() *gateway.Order {
	return &gateway.Order{
		ID:       o.ID,
		Amount:   types.Money{Amount: o.Amount, Currency: strings.ToUpper(o.Currency)},
		Receipt:  o.Receipt,
		Status:   o.Status,
		Metadata: o.Notes,
	}
}

type paymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	TokenID  string `json:"token_id"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates an order. Metadata is sent as order notes.
func (c *Client) CreateOrder(ctx context.Context, req *gateway.OrderRequest) (*gateway.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, &gateway.Error{Gateway: name, Op: "create order", Err: err, StatusCode: http.StatusBadRequest}
	}

	var out orderResponse
	err := c.do(ctx, "create order", http.MethodPost, "/v1/orders", orderBody{
		Amount:   req.Amount.Amount,
		Currency: strings.ToUpper(req.Amount.Currency),
		Receipt:  req.Receipt,
		Notes:    req.Metadata,
	}, &out)
	if err != nil {
		return nil, err
	}

	return out.order(), nil
}

// FetchOrder reads an order back, with its notes as metadata.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*gateway.Order, error) {
	var out orderResponse
	if err := c.do(ctx, "fetch order", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &out); err != nil {
		return nil, err
	}
	return out.order(), nil
}

// FetchPayment reads a payment. The recurring token, when the customer
// created one, becomes the mandate id.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	var out paymentResponse
	if err := c.do(ctx, "fetch payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	return &gateway.Payment{
		ID:        out.ID,
		OrderID:   out.OrderID,
		Amount:    types.Money{Amount: out.Amount, Currency: strings.ToUpper(out.Currency)},
		Status:    out.Status,
		MandateID: out.TokenID,
	}, nil
}

// CancelMandate cancels the recurring subscription identified by mandateID
// immediately.
func (c *Client) CancelMandate(ctx context.Context, mandateID string) error {
	if mandateID == "" {
		return nil
	}
	path := "/v1/subscriptions/" + url.PathEscape(mandateID) + "/cancel"
	body := map[string]int{"cancel_at_cycle_end": 0}
	return c.do(ctx, "cancel mandate", http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &gateway.Error{Gateway: name, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &gateway.Error{Gateway: name, Op: op, Err: err}
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &gateway.Error{Gateway: name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &gateway.Error{Gateway: name, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gerr := &gateway.Error{Gateway: name, Op: op, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound {
			gerr.Err = gateway.ErrNotFound
		}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			gerr.Code = er.Error.Code
			gerr.Message = er.Error.Description
		}
		return gerr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &gateway.Error{Gateway: name, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
