package razorpay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/gateway/razorpay"
	"github.com/xraph/entitle/types"
)

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 24900, body["amount"])
		assert.Equal(t, "INR", body["currency"])
		assert.Equal(t, "rcpt_1", body["receipt"])
		notes, _ := body["notes"].(map[string]any)
		assert.Equal(t, "user-1", notes["userId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_9A33XWu170gUtm","entity":"order","amount":24900,"currency":"INR","receipt":"rcpt_1","status":"created"}`))
	}))
	defer srv.Close()

	c := razorpay.New("rzp_test_key", "secret", razorpay.WithBaseURL(srv.URL), razorpay.WithHTTPClient(srv.Client()))
	assert.Equal(t, "razorpay", c.Name())
	assert.Equal(t, "rzp_test_key", c.PublicKey())

	order, err := c.CreateOrder(context.Background(), &gateway.OrderRequest{
		Amount:   types.INR(24900),
		Receipt:  "rcpt_1",
		Metadata: map[string]string{"userId": "user-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_9A33XWu170gUtm", order.ID)
	assert.True(t, order.Amount.Equal(types.INR(24900)))
	assert.Equal(t, "created", order.Status)
}

func TestCreateOrderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
	}))
	defer srv.Close()

	c := razorpay.New("k", "s", razorpay.WithBaseURL(srv.URL))
	_, err := c.CreateOrder(context.Background(), &gateway.OrderRequest{Amount: types.INR(100), Receipt: "r"})
	require.Error(t, err)

	var gerr *gateway.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, http.StatusBadRequest, gerr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", gerr.Code)
	assert.Equal(t, "Authentication failed", gerr.Message)
	assert.False(t, gerr.Temporary())
}

func TestCreateOrderRejectsInvalidRequest(t *testing.T) {
	c := razorpay.New("k", "s", razorpay.WithBaseURL("http://127.0.0.1:0"))
	_, err := c.CreateOrder(context.Background(), &gateway.OrderRequest{Amount: types.INR(0), Receipt: "r"})
	require.Error(t, err)
}

func TestCreateOrderContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := razorpay.New("k", "s", razorpay.WithBaseURL(srv.URL))
	_, err := c.CreateOrder(ctx, &gateway.OrderRequest{Amount: types.INR(100), Receipt: "r"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelMandate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"sub_00000000000001","status":"cancelled"}`))
	}))
	defer srv.Close()

	c := razorpay.New("k", "s", razorpay.WithBaseURL(srv.URL))
	require.NoError(t, c.CancelMandate(context.Background(), "sub_00000000000001"))
	assert.Equal(t, "/v1/subscriptions/sub_00000000000001/cancel", gotPath)

	require.NoError(t, c.CancelMandate(context.Background(), ""), "empty mandate is a no-op")
}

func TestFetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/orders/order_9A33XWu170gUtm", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"order_9A33XWu170gUtm","entity":"order","amount":249000,"currency":"inr","receipt":"rcpt_1","status":"paid","notes":{"userId":"user-1","planId":"plan_01","billingPeriod":"YEARLY"}}`))
	}))
	defer srv.Close()

	c := razorpay.New("k", "s", razorpay.WithBaseURL(srv.URL))
	order, err := c.FetchOrder(context.Background(), "order_9A33XWu170gUtm")
	require.NoError(t, err)
	assert.True(t, order.Amount.Equal(types.INR(249000)))
	assert.Equal(t, "paid", order.Status)
	assert.Equal(t, map[string]string{"userId": "user-1", "planId": "plan_01", "billingPeriod": "YEARLY"}, order.Metadata)
}

func TestFetchOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The id provided does not exist"}}`))
	}))
	defer srv.Close()

	c := razorpay.New("k", "s", razorpay.WithBaseURL(srv.URL))
	_, err := c.FetchOrder(context.Background(), "order_missing")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestFetchPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/pay_29QQoUBi66xm2f", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"pay_29QQoUBi66xm2f","entity":"payment","amount":24900,"currency":"INR","status":"captured","order_id":"order_9A33XWu170gUtm","token_id":"token_4lsdksD31GaZ09"}`))
	}))
	defer srv.Close()

	c := razorpay.New("k", "s", razorpay.WithBaseURL(srv.URL))
	pay, err := c.FetchPayment(context.Background(), "pay_29QQoUBi66xm2f")
	require.NoError(t, err)
	assert.Equal(t, "order_9A33XWu170gUtm", pay.OrderID)
	assert.Equal(t, "token_4lsdksD31GaZ09", pay.MandateID)
	assert.Equal(t, "captured", pay.Status)
	assert.True(t, pay.Amount.Equal(types.INR(24900)))
}
