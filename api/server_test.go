package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/api"
	gwmemory "github.com/xraph/entitle/gateway/memory"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/verifier"
)

const (
	secret     = "test_secret"
	adminToken = "admin-token"
)

type harness struct {
	engine *entitle.Engine
	gw     *gwmemory.Gateway
	app    *fiber.App
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gwmemory.New()
	e := entitle.New(memory.New(),
		entitle.WithLogger(logger),
		entitle.WithGateway(gw),
		entitle.WithSigningSecret(secret),
		entitle.WithDefaultPlans(plan.Defaults()...),
	)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	srv := api.New(e,
		api.WithLogger(logger),
		api.WithAdminGuard(api.AdminTokenGuard(adminToken)),
	)
	return &harness{engine: e, gw: gw, app: srv.App()}
}

func (h *harness) do(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(api.DefaultUserHeader, user)
	}
	return h.send(t, req)
}

func (h *harness) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestListAndGetPlans(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/plans", "", nil)
	require.Equal(t, http.StatusOK, status)
	plans, ok := body["plans"].([]any)
	require.True(t, ok)
	assert.Len(t, plans, 3)

	status, body = h.do(t, http.MethodGet, "/plans/pro", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PRO", body["tier"])

	status, body = h.do(t, http.MethodGet, "/plans/GOLD", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, api.CodeNotFound, body["code"])
}

func TestUserRoutesRequireAuthentication(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/subscription", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, api.CodeUnauthenticated, body["code"])
	assert.Equal(t, "Please sign in to continue.", body["error"])
}

func TestImplicitFreeSubscription(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodGet, "/subscription", "user-a", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["implicit"])
	p, ok := body["plan"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FREE", p["tier"])
}

func TestConsumeUntilQuotaExceeded(t *testing.T) {
	h := newHarness(t)

	for range 2 {
		status, body := h.do(t, http.MethodPost, "/usage/mock_interview", "user-a", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["allowed"])
	}

	status, body := h.do(t, http.MethodPost, "/usage/mock_interview", "user-a", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, api.CodeQuotaExceeded, body["code"])
	assert.Equal(t, "PRO", body["upgrade_tier"])
	assert.EqualValues(t, 2, body["used"])
	assert.Contains(t, body["error"], "Upgrade to PRO")

	// A read-only check reports the denial without an error status.
	status, body = h.do(t, http.MethodGet, "/usage/mock_interview", "user-a", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["allowed"])
	assert.EqualValues(t, 0, body["remaining"])
}

func TestDisabledFeatureIsForbidden(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/usage/resume_rewrite", "user-a", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, api.CodeFeatureDisabled, body["code"])
	assert.Equal(t, "PRO", body["upgrade_tier"])

	status, body = h.do(t, http.MethodPost, "/usage/teleport", "user-a", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidInput, body["code"])
}

func TestCheckoutActivateAndCancel(t *testing.T) {
	h := newHarness(t)

	status, order := h.do(t, http.MethodPost, "/orders", "user-b", map[string]any{
		"tier":           "PRO",
		"billing_period": "MONTHLY",
	})
	require.Equal(t, http.StatusCreated, status)
	orderID, _ := order["order_id"].(string)
	planID, _ := order["plan_id"].(string)
	require.NotEmpty(t, orderID)
	require.NoError(t, h.gw.Pay(orderID, "pay_001", ""))

	activate := map[string]any{
		"order_id":       orderID,
		"payment_id":     "pay_001",
		"signature":      "forged",
		"plan_id":        planID,
		"billing_period": "MONTHLY",
	}
	status, body := h.do(t, http.MethodPost, "/subscription/activate", "user-b", activate)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidSignature, body["code"])

	activate["signature"] = verifier.NewHMAC(secret).Sign(orderID, "pay_001")
	status, body = h.do(t, http.MethodPost, "/subscription/activate", "user-b", activate)
	require.Equal(t, http.StatusOK, status)
	sub, ok := body["subscription"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ACTIVE", sub["status"])

	status, body = h.do(t, http.MethodGet, "/usage", "user-b", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "PRO", body["tier"])

	status, _ = h.do(t, http.MethodPost, "/subscription/cancel", "user-b", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = h.do(t, http.MethodPost, "/subscription/cancel", "user-b", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, api.CodeConflict, body["code"])

	status, body = h.do(t, http.MethodPost, "/subscription/downgrade", "user-b", nil)
	require.Equal(t, http.StatusOK, status)
	p, _ := body["plan"].(map[string]any)
	assert.Equal(t, "FREE", p["tier"])
}

func TestActivateIgnoresClientMandate(t *testing.T) {
	h := newHarness(t)

	status, order := h.do(t, http.MethodPost, "/orders", "user-b", map[string]any{
		"tier":           "PRO",
		"billing_period": "MONTHLY",
	})
	require.Equal(t, http.StatusCreated, status)
	orderID, _ := order["order_id"].(string)
	require.NoError(t, h.gw.Pay(orderID, "pay_001", ""))

	status, body := h.do(t, http.MethodPost, "/subscription/activate", "user-b", map[string]any{
		"order_id":   orderID,
		"payment_id": "pay_001",
		"signature":  verifier.NewHMAC(secret).Sign(orderID, "pay_001"),
		"mandate_id": "sub_SomeoneElses",
	})
	require.Equal(t, http.StatusOK, status)
	sub, _ := body["subscription"].(map[string]any)
	assert.Nil(t, sub["mandate_id"])

	status, _ = h.do(t, http.MethodPost, "/subscription/cancel", "user-b", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodPost, "/subscription/downgrade", "user-b", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, h.gw.CancelledMandates())
}

func TestActivateRejectsPlanSwap(t *testing.T) {
	h := newHarness(t)

	premium, err := h.engine.GetPlan(context.Background(), plan.TierPremium)
	require.NoError(t, err)

	status, order := h.do(t, http.MethodPost, "/orders", "user-b", map[string]any{
		"tier":           "PRO",
		"billing_period": "MONTHLY",
	})
	require.Equal(t, http.StatusCreated, status)
	orderID, _ := order["order_id"].(string)
	require.NoError(t, h.gw.Pay(orderID, "pay_001", ""))

	status, body := h.do(t, http.MethodPost, "/subscription/activate", "user-b", map[string]any{
		"order_id":       orderID,
		"payment_id":     "pay_001",
		"signature":      verifier.NewHMAC(secret).Sign(orderID, "pay_001"),
		"plan_id":        premium.ID.String(),
		"billing_period": "YEARLY",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidInput, body["code"])

	status, body = h.do(t, http.MethodGet, "/subscription", "user-b", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["implicit"])
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(t, http.MethodPost, "/orders", "user-b", map[string]any{
		"tier":           "FREE",
		"billing_period": "MONTHLY",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, api.CodeInvalidInput, body["code"])

	status, _ = h.do(t, http.MethodPost, "/orders", "user-b", map[string]any{
		"tier":           "PRO",
		"billing_period": "WEEKLY",
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPlanWritesRequireAdmin(t *testing.T) {
	h := newHarness(t)

	pro, err := h.engine.GetPlan(context.Background(), plan.TierPro)
	require.NoError(t, err)

	patch := map[string]any{"name": "Pro Plus"}
	status, body := h.do(t, http.MethodPatch, "/plans/"+pro.ID.String(), "user-a", patch)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, api.CodeForbidden, body["code"])

	raw, err := json.Marshal(patch)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPatch, "/plans/"+pro.ID.String(), bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	status, body = h.send(t, req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Pro Plus", body["name"])

	// The tier is unique, so a second PRO plan conflicts.
	req = httptest.NewRequest(http.MethodPost, "/plans/", bytes.NewReader([]byte(`{"tier":"PRO","name":"Another"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	status, body = h.send(t, req)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, api.CodeConflict, body["code"])
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
