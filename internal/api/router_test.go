package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/order-lifecycle/internal/auth"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/service"
	"github.com/safar/order-lifecycle/internal/store"
	"github.com/safar/order-lifecycle/internal/store/memstore"
)

const testSecret = "test-secret"

type apiFixture struct {
	router   *gin.Engine
	repo     *memstore.Store
	admin    string
	customer string
	other    string
	oil      *models.Product
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newAPIFixture(t *testing.T, ping func(context.Context) error) *apiFixture {
	t.Helper()
	ctx := context.Background()
	f := &apiFixture{repo: memstore.New()}

	deps := service.Deps{
		Repo: f.repo,
		Pricing: service.Pricing{
			DeliveryCharge: decimal.RequireFromString("5.00"),
			TaxRate:        decimal.RequireFromString("0.05"),
		},
		RefundWindow: 72 * time.Hour,
	}
	orders, err := service.NewOrderService(deps)
	require.NoError(t, err)
	refunds, err := service.NewRefundService(deps)
	require.NoError(t, err)

	f.router = NewRouter(NewHandler(orders, refunds), RouterConfig{JWTSecret: testSecret, Ping: ping})

	token := func(email string, role models.Role) string {
		u, err := f.repo.CreateUser(ctx, email, email, role)
		require.NoError(t, err)
		tok, err := auth.IssueToken(testSecret, auth.Identity{UserID: u.ID, Role: u.Role}, time.Hour)
		require.NoError(t, err)
		return tok
	}
	f.admin = token("admin@example.com", models.RoleAdmin)
	f.customer = token("ana@example.com", models.RoleCustomer)
	f.other = token("bo@example.com", models.RoleCustomer)

	f.oil, err = f.repo.CreateProduct(ctx, store.NewProduct{
		SKU: "OIL-1", Name: "Olive oil", Price: decimal.RequireFromString("12.50"), StockQuantity: 10,
	})
	require.NoError(t, err)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp response
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (f *apiFixture) placeOrder(t *testing.T, token string) models.Order {
	t.Helper()
	w, _ := f.do(t, http.MethodPost, "/api/cart/items", token, map[string]any{"product_id": f.oil.ID, "quantity": 2})
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := f.do(t, http.MethodPost, "/api/checkout", token, map[string]any{
		"address": models.Address{
			FullName: "Ana Lima", Phone: "+8801700000000", Line1: "12 Lake Road",
			City: "Dhaka", PostalCode: "1205", Country: "BD",
		},
		"payment_method": models.PaymentMethodCashOnDelivery,
	})
	require.Equal(t, http.StatusCreated, w.Code, resp.Message)

	var order models.Order
	require.NoError(t, json.Unmarshal(resp.Data, &order))
	return order
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)
	w, resp := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	down := newAPIFixture(t, func(context.Context) error { return errors.New("connection refused") })
	w, resp = down.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, resp.Success)
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newAPIFixture(t, nil)

	w, _ := f.do(t, http.MethodGet, "/health", "", nil, requestIDHeader, "req-123")
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))

	w, _ = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Len(t, w.Header().Get(requestIDHeader), 26)
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t, nil)

	w, resp := f.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, resp.Success)

	w, _ = f.do(t, http.MethodGet, "/api/cart", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/admin/orders", f.customer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/admin/orders", f.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutAndOwnership(t *testing.T) {
	f := newAPIFixture(t, nil)
	order := f.placeOrder(t, f.customer)

	assert.Equal(t, "ORD-000001", order.DisplayNumber)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("31.25").Equal(order.TotalAmount), order.TotalAmount.String())

	path := fmt.Sprintf("/api/orders/%d", order.ID)
	w, _ := f.do(t, http.MethodGet, path, f.customer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := f.do(t, http.MethodGet, path, f.other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, resp.Success)

	w, _ = f.do(t, http.MethodGet, "/api/orders/999", f.customer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/orders/abc", f.customer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutEmptyCartIsRejected(t *testing.T) {
	f := newAPIFixture(t, nil)
	w, resp := f.do(t, http.MethodPost, "/api/checkout", f.customer, map[string]any{
		"address": models.Address{
			FullName: "Ana Lima", Phone: "+8801700000000", Line1: "12 Lake Road",
			City: "Dhaka", PostalCode: "1205", Country: "BD",
		},
		"payment_method": models.PaymentMethodCashOnDelivery,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Your cart is empty.", resp.Message)
}

func TestCheckoutIdempotencyKey(t *testing.T) {
	f := newAPIFixture(t, nil)
	body := map[string]any{
		"address": models.Address{
			FullName: "Ana Lima", Phone: "+8801700000000", Line1: "12 Lake Road",
			City: "Dhaka", PostalCode: "1205", Country: "BD",
		},
		"payment_method": models.PaymentMethodCashOnDelivery,
	}

	w, _ := f.do(t, http.MethodPost, "/api/cart/items", f.customer, map[string]any{"product_id": f.oil.ID, "quantity": 1})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/checkout", f.customer, body, idempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := f.do(t, http.MethodPost, "/api/checkout", f.customer, body, idempotencyHeader, "k-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, resp.Success)
}

func TestInvalidTransitionIsBadRequest(t *testing.T) {
	f := newAPIFixture(t, nil)
	order := f.placeOrder(t, f.customer)

	w, resp := f.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/orders/%d/status", order.ID), f.admin,
		map[string]any{"status": models.OrderStatusCompleted})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)

	w, _ = f.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/orders/%d/status", order.ID), f.admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	order := f.placeOrder(t, f.customer)
	base := fmt.Sprintf("/api/admin/orders/%d", order.ID)

	w, resp := f.do(t, http.MethodPatch, base+"/status", f.admin, map[string]any{"status": models.OrderStatusConfirmed})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)

	var confirmed models.Order
	require.NoError(t, json.Unmarshal(resp.Data, &confirmed))
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.DeliveryStatus)
	assert.Equal(t, models.DeliveryStatusAwaitingProcessing, *confirmed.DeliveryStatus)

	w, resp = f.do(t, http.MethodPatch, base+"/delivery-status", f.admin, map[string]any{
		"status": models.DeliveryStatusDelivered,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "skipping delivery steps must be rejected")
	assert.NotEmpty(t, resp.Message)

	w, _ = f.do(t, http.MethodPost, base+"/cancel", f.admin, map[string]any{"reason": "out of stock"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, f.stockOf(t))

	w, resp = f.do(t, http.MethodPost, base+"/reopen", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	assert.Equal(t, 8, f.stockOf(t))
}

func (f *apiFixture) stockOf(t *testing.T) int {
	t.Helper()
	p, ok := f.repo.Product(f.oil.ID)
	require.True(t, ok)
	return p.StockQuantity
}

func TestCustomerCancelAndRefundEligibility(t *testing.T) {
	f := newAPIFixture(t, nil)
	order := f.placeOrder(t, f.customer)
	path := fmt.Sprintf("/api/orders/%d", order.ID)

	w, resp := f.do(t, http.MethodGet, path+"/refund-eligibility", f.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var e struct {
		Eligible bool `json:"eligible"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &e))
	assert.False(t, e.Eligible)

	w, _ = f.do(t, http.MethodPost, path+"/refunds", f.customer, map[string]any{"reason": models.RefundReasonDamaged})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, path+"/cancel", f.other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = f.do(t, http.MethodPost, path+"/cancel", f.customer, map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	var res service.CancelResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, models.OrderStatusCancelled, res.Order.Status)

	w, _ = f.do(t, http.MethodPost, path+"/cancel", f.customer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminCreateProduct(t *testing.T) {
	f := newAPIFixture(t, nil)
	body := map[string]any{"sku": "TEA-1", "name": "Green tea", "price": "3.50", "stock_quantity": 5}

	w, _ := f.do(t, http.MethodPost, "/api/admin/products", f.customer, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := f.do(t, http.MethodPost, "/api/admin/products", f.admin, body)
	require.Equal(t, http.StatusCreated, w.Code, resp.Message)
	var p models.Product
	require.NoError(t, json.Unmarshal(resp.Data, &p))
	assert.Equal(t, "TEA-1", p.SKU)
}

func TestUnknownRoute(t *testing.T) {
	f := newAPIFixture(t, nil)
	w, resp := f.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, resp.Success)
}

func TestProductsAndStock(t *testing.T) {
	f := newAPIFixture(t, nil)

	w, resp := f.do(t, http.MethodGet, "/api/products?page=1&page_size=10", f.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []models.Product `json:"items"`
		Total int64            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)

	path := fmt.Sprintf("/api/admin/products/%d/stock", f.oil.ID)
	w, resp = f.do(t, http.MethodPatch, path, f.admin, map[string]any{"stock_quantity": 3, "version": f.oil.Version})
	require.Equal(t, http.StatusOK, w.Code, resp.Message)
	assert.Equal(t, 3, f.stockOf(t))

	w, _ = f.do(t, http.MethodPatch, path, f.admin, map[string]any{"stock_quantity": 7, "version": f.oil.Version})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = f.do(t, http.MethodPatch, path, f.admin, map[string]any{"stock_quantity": -1, "version": f.oil.Version + 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
