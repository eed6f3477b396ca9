package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/order-lifecycle/internal/idempotency"
	"github.com/safar/order-lifecycle/internal/lifecycle"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/store"
	"github.com/safar/order-lifecycle/internal/store/memstore"
)

type fixture struct {
	ctx      context.Context
	now      time.Time
	repo     *memstore.Store
	orders   *OrderService
	refunds  *RefundService
	admin    Actor
	customer Actor
	other    Actor
	oil      *models.Product
	rice     *models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), now: time.Now().UTC().Truncate(time.Second)}
	clock := func() time.Time { return f.now }
	f.repo = memstore.New().WithClock(clock)

	deps := Deps{
		Repo:         f.repo,
		Idempotency:  idempotency.NewMemoryStore(),
		Clock:        clock,
		RefundWindow: lifecycle.RefundWindow,
		Pricing: Pricing{
			DeliveryCharge: decimal.RequireFromString("5.00"),
			TaxRate:        decimal.RequireFromString("0.05"),
		},
	}
	var err error
	f.orders, err = NewOrderService(deps)
	require.NoError(t, err)
	f.refunds, err = NewRefundService(deps)
	require.NoError(t, err)

	f.admin = f.user(t, "admin@example.com", "Admin", models.RoleAdmin)
	f.customer = f.user(t, "ana@example.com", "Ana", models.RoleCustomer)
	f.other = f.user(t, "bo@example.com", "Bo", models.RoleCustomer)

	f.oil, err = f.orders.CreateProduct(f.ctx, f.admin, store.NewProduct{
		SKU: "OIL-1", Name: "Olive oil", Price: decimal.RequireFromString("12.50"), StockQuantity: 10,
	})
	require.NoError(t, err)
	f.rice, err = f.orders.CreateProduct(f.ctx, f.admin, store.NewProduct{
		SKU: "RICE-1", Name: "Basmati rice", Price: decimal.RequireFromString("4.00"), StockQuantity: 20,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) user(t *testing.T, email, name string, role models.Role) Actor {
	t.Helper()
	u, err := f.repo.CreateUser(f.ctx, email, name, role)
	require.NoError(t, err)
	return Actor{UserID: u.ID, Role: u.Role}
}

func testAddress() models.Address {
	return models.Address{
		FullName:   "Ana Lima",
		Phone:      "+8801700000000",
		Line1:      "12 Lake Road",
		City:       "Dhaka",
		PostalCode: "1205",
		Country:    "BD",
	}
}

// placeOrder checks out 2 oil and 3 rice for actor: subtotal 37.00, tax 1.85,
// delivery 5.00, total 43.85.
func (f *fixture) placeOrder(t *testing.T, actor Actor, oil, rice int) *models.Order {
	t.Helper()
	if oil > 0 {
		_, err := f.orders.AddToCart(f.ctx, actor, f.oil.ID, oil)
		require.NoError(t, err)
	}
	if rice > 0 {
		_, err := f.orders.AddToCart(f.ctx, actor, f.rice.ID, rice)
		require.NoError(t, err)
	}
	order, err := f.orders.Checkout(f.ctx, actor, CheckoutInput{
		Address:       testAddress(),
		PaymentMethod: models.PaymentMethodCashOnDelivery,
	})
	require.NoError(t, err)
	return order
}

// complete drives an order through the whole happy path to completed.
func (f *fixture) complete(t *testing.T, orderID int64) *models.Order {
	t.Helper()
	_, err := f.orders.UpdateStatus(f.ctx, f.admin, orderID, models.OrderStatusConfirmed, "")
	require.NoError(t, err)
	_, err = f.orders.UpdateStatus(f.ctx, f.admin, orderID, models.OrderStatusProcessing, "")
	require.NoError(t, err)
	for _, s := range []models.DeliveryStatus{
		models.DeliveryStatusProcessing,
		models.DeliveryStatusPacking,
		models.DeliveryStatusPacked,
		models.DeliveryStatusHandedToCourier,
		models.DeliveryStatusOutForDelivery,
		models.DeliveryStatusDelivered,
	} {
		_, err = f.orders.UpdateDeliveryStatus(f.ctx, f.admin, orderID, DeliveryUpdate{Status: s})
		require.NoError(t, err, "delivery %s", s)
	}
	_, err = f.orders.UpdatePayment(f.ctx, f.admin, orderID, PaymentUpdate{Status: models.PaymentStatusPaid})
	require.NoError(t, err)
	order, err := f.orders.UpdateStatus(f.ctx, f.admin, orderID, models.OrderStatusCompleted, "")
	require.NoError(t, err)
	return order
}

func (f *fixture) stock(t *testing.T, p *models.Product) int {
	t.Helper()
	got, ok := f.repo.Product(p.ID)
	require.True(t, ok)
	return got.StockQuantity
}

func (f *fixture) lastNotification(t *testing.T) (models.Notification, models.StatusChangePayload) {
	t.Helper()
	all := f.repo.Notifications()
	require.NotEmpty(t, all)
	n := all[len(all)-1]
	var payload models.StatusChangePayload
	require.NoError(t, json.Unmarshal(n.Payload, &payload))
	return n, payload
}

func requireRejection(t *testing.T, err error, kind lifecycle.Kind) *lifecycle.Rejection {
	t.Helper()
	r, ok := lifecycle.AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, kind, r.Kind)
	return r
}

func TestNewServicesRequireRepository(t *testing.T) {
	_, err := NewOrderService(Deps{})
	assert.Error(t, err)
	_, err = NewRefundService(Deps{})
	assert.Error(t, err)
}

// staleRepo hands out orders one version behind, as if another request had
// updated them after they were read.
type staleRepo struct {
	*memstore.Store
}

func (r staleRepo) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return r.Store.InTx(ctx, func(tx store.Tx) error {
		return fn(staleTx{tx})
	})
}

type staleTx struct {
	store.Tx
}

func (t staleTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	o, err := t.Tx.GetOrderForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Version--
	return o, nil
}

func TestLostOptimisticLockIsConflict(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, f.customer, 2, 3)

	svc, err := NewOrderService(Deps{Repo: staleRepo{f.repo}})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(f.ctx, f.admin, order.ID, models.OrderStatusConfirmed, "")
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := f.repo.GetOrder(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Nil(t, stored.DeliveryStatus, "history and status roll back together")
	assert.Empty(t, stored.DeliveryHistory)
}
