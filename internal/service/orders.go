package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/lifecycle"
	"github.com/safar/order-lifecycle/internal/metrics"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type OrderService struct {
	base
	pricing      Pricing
	refundWindow time.Duration
}

func NewOrderService(deps Deps) (*OrderService, error) {
	b, err := newBase(deps)
	if err != nil {
		return nil, err
	}
	return &OrderService{base: b, pricing: deps.Pricing, refundWindow: deps.RefundWindow}, nil
}

type CheckoutInput struct {
	Address        models.Address
	PaymentMethod  models.PaymentMethod
	CustomerNote   string
	IdempotencyKey string
}

func (in CheckoutInput) validate() error {
	var missing []string
	a := in.Address
	for _, f := range []struct{ name, value string }{
		{"full_name", a.FullName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return lifecycle.Invalid("Delivery address is incomplete. Missing: %s.", strings.Join(missing, ", "))
	}
	if !in.PaymentMethod.IsValid() {
		return lifecycle.Invalid("Unknown payment method %q.", in.PaymentMethod)
	}
	return nil
}

func (s *OrderService) CreateProduct(ctx context.Context, actor Actor, p store.NewProduct) (*models.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(p.SKU) == "" || strings.TrimSpace(p.Name) == "":
		return nil, lifecycle.Invalid("Product SKU and name are required.")
	case p.Price.IsNegative():
		return nil, lifecycle.Invalid("Product price cannot be negative.")
	case p.Discount.IsNegative() || p.Discount.GreaterThan(p.Price):
		return nil, lifecycle.Invalid("Product discount must be between 0 and the price.")
	case p.StockQuantity < 0:
		return nil, lifecycle.Invalid("Stock quantity cannot be negative.")
	}
	return s.repo.CreateProduct(ctx, p)
}

// ListProducts pages the catalog, newest first.
func (s *OrderService) ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)
	return s.repo.ListProducts(ctx, page, pageSize)
}

// AdjustStock sets a product's stock level. version must be the product
// version the admin last saw.
func (s *OrderService) AdjustStock(ctx context.Context, actor Actor, productID int64, stock, version int) (*models.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if stock < 0 {
		return nil, lifecycle.Invalid("Stock quantity cannot be negative.")
	}
	product, err := s.repo.SetProductStock(ctx, productID, stock, version)
	if err != nil {
		return nil, translate(err)
	}
	s.logger.Info("stock adjusted",
		zap.Int64("product_id", productID),
		zap.Int("stock", stock),
		zap.Int64("admin_id", actor.UserID),
	)
	return product, nil
}

func (s *OrderService) AddToCart(ctx context.Context, actor Actor, productID int64, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, lifecycle.Invalid("Quantity must be at least 1.")
	}
	return s.repo.AddCartItem(ctx, actor.UserID, productID, quantity)
}

func (s *OrderService) Cart(ctx context.Context, actor Actor) ([]models.CartItem, error) {
	return s.repo.ListCartItems(ctx, actor.UserID)
}

// Checkout turns the caller's cart into a pending order. Delivery status stays
// unset until the order is confirmed.
func (s *OrderService) Checkout(ctx context.Context, actor Actor, in CheckoutInput) (*models.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	release, err := s.reserve(ctx, fmt.Sprintf("checkout:%d", actor.UserID), in.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.Checkout(ctx, store.CheckoutRequest{
		UserID:         actor.UserID,
		Address:        in.Address,
		PaymentMethod:  in.PaymentMethod,
		CustomerNote:   in.CustomerNote,
		DeliveryCharge: s.pricing.DeliveryCharge,
		TaxRate:        s.pricing.TaxRate,
	})
	if err != nil {
		release()
		switch {
		case errors.Is(err, database.ErrCartEmpty):
			return nil, lifecycle.Invalid("Your cart is empty.")
		case errors.Is(err, database.ErrInsufficientStock):
			return nil, lifecycle.Guard("Some items in your cart are no longer available in the requested quantity.")
		}
		return nil, translate(err)
	}

	metrics.RecordTransition(metrics.MachineOrder, "", string(order.Status), true)
	s.logger.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.DisplayNumber),
		zap.Int64("user_id", actor.UserID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canSee(actor, order.UserID); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders pages through orders newest first. Customers only see their
// own; admins see all.
func (s *OrderService) ListOrders(ctx context.Context, actor Actor, cursor string, limit int) (*store.CursorPage, error) {
	if _, err := store.DecodeCursor(cursor); err != nil {
		return nil, lifecycle.Invalid("Invalid page cursor.")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	var userID int64
	if !actor.IsAdmin() {
		userID = actor.UserID
	}
	return s.repo.ListOrders(ctx, userID, cursor, limit)
}

// UpdateStatus is the admin status change. Confirming starts delivery
// tracking; cancelling goes through CancelByAdmin.
func (s *OrderService) UpdateStatus(ctx context.Context, actor Actor, orderID int64, to models.OrderStatus, note string) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if to == models.OrderStatusCancelled {
		return s.CancelByAdmin(ctx, actor, orderID, note)
	}

	var order *models.Order
	var from models.OrderStatus
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if err := checked(metrics.MachineOrder, string(from), string(to), lifecycle.CheckOrderTransition(o, to)); err != nil {
			return err
		}

		o.Status = to
		if note != "" {
			o.AdminNote = note
		}
		if to == models.OrderStatusConfirmed {
			if err := startDelivery(ctx, tx, actor, o, "Order confirmed"); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		order = o
		return notify(ctx, tx, o, statusChange{
			kind:   models.NotificationOrderStatus,
			status: string(to),
			amount: o.TotalAmount,
			reason: note,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int64("admin_id", actor.UserID),
	)
	return order, nil
}

type DeliveryUpdate struct {
	Status         models.DeliveryStatus
	CourierName    string
	TrackingNumber string
	Notes          string
}

func (s *OrderService) UpdateDeliveryStatus(ctx context.Context, actor Actor, orderID int64, in DeliveryUpdate) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var order *models.Order
	var from models.DeliveryStatus
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.CurrentDeliveryStatus()

		check := lifecycle.CheckOrderAcceptsDeliveryChange(o)
		if check == nil {
			check = lifecycle.CheckDeliveryTransition(from, in.Status)
		}
		if err := checked(metrics.MachineDelivery, string(from), string(in.Status), check); err != nil {
			return err
		}

		h := &models.OrderDeliveryHistory{
			OrderID:        o.ID,
			FromStatus:     o.DeliveryStatus,
			ToStatus:       in.Status,
			CourierName:    in.CourierName,
			TrackingNumber: in.TrackingNumber,
			Notes:          in.Notes,
			ChangedBy:      actor.UserID,
		}
		if err := tx.AppendDeliveryHistory(ctx, h); err != nil {
			return err
		}
		o.DeliveryHistory = append(o.DeliveryHistory, *h)

		status := in.Status
		o.DeliveryStatus = &status
		if status == models.DeliveryStatusDelivered {
			now := s.clock()
			o.DeliveredAt = &now
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		order = o
		return notify(ctx, tx, o, statusChange{
			kind:   models.NotificationDeliveryStatus,
			status: string(status),
			amount: o.TotalAmount,
			reason: in.Notes,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("delivery status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(in.Status)),
		zap.Int64("admin_id", actor.UserID),
	)
	return order, nil
}

// PaymentUpdate changes only the fields that are set.
type PaymentUpdate struct {
	Status     models.PaymentStatus
	Method     models.PaymentMethod
	AmountPaid *decimal.Decimal
}

func (s *OrderService) UpdatePayment(ctx context.Context, actor Actor, orderID int64, in PaymentUpdate) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.AmountPaid != nil && in.AmountPaid.IsNegative() {
		return nil, lifecycle.Invalid("Amount paid cannot be negative.")
	}

	var order *models.Order
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckPaymentUpdate(o, in.Status, in.Method, in.AmountPaid != nil); err != nil {
			return err
		}

		wasPaid := o.Payment.Status == models.PaymentStatusPaid
		if in.Method != "" {
			o.Payment.Method = in.Method
		}
		if in.AmountPaid != nil {
			o.Payment.AmountPaid = *in.AmountPaid
		}
		if in.Status != "" {
			o.Payment.Status = in.Status
		}
		if in.Status == models.PaymentStatusPaid && !wasPaid {
			now := s.clock()
			o.Payment.PaidAt = &now
			if in.AmountPaid == nil {
				o.Payment.AmountPaid = o.TotalAmount
			}
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("order payment updated",
		zap.Int64("order_id", orderID),
		zap.String("payment_status", string(order.Payment.Status)),
		zap.Int64("admin_id", actor.UserID),
	)
	return order, nil
}

type CancelResult struct {
	Order   *models.Order `json:"order"`
	Warning string        `json:"warning,omitempty"`
}

// CancelByCustomer applies the customer cancel policy on the caller's own
// order. Stock is returned to inventory.
func (s *OrderService) CancelByCustomer(ctx context.Context, actor Actor, orderID int64, reason string) (*CancelResult, error) {
	var res CancelResult
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != actor.UserID {
			return ErrForbidden
		}

		from := o.Status
		warning, err := lifecycle.CheckCustomerCancel(o)
		if err := checked(metrics.MachineOrder, string(from), string(models.OrderStatusCancelled), err); err != nil {
			return err
		}
		if err := cancel(ctx, tx, actor, o, reason); err != nil {
			return err
		}

		res = CancelResult{Order: o, Warning: warning}
		return notify(ctx, tx, o, statusChange{
			kind:    models.NotificationOrderStatus,
			status:  string(models.OrderStatusCancelled),
			amount:  o.TotalAmount,
			reason:  reason,
			warning: warning,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("order cancelled by customer", zap.Int64("order_id", orderID), zap.Int64("user_id", actor.UserID))
	return &res, nil
}

func (s *OrderService) CancelByAdmin(ctx context.Context, actor Actor, orderID int64, reason string) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		check := lifecycle.CheckOrderTransition(o, models.OrderStatusCancelled)
		if err := checked(metrics.MachineOrder, string(o.Status), string(models.OrderStatusCancelled), check); err != nil {
			return err
		}
		if err := cancel(ctx, tx, actor, o, reason); err != nil {
			return err
		}

		order = o
		return notify(ctx, tx, o, statusChange{
			kind:   models.NotificationOrderStatus,
			status: string(models.OrderStatusCancelled),
			amount: o.TotalAmount,
			reason: reason,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("order cancelled by admin", zap.Int64("order_id", orderID), zap.Int64("admin_id", actor.UserID))
	return order, nil
}

// ReopenCancelled is the manual override out of cancelled. The order goes
// back to confirmed and takes its stock again.
func (s *OrderService) ReopenCancelled(ctx context.Context, actor Actor, orderID int64, note string) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from, to := string(o.Status), string(models.OrderStatusConfirmed)
		if err := checked(metrics.MachineOrder, from, to, lifecycle.CheckReopen(o)); err != nil {
			return err
		}

		for _, item := range o.Items {
			if err := tx.TakeStock(ctx, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, database.ErrInsufficientStock) {
					return lifecycle.Guard("Order cannot be reopened because %s no longer has enough stock.", item.Name)
				}
				return err
			}
		}

		o.Status = models.OrderStatusConfirmed
		o.CancelledBy = nil
		o.CancellationReason = ""
		if note != "" {
			o.AdminNote = note
		}
		if err := startDelivery(ctx, tx, actor, o, "Order reopened"); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		order = o
		return notify(ctx, tx, o, statusChange{
			kind:   models.NotificationOrderStatus,
			status: to,
			amount: o.TotalAmount,
			reason: note,
		})
	})
	if err != nil {
		return nil, translate(err)
	}

	s.logger.Info("cancelled order reopened", zap.Int64("order_id", orderID), zap.Int64("admin_id", actor.UserID))
	return order, nil
}

// RefundEligibility tells a customer whether, and for what, they may ask for
// a refund on their order. Admins see the same answer the owner would.
func (s *OrderService) RefundEligibility(ctx context.Context, actor Actor, orderID int64) (lifecycle.Eligibility, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return lifecycle.Eligibility{}, err
	}
	if err := canSee(actor, order.UserID); err != nil {
		return lifecycle.Eligibility{}, err
	}

	refunds, err := s.repo.ListRefundsByOrder(ctx, orderID)
	if err != nil {
		return lifecycle.Eligibility{}, err
	}

	return lifecycle.CanCustomerRequestRefund(eligibilityInput(order, refunds, s.clock(), s.refundWindow)), nil
}

func eligibilityInput(order *models.Order, refunds []models.Refund, now time.Time, window time.Duration) lifecycle.EligibilityInput {
	return lifecycle.EligibilityInput{
		OrderStatus:    order.Status,
		DeliveryStatus: order.CurrentDeliveryStatus(),
		DeliveredAt:    order.DeliveredAt,
		Refunds:        refunds,
		LineItems:      order.Items,
		Now:            now,
		Window:         window,
	}
}

// startDelivery sets the initial delivery status the first time an order is
// confirmed.
func startDelivery(ctx context.Context, tx store.Tx, actor Actor, o *models.Order, notes string) error {
	if o.DeliveryStatus != nil {
		return nil
	}
	status := models.DeliveryStatusAwaitingProcessing
	h := &models.OrderDeliveryHistory{
		OrderID:   o.ID,
		ToStatus:  status,
		Notes:     notes,
		ChangedBy: actor.UserID,
	}
	if err := tx.AppendDeliveryHistory(ctx, h); err != nil {
		return err
	}
	o.DeliveryStatus = &status
	o.DeliveryHistory = append(o.DeliveryHistory, *h)
	return nil
}

func cancel(ctx context.Context, tx store.Tx, actor Actor, o *models.Order, reason string) error {
	for _, item := range o.Items {
		if err := tx.RestockProduct(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	role := actor.Role
	o.Status = models.OrderStatusCancelled
	o.CancelledBy = &role
	o.CancellationReason = reason
	return tx.UpdateOrder(ctx, o)
}

// checked records the outcome of a transition check and passes err through.
func checked(machine, from, to string, err error) error {
	metrics.RecordTransition(machine, from, to, err == nil)
	return err
}
