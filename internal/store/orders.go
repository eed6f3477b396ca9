package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/lifecycle"
	"github.com/safar/order-lifecycle/internal/models"
)

const orderNumberConstraint = "orders_order_number_key"

const orderColumns = `id, user_id, order_number, status, delivery_status, refund_status,
		payment_method, payment_status, paid_at, amount_paid,
		subtotal, delivery_charge, tax_amount, total_amount,
		address_full_name, address_phone, address_line1, address_line2,
		address_city, address_postal_code, address_country,
		customer_note, admin_note, delivered_at, cancelled_by, cancellation_reason,
		created_at, updated_at, version`

type CheckoutRequest struct {
	UserID         int64
	Address        models.Address
	PaymentMethod  models.PaymentMethod
	CustomerNote   string
	DeliveryCharge decimal.Decimal
	// TaxRate is a fraction of the subtotal, e.g. 0.05.
	TaxRate decimal.Decimal
}

// Totals returns the tax and grand total for a cart subtotal.
func (r CheckoutRequest) Totals(subtotal decimal.Decimal) (tax, total decimal.Decimal) {
	tax = subtotal.Mul(r.TaxRate).Round(2)
	return tax, subtotal.Add(r.DeliveryCharge).Add(tax)
}

func scanOrder(row rowScanner, o *models.Order) error {
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.OrderNumber,
		&o.Status,
		&o.DeliveryStatus,
		&o.RefundStatus,
		&o.Payment.Method,
		&o.Payment.Status,
		&o.Payment.PaidAt,
		&o.Payment.AmountPaid,
		&o.Subtotal,
		&o.DeliveryCharge,
		&o.TaxAmount,
		&o.TotalAmount,
		&o.DeliveryAddress.FullName,
		&o.DeliveryAddress.Phone,
		&o.DeliveryAddress.Line1,
		&o.DeliveryAddress.Line2,
		&o.DeliveryAddress.City,
		&o.DeliveryAddress.PostalCode,
		&o.DeliveryAddress.Country,
		&o.CustomerNote,
		&o.AdminNote,
		&o.DeliveredAt,
		&o.CancelledBy,
		&o.CancellationReason,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
	if err != nil {
		return err
	}
	o.DisplayNumber = lifecycle.FormatOrderNumber(o.OrderNumber)
	return nil
}

// NextOrderNumber draws the next value from order_number_seq. Values are
// never reused, even when the surrounding transaction rolls back.
func NextOrderNumber(ctx context.Context, q Querier) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return n, nil
}

// Checkout turns the user's cart into a pending order in one serializable
// transaction: stock is locked and decremented, the products are snapshotted
// into line items and the cart is emptied.
func Checkout(ctx context.Context, db *sql.DB, req CheckoutRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		cart, err := ListCartItems(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if len(cart) == 0 {
			return database.ErrCartEmpty
		}

		// Lock products in a stable order so concurrent checkouts cannot deadlock.
		slices.SortFunc(cart, func(a, b models.CartItem) int {
			return cmp.Compare(a.ProductID, b.ProductID)
		})

		items := make([]models.OrderLineItem, 0, len(cart))
		subtotal := decimal.Zero
		for _, c := range cart {
			product, err := ReserveStock(ctx, tx, c.ProductID, c.Quantity)
			if err != nil {
				return err
			}
			items = append(items, SnapshotLineItem(product, c.Quantity))
			subtotal = subtotal.Add(items[len(items)-1].Subtotal)
		}

		tax, total := req.Totals(subtotal)

		number, err := NextOrderNumber(ctx, tx)
		if err != nil {
			return err
		}

		created := &models.Order{
			UserID:          req.UserID,
			OrderNumber:     number,
			DisplayNumber:   lifecycle.FormatOrderNumber(number),
			Status:          models.OrderStatusPending,
			RefundStatus:    models.OrderRefundStatusNone,
			Payment:         models.Payment{Method: req.PaymentMethod, Status: models.PaymentStatusPending},
			Subtotal:        subtotal,
			DeliveryCharge:  req.DeliveryCharge,
			TaxAmount:       tax,
			TotalAmount:     total,
			DeliveryAddress: req.Address,
			CustomerNote:    req.CustomerNote,
		}

		a := req.Address
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, refund_status, payment_method, payment_status,
			                     subtotal, delivery_charge, tax_amount, total_amount,
			                     address_full_name, address_phone, address_line1, address_line2,
			                     address_city, address_postal_code, address_country, customer_note,
			                     created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW(), 1)
			 RETURNING id, created_at, updated_at, version`,
			created.UserID, created.OrderNumber, created.Status, created.RefundStatus,
			created.Payment.Method, created.Payment.Status,
			created.Subtotal, created.DeliveryCharge, created.TaxAmount, created.TotalAmount,
			a.FullName, a.Phone, a.Line1, a.Line2, a.City, a.PostalCode, a.Country, created.CustomerNote,
		).Scan(&created.ID, &created.CreatedAt, &created.UpdatedAt, &created.Version)
		if err != nil {
			if database.IsUniqueViolation(err, orderNumberConstraint) {
				return database.ErrDuplicateOrderNumber
			}
			return fmt.Errorf("create order: %w", err)
		}

		for i := range items {
			items[i].OrderID = created.ID
			if err := insertLineItem(ctx, tx, &items[i]); err != nil {
				return err
			}
			if err := DecrementStock(ctx, tx, items[i].ProductID, items[i].Quantity); err != nil {
				return err
			}
		}

		if err := ClearCart(ctx, tx, req.UserID); err != nil {
			return err
		}

		created.Items = items
		order = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// SnapshotLineItem copies the product into an order line at its current
// discounted price.
func SnapshotLineItem(p *models.Product, quantity int) models.OrderLineItem {
	unit := p.UnitPrice()
	return models.OrderLineItem{
		ProductID:   p.ID,
		Name:        p.Name,
		SKU:         p.SKU,
		Brand:       p.Brand,
		Category:    p.Category,
		WeightGrams: p.WeightGrams,
		Price:       p.Price,
		Discount:    p.Discount,
		UnitPrice:   unit,
		Quantity:    quantity,
		Subtotal:    unit.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

func insertLineItem(ctx context.Context, q Querier, item *models.OrderLineItem) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO order_line_items (order_id, product_id, name, sku, brand, category, weight_grams,
		                               price, discount, unit_price, quantity, subtotal, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		 RETURNING id, created_at`,
		item.OrderID, item.ProductID, item.Name, item.SKU, item.Brand, item.Category, item.WeightGrams,
		item.Price, item.Discount, item.UnitPrice, item.Quantity, item.Subtotal,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order line item: %w", err)
	}
	return nil
}

// GetOrder loads an order with its line items and delivery history.
func GetOrder(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	return getOrder(ctx, q, id, false)
}

// GetOrderForUpdate is GetOrder holding a row lock on the order until the
// caller's transaction ends.
func GetOrderForUpdate(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	return getOrder(ctx, q, id, true)
}

func getOrder(ctx context.Context, q Querier, id int64, lock bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	order := &models.Order{}
	if err := scanOrder(q.QueryRowContext(ctx, query, id), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := ListOrderLineItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	history, err := ListDeliveryHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.DeliveryHistory = history

	return order, nil
}

func ListOrderLineItems(ctx context.Context, q Querier, orderID int64) ([]models.OrderLineItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, name, sku, brand, category, weight_grams,
		        price, discount, unit_price, quantity, subtotal, created_at
		 FROM order_line_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order line items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderLineItem
	for rows.Next() {
		var item models.OrderLineItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.SKU,
			&item.Brand,
			&item.Category,
			&item.WeightGrams,
			&item.Price,
			&item.Discount,
			&item.UnitPrice,
			&item.Quantity,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// ListOrdersCursor pages through orders newest first. A zero userID lists
// every customer's orders.
func ListOrdersCursor(ctx context.Context, q Querier, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::bigint = 0 OR user_id = $1)
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// UpdateOrder writes the mutable order fields if nobody else has changed the
// row since it was loaded. On success the version and updated_at on order are
// refreshed.
func UpdateOrder(ctx context.Context, q Querier, order *models.Order) error {
	err := q.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     delivery_status = $2,
		     refund_status = $3,
		     payment_method = $4,
		     payment_status = $5,
		     paid_at = $6,
		     amount_paid = $7,
		     admin_note = $8,
		     delivered_at = $9,
		     cancelled_by = $10,
		     cancellation_reason = $11,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $12 AND version = $13
		 RETURNING version, updated_at`,
		order.Status, order.DeliveryStatus, order.RefundStatus,
		order.Payment.Method, order.Payment.Status, order.Payment.PaidAt, order.Payment.AmountPaid,
		order.AdminNote, order.DeliveredAt, order.CancelledBy, order.CancellationReason,
		order.ID, order.Version,
	).Scan(&order.Version, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrOptimisticLockFailed
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func AppendDeliveryHistory(ctx context.Context, q Querier, h *models.OrderDeliveryHistory) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO order_delivery_history (order_id, from_status, to_status, courier_name, tracking_number,
		                                     notes, changed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		h.OrderID, h.FromStatus, h.ToStatus, h.CourierName, h.TrackingNumber, h.Notes, h.ChangedBy,
	).Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("append delivery history: %w", err)
	}
	return nil
}

func ListDeliveryHistory(ctx context.Context, q Querier, orderID int64) ([]models.OrderDeliveryHistory, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, from_status, to_status, courier_name, tracking_number, notes, changed_by, created_at
		 FROM order_delivery_history
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("list delivery history: %w", err)
	}
	defer rows.Close()

	var history []models.OrderDeliveryHistory
	for rows.Next() {
		var h models.OrderDeliveryHistory
		err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.CourierName,
			&h.TrackingNumber, &h.Notes, &h.ChangedBy, &h.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan delivery history: %w", err)
		}
		history = append(history, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return history, nil
}
