// Package memstore is an in-memory store.Repository for tests and local
// experiments. Transactions are serialized and roll back by restoring a
// snapshot taken when they begin.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/lifecycle"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/store"
)

type state struct {
	seq           map[string]int64
	users         map[int64]models.User
	products      map[int64]models.Product
	cart          map[int64][]models.CartItem
	orders        map[int64]models.Order
	refunds       map[int64]models.Refund
	notifications []models.Notification
}

func newState() state {
	return state{
		seq:      make(map[string]int64),
		users:    make(map[int64]models.User),
		products: make(map[int64]models.Product),
		cart:     make(map[int64][]models.CartItem),
		orders:   make(map[int64]models.Order),
		refunds:  make(map[int64]models.Refund),
	}
}

func (st state) clone() state {
	c := newState()
	maps.Copy(c.seq, st.seq)
	maps.Copy(c.users, st.users)
	maps.Copy(c.products, st.products)
	for k, v := range st.cart {
		c.cart[k] = slices.Clone(v)
	}
	for k, v := range st.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range st.refunds {
		c.refunds[k] = cloneRefund(v)
	}
	c.notifications = slices.Clone(st.notifications)
	return c
}

func (st state) next(name string) int64 {
	st.seq[name]++
	return st.seq[name]
}

type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock replaces the time source used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

var _ store.Repository = (*Store)(nil)

func (s *Store) CreateUser(_ context.Context, email, name string, role models.Role) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	u := models.User{
		ID:        s.state.next("users"),
		Email:     email,
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	s.state.users[u.ID] = u
	return &u, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getUser(id)
}

func (st state) getUser(id int64) (*models.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) CreateProduct(_ context.Context, p store.NewProduct) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	product := models.Product{
		ID:            s.state.next("products"),
		SKU:           p.SKU,
		Name:          p.Name,
		Description:   p.Description,
		Brand:         p.Brand,
		Category:      p.Category,
		WeightGrams:   p.WeightGrams,
		Price:         p.Price,
		Discount:      p.Discount,
		StockQuantity: p.StockQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	s.state.products[product.ID] = product
	return &product, nil
}

// Product returns the stored product, for assertions on stock.
func (s *Store) Product(id int64) (models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.products[id]
	return p, ok
}

func (s *Store) ListProducts(_ context.Context, page, pageSize int) (*store.OffsetPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := slices.Collect(maps.Values(s.state.products))
	slices.SortFunc(products, func(a, b models.Product) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(products)
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)
	items := append([]models.Product{}, products[start:end]...)
	return store.NewOffsetPage(items, int64(total), page, pageSize), nil
}

func (s *Store) SetProductStock(_ context.Context, productID int64, stock, version int) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.products[productID]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	if p.Version != version {
		return nil, database.ErrOptimisticLockFailed
	}
	p.StockQuantity = stock
	p.Version++
	p.UpdatedAt = s.now()
	s.state.products[productID] = p
	return &p, nil
}

func (s *Store) AddCartItem(_ context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.products[productID]; !ok {
		return nil, database.ErrProductNotFound
	}

	lines := s.state.cart[userID]
	for i := range lines {
		if lines[i].ProductID == productID {
			lines[i].Quantity += quantity
			item := lines[i]
			return &item, nil
		}
	}

	item := models.CartItem{
		ID:        s.state.next("cart_items"),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: s.now(),
	}
	s.state.cart[userID] = append(lines, item)
	return &item, nil
}

func (s *Store) ListCartItems(_ context.Context, userID int64) ([]models.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := slices.Clone(s.state.cart[userID])
	if items == nil {
		items = []models.CartItem{}
	}
	return items, nil
}

func (s *Store) Checkout(_ context.Context, req store.CheckoutRequest) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.users[req.UserID]; !ok {
		return nil, database.ErrUserNotFound
	}
	cart := slices.Clone(s.state.cart[req.UserID])
	if len(cart) == 0 {
		return nil, database.ErrCartEmpty
	}
	slices.SortFunc(cart, func(a, b models.CartItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	items := make([]models.OrderLineItem, 0, len(cart))
	subtotal := decimal.Zero
	for _, c := range cart {
		p, ok := s.state.products[c.ProductID]
		if !ok {
			return nil, database.ErrProductNotFound
		}
		if p.StockQuantity < c.Quantity {
			return nil, database.ErrInsufficientStock
		}
		item := store.SnapshotLineItem(&p, c.Quantity)
		subtotal = subtotal.Add(item.Subtotal)
		items = append(items, item)
	}

	// Validation is done; from here on nothing fails, so no rollback is needed.
	now := s.now()
	tax, total := req.Totals(subtotal)
	number := s.state.next("order_number")
	order := models.Order{
		ID:              s.state.next("orders"),
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
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	for i := range items {
		items[i].ID = s.state.next("order_line_items")
		items[i].OrderID = order.ID
		items[i].CreatedAt = now

		p := s.state.products[items[i].ProductID]
		p.StockQuantity -= items[i].Quantity
		p.Version++
		s.state.products[p.ID] = p
	}
	order.Items = items

	s.state.orders[order.ID] = order
	delete(s.state.cart, req.UserID)

	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getOrder(id)
}

func (st state) getOrder(id int64) (*models.Order, error) {
	o, ok := st.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) ListOrders(_ context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	after, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	var matched []models.Order
	for _, o := range s.state.orders {
		if userID != 0 && o.UserID != userID {
			continue
		}
		if o.CreatedAt.After(after.CreatedAt) || (o.CreatedAt.Equal(after.CreatedAt) && o.ID >= after.ID) {
			continue
		}
		o.Items = nil
		o.DeliveryHistory = nil
		matched = append(matched, o)
	}
	slices.SortFunc(matched, func(a, b models.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}
	if matched == nil {
		matched = []models.Order{}
	}

	page := &store.CursorPage{Items: matched, HasMore: hasMore}
	if hasMore {
		last := matched[len(matched)-1]
		page.NextCursor = store.EncodeCursor(store.OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (s *Store) GetRefund(_ context.Context, id int64) (*models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getRefund(id)
}

func (st state) getRefund(id int64) (*models.Refund, error) {
	r, ok := st.refunds[id]
	if !ok {
		return nil, database.ErrRefundNotFound
	}
	out := cloneRefund(r)
	return &out, nil
}

func (s *Store) ListRefundsByOrder(_ context.Context, orderID int64) ([]models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.refundsByOrder(orderID), nil
}

func (st state) refundsByOrder(orderID int64) []models.Refund {
	refunds := []models.Refund{}
	for _, r := range st.refunds {
		if r.OrderID == orderID {
			r = cloneRefund(r)
			r.History = nil
			refunds = append(refunds, r)
		}
	}
	slices.SortFunc(refunds, func(a, b models.Refund) int { return cmp.Compare(a.ID, b.ID) })
	return refunds
}

// Notifications returns every outbox row in the order it was written.
func (s *Store) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.notifications)
}

func (s *Store) InTx(_ context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&tx{s: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func cloneOrder(o models.Order) models.Order {
	o.Items = slices.Clone(o.Items)
	o.DeliveryHistory = slices.Clone(o.DeliveryHistory)
	return o
}

func cloneRefund(r models.Refund) models.Refund {
	r.RefundedItems = slices.Clone(r.RefundedItems)
	r.EvidenceURLs = slices.Clone(r.EvidenceURLs)
	r.History = slices.Clone(r.History)
	return r
}
