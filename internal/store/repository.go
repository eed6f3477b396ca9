package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/models"
)

// Repository is the storage the services and the outbox dispatcher work
// against. PostgresRepository is the production implementation; memstore
// provides one for tests.
type Repository interface {
	CreateUser(ctx context.Context, email, name string, role models.Role) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateProduct(ctx context.Context, p NewProduct) (*models.Product, error)
	ListProducts(ctx context.Context, page, pageSize int) (*OffsetPage, error)
	// SetProductStock overwrites the stock level if the product is still at
	// version.
	SetProductStock(ctx context.Context, productID int64, stock, version int) (*models.Product, error)
	AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error)
	ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error)
	Checkout(ctx context.Context, req CheckoutRequest) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error)
	GetRefund(ctx context.Context, id int64) (*models.Refund, error)
	ListRefundsByOrder(ctx context.Context, orderID int64) ([]models.Refund, error)

	// InTx runs fn in one transaction. Returning an error rolls back.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of writes that must happen atomically with a state change.
type Tx interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	AppendDeliveryHistory(ctx context.Context, h *models.OrderDeliveryHistory) error
	// TakeStock locks the product, checks availability and decrements it.
	TakeStock(ctx context.Context, productID int64, quantity int) error
	RestockProduct(ctx context.Context, productID int64, quantity int) error

	ListRefundsByOrder(ctx context.Context, orderID int64) ([]models.Refund, error)
	CreateRefund(ctx context.Context, r *models.Refund) error
	GetRefundForUpdate(ctx context.Context, id int64) (*models.Refund, error)
	UpdateRefund(ctx context.Context, r *models.Refund) error
	AppendRefundHistory(ctx context.Context, h *models.RefundHistory) error

	EnqueueNotification(ctx context.Context, n *models.Notification) error
	ClaimPendingNotifications(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkNotificationRetry(ctx context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, lastErr string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) CreateUser(ctx context.Context, email, name string, role models.Role) (*models.User, error) {
	return CreateUser(ctx, r.db, email, name, role)
}

func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return GetUser(ctx, r.db, id)
}

func (r *PostgresRepository) CreateProduct(ctx context.Context, p NewProduct) (*models.Product, error) {
	return CreateProduct(ctx, r.db, p)
}

func (r *PostgresRepository) ListProducts(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	return ListProducts(ctx, r.db, page, pageSize)
}

// SetProductStock does not wait behind a checkout holding the row; it fails
// with ErrLockTimeout instead.
func (r *PostgresRepository) SetProductStock(ctx context.Context, productID int64, stock, version int) (*models.Product, error) {
	var product *models.Product
	err := database.WithTransaction(ctx, r.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := LockProductNoWait(ctx, tx, productID); err != nil {
			return err
		}
		if err := UpdateStockOptimistic(ctx, tx, productID, stock, version); err != nil {
			return err
		}
		p, err := GetProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (r *PostgresRepository) AddCartItem(ctx context.Context, userID, productID int64, quantity int) (*models.CartItem, error) {
	if _, err := GetProduct(ctx, r.db, productID); err != nil {
		return nil, err
	}
	return AddCartItem(ctx, r.db, userID, productID, quantity)
}

func (r *PostgresRepository) ListCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	return ListCartItems(ctx, r.db, userID)
}

func (r *PostgresRepository) Checkout(ctx context.Context, req CheckoutRequest) (*models.Order, error) {
	return Checkout(ctx, r.db, req)
}

func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, r.db, id)
}

func (r *PostgresRepository) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error) {
	return ListOrdersCursor(ctx, r.db, userID, cursor, limit)
}

func (r *PostgresRepository) GetRefund(ctx context.Context, id int64) (*models.Refund, error) {
	return GetRefund(ctx, r.db, id)
}

func (r *PostgresRepository) ListRefundsByOrder(ctx context.Context, orderID int64) ([]models.Refund, error) {
	return ListRefundsByOrder(ctx, r.db, orderID)
}

// InTx uses read committed with row locks taken by the *ForUpdate loaders;
// the version check in UpdateOrder and UpdateRefund catches anything else.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Tx) error) error {
	return database.WithTransaction(ctx, r.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return fn(&postgresTx{tx: tx})
	})
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return GetUser(ctx, t.tx, id)
}

func (t *postgresTx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrderForUpdate(ctx, t.tx, id)
}

func (t *postgresTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	return UpdateOrder(ctx, t.tx, order)
}

func (t *postgresTx) AppendDeliveryHistory(ctx context.Context, h *models.OrderDeliveryHistory) error {
	return AppendDeliveryHistory(ctx, t.tx, h)
}

func (t *postgresTx) TakeStock(ctx context.Context, productID int64, quantity int) error {
	if _, err := ReserveStock(ctx, t.tx, productID, quantity); err != nil {
		return err
	}
	return DecrementStock(ctx, t.tx, productID, quantity)
}

func (t *postgresTx) RestockProduct(ctx context.Context, productID int64, quantity int) error {
	return RestockProduct(ctx, t.tx, productID, quantity)
}

func (t *postgresTx) ListRefundsByOrder(ctx context.Context, orderID int64) ([]models.Refund, error) {
	return ListRefundsByOrder(ctx, t.tx, orderID)
}

func (t *postgresTx) CreateRefund(ctx context.Context, r *models.Refund) error {
	return CreateRefund(ctx, t.tx, r)
}

func (t *postgresTx) GetRefundForUpdate(ctx context.Context, id int64) (*models.Refund, error) {
	return GetRefundForUpdate(ctx, t.tx, id)
}

func (t *postgresTx) UpdateRefund(ctx context.Context, r *models.Refund) error {
	return UpdateRefund(ctx, t.tx, r)
}

func (t *postgresTx) AppendRefundHistory(ctx context.Context, h *models.RefundHistory) error {
	return AppendRefundHistory(ctx, t.tx, h)
}

func (t *postgresTx) EnqueueNotification(ctx context.Context, n *models.Notification) error {
	return EnqueueNotification(ctx, t.tx, n)
}

func (t *postgresTx) ClaimPendingNotifications(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	return ClaimPendingNotifications(ctx, t.tx, now, limit)
}

func (t *postgresTx) MarkNotificationSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	return MarkNotificationSent(ctx, t.tx, id, sentAt)
}

func (t *postgresTx) MarkNotificationRetry(ctx context.Context, id uuid.UUID, lastErr string, nextAttemptAt time.Time) error {
	return MarkNotificationRetry(ctx, t.tx, id, lastErr, nextAttemptAt)
}

func (t *postgresTx) MarkNotificationFailed(ctx context.Context, id uuid.UUID, lastErr string) error {
	return MarkNotificationFailed(ctx, t.tx, id, lastErr)
}
