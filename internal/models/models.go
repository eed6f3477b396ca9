package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Brand         string          `json:"brand,omitempty"`
	Category      string          `json:"category,omitempty"`
	WeightGrams   int             `json:"weight_grams"`
	Price         decimal.Decimal `json:"price"`
	Discount      decimal.Decimal `json:"discount"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// UnitPrice is the per-unit price after discount, never below zero.
func (p Product) UnitPrice() decimal.Decimal {
	unit := p.Price.Sub(p.Discount)
	if unit.IsNegative() {
		return decimal.Zero
	}
	return unit
}

type CartItem struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Payment struct {
	Method     PaymentMethod   `json:"method"`
	Status     PaymentStatus   `json:"status"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
}

type Order struct {
	ID                 int64                  `json:"id"`
	UserID             int64                  `json:"user_id"`
	OrderNumber        int64                  `json:"order_number"`
	DisplayNumber      string                 `json:"display_number"`
	Status             OrderStatus            `json:"status"`
	DeliveryStatus     *DeliveryStatus        `json:"delivery_status"`
	RefundStatus       OrderRefundStatus      `json:"refund_status"`
	Payment            Payment                `json:"payment"`
	Subtotal           decimal.Decimal        `json:"subtotal"`
	DeliveryCharge     decimal.Decimal        `json:"delivery_charge"`
	TaxAmount          decimal.Decimal        `json:"tax_amount"`
	TotalAmount        decimal.Decimal        `json:"total_amount"`
	DeliveryAddress    Address                `json:"delivery_address"`
	CustomerNote       string                 `json:"customer_note,omitempty"`
	AdminNote          string                 `json:"admin_note,omitempty"`
	DeliveredAt        *time.Time             `json:"delivered_at,omitempty"`
	CancelledBy        *Role                  `json:"cancelled_by,omitempty"`
	CancellationReason string                 `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	Version            int                    `json:"version"`
	Items              []OrderLineItem        `json:"items,omitempty"`
	DeliveryHistory    []OrderDeliveryHistory `json:"delivery_history,omitempty"`
}

// CurrentDeliveryStatus returns the delivery status or the empty string when
// the order has not been confirmed yet.
func (o *Order) CurrentDeliveryStatus() DeliveryStatus {
	if o.DeliveryStatus == nil {
		return ""
	}
	return *o.DeliveryStatus
}

// OrderLineItem freezes the product as it was at checkout.
type OrderLineItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Brand       string          `json:"brand,omitempty"`
	Category    string          `json:"category,omitempty"`
	WeightGrams int             `json:"weight_grams"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	CreatedAt   time.Time       `json:"created_at"`
}

type OrderDeliveryHistory struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	FromStatus     *DeliveryStatus `json:"from_status,omitempty"`
	ToStatus       DeliveryStatus  `json:"to_status"`
	CourierName    string          `json:"courier_name,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	ChangedBy      int64           `json:"changed_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RefundItem is one line of a partial refund.
type RefundItem struct {
	OrderLineItemID int64           `json:"order_line_item_id"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

type RefundPayment struct {
	Method        PaymentMethod       `json:"method,omitempty"`
	Status        RefundPaymentStatus `json:"status"`
	AmountPaid    decimal.Decimal     `json:"amount_paid"`
	TransactionID string              `json:"transaction_id,omitempty"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

type Refund struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	CustomerID    int64           `json:"customer_id"`
	ProcessedByID *int64          `json:"processed_by_id,omitempty"`
	Status        RefundStatus    `json:"status"`
	Reason        RefundReason    `json:"reason"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	// RefundedItems is empty for a full-order refund.
	RefundedItems []RefundItem    `json:"refunded_items"`
	Payment       RefundPayment   `json:"payment"`
	EvidenceURLs  []string        `json:"evidence_urls"`
	CustomerNote  string          `json:"customer_note,omitempty"`
	AdminNote     string          `json:"admin_note,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
	History       []RefundHistory `json:"history,omitempty"`
}

func (r *Refund) IsFullRefund() bool {
	return len(r.RefundedItems) == 0
}

type RefundHistory struct {
	ID         int64        `json:"id"`
	RefundID   int64        `json:"refund_id"`
	FromStatus RefundStatus `json:"from_status"`
	ToStatus   RefundStatus `json:"to_status"`
	Notes      string       `json:"notes,omitempty"`
	ChangedBy  int64        `json:"changed_by"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Notification is an outbox row written in the same transaction as the state
// change it announces.
type Notification struct {
	ID             uuid.UUID          `json:"id"`
	Kind           NotificationKind   `json:"kind"`
	RecipientEmail string             `json:"recipient_email"`
	Payload        json.RawMessage    `json:"payload"`
	Status         NotificationStatus `json:"status"`
	Attempts       int                `json:"attempts"`
	LastError      string             `json:"last_error,omitempty"`
	NextAttemptAt  time.Time          `json:"next_attempt_at"`
	CreatedAt      time.Time          `json:"created_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
}

// StatusChangePayload is the body handed to the email collaborator.
type StatusChangePayload struct {
	OrderNumber  string          `json:"order_number"`
	CustomerName string          `json:"customer_name"`
	NewStatus    string          `json:"new_status"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason,omitempty"`
	Warning      string          `json:"warning,omitempty"`
}
