package models

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusAwaitingProcessing DeliveryStatus = "awaiting_processing"
	DeliveryStatusProcessing         DeliveryStatus = "processing"
	DeliveryStatusPacking            DeliveryStatus = "packing"
	DeliveryStatusPacked             DeliveryStatus = "packed"
	DeliveryStatusHandedToCourier    DeliveryStatus = "handed_to_courier"
	DeliveryStatusOutForDelivery     DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelivered          DeliveryStatus = "delivered"
	DeliveryStatusDeliveryFailed     DeliveryStatus = "delivery_failed"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusAwaitingProcessing, DeliveryStatusProcessing, DeliveryStatusPacking,
		DeliveryStatusPacked, DeliveryStatusHandedToCourier, DeliveryStatusOutForDelivery,
		DeliveryStatusDelivered, DeliveryStatusDeliveryFailed:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodMobileWallet   PaymentMethod = "mobile_wallet"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCashOnDelivery, PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodMobileWallet:
		return true
	}
	return false
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

func (s RefundStatus) IsValid() bool {
	switch s {
	case RefundStatusPending, RefundStatusApproved, RefundStatusRejected,
		RefundStatusCompleted, RefundStatusFailed:
		return true
	}
	return false
}

// IsActive reports whether a refund in this status counts against the
// refundable quantity of its line items.
func (s RefundStatus) IsActive() bool {
	return s == RefundStatusPending || s == RefundStatusApproved || s == RefundStatusCompleted
}

type RefundReason string

const (
	RefundReasonSpoiled      RefundReason = "spoiled"
	RefundReasonDamaged      RefundReason = "damaged"
	RefundReasonWrongItem    RefundReason = "wrong_item"
	RefundReasonMissingItems RefundReason = "missing_items"
	RefundReasonNotDelivered RefundReason = "not_delivered"
)

func (r RefundReason) IsValid() bool {
	switch r {
	case RefundReasonSpoiled, RefundReasonDamaged, RefundReasonWrongItem,
		RefundReasonMissingItems, RefundReasonNotDelivered:
		return true
	}
	return false
}

type RefundPaymentStatus string

const (
	RefundPaymentStatusPending RefundPaymentStatus = "pending"
	RefundPaymentStatusPaid    RefundPaymentStatus = "paid"
	RefundPaymentStatusFailed  RefundPaymentStatus = "failed"
)

func (s RefundPaymentStatus) IsValid() bool {
	switch s {
	case RefundPaymentStatusPending, RefundPaymentStatusPaid, RefundPaymentStatusFailed:
		return true
	}
	return false
}

// OrderRefundStatus is derived from the refund set of an order and never
// edited directly.
type OrderRefundStatus string

const (
	OrderRefundStatusNone    OrderRefundStatus = "none"
	OrderRefundStatusPartial OrderRefundStatus = "partial"
	OrderRefundStatusFull    OrderRefundStatus = "full"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleCustomer
}

type NotificationKind string

const (
	NotificationOrderStatus    NotificationKind = "order_status"
	NotificationDeliveryStatus NotificationKind = "delivery_status"
	NotificationRefundStatus   NotificationKind = "refund_status"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)
