package lifecycle

import (
	"fmt"
	"slices"

	"github.com/safar/order-lifecycle/internal/models"
)

var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusCompleted, models.OrderStatusCancelled},
	models.OrderStatusCompleted:  {},
	models.OrderStatusCancelled:  {},
}

func IsValidStatusTransition(from, to models.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// AllowedOrderTransitions returns the statuses reachable from the given one.
func AllowedOrderTransitions(from models.OrderStatus) []models.OrderStatus {
	return slices.Clone(orderTransitions[from])
}

// ValidateOrderStatusTransition applies the rules that tie order status to
// delivery and payment state. It does not consult the transition table.
func ValidateOrderStatusTransition(order *models.Order, newStatus models.OrderStatus) error {
	delivery := order.CurrentDeliveryStatus()

	switch newStatus {
	case models.OrderStatusCompleted:
		if delivery != models.DeliveryStatusDelivered {
			return reject(KindGuardViolation,
				"Order cannot be completed while its delivery status is %s. The order must be delivered first.",
				describeDelivery(delivery))
		}
		if order.Payment.Status != models.PaymentStatusPaid {
			return reject(KindGuardViolation,
				"Order cannot be completed while its payment status is %s. Payment must be marked as paid first.",
				order.Payment.Status)
		}
	case models.OrderStatusCancelled:
		if delivery == models.DeliveryStatusDelivered {
			return reject(KindGuardViolation,
				"Order has already been delivered and cannot be cancelled. Please request a refund instead.")
		}
		if delivery == models.DeliveryStatusOutForDelivery {
			return reject(KindGuardViolation,
				"Order is already out for delivery and can no longer be cancelled. Please contact support for help.")
		}
	}

	return nil
}

// CheckOrderTransition runs the table lookup and then the guards.
func CheckOrderTransition(order *models.Order, to models.OrderStatus) error {
	if !to.IsValid() {
		return reject(KindInvalidInput, "Unknown order status %q.", to)
	}
	if !IsValidStatusTransition(order.Status, to) {
		return reject(KindInvalidTransition, "Cannot change order status from %s to %s.", order.Status, to)
	}
	return ValidateOrderStatusTransition(order, to)
}

// CancelDecision is the customer-facing cancellation policy for a status.
// Warning may be set on an allowed cancellation; it never blocks.
type CancelDecision struct {
	Allowed bool
	Warning string
	Message string
}

func CanCustomerCancelOrder(status models.OrderStatus) CancelDecision {
	switch status {
	case models.OrderStatusPending, models.OrderStatusConfirmed:
		return CancelDecision{Allowed: true}
	case models.OrderStatusProcessing:
		return CancelDecision{
			Allowed: true,
			Warning: "Your order is already being processed. A cancellation fee may apply.",
		}
	default:
		return CancelDecision{
			Allowed: false,
			Message: fmt.Sprintf("Orders with status %s cannot be cancelled. If you have a problem with a delivered order, please request a refund.", status),
		}
	}
}

// CanAdminReverseCancelledOrder reports whether an admin may manually reopen
// an order. There is no table edge out of cancelled; reopening is an override.
func CanAdminReverseCancelledOrder(status models.OrderStatus) bool {
	return status == models.OrderStatusCancelled
}

func describeDelivery(s models.DeliveryStatus) string {
	if s == "" {
		return "not set"
	}
	return string(s)
}

// CheckCustomerCancel applies the customer cancel policy and then the
// cancellation guards. The returned warning is informational.
func CheckCustomerCancel(order *models.Order) (string, error) {
	decision := CanCustomerCancelOrder(order.Status)
	if !decision.Allowed {
		return "", reject(KindGuardViolation, "%s", decision.Message)
	}
	if err := CheckOrderTransition(order, models.OrderStatusCancelled); err != nil {
		return "", err
	}
	return decision.Warning, nil
}

// CheckReopen allows the admin override out of cancelled and nothing else.
func CheckReopen(order *models.Order) error {
	if !CanAdminReverseCancelledOrder(order.Status) {
		return reject(KindInvalidTransition, "Only cancelled orders can be reopened. This order is %s.", order.Status)
	}
	return nil
}

// CheckPaymentUpdate validates an admin edit of the order payment. A
// completed order keeps its settled payment: the status may only stay paid or
// become refunded, and method and amount are frozen.
func CheckPaymentUpdate(order *models.Order, status models.PaymentStatus, method models.PaymentMethod, amountEdited bool) error {
	if status != "" && !status.IsValid() {
		return reject(KindInvalidInput, "Unknown payment status %q.", status)
	}
	if method != "" && !method.IsValid() {
		return reject(KindInvalidInput, "Unknown payment method %q.", method)
	}
	switch order.Status {
	case models.OrderStatusCancelled:
		return reject(KindGuardViolation, "Payment cannot be changed on a cancelled order.")
	case models.OrderStatusCompleted:
		if status != "" && status != models.PaymentStatusPaid && status != models.PaymentStatusRefunded {
			return reject(KindGuardViolation,
				"Payment of a completed order cannot be set to %s. It can only be marked refunded.", status)
		}
		if (method != "" && method != order.Payment.Method) || amountEdited {
			return reject(KindGuardViolation, "Payment method and amount of a completed order cannot be changed.")
		}
	}
	return nil
}
