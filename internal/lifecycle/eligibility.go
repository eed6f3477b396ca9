package lifecycle

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/safar/order-lifecycle/internal/models"
)

type EligibilityInput struct {
	OrderStatus    models.OrderStatus
	DeliveryStatus models.DeliveryStatus
	DeliveredAt    *time.Time
	Refunds        []models.Refund
	LineItems      []models.OrderLineItem
	Now            time.Time
	// Window overrides RefundWindow when positive.
	Window time.Duration
}

type Eligibility struct {
	Eligible        bool                  `json:"eligible"`
	Message         string                `json:"message,omitempty"`
	AllowedReasons  []models.RefundReason `json:"allowed_reasons,omitempty"`
	AlreadyRefunded map[int64]int         `json:"already_refunded_quantities,omitempty"`
}

func denied(format string, args ...any) Eligibility {
	return Eligibility{Eligible: false, Message: fmt.Sprintf(format, args...)}
}

// CanCustomerRequestRefund evaluates the refund rules in order and stops at
// the first one that fails.
func CanCustomerRequestRefund(in EligibilityInput) Eligibility {
	switch in.OrderStatus {
	case models.OrderStatusCancelled:
		return denied("This order was cancelled, so it cannot be refunded.")
	case models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusProcessing:
		return denied("This order has not been delivered yet. If you no longer want it, please cancel the order instead.")
	}
	if in.OrderStatus != models.OrderStatusCompleted {
		return denied("Refunds are not available for orders with status %s.", in.OrderStatus)
	}

	refunded, full := RefundedQuantities(in.Refunds)
	if full {
		return denied("A full refund has already been requested for this order.")
	}
	if allCovered(refunded, in.LineItems) {
		return denied("All items in this order have already been refunded.")
	}

	switch in.DeliveryStatus {
	case models.DeliveryStatusDeliveryFailed:
		return eligible(models.DeliveryStatusDeliveryFailed, refunded)

	case models.DeliveryStatusDelivered:
		if in.DeliveredAt == nil {
			return denied("We could not determine when this order was delivered. Please contact support to request a refund.")
		}
		window := in.Window
		if window <= 0 {
			window = RefundWindow
		}
		closesAt := in.DeliveredAt.Add(window)
		if in.Now.Sub(*in.DeliveredAt) > window {
			return denied("The refund window for this order closed on %s.", closesAt.UTC().Format("January 2, 2006 at 15:04 MST"))
		}
		return eligible(models.DeliveryStatusDelivered, refunded)
	}

	return denied("Refunds can be requested once the delivery outcome is known. Please wait for your order to be delivered.")
}

func eligible(delivery models.DeliveryStatus, refunded map[int64]int) Eligibility {
	return Eligibility{
		Eligible:        true,
		AllowedReasons:  slices.Clone(ReasonsByDeliveryStatus[delivery]),
		AlreadyRefunded: refunded,
	}
}

// CheckRefundRequest runs eligibility, the reason rule and the capacity check
// for a new refund request.
func CheckRefundRequest(in EligibilityInput, reason models.RefundReason, requested []RequestedItem) error {
	e := CanCustomerRequestRefund(in)
	if !e.Eligible {
		return reject(KindEligibilityDenial, "%s", e.Message)
	}
	if !IsValidRefundReason(in.DeliveryStatus, reason) {
		return reject(KindInvalidInput, "%q is not an accepted refund reason for this order. Choose one of: %s.",
			reason, joinReasons(e.AllowedReasons))
	}
	return CheckRefundCapacity(requested, e.AlreadyRefunded, in.LineItems)
}

func joinReasons(reasons []models.RefundReason) string {
	s := make([]string, len(reasons))
	for i, r := range reasons {
		s[i] = string(r)
	}
	return strings.Join(s, ", ")
}
