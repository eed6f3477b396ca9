package lifecycle

import (
	"fmt"
	"slices"

	"github.com/safar/order-lifecycle/internal/models"
)

var deliveryTransitions = map[models.DeliveryStatus][]models.DeliveryStatus{
	models.DeliveryStatusAwaitingProcessing: {models.DeliveryStatusProcessing},
	models.DeliveryStatusProcessing:         {models.DeliveryStatusPacking},
	models.DeliveryStatusPacking:            {models.DeliveryStatusPacked},
	models.DeliveryStatusPacked:             {models.DeliveryStatusHandedToCourier},
	models.DeliveryStatusHandedToCourier:    {models.DeliveryStatusOutForDelivery, models.DeliveryStatusDeliveryFailed},
	models.DeliveryStatusOutForDelivery:     {models.DeliveryStatusDelivered, models.DeliveryStatusDeliveryFailed},
	models.DeliveryStatusDeliveryFailed:     {models.DeliveryStatusOutForDelivery},
	models.DeliveryStatusDelivered:          {},
}

func IsValidDeliveryStatusTransition(from, to models.DeliveryStatus) bool {
	return slices.Contains(deliveryTransitions[from], to)
}

func AllowedDeliveryTransitions(from models.DeliveryStatus) []models.DeliveryStatus {
	return slices.Clone(deliveryTransitions[from])
}

// FriendlyDeliveryStatusError explains why a delivery transition was refused.
// The most specific cause wins.
func FriendlyDeliveryStatusError(current, attempted models.DeliveryStatus) string {
	switch {
	case current == models.DeliveryStatusDelivered:
		return "This order has already been delivered. Delivery status cannot be changed after delivery."
	case current == models.DeliveryStatusDeliveryFailed && attempted != models.DeliveryStatusOutForDelivery:
		return "Delivery failed for this order. To retry, set the delivery status to out_for_delivery."
	case current == models.DeliveryStatusAwaitingProcessing && attempted != models.DeliveryStatusProcessing:
		return "This order is awaiting processing. Move it to processing first."
	default:
		return fmt.Sprintf("Cannot change delivery status from %s to %s.", current, attempted)
	}
}

// CheckDeliveryTransition validates a delivery change for an order whose
// delivery status may still be unset.
func CheckDeliveryTransition(current, to models.DeliveryStatus) error {
	if !to.IsValid() {
		return reject(KindInvalidInput, "Unknown delivery status %q.", to)
	}
	if current == "" {
		return reject(KindGuardViolation, "Delivery status can only be changed after the order has been confirmed.")
	}
	if !IsValidDeliveryStatusTransition(current, to) {
		return reject(KindInvalidTransition, "%s", FriendlyDeliveryStatusError(current, to))
	}
	return nil
}

// CheckOrderAcceptsDeliveryChange refuses delivery updates on orders that
// have reached a terminal status.
func CheckOrderAcceptsDeliveryChange(order *models.Order) error {
	switch order.Status {
	case models.OrderStatusCancelled:
		return reject(KindGuardViolation, "This order has been cancelled. Delivery status can no longer be changed.")
	case models.OrderStatusCompleted:
		return reject(KindGuardViolation, "This order is already completed. Delivery status can no longer be changed.")
	}
	return nil
}
