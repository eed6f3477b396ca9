package lifecycle

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/order-lifecycle/internal/models"
)

// RefundWindow is how long after delivery a customer may ask for a refund.
const RefundWindow = 72 * time.Hour

var refundTransitions = map[models.RefundStatus][]models.RefundStatus{
	models.RefundStatusPending:   {models.RefundStatusApproved, models.RefundStatusRejected},
	models.RefundStatusApproved:  {models.RefundStatusCompleted, models.RefundStatusFailed},
	models.RefundStatusFailed:    {models.RefundStatusApproved},
	models.RefundStatusRejected:  {},
	models.RefundStatusCompleted: {},
}

func IsValidRefundStatusTransition(from, to models.RefundStatus) bool {
	return slices.Contains(refundTransitions[from], to)
}

func AllowedRefundTransitions(from models.RefundStatus) []models.RefundStatus {
	return slices.Clone(refundTransitions[from])
}

func CheckRefundTransition(from, to models.RefundStatus) error {
	if !to.IsValid() {
		return reject(KindInvalidInput, "Unknown refund status %q.", to)
	}
	if !IsValidRefundStatusTransition(from, to) {
		if from == models.RefundStatusRejected || from == models.RefundStatusCompleted {
			return reject(KindInvalidTransition, "This refund is already %s and can no longer be changed.", from)
		}
		return reject(KindInvalidTransition, "Cannot change refund status from %s to %s.", from, to)
	}
	return nil
}

// ReasonsByDeliveryStatus lists the refund reasons a customer may give for
// each delivery outcome. Statuses not listed accept no reason.
var ReasonsByDeliveryStatus = map[models.DeliveryStatus][]models.RefundReason{
	models.DeliveryStatusDeliveryFailed: {models.RefundReasonNotDelivered},
	models.DeliveryStatusDelivered: {
		models.RefundReasonSpoiled,
		models.RefundReasonDamaged,
		models.RefundReasonWrongItem,
		models.RefundReasonMissingItems,
	},
}

func IsValidRefundReason(delivery models.DeliveryStatus, reason models.RefundReason) bool {
	return slices.Contains(ReasonsByDeliveryStatus[delivery], reason)
}

// RefundedQuantities sums quantities of active refunds per line item. full is
// true when any active refund covers the whole order.
func RefundedQuantities(refunds []models.Refund) (quantities map[int64]int, full bool) {
	return sumRefunded(refunds, models.RefundStatus.IsActive)
}

func sumRefunded(refunds []models.Refund, counts func(models.RefundStatus) bool) (map[int64]int, bool) {
	quantities := make(map[int64]int)
	full := false
	for i := range refunds {
		r := &refunds[i]
		if !counts(r.Status) {
			continue
		}
		if r.IsFullRefund() {
			full = true
			continue
		}
		for _, item := range r.RefundedItems {
			quantities[item.OrderLineItemID] += item.Quantity
		}
	}
	return quantities, full
}

func allCovered(quantities map[int64]int, items []models.OrderLineItem) bool {
	for _, item := range items {
		if quantities[item.ID] < item.Quantity {
			return false
		}
	}
	return true
}

// ComputeOrderRefundStatus derives the order-level refund status from the
// full set of refunds. Only approved and completed refunds count.
func ComputeOrderRefundStatus(refunds []models.Refund, items []models.OrderLineItem) models.OrderRefundStatus {
	settled := func(s models.RefundStatus) bool {
		return s == models.RefundStatusApproved || s == models.RefundStatusCompleted
	}

	hasSettled := false
	for i := range refunds {
		if settled(refunds[i].Status) {
			hasSettled = true
			break
		}
	}
	if !hasSettled {
		return models.OrderRefundStatusNone
	}

	quantities, full := sumRefunded(refunds, settled)
	if full || allCovered(quantities, items) {
		return models.OrderRefundStatusFull
	}
	return models.OrderRefundStatusPartial
}

// RequestedItem is a customer's ask for part of a line item.
type RequestedItem struct {
	OrderLineItemID int64 `json:"order_line_item_id"`
	Quantity        int   `json:"quantity"`
}

// CheckRefundCapacity rejects a request that would push any line item past
// its ordered quantity. An empty request means the whole order, which is only
// possible while nothing else is refunded.
func CheckRefundCapacity(requested []RequestedItem, alreadyRefunded map[int64]int, items []models.OrderLineItem) error {
	if len(requested) == 0 {
		for _, qty := range alreadyRefunded {
			if qty > 0 {
				return reject(KindCapacityViolation,
					"A full refund is not possible because some items already have refund requests. Please select the remaining items instead.")
			}
		}
		return nil
	}

	ordered := make(map[int64]int, len(items))
	for _, item := range items {
		ordered[item.ID] = item.Quantity
	}

	wanted := make(map[int64]int, len(requested))
	order := make([]int64, 0, len(requested))
	for _, req := range requested {
		if req.Quantity <= 0 {
			return reject(KindInvalidInput, "Refund quantity for item %d must be at least 1.", req.OrderLineItemID)
		}
		if _, ok := ordered[req.OrderLineItemID]; !ok {
			return reject(KindInvalidInput, "Item %d does not belong to this order.", req.OrderLineItemID)
		}
		if _, seen := wanted[req.OrderLineItemID]; !seen {
			order = append(order, req.OrderLineItemID)
		}
		wanted[req.OrderLineItemID] += req.Quantity
	}

	exceeding := 0
	for _, id := range order {
		if alreadyRefunded[id]+wanted[id] > ordered[id] {
			exceeding++
		}
	}
	if exceeding > 0 {
		return reject(KindCapacityViolation,
			"%d item(s) in this request exceed the quantity still available for refund.", exceeding)
	}
	return nil
}

// PriceRefund builds the refund lines and amount. A full refund returns the
// order total and no lines.
func PriceRefund(requested []RequestedItem, items []models.OrderLineItem, orderTotal decimal.Decimal) ([]models.RefundItem, decimal.Decimal) {
	if len(requested) == 0 {
		return nil, orderTotal
	}

	byID := make(map[int64]models.OrderLineItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	lines := make([]models.RefundItem, 0, len(requested))
	index := make(map[int64]int, len(requested))
	amount := decimal.Zero
	for _, req := range requested {
		item := byID[req.OrderLineItemID]
		qty := decimal.NewFromInt(int64(req.Quantity))
		amount = amount.Add(item.UnitPrice.Mul(qty))

		if i, ok := index[req.OrderLineItemID]; ok {
			lines[i].Quantity += req.Quantity
			lines[i].TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(lines[i].Quantity)))
			continue
		}
		index[req.OrderLineItemID] = len(lines)
		lines = append(lines, models.RefundItem{
			OrderLineItemID: req.OrderLineItemID,
			Quantity:        req.Quantity,
			UnitPrice:       item.UnitPrice,
			TotalPrice:      item.UnitPrice.Mul(qty),
		})
	}
	return lines, amount
}

// ToRequested converts stored refund lines back into request form.
func ToRequested(lines []models.RefundItem) []RequestedItem {
	out := make([]RequestedItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, RequestedItem{OrderLineItemID: l.OrderLineItemID, Quantity: l.Quantity})
	}
	return out
}

// CheckApprovalCapacity re-runs the capacity check for refund against every
// other active refund of the order.
func CheckApprovalCapacity(refund *models.Refund, all []models.Refund, items []models.OrderLineItem) error {
	others := slices.DeleteFunc(slices.Clone(all), func(r models.Refund) bool { return r.ID == refund.ID })
	already, full := RefundedQuantities(others)
	if full {
		return reject(KindCapacityViolation, "Another refund already covers the whole order.")
	}
	return CheckRefundCapacity(ToRequested(refund.RefundedItems), already, items)
}

// RefundStatusForPayment maps a payment outcome to the refund status it
// drives. Payments are only recorded on approved refunds.
func RefundStatusForPayment(refund *models.Refund, status models.RefundPaymentStatus) (models.RefundStatus, error) {
	var to models.RefundStatus
	switch status {
	case models.RefundPaymentStatusPaid:
		to = models.RefundStatusCompleted
	case models.RefundPaymentStatusFailed:
		to = models.RefundStatusFailed
	default:
		return "", reject(KindInvalidInput, "Refund payment status must be paid or failed, got %q.", status)
	}
	if refund.Status != models.RefundStatusApproved {
		return "", reject(KindGuardViolation, "Refund payment can only be recorded once the refund is approved. This refund is %s.", refund.Status)
	}
	return to, CheckRefundTransition(refund.Status, to)
}
