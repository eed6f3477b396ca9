package lifecycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/order-lifecycle/internal/models"
)

var allRefundStatuses = []models.RefundStatus{
	models.RefundStatusPending,
	models.RefundStatusApproved,
	models.RefundStatusRejected,
	models.RefundStatusCompleted,
	models.RefundStatusFailed,
}

// Line items A (qty 2) and B (qty 3).
func sampleItems() []models.OrderLineItem {
	return []models.OrderLineItem{
		{ID: 1, Name: "Olive oil", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
		{ID: 2, Name: "Basmati rice", Quantity: 3, UnitPrice: decimal.RequireFromString("4.00")},
	}
}

func partialRefund(status models.RefundStatus, lines ...models.RefundItem) models.Refund {
	return models.Refund{Status: status, RefundedItems: lines}
}

func line(id int64, qty int) models.RefundItem {
	return models.RefundItem{OrderLineItemID: id, Quantity: qty}
}

func TestRefundTransitionTableClosure(t *testing.T) {
	listed := map[[2]models.RefundStatus]bool{
		{models.RefundStatusPending, models.RefundStatusApproved}:   true,
		{models.RefundStatusPending, models.RefundStatusRejected}:   true,
		{models.RefundStatusApproved, models.RefundStatusCompleted}: true,
		{models.RefundStatusApproved, models.RefundStatusFailed}:    true,
		{models.RefundStatusFailed, models.RefundStatusApproved}:    true,
	}

	for _, from := range allRefundStatuses {
		for _, to := range allRefundStatuses {
			assert.Equal(t, listed[[2]models.RefundStatus{from, to}], IsValidRefundStatusTransition(from, to),
				"%s -> %s", from, to)
		}
	}
}

func TestRefundTerminalStates(t *testing.T) {
	for _, terminal := range []models.RefundStatus{models.RefundStatusRejected, models.RefundStatusCompleted} {
		assert.Empty(t, AllowedRefundTransitions(terminal))
		err := CheckRefundTransition(terminal, models.RefundStatusApproved)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already "+string(terminal))
	}

	err := CheckRefundTransition(models.RefundStatusPending, "refunded")
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidInput, rej.Kind)
}

func TestIsValidRefundReason(t *testing.T) {
	assert.True(t, IsValidRefundReason(models.DeliveryStatusDeliveryFailed, models.RefundReasonNotDelivered))
	assert.False(t, IsValidRefundReason(models.DeliveryStatusDeliveryFailed, models.RefundReasonDamaged))
	assert.True(t, IsValidRefundReason(models.DeliveryStatusDelivered, models.RefundReasonMissingItems))
	assert.False(t, IsValidRefundReason(models.DeliveryStatusDelivered, models.RefundReasonNotDelivered))
	assert.False(t, IsValidRefundReason(models.DeliveryStatusPacked, models.RefundReasonSpoiled))
}

func TestRefundedQuantitiesCountsActiveOnly(t *testing.T) {
	refunds := []models.Refund{
		partialRefund(models.RefundStatusPending, line(1, 1)),
		partialRefund(models.RefundStatusCompleted, line(1, 1), line(2, 1)),
		partialRefund(models.RefundStatusRejected, line(2, 2)),
		partialRefund(models.RefundStatusFailed, line(2, 2)),
	}

	quantities, full := RefundedQuantities(refunds)
	assert.False(t, full)
	assert.Equal(t, map[int64]int{1: 2, 2: 1}, quantities)

	_, full = RefundedQuantities(append(refunds, models.Refund{Status: models.RefundStatusApproved}))
	assert.True(t, full)

	_, full = RefundedQuantities([]models.Refund{{Status: models.RefundStatusRejected}})
	assert.False(t, full)
}

func TestComputeOrderRefundStatus(t *testing.T) {
	items := sampleItems()

	assert.Equal(t, models.OrderRefundStatusNone, ComputeOrderRefundStatus(nil, items))

	pendingOnly := []models.Refund{partialRefund(models.RefundStatusPending, line(1, 2), line(2, 3))}
	assert.Equal(t, models.OrderRefundStatusNone, ComputeOrderRefundStatus(pendingOnly, items))

	refunds := []models.Refund{partialRefund(models.RefundStatusApproved, line(1, 2))}
	assert.Equal(t, models.OrderRefundStatusPartial, ComputeOrderRefundStatus(refunds, items))

	refunds = append(refunds, partialRefund(models.RefundStatusApproved, line(2, 3)))
	assert.Equal(t, models.OrderRefundStatusFull, ComputeOrderRefundStatus(refunds, items))

	wholeOrder := []models.Refund{{Status: models.RefundStatusApproved}}
	assert.Equal(t, models.OrderRefundStatusFull, ComputeOrderRefundStatus(wholeOrder, items))

	mixed := []models.Refund{
		partialRefund(models.RefundStatusCompleted, line(1, 2)),
		partialRefund(models.RefundStatusPending, line(2, 3)),
	}
	assert.Equal(t, models.OrderRefundStatusPartial, ComputeOrderRefundStatus(mixed, items))
}

func TestCheckRefundCapacity(t *testing.T) {
	items := sampleItems()

	tests := []struct {
		name      string
		requested []RequestedItem
		already   map[int64]int
		wantKind  Kind
	}{
		{"fits", []RequestedItem{{1, 1}, {2, 3}}, map[int64]int{1: 1}, ""},
		{"exactly remaining", []RequestedItem{{1, 1}}, map[int64]int{1: 1}, ""},
		{"exceeds one", []RequestedItem{{1, 2}}, map[int64]int{1: 1}, KindCapacityViolation},
		{"duplicates aggregate", []RequestedItem{{2, 2}, {2, 2}}, nil, KindCapacityViolation},
		{"zero quantity", []RequestedItem{{1, 0}}, nil, KindInvalidInput},
		{"foreign item", []RequestedItem{{99, 1}}, nil, KindInvalidInput},
		{"full with nothing refunded", nil, map[int64]int{}, ""},
		{"full after partial", nil, map[int64]int{2: 1}, KindCapacityViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRefundCapacity(tt.requested, tt.already, items)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			rej, ok := AsRejection(err)
			require.True(t, ok, "expected rejection, got %v", err)
			assert.Equal(t, tt.wantKind, rej.Kind)
		})
	}
}

func TestCheckRefundCapacityCountsExceedingItems(t *testing.T) {
	err := CheckRefundCapacity(
		[]RequestedItem{{1, 3}, {2, 4}},
		nil,
		sampleItems(),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 item(s)")
}

// Applies a run of requests and checks no line item ever goes past its
// ordered quantity.
func TestRefundQuantityConservation(t *testing.T) {
	items := sampleItems()
	var refunds []models.Refund

	requests := [][]RequestedItem{
		{{1, 1}},
		{{2, 2}},
		{{1, 2}},
		{{2, 1}, {1, 1}},
		{{2, 1}},
		{{1, 1}},
	}

	for _, req := range requests {
		already, _ := RefundedQuantities(refunds)
		if err := CheckRefundCapacity(req, already, items); err != nil {
			continue
		}
		lines, _ := PriceRefund(req, items, decimal.Zero)
		refunds = append(refunds, models.Refund{Status: models.RefundStatusPending, RefundedItems: lines})

		after, _ := RefundedQuantities(refunds)
		for _, item := range items {
			assert.LessOrEqual(t, after[item.ID], item.Quantity)
		}
	}

	final, _ := RefundedQuantities(refunds)
	assert.Equal(t, map[int64]int{1: 2, 2: 3}, final)
}

func TestPriceRefund(t *testing.T) {
	items := sampleItems()
	total := decimal.RequireFromString("37.00")

	lines, amount := PriceRefund(nil, items, total)
	assert.Nil(t, lines)
	assert.True(t, amount.Equal(total))

	lines, amount = PriceRefund([]RequestedItem{{1, 1}, {2, 2}, {1, 1}}, items, total)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(1), lines[0].OrderLineItemID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.True(t, lines[0].TotalPrice.Equal(decimal.RequireFromString("25.00")))
	assert.True(t, lines[1].TotalPrice.Equal(decimal.RequireFromString("8.00")))
	assert.True(t, amount.Equal(decimal.RequireFromString("33.00")))

	assert.Equal(t, []RequestedItem{{1, 2}, {2, 2}}, ToRequested(lines))
}
