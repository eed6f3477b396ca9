package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/order-lifecycle/internal/models"
)

var allOrderStatuses = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusProcessing,
	models.OrderStatusCompleted,
	models.OrderStatusCancelled,
}

func deliveryPtr(s models.DeliveryStatus) *models.DeliveryStatus {
	return &s
}

func TestOrderTransitionTableClosure(t *testing.T) {
	listed := map[[2]models.OrderStatus]bool{
		{models.OrderStatusPending, models.OrderStatusConfirmed}:    true,
		{models.OrderStatusPending, models.OrderStatusCancelled}:    true,
		{models.OrderStatusConfirmed, models.OrderStatusProcessing}: true,
		{models.OrderStatusConfirmed, models.OrderStatusCancelled}:  true,
		{models.OrderStatusProcessing, models.OrderStatusCompleted}: true,
		{models.OrderStatusProcessing, models.OrderStatusCancelled}: true,
	}

	for _, from := range allOrderStatuses {
		for _, to := range allOrderStatuses {
			assert.Equal(t, listed[[2]models.OrderStatus{from, to}], IsValidStatusTransition(from, to),
				"%s -> %s", from, to)
		}
	}
}

func TestOrderTerminalStatesHaveNoEdges(t *testing.T) {
	for _, terminal := range []models.OrderStatus{models.OrderStatusCompleted, models.OrderStatusCancelled} {
		assert.Empty(t, AllowedOrderTransitions(terminal))
		for _, to := range allOrderStatuses {
			assert.False(t, IsValidStatusTransition(terminal, to))
		}
	}
}

func TestAllowedOrderTransitionsReturnsCopy(t *testing.T) {
	allowed := AllowedOrderTransitions(models.OrderStatusPending)
	require.Len(t, allowed, 2)
	allowed[0] = models.OrderStatusCompleted

	assert.False(t, IsValidStatusTransition(models.OrderStatusPending, models.OrderStatusCompleted))
}

func TestCompletionGuard(t *testing.T) {
	deliveries := []*models.DeliveryStatus{
		nil,
		deliveryPtr(models.DeliveryStatusAwaitingProcessing),
		deliveryPtr(models.DeliveryStatusOutForDelivery),
		deliveryPtr(models.DeliveryStatusDeliveryFailed),
	}
	for _, d := range deliveries {
		order := &models.Order{
			Status:         models.OrderStatusProcessing,
			DeliveryStatus: d,
			Payment:        models.Payment{Status: models.PaymentStatusPaid},
		}
		err := ValidateOrderStatusTransition(order, models.OrderStatusCompleted)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be delivered first")
	}

	for _, p := range []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusFailed} {
		order := &models.Order{
			Status:         models.OrderStatusProcessing,
			DeliveryStatus: deliveryPtr(models.DeliveryStatusDelivered),
			Payment:        models.Payment{Status: p},
		}
		err := ValidateOrderStatusTransition(order, models.OrderStatusCompleted)
		require.Error(t, err)
		assert.Contains(t, err.Error(), string(p))
		rej, ok := AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, KindGuardViolation, rej.Kind)
	}

	order := &models.Order{
		Status:         models.OrderStatusProcessing,
		DeliveryStatus: deliveryPtr(models.DeliveryStatusDelivered),
		Payment:        models.Payment{Status: models.PaymentStatusPaid},
	}
	assert.NoError(t, ValidateOrderStatusTransition(order, models.OrderStatusCompleted))
	assert.NoError(t, CheckOrderTransition(order, models.OrderStatusCompleted))
}

func TestCancellationGuard(t *testing.T) {
	for _, status := range allOrderStatuses {
		order := &models.Order{Status: status, DeliveryStatus: deliveryPtr(models.DeliveryStatusDelivered)}
		assert.Error(t, ValidateOrderStatusTransition(order, models.OrderStatusCancelled), "status %s", status)
		assert.Error(t, CheckOrderTransition(order, models.OrderStatusCancelled), "status %s", status)
	}

	order := &models.Order{Status: models.OrderStatusProcessing, DeliveryStatus: deliveryPtr(models.DeliveryStatusOutForDelivery)}
	err := ValidateOrderStatusTransition(order, models.OrderStatusCancelled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contact support")

	order.DeliveryStatus = deliveryPtr(models.DeliveryStatusPacked)
	assert.NoError(t, CheckOrderTransition(order, models.OrderStatusCancelled))
}

func TestCheckOrderTransitionReportsBothStates(t *testing.T) {
	order := &models.Order{Status: models.OrderStatusPending}
	err := CheckOrderTransition(order, models.OrderStatusCompleted)
	require.Error(t, err)

	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidTransition, rej.Kind)
	assert.Contains(t, rej.Message, "pending")
	assert.Contains(t, rej.Message, "completed")

	err = CheckOrderTransition(order, "shipped")
	rej, ok = AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidInput, rej.Kind)
}

func TestCanCustomerCancelOrder(t *testing.T) {
	tests := []struct {
		status      models.OrderStatus
		allowed     bool
		warning     bool
		wantMessage bool
	}{
		{models.OrderStatusPending, true, false, false},
		{models.OrderStatusConfirmed, true, false, false},
		{models.OrderStatusProcessing, true, true, false},
		{models.OrderStatusCompleted, false, false, true},
		{models.OrderStatusCancelled, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			d := CanCustomerCancelOrder(tt.status)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.warning, d.Warning != "")
			assert.Equal(t, tt.wantMessage, d.Message != "")
		})
	}

	assert.Contains(t, CanCustomerCancelOrder(models.OrderStatusCompleted).Message, "refund")
}

func TestCanAdminReverseCancelledOrder(t *testing.T) {
	for _, status := range allOrderStatuses {
		assert.Equal(t, status == models.OrderStatusCancelled, CanAdminReverseCancelledOrder(status))
	}
}

func TestFormatOrderNumber(t *testing.T) {
	assert.Equal(t, "ORD-000001", FormatOrderNumber(1))
	assert.Equal(t, "ORD-000042", FormatOrderNumber(42))
	assert.Equal(t, "ORD-1234567", FormatOrderNumber(1234567))
}
