package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/order-lifecycle/internal/models"
)

func requireKind(t *testing.T, err error, kind Kind) *Rejection {
	t.Helper()
	r, ok := AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, kind, r.Kind)
	return r
}

func TestCheckCustomerCancel(t *testing.T) {
	warning, err := CheckCustomerCancel(&models.Order{Status: models.OrderStatusPending})
	require.NoError(t, err)
	assert.Empty(t, warning)

	warning, err = CheckCustomerCancel(&models.Order{
		Status:         models.OrderStatusProcessing,
		DeliveryStatus: deliveryPtr(models.DeliveryStatusPacking),
	})
	require.NoError(t, err)
	assert.Contains(t, warning, "cancellation fee")

	_, err = CheckCustomerCancel(&models.Order{
		Status:         models.OrderStatusProcessing,
		DeliveryStatus: deliveryPtr(models.DeliveryStatusOutForDelivery),
	})
	r := requireKind(t, err, KindGuardViolation)
	assert.Contains(t, r.Message, "out for delivery")

	_, err = CheckCustomerCancel(&models.Order{Status: models.OrderStatusCompleted})
	r = requireKind(t, err, KindGuardViolation)
	assert.Contains(t, r.Message, "request a refund")
}

func TestCheckReopen(t *testing.T) {
	assert.NoError(t, CheckReopen(&models.Order{Status: models.OrderStatusCancelled}))

	err := CheckReopen(&models.Order{Status: models.OrderStatusCompleted})
	r := requireKind(t, err, KindInvalidTransition)
	assert.Contains(t, r.Message, "completed")
}

func TestCheckPaymentUpdate(t *testing.T) {
	open := &models.Order{Status: models.OrderStatusConfirmed}
	assert.NoError(t, CheckPaymentUpdate(open, models.PaymentStatusPaid, "", false))
	assert.NoError(t, CheckPaymentUpdate(open, "", models.PaymentMethodCard, true))

	requireKind(t, CheckPaymentUpdate(open, "settled", "", false), KindInvalidInput)
	requireKind(t, CheckPaymentUpdate(open, "", "cheque", false), KindInvalidInput)
	requireKind(t, CheckPaymentUpdate(&models.Order{Status: models.OrderStatusCancelled}, models.PaymentStatusPaid, "", false),
		KindGuardViolation)
}

func TestCheckPaymentUpdateOnCompletedOrder(t *testing.T) {
	done := &models.Order{
		Status:  models.OrderStatusCompleted,
		Payment: models.Payment{Status: models.PaymentStatusPaid, Method: models.PaymentMethodCashOnDelivery},
	}
	assert.NoError(t, CheckPaymentUpdate(done, models.PaymentStatusRefunded, "", false))
	assert.NoError(t, CheckPaymentUpdate(done, models.PaymentStatusPaid, models.PaymentMethodCashOnDelivery, false))

	requireKind(t, CheckPaymentUpdate(done, models.PaymentStatusPending, "", false), KindGuardViolation)
	requireKind(t, CheckPaymentUpdate(done, models.PaymentStatusFailed, "", false), KindGuardViolation)
	requireKind(t, CheckPaymentUpdate(done, "", models.PaymentMethodCard, false), KindGuardViolation)
	requireKind(t, CheckPaymentUpdate(done, "", "", true), KindGuardViolation)
}

func TestCheckOrderAcceptsDeliveryChange(t *testing.T) {
	assert.NoError(t, CheckOrderAcceptsDeliveryChange(&models.Order{Status: models.OrderStatusProcessing}))
	requireKind(t, CheckOrderAcceptsDeliveryChange(&models.Order{Status: models.OrderStatusCancelled}), KindGuardViolation)
	requireKind(t, CheckOrderAcceptsDeliveryChange(&models.Order{Status: models.OrderStatusCompleted}), KindGuardViolation)
}

func TestCheckRefundRequest(t *testing.T) {
	d := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	in := deliveredInput(d, d.Add(time.Hour))

	assert.NoError(t, CheckRefundRequest(in, models.RefundReasonDamaged, []RequestedItem{{OrderLineItemID: 1, Quantity: 1}}))

	r := requireKind(t, CheckRefundRequest(in, models.RefundReasonNotDelivered, nil), KindInvalidInput)
	assert.Contains(t, r.Message, "spoiled, damaged, wrong_item, missing_items")

	requireKind(t, CheckRefundRequest(in, models.RefundReasonDamaged, []RequestedItem{{OrderLineItemID: 1, Quantity: 3}}),
		KindCapacityViolation)

	late := deliveredInput(d, d.Add(RefundWindow+time.Second))
	requireKind(t, CheckRefundRequest(late, models.RefundReasonDamaged, nil), KindEligibilityDenial)
}

func TestCheckApprovalCapacity(t *testing.T) {
	items := sampleItems()
	target := partialRefund(models.RefundStatusPending, line(1, 2))
	target.ID = 10

	other := partialRefund(models.RefundStatusApproved, line(1, 1))
	other.ID = 11

	err := CheckApprovalCapacity(&target, []models.Refund{target, other}, items)
	requireKind(t, err, KindCapacityViolation)

	rejected := other
	rejected.Status = models.RefundStatusRejected
	assert.NoError(t, CheckApprovalCapacity(&target, []models.Refund{target, rejected}, items))

	full := models.Refund{ID: 12, Status: models.RefundStatusCompleted}
	err = CheckApprovalCapacity(&target, []models.Refund{target, full}, items)
	r := requireKind(t, err, KindCapacityViolation)
	assert.Contains(t, r.Message, "whole order")
}

func TestRefundStatusForPayment(t *testing.T) {
	approved := &models.Refund{Status: models.RefundStatusApproved}

	to, err := RefundStatusForPayment(approved, models.RefundPaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusCompleted, to)

	to, err = RefundStatusForPayment(approved, models.RefundPaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusFailed, to)

	_, err = RefundStatusForPayment(approved, models.RefundPaymentStatusPending)
	requireKind(t, err, KindInvalidInput)

	_, err = RefundStatusForPayment(&models.Refund{Status: models.RefundStatusPending}, models.RefundPaymentStatusPaid)
	requireKind(t, err, KindGuardViolation)
}
