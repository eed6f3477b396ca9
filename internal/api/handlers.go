package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/safar/order-lifecycle/internal/auth"
	"github.com/safar/order-lifecycle/internal/lifecycle"
	"github.com/safar/order-lifecycle/internal/models"
	"github.com/safar/order-lifecycle/internal/service"
	"github.com/safar/order-lifecycle/internal/store"
)

const idempotencyHeader = "Idempotency-Key"

type Handler struct {
	orders  *service.OrderService
	refunds *service.RefundService
}

func NewHandler(orders *service.OrderService, refunds *service.RefundService) *Handler {
	return &Handler{orders: orders, refunds: refunds}
}

func actor(c *gin.Context) service.Actor {
	id, _ := auth.FromContext(c)
	return service.Actor(id)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondMessage(c, http.StatusBadRequest, "Invalid "+name+".")
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid request body.")
		return false
	}
	return true
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var req struct {
		SKU           string          `json:"sku" binding:"required"`
		Name          string          `json:"name" binding:"required"`
		Description   string          `json:"description"`
		Brand         string          `json:"brand"`
		Category      string          `json:"category"`
		WeightGrams   int             `json:"weight_grams"`
		Price         decimal.Decimal `json:"price"`
		Discount      decimal.Decimal `json:"discount"`
		StockQuantity int             `json:"stock_quantity"`
	}
	if !bind(c, &req) {
		return
	}

	product, err := h.orders.CreateProduct(c.Request.Context(), actor(c), store.NewProduct{
		SKU:           req.SKU,
		Name:          req.Name,
		Description:   req.Description,
		Brand:         req.Brand,
		Category:      req.Category,
		WeightGrams:   req.WeightGrams,
		Price:         req.Price,
		Discount:      req.Discount,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Product created.", product)
}

func (h *Handler) ListProducts(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	products, err := h.orders.ListProducts(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", products)
}

func (h *Handler) AdjustStock(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		StockQuantity *int `json:"stock_quantity" binding:"required"`
		Version       int  `json:"version" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}

	product, err := h.orders.AdjustStock(c.Request.Context(), actor(c), id, *req.StockQuantity, req.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Stock updated.", product)
}

func (h *Handler) AddCartItem(c *gin.Context) {
	var req struct {
		ProductID int64 `json:"product_id" binding:"required"`
		Quantity  int   `json:"quantity"`
	}
	if !bind(c, &req) {
		return
	}

	item, err := h.orders.AddToCart(c.Request.Context(), actor(c), req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Item added to cart.", item)
}

func (h *Handler) GetCart(c *gin.Context) {
	items, err := h.orders.Cart(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", items)
}

func (h *Handler) Checkout(c *gin.Context) {
	var req struct {
		Address       models.Address       `json:"address"`
		PaymentMethod models.PaymentMethod `json:"payment_method"`
		CustomerNote  string               `json:"customer_note"`
	}
	if !bind(c, &req) {
		return
	}

	order, err := h.orders.Checkout(c.Request.Context(), actor(c), service.CheckoutInput{
		Address:        req.Address,
		PaymentMethod:  req.PaymentMethod,
		CustomerNote:   req.CustomerNote,
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Order placed.", order)
}

func (h *Handler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := h.orders.ListOrders(c.Request.Context(), actor(c), c.Query("cursor"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", page)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", order)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	res, err := h.orders.CancelByCustomer(c.Request.Context(), actor(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Order cancelled.", res)
}

func (h *Handler) RefundEligibility(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	e, err := h.orders.RefundEligibility(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, e.Message, e)
}

func (h *Handler) CreateRefund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Reason       models.RefundReason       `json:"reason"`
		Items        []lifecycle.RequestedItem `json:"items"`
		EvidenceURLs []string                  `json:"evidence_urls"`
		CustomerNote string                    `json:"customer_note"`
	}
	if !bind(c, &req) {
		return
	}

	refund, err := h.refunds.CreateRefund(c.Request.Context(), actor(c), id, service.CreateRefundInput{
		Reason:         req.Reason,
		Items:          req.Items,
		EvidenceURLs:   req.EvidenceURLs,
		CustomerNote:   req.CustomerNote,
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, "Refund requested.", refund)
}

func (h *Handler) ListOrderRefunds(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	refunds, err := h.refunds.ListOrderRefunds(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", refunds)
}

func (h *Handler) GetRefund(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	refund, err := h.refunds.GetRefund(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "", refund)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !bind(c, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), actor(c), id, models.OrderStatus(req.Status), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Order status updated.", order)
}

func (h *Handler) UpdateDeliveryStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status         models.DeliveryStatus `json:"status" binding:"required"`
		CourierName    string                `json:"courier_name"`
		TrackingNumber string                `json:"tracking_number"`
		Notes          string                `json:"notes"`
	}
	if !bind(c, &req) {
		return
	}

	order, err := h.orders.UpdateDeliveryStatus(c.Request.Context(), actor(c), id, service.DeliveryUpdate{
		Status:         req.Status,
		CourierName:    req.CourierName,
		TrackingNumber: req.TrackingNumber,
		Notes:          req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Delivery status updated.", order)
}

func (h *Handler) UpdateOrderPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status     models.PaymentStatus `json:"status"`
		Method     models.PaymentMethod `json:"method"`
		AmountPaid *decimal.Decimal     `json:"amount_paid"`
	}
	if !bind(c, &req) {
		return
	}

	order, err := h.orders.UpdatePayment(c.Request.Context(), actor(c), id, service.PaymentUpdate{
		Status:     req.Status,
		Method:     req.Method,
		AmountPaid: req.AmountPaid,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Payment updated.", order)
}

func (h *Handler) AdminCancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	order, err := h.orders.CancelByAdmin(c.Request.Context(), actor(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Order cancelled.", order)
}

func (h *Handler) ReopenOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	order, err := h.orders.ReopenCancelled(c.Request.Context(), actor(c), id, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Order reopened.", order)
}

func (h *Handler) UpdateRefundStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !bind(c, &req) {
		return
	}

	refund, err := h.refunds.UpdateStatus(c.Request.Context(), actor(c), id, models.RefundStatus(req.Status), req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Refund status updated.", refund)
}

func (h *Handler) UpdateRefundPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status        models.RefundPaymentStatus `json:"status" binding:"required"`
		Method        models.PaymentMethod       `json:"method"`
		AmountPaid    *decimal.Decimal           `json:"amount_paid"`
		TransactionID string                     `json:"transaction_id"`
		FailureReason string                     `json:"failure_reason"`
	}
	if !bind(c, &req) {
		return
	}

	refund, err := h.refunds.UpdatePayment(c.Request.Context(), actor(c), id, service.RefundPaymentUpdate{
		Status:        req.Status,
		Method:        req.Method,
		AmountPaid:    req.AmountPaid,
		TransactionID: req.TransactionID,
		FailureReason: req.FailureReason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, "Refund payment recorded.", refund)
}
