// Package api is the gin HTTP surface. Every reply is a
// {success, message, data} envelope.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/auth"
	"github.com/safar/order-lifecycle/internal/metrics"
	"github.com/safar/order-lifecycle/internal/models"
)

type RouterConfig struct {
	JWTSecret string
	Logger    *zap.Logger
	// Ping reports whether storage is reachable. Nil means always healthy.
	Ping func(ctx context.Context) error
}

func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(cfg.Logger), Recovery(), metrics.Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		if cfg.Ping != nil {
			if err := cfg.Ping(c.Request.Context()); err != nil {
				respondMessage(c, http.StatusServiceUnavailable, "Database unavailable.")
				return
			}
		}
		respondJSON(c, http.StatusOK, "ok", nil)
	})

	api := r.Group("/api")
	api.Use(auth.Authenticate(cfg.JWTSecret))
	{
		api.GET("/products", h.ListProducts)
		api.POST("/cart/items", h.AddCartItem)
		api.GET("/cart", h.GetCart)
		api.POST("/checkout", h.Checkout)
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/cancel", h.CancelOrder)
		api.GET("/orders/:id/refund-eligibility", h.RefundEligibility)
		api.POST("/orders/:id/refunds", h.CreateRefund)
		api.GET("/orders/:id/refunds", h.ListOrderRefunds)
		api.GET("/refunds/:id", h.GetRefund)
	}

	admin := api.Group("/admin")
	admin.Use(auth.RequireRole(models.RoleAdmin))
	{
		admin.POST("/products", h.CreateProduct)
		admin.PATCH("/products/:id/stock", h.AdjustStock)
		admin.GET("/orders", h.ListOrders)
		admin.GET("/orders/:id", h.GetOrder)
		admin.PATCH("/orders/:id/status", h.UpdateOrderStatus)
		admin.PATCH("/orders/:id/delivery-status", h.UpdateDeliveryStatus)
		admin.PATCH("/orders/:id/payment", h.UpdateOrderPayment)
		admin.POST("/orders/:id/cancel", h.AdminCancelOrder)
		admin.POST("/orders/:id/reopen", h.ReopenOrder)
		admin.PATCH("/refunds/:id/status", h.UpdateRefundStatus)
		admin.PATCH("/refunds/:id/payment", h.UpdateRefundPayment)
	}

	r.NoRoute(func(c *gin.Context) {
		respondMessage(c, http.StatusNotFound, "Route not found.")
	})
	return r
}
