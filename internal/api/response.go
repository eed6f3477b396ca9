package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/safar/order-lifecycle/internal/database"
	"github.com/safar/order-lifecycle/internal/lifecycle"
	"github.com/safar/order-lifecycle/internal/logging"
	"github.com/safar/order-lifecycle/internal/service"
)

const internalErrorMessage = "Something went wrong on our side. Please try again later."

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respondJSON(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func respondMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: message})
}

// respondError maps err to a status code. Only rejections and known
// sentinels reach the client verbatim; anything else is logged and hidden.
func respondError(c *gin.Context, err error) {
	if r, ok := lifecycle.AsRejection(err); ok {
		respondMessage(c, http.StatusBadRequest, r.Message)
		return
	}

	switch {
	case errors.Is(err, database.ErrOrderNotFound):
		respondMessage(c, http.StatusNotFound, "Order not found.")
	case errors.Is(err, database.ErrRefundNotFound):
		respondMessage(c, http.StatusNotFound, "Refund not found.")
	case errors.Is(err, database.ErrProductNotFound):
		respondMessage(c, http.StatusNotFound, "Product not found.")
	case errors.Is(err, database.ErrUserNotFound):
		respondMessage(c, http.StatusNotFound, "User not found.")
	case errors.Is(err, service.ErrForbidden):
		respondMessage(c, http.StatusForbidden, "You do not have access to this resource.")
	case errors.Is(err, service.ErrConflict):
		respondMessage(c, http.StatusConflict, "This record was changed by another request. Please reload and try again.")
	case errors.Is(err, service.ErrDuplicateRequest):
		respondMessage(c, http.StatusConflict, "This request was already received.")
	default:
		logging.FromContext(c.Request.Context()).Error("request failed", zap.Error(err))
		respondMessage(c, http.StatusInternalServerError, internalErrorMessage)
	}
}
