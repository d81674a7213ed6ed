package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"tickethub/internal/status"
	"tickethub/services"
)

type OrderHandler struct {
	orders *services.OrderService
}

func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// GetOrder handles GET /api/orders/{id}.
func (h *OrderHandler) GetOrder(e *core.RequestEvent) error {
	orderID := e.Request.PathValue("id")

	order, tickets, err := h.orders.GetOrderWithTickets(e.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, status.ErrOrderNotFound) {
			return apis.NewNotFoundError("Order not found", nil)
		}
		return apis.NewInternalServerError("internal error", err)
	}

	if e.Auth != nil && order.BuyerID != "" && order.BuyerID != e.Auth.Id {
		return apis.NewForbiddenError("Access denied", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"order":   order,
		"tickets": tickets,
	})
}
