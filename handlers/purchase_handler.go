package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"tickethub/internal/gateway"
	"tickethub/internal/status"
	"tickethub/services"
	"tickethub/utils"
)

type PurchaseHandler struct {
	orders *services.OrderService
}

func NewPurchaseHandler(orders *services.OrderService) *PurchaseHandler {
	return &PurchaseHandler{orders: orders}
}

// CreatePurchase handles POST /api/purchase.
func (h *PurchaseHandler) CreatePurchase(e *core.RequestEvent) error {
	var req services.PurchaseRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	if req.BuyerID == "" && e.Auth != nil {
		req.BuyerID = e.Auth.Id
	}

	result, err := h.orders.CreatePurchase(e.Request.Context(), &req)
	if err != nil {
		return purchaseError(err)
	}

	code := http.StatusCreated
	if result.Duplicate {
		code = http.StatusOK
	}
	return e.JSON(code, result)
}

func purchaseError(err error) error {
	switch {
	case errors.Is(err, status.ErrEventNotFound):
		return apis.NewNotFoundError("Event not found", nil)
	case errors.Is(err, status.ErrCapacityExhausted):
		return apis.NewApiError(http.StatusConflict, "Event is sold out", nil)
	case errors.Is(err, status.ErrLockTimeout):
		return apis.NewApiError(http.StatusServiceUnavailable, "Event is busy, retry shortly", nil)
	case errors.Is(err, utils.ErrCircuitOpen):
		return apis.NewApiError(http.StatusServiceUnavailable, "Payment provider unavailable", nil)
	case gateway.IsFatal(err):
		return apis.NewBadRequestError("Payment request rejected", err)
	case gateway.IsTransient(err):
		return apis.NewApiError(http.StatusBadGateway, "Payment provider unavailable", nil)
	default:
		log.Printf("purchase: %v", err)
		return apis.NewInternalServerError("internal error", nil)
	}
}
