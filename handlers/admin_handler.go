package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"

	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/services"
)

type AdminHandler struct {
	store               store.Store
	reconciler          *services.ReconcileService
	settlementTokenHash string
}

func NewAdminHandler(st store.Store, reconciler *services.ReconcileService, settlementTokenHash string) *AdminHandler {
	return &AdminHandler{
		store:               st,
		reconciler:          reconciler,
		settlementTokenHash: settlementTokenHash,
	}
}

// ConfirmSettlement handles POST /api/admin/orders/{id}/settle. Guarded by a
// shared settlement token checked against its bcrypt hash; superusers pass
// without one.
func (h *AdminHandler) ConfirmSettlement(e *core.RequestEvent) error {
	if !h.authorized(e) {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	orderID := e.Request.PathValue("id")
	order, err := h.reconciler.ConfirmManualSettlement(e.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, status.ErrOrderNotFound) {
			return apis.NewNotFoundError("Order not found", nil)
		}
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	})
}

// GetCapacity handles GET /api/admin/events/{id}/capacity: the live counters
// plus the ledger sum for drift inspection.
func (h *AdminHandler) GetCapacity(e *core.RequestEvent) error {
	if !h.authorized(e) {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("id")
	ctx := e.Request.Context()

	event, err := h.store.GetEvent(ctx, eventID)
	if err != nil {
		return apis.NewNotFoundError("Event not found", nil)
	}

	ledgerSum, err := h.store.SumCapacityLog(ctx, eventID)
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}
	issued, err := h.store.CountCapacityTickets(ctx, eventID)
	if err != nil {
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id":           event.ID,
		"capacity_total":     event.CapacityTotal,
		"capacity_available": event.CapacityAvailable,
		"ledger_sum":         ledgerSum,
		"tickets_issued":     issued,
	})
}

func (h *AdminHandler) authorized(e *core.RequestEvent) bool {
	if e.Auth != nil && e.Auth.IsSuperuser() {
		return true
	}
	if h.settlementTokenHash == "" {
		return false
	}
	token := e.Request.Header.Get("X-Settlement-Token")
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h.settlementTokenHash), []byte(token)) == nil
}
