package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"tickethub/services"
)

type WebhookHandler struct {
	reconciler *services.ReconcileService
}

func NewWebhookHandler(reconciler *services.ReconcileService) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleWebhook handles POST /api/payments/{provider}/webhook. The response
// is always 2xx once the payload is read: providers treat non-2xx as a
// delivery failure and retry, and every transition here is idempotent anyway.
func (h *WebhookHandler) HandleWebhook(e *core.RequestEvent) error {
	providerName := e.Request.PathValue("provider")

	payload, err := io.ReadAll(e.Request.Body)
	if err != nil {
		log.Printf("webhook: read body from %s: %v", providerName, err)
		return e.JSON(http.StatusOK, map[string]any{"status": "ignored"})
	}

	if err := h.reconciler.HandleWebhook(e.Request.Context(), providerName, payload, e.Request.Header); err != nil {
		log.Printf("webhook: %s: %v", providerName, err)
		return e.JSON(http.StatusOK, map[string]any{"status": "ignored"})
	}

	return e.JSON(http.StatusOK, map[string]any{"status": "accepted"})
}
