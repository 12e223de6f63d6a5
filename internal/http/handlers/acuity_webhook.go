package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/wolfman30/exam-scheduling/internal/acuity"
	"github.com/wolfman30/exam-scheduling/internal/apperr"
	"github.com/wolfman30/exam-scheduling/internal/bookings"
	"github.com/wolfman30/exam-scheduling/internal/http/middleware"
	"github.com/wolfman30/exam-scheduling/pkg/logging"
)

// WebhookProcessor folds provider notifications into bookings.
type WebhookProcessor interface {
	HandleProviderWebhook(ctx context.Context, payload []byte, signature string) (*bookings.WebhookResult, error)
}

// AcuityWebhookHandler receives appointment notifications from the scheduling provider.
type AcuityWebhookHandler struct {
	processor WebhookProcessor
	logger    *logging.Logger
}

func NewAcuityWebhookHandler(processor WebhookProcessor, logger *logging.Logger) *AcuityWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AcuityWebhookHandler{processor: processor, logger: logger}
}

// Handle verifies and applies one notification.
// POST /webhooks/acuity
func (h *AcuityWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		middleware.WriteError(w, apperr.Wrap(err, apperr.KindValidation, "Invalid request body"))
		return
	}
	result, err := h.processor.HandleProviderWebhook(r.Context(), payload, r.Header.Get(acuity.SignatureHeader))
	if err != nil {
		if apperr.StatusFor(apperr.KindOf(err)) >= http.StatusInternalServerError {
			h.logger.Error("acuity webhook failed", "error", err)
		}
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, result)
}
