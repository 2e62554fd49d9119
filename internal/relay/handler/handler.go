package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/internal/portal"
	apperrors "github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/lead-relay/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Processor runs one webhook through the pipeline.
type Processor interface {
	Process(ctx context.Context, adapter portal.Adapter, header http.Header, body []byte) (*pipeline.Result, error)
}

type Handler struct {
	pipeline Processor
	audit    *audit.Logger
	logger   *slog.Logger
}

// New returns the webhook handler. The audit logger may be nil.
func New(p Processor, auditLog *audit.Logger) *Handler {
	return &Handler{
		pipeline: p,
		audit:    auditLog,
		logger:   slog.Default().With("component", "webhook-handler"),
	}
}

// WebhookResponse is the body of every webhook answer.
type WebhookResponse struct {
	Success  bool   `json:"success"`
	Ignored  bool   `json:"ignored,omitempty"`
	Deduped  bool   `json:"deduped,omitempty"`
	PersonID int64  `json:"pipedrive_person_id,omitempty"`
	DealID   int64  `json:"pipedrive_deal_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Webhook serves POSTs for one portal. The body is read raw so signatures
// can be checked over the exact bytes.
func (h *Handler) Webhook(adapter portal.Adapter) http.HandlerFunc {
	name := string(adapter.Portal())
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithPortal(r.Context(), name)
		log := logger.FromContext(ctx)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			log.Error("reading webhook body failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "reading request body: "+err.Error())
			return
		}

		res, err := h.pipeline.Process(ctx, adapter, r.Header, body)
		if err != nil {
			statusCode := apperrors.HTTPStatusCode(err)
			log.Error("webhook failed",
				"error", err,
				"status_code", statusCode,
			)
			h.audit.Log("webhook failed", map[string]any{
				"portal":     name,
				"status":     statusCode,
				"error":      err.Error(),
				"request_id": logger.RequestID(ctx),
			})
			h.writeError(w, statusCode, err.Error())
			return
		}

		resp := WebhookResponse{
			Success:  true,
			Ignored:  res.Outcome == pipeline.OutcomeIgnored,
			Deduped:  res.Outcome == pipeline.OutcomeDeduped,
			PersonID: res.PersonID,
			DealID:   res.DealID,
		}
		h.audit.Log("webhook "+string(res.Outcome), map[string]any{
			"portal":     name,
			"person_id":  res.PersonID,
			"deal_id":    res.DealID,
			"request_id": logger.RequestID(ctx),
		})
		h.writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, WebhookResponse{Success: false, Error: message})
}
