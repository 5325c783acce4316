package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm_ingest_backend/platform/httpkit"
	"crm_ingest_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxWebhookBody bounds inbound payload size. Portal payloads are a few KB;
// anything near the cap is not a lead notification.
const maxWebhookBody = 1 << 20

// Handler handles webhook and admin HTTP requests for the ingest module.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates an ingest handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// HandleWebhook ingests one provider delivery.
// POST /api/v1/webhooks/:provider
// Authenticated by ProviderTokenAuth.
func (h *Handler) HandleWebhook(c *gin.Context) {
	integration, ok := integrationFromContext(c)
	if !ok {
		httpkit.Error(c, http.StatusInternalServerError, "no integration context", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "could not read request body", nil)
		return
	}
	if len(body) > maxWebhookBody {
		httpkit.Error(c, http.StatusRequestEntityTooLarge, "payload too large", nil)
		return
	}

	result, err := h.service.Process(c.Request.Context(), integration, body, flattenHeaders(c))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// flattenHeaders captures request headers as first-value strings for the
// ledger. The webhook token is redacted; everything else may matter for
// replay diagnosis.
func flattenHeaders(c *gin.Context) map[string]string {
	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) == 0 {
			continue
		}
		if strings.EqualFold(name, TokenHeader) {
			headers[name] = "[redacted]"
			continue
		}
		headers[name] = values[0]
	}
	return headers
}

// ---- Admin: integrations ----

// IntegrationResponse is the admin view of a provider integration.
type IntegrationResponse struct {
	Provider    string    `json:"provider"`
	DisplayName string    `json:"displayName"`
	Enabled     bool      `json:"enabled"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HandleListIntegrations lists provider integrations.
// GET /api/v1/admin/integrations
func (h *Handler) HandleListIntegrations(c *gin.Context) {
	list, err := h.service.ListIntegrations(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]IntegrationResponse, 0, len(list))
	for _, integration := range list {
		out = append(out, IntegrationResponse{
			Provider:    integration.Provider,
			DisplayName: integration.DisplayName,
			Enabled:     integration.Enabled,
			UpdatedAt:   integration.UpdatedAt,
		})
	}
	httpkit.OK(c, gin.H{"integrations": out})
}

// UpdateIntegrationRequest toggles a provider.
type UpdateIntegrationRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// HandleUpdateIntegration sets the enabled flag for a provider.
// PUT /api/v1/admin/integrations/:provider
func (h *Handler) HandleUpdateIntegration(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))

	var req UpdateIntegrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	if err := h.service.SetIntegrationEnabled(c.Request.Context(), provider, *req.Enabled); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"provider": provider, "enabled": *req.Enabled})
}

// ---- Admin: event ledger ----

// EventSummaryResponse is one ledger row in a listing (payload omitted).
type EventSummaryResponse struct {
	ID              uuid.UUID         `json:"id"`
	Provider        string            `json:"provider"`
	ExternalEventID *string           `json:"externalEventId,omitempty"`
	IdempotencyKey  string            `json:"idempotencyKey"`
	EventType       string            `json:"eventType"`
	Status          EventStatus       `json:"status"`
	Result          *ProcessingResult `json:"processingResult,omitempty"`
	ErrorMessage    *string           `json:"errorMessage,omitempty"`
	ReceivedAt      time.Time         `json:"receivedAt"`
	ProcessedAt     *time.Time        `json:"processedAt,omitempty"`
}

// HandleListEvents pages the event ledger.
// GET /api/v1/admin/webhook-events?provider=&status=&limit=&offset=
func (h *Handler) HandleListEvents(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Query("provider")))
	status := EventStatus(strings.TrimSpace(c.Query("status")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.service.ListEvents(c.Request.Context(), provider, status, limit, offset)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]EventSummaryResponse, 0, len(events))
	for _, event := range events {
		out = append(out, summarizeEvent(event))
	}
	httpkit.OK(c, gin.H{"events": out})
}

// EventDetailResponse is one ledger row with its payload and headers.
type EventDetailResponse struct {
	EventSummaryResponse
	Payload json.RawMessage   `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HandleGetEvent returns one ledger row for inspection.
// GET /api/v1/admin/webhook-events/:eventId
func (h *Handler) HandleGetEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("eventId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid event ID", nil)
		return
	}

	event, err := h.service.GetEvent(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, EventDetailResponse{
		EventSummaryResponse: summarizeEvent(event),
		Payload:              json.RawMessage(event.Payload),
		Headers:              event.Headers,
	})
}

func summarizeEvent(event InboundEvent) EventSummaryResponse {
	return EventSummaryResponse{
		ID:              event.ID,
		Provider:        event.Provider,
		ExternalEventID: event.ExternalEventID,
		IdempotencyKey:  event.IdempotencyKey,
		EventType:       event.EventType,
		Status:          event.Status,
		Result:          event.ProcessingResult,
		ErrorMessage:    event.ErrorMessage,
		ReceivedAt:      event.ReceivedAt,
		ProcessedAt:     event.ProcessedAt,
	}
}
