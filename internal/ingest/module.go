// Package ingest module wiring: this file assembles the bounded context and
// registers its routes.
package ingest

import (
	apphttp "crm_ingest_backend/internal/http"
	"crm_ingest_backend/platform/config"
	"crm_ingest_backend/platform/httpkit"
	"crm_ingest_backend/platform/logger"
	"crm_ingest_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
)

// Module is the webhook ingestion bounded context implementing http.Module.
type Module struct {
	handler *Handler
	repo    *Repository
	limiter *httpkit.IPRateLimiter
}

// NewModule creates and initializes the ingest module with all its
// dependencies.
func NewModule(pool *pgxpool.Pool, cfg config.IngestConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	service := NewService(repo, cfg, log)
	handler := NewHandler(service, val)
	limiter := httpkit.NewIPRateLimiter(rate.Limit(cfg.GetWebhookRateRPS()), cfg.GetWebhookRateBurst(), log)

	return &Module{
		handler: handler,
		repo:    repo,
		limiter: limiter,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "ingest"
}

// Repository exposes the store for composition-root needs (health checks).
func (m *Module) Repository() *Repository {
	return m.repo
}

// RegisterRoutes mounts ingest routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Public webhook intake (provider token auth, rate limited)
	webhooks := ctx.V1.Group("/webhooks")
	webhooks.Use(m.limiter.RateLimit())
	webhooks.Use(ProviderTokenAuth(m.repo))
	webhooks.POST("/:provider", m.handler.HandleWebhook)

	// Operator surface: integration toggles and ledger inspection
	ctx.Admin.GET("/integrations", m.handler.HandleListIntegrations)
	ctx.Admin.PUT("/integrations/:provider", m.handler.HandleUpdateIntegration)
	ctx.Admin.GET("/webhook-events", m.handler.HandleListEvents)
	ctx.Admin.GET("/webhook-events/:eventId", m.handler.HandleGetEvent)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
