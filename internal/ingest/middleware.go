package ingest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"crm_ingest_backend/platform/apperr"
	"crm_ingest_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

const (
	// TokenHeader carries the provider's shared webhook token.
	TokenHeader = "X-Webhook-Token"
	// contextIntegrationKey is the gin context key for the authenticated
	// integration.
	contextIntegrationKey = "webhookIntegration"
)

// HashToken hashes a plaintext webhook token for storage and comparison.
// Only the hash is ever persisted.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// ProviderTokenAuth authenticates webhook deliveries: the :provider route
// param must name a configured integration and the token header must hash
// to its stored token hash. The integration row is fetched per request, so
// the enabled toggle is never cached across events; the fetched row is
// stashed on the context for the handler.
//
// A disabled integration still authenticates. Disabling means "ignore the
// events", not "reject the sender"; rejected deliveries would pile up in
// the provider's retry queue.
func ProviderTokenAuth(store IntegrationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
		if provider == "" {
			httpkit.Error(c, http.StatusNotFound, "unknown provider", nil)
			c.Abort()
			return
		}

		integration, err := store.GetIntegration(c.Request.Context(), provider)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				httpkit.Error(c, http.StatusNotFound, "unknown provider", nil)
			} else {
				httpkit.Error(c, http.StatusInternalServerError, "integration lookup failed", nil)
			}
			c.Abort()
			return
		}

		token := c.GetHeader(TokenHeader)
		if token == "" {
			httpkit.Error(c, http.StatusUnauthorized, "missing webhook token", nil)
			c.Abort()
			return
		}
		provided := HashToken(token)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(integration.TokenHash)) != 1 {
			httpkit.Error(c, http.StatusUnauthorized, "invalid webhook token", nil)
			c.Abort()
			return
		}

		c.Set(contextIntegrationKey, integration)
		c.Next()
	}
}

// integrationFromContext retrieves the integration stashed by the auth
// middleware.
func integrationFromContext(c *gin.Context) (Integration, bool) {
	v, ok := c.Get(contextIntegrationKey)
	if !ok {
		return Integration{}, false
	}
	integration, ok := v.(Integration)
	return integration, ok
}
