package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SUNET/fed-trust/pkg/logging"
)

// HealthResponse is returned by the liveness probe.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is returned by the readiness probe.
type ReadinessResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	TrustAnchors int       `json:"trust_anchors"`
	LastResolved string    `json:"last_resolved,omitempty"`
	Ready        bool      `json:"ready"`
	Message      string    `json:"message,omitempty"`
}

// RegisterHealthEndpoints registers liveness and readiness probes on r,
// following the teacher's pkg/api/health.go idiom.
//
// Endpoints:
//
//	GET /health, /healthz - liveness: 200 if the process is running
//	GET /ready, /readiness - readiness: 200 once a signing key and at
//	                         least one trust anchor are configured
func RegisterHealthEndpoints(r *gin.Engine, serverCtx *ServerContext) {
	r.GET("/health", HealthHandler(serverCtx))
	r.GET("/healthz", HealthHandler(serverCtx))
	r.GET("/ready", ReadinessHandler(serverCtx))
	r.GET("/readiness", ReadinessHandler(serverCtx))

	serverCtx.Logger.Info("health check endpoints registered",
		logging.F("endpoints", []string{"/health", "/healthz", "/ready", "/readiness"}))
}

// HealthHandler always reports ok: it answers "is the process alive",
// not "is it useful yet" (that's ReadinessHandler).
func HealthHandler(serverCtx *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		serverCtx.Logger.Debug("health check requested", logging.F("remote_ip", c.ClientIP()))
		c.JSON(200, HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
		})
	}
}

// ReadinessHandler reports ready once the FederationContext has a signing
// key and at least one trust anchor configured — the minimum needed to
// serve discovery and resolve meaningfully. There is no pipeline to warm
// up in this core, so readiness does not depend on having served traffic
// yet.
func ReadinessHandler(serverCtx *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		fc := serverCtx.Federation

		serverCtx.RLock()
		lastResolved := serverCtx.LastResolved
		serverCtx.RUnlock()

		anchorCount := 0
		hasSigningKey := false
		if fc != nil {
			anchorCount = len(fc.TrustAnchors)
			hasSigningKey = fc.SigningKey.Key != nil
		}

		ready := fc != nil && hasSigningKey && anchorCount > 0

		response := ReadinessResponse{
			Timestamp:    time.Now(),
			TrustAnchors: anchorCount,
			Ready:        ready,
		}
		if !lastResolved.IsZero() {
			response.LastResolved = lastResolved.Format(time.RFC3339)
		}

		if ready {
			response.Status = "ready"
			response.Message = "service is ready to accept traffic"
			c.JSON(200, response)
			return
		}

		response.Status = "not_ready"
		switch {
		case fc == nil:
			response.Message = "federation context not initialized"
		case !hasSigningKey:
			response.Message = "no signing key installed"
		default:
			response.Message = "no trust anchors configured"
		}
		serverCtx.Logger.Warn("readiness check failed", logging.F("reason", response.Message))
		c.JSON(503, response)
	}
}
