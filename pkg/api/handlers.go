// Package api is the gin HTTP surface of spec.md §6: discovery, fetch,
// list, resolve, and trust-mark status endpoints, plus the health and
// metrics endpoints, grounded on the teacher's pkg/api route-registration
// idiom.
package api

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/logging"
	"github.com/SUNET/fed-trust/pkg/message"
	"github.com/SUNET/fed-trust/pkg/statement"
	"github.com/SUNET/fed-trust/pkg/store"
)

// boolQueryParam parses a gin query parameter as *bool: absent stays nil
// (matches anything), "true"/"1" and "false"/"0" set the pointer.
func boolQueryParam(c *gin.Context, name string) *bool {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	v := raw == "true" || raw == "1"
	return &v
}

// RegisterAPIRoutes registers the federation HTTP surface of spec.md §6 on
// r, following the teacher's RegisterAPIRoutes(r, serverCtx) idiom
// (pkg/api/api.go): discovery, fetch, list, resolve, and trust-mark
// status endpoints, each logging through serverCtx's structured Logger.
func RegisterAPIRoutes(r *gin.Engine, serverCtx *ServerContext) {
	r.GET("/.well-known/openid-federation", discoveryHandler(serverCtx))
	r.GET("/fetch", fetchHandler(serverCtx))
	r.GET("/list", listHandler(serverCtx))
	r.GET("/resolve", resolveHandler(serverCtx))
	r.GET("/trust-mark-status", trustMarkStatusHandler(serverCtx))
	r.POST("/trust-mark-status", trustMarkStatusHandler(serverCtx))
}

// discoveryHandler serves this entity's own signed entity configuration at
// the well-known path spec.md §6 names.
//
// @Summary Get entity configuration
// @Description Returns this entity's self-signed entity configuration
// @Description
// @Description The response is a compact JWS with typ=entity-statement+jwt,
// @Description not JSON; decode and verify it to read the claims.
// @Tags Federation
// @Produce application/entity-statement+jwt
// @Success 200 {string} string "compact JWS entity configuration"
// @Router /.well-known/openid-federation [get]
func discoveryHandler(serverCtx *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		metadata := serverCtx.metadataSnapshot()
		compact, err := serverCtx.Federation.EntityConfiguration(metadata)
		if err != nil {
			serverCtx.Logger.Error("discovery: failed to sign entity configuration",
				logging.F("error", err.Error()))
			if serverCtx.Metrics != nil {
				serverCtx.Metrics.RecordError("sign_error", "discovery")
			}
			c.String(500, "internal error")
			return
		}
		c.Data(200, "application/entity-statement+jwt", []byte(compact))
	}
}

// fetchHandler issues a subordinate statement about the entity named by
// the `sub` query parameter, per spec.md §6's federation fetch endpoint.
// When a subordinate registry is configured, the subject must be listed in
// it; without one, any subject is accepted. The subject must currently
// publish its own entity configuration (its jwks is embedded in the
// resulting statement).
//
// @Summary Fetch a subordinate statement
// @Description Issues a signed subordinate statement about the entity named by sub
// @Tags Federation
// @Param sub query string true "entity_id of the subordinate"
// @Produce application/entity-statement+jwt
// @Success 200 {string} string "compact JWS subordinate statement"
// @Failure 400 {object} map[string]string "sub missing"
// @Failure 404 {object} map[string]string "sub not a known subordinate"
// @Failure 502 {object} map[string]string "subordinate unreachable"
// @Router /fetch [get]
func fetchHandler(serverCtx *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.Query("sub")
		if subject == "" {
			c.JSON(400, gin.H{"error": "sub is required"})
			return
		}
		fc := serverCtx.Federation

		if serverCtx.Subordinates != nil {
			known, err := serverCtx.Subordinates.List("", nil, nil, "")
			if err != nil {
				serverCtx.Logger.Error("fetch: subordinate registry lookup failed", logging.F("error", err.Error()))
				c.JSON(500, gin.H{"error": "internal error"})
				return
			}
			recognized := false
			for _, id := range known {
				if id == subject {
					recognized = true
					break
				}
			}
			if !recognized {
				c.JSON(404, gin.H{"error": "unknown subordinate"})
				return
			}
		}

		subjectConfig, _, err := fc.Collector.GetEntityConfiguration(c.Request.Context(), subject)
		if err != nil || subjectConfig == nil {
			serverCtx.Logger.Warn("fetch: could not retrieve subordinate's own configuration",
				logging.F("sub", subject))
			c.JSON(502, gin.H{"error": "could not reach subordinate"})
			return
		}

		compact, err := statement.CreateSubordinateStatement(statement.SubordinateStatementInput{
			Issuer:      fc.EntityID,
			Subject:     subject,
			SigningKey:  fc.SigningKey,
			SubjectJWKS: subjectConfig.JWKS,
		})
		if err != nil {
			serverCtx.Logger.Error("fetch: failed to sign subordinate statement", logging.F("error", err.Error()))
			c.JSON(500, gin.H{"error": "internal error"})
			return
		}
		c.Data(200, "application/entity-statement+jwt", []byte(compact))
	}
}

// listHandler answers spec.md §6's federation list endpoint: a JSON array
// of subordinate entity identifiers, filtered by the given query params.
//
// @Summary List subordinates
// @Description Returns the entity_ids of this entity's known subordinates
// @Tags Federation
// @Param entity_type query string false "filter by entity type"
// @Param intermediate query bool false "filter by intermediate status"
// @Param trust_marked query bool false "filter by presence of a trust mark"
// @Param trust_mark_id query string false "filter by specific trust_mark_id"
// @Produce json
// @Success 200 {array} string
// @Router /list [get]
func listHandler(serverCtx *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serverCtx.Subordinates == nil {
			c.JSON(200, []string{})
			return
		}
		ids, err := serverCtx.Subordinates.List(
			c.Query("entity_type"),
			boolQueryParam(c, "intermediate"),
			boolQueryParam(c, "trust_marked"),
			c.Query("trust_mark_id"),
		)
		if err != nil {
			serverCtx.Logger.Error("list: registry query failed", logging.F("error", err.Error()))
			c.JSON(500, gin.H{"error": "internal error"})
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(200, ids)
	}
}

// resolveHandler answers spec.md §4.6/§6's resolve endpoint: discover,
// verify, apply policy, verify marks, and sign the composite response.
//
// @Summary Resolve trust for an entity
// @Description Discovers, verifies, and returns a signed resolve-response
// @Description
// @Description Runs the full discover/verify/apply-policy/verify-marks/sign
// @Description pipeline against the requested subject and trust_anchor.
// @Tags Federation
// @Param sub query string true "entity_id to resolve"
// @Param trust_anchor query string true "entity_id of the recognized anchor to resolve against"
// @Param type query string false "restrict the result to one metadata type"
// @Produce application/resolve-response+jwt
// @Success 200 {string} string "compact JWS resolve-response"
// @Failure 400 {object} map[string]string "missing/invalid request"
// @Failure 404 {object} map[string]string "no verified chain for trust_anchor"
// @Router /resolve [get]
func resolveHandler(serverCtx *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := message.ResolveRequest{
			Subject:     c.Query("sub"),
			TrustAnchor: c.Query("trust_anchor"),
			Type:        c.Query("type"),
		}
		start := time.Now()
		resp, err := serverCtx.Federation.Resolver.Resolve(c.Request.Context(), req)
		if err != nil {
			serverCtx.Logger.Warn("resolve: request rejected",
				logging.F("sub", req.Subject), logging.F("trust_anchor", req.TrustAnchor), logging.F("error", err.Error()))
			if serverCtx.Metrics != nil {
				serverCtx.Metrics.RecordError("resolve_error", "resolve")
			}
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if serverCtx.Metrics != nil {
			serverCtx.Metrics.RecordResolve(time.Since(start), resp != nil)
		}
		if resp == nil {
			c.JSON(404, gin.H{"error": "no verified trust chain found for requested trust_anchor"})
			return
		}
		serverCtx.Lock()
		serverCtx.LastResolved = time.Now()
		serverCtx.Unlock()

		compact, err := serverCtx.Federation.Resolver.SignResponse(resp)
		if err != nil {
			serverCtx.Logger.Error("resolve: failed to sign response", logging.F("error", err.Error()))
			c.JSON(500, gin.H{"error": "internal error"})
			return
		}
		c.Data(200, "application/resolve-response+jwt", []byte(compact))
	}
}

// decodeTrustMarkClaims extracts the iss/trust_mark_id/iat of a trust mark,
// either directly from req.TrustMark or from req.Subject/TrustMarkID/
// IssuedAt, so the status key can be built either way (spec.md §6: the
// endpoint accepts `{trust_mark}` or `{sub, trust_mark_id, iat?}`).
func decodeTrustMarkClaims(req message.TrustMarkStatusRequest) (issuer, subject, trustMarkID string, issuedAt int64, err error) {
	if req.TrustMark != "" {
		payload, decodeErr := jwx.UnverifiedPayload(req.TrustMark)
		if decodeErr != nil {
			return "", "", "", 0, decodeErr
		}
		var mark message.TrustMark
		if decodeErr := json.Unmarshal(payload, &mark); decodeErr != nil {
			return "", "", "", 0, decodeErr
		}
		return mark.Issuer, mark.Subject, mark.TrustMarkID, mark.IssuedAt, nil
	}
	return "", req.Subject, req.TrustMarkID, 0, nil
}

// trustMarkStatusHandler answers spec.md §6's trust-mark status endpoint
// for marks this entity itself issued, backed by ServerContext's
// TrustMarkStatusStore.
//
// @Summary Check trust mark status
// @Description Reports whether a previously issued trust mark is still active
// @Tags Federation
// @Param sub query string false "subject the trust mark was issued to"
// @Param trust_mark_id query string false "trust_mark_id to check"
// @Param trust_mark query string false "the trust mark itself, as a compact JWS"
// @Param iat query int false "issued-at of the specific mark instance to check"
// @Produce json
// @Success 200 {object} message.TrustMarkStatusResponse
// @Failure 400 {object} map[string]string "must supply trust_mark, or sub and trust_mark_id"
// @Router /trust-mark-status [get]
// @Router /trust-mark-status [post]
func trustMarkStatusHandler(serverCtx *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req message.TrustMarkStatusRequest
		if c.Request.Method == "POST" {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "invalid request body"})
				return
			}
		} else {
			req = message.TrustMarkStatusRequest{
				Subject:     c.Query("sub"),
				TrustMarkID: c.Query("trust_mark_id"),
				TrustMark:   c.Query("trust_mark"),
			}
			if iatRaw := c.Query("iat"); iatRaw != "" {
				if iat, err := strconv.ParseInt(iatRaw, 10, 64); err == nil {
					req.IssuedAt = &iat
				}
			}
		}
		if !req.Valid() {
			c.JSON(400, gin.H{"error": "must supply trust_mark, or sub and trust_mark_id"})
			return
		}

		issuer, subject, trustMarkID, issuedAt, err := decodeTrustMarkClaims(req)
		if err != nil {
			c.JSON(400, gin.H{"error": "could not decode trust mark"})
			return
		}
		if issuer == "" {
			issuer = serverCtx.Federation.EntityID
		}
		if req.IssuedAt != nil {
			issuedAt = *req.IssuedAt
		}

		active := false
		if serverCtx.TrustMarkStats != nil {
			active = serverCtx.TrustMarkStats.IsActive(store.TrustMarkStatusKey(issuer, trustMarkID, issuedAt))
		}
		if serverCtx.Metrics != nil {
			serverCtx.Metrics.RecordTrustMarkVerification(active)
		}

		serverCtx.Logger.Debug("trust mark status check",
			logging.F("sub", subject), logging.F("trust_mark_id", trustMarkID), logging.F("active", active))
		c.JSON(200, message.TrustMarkStatusResponse{Active: active})
	}
}
