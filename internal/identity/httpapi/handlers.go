// Package httpapi exposes the Identity Lifecycle service as the
// /v1/agents Gin routes.
package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/identity/models"
	"github.com/awebhq/aweb/internal/identity/service"
	"github.com/awebhq/aweb/internal/presence"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// Handlers binds the identity service to gin routes.
type Handlers struct {
	svc       *service.Service
	tenant    *tenantservice.Service
	presence  *presence.Index
	publicURL string
	log       *logger.Logger
}

func NewHandlers(svc *service.Service, tenant *tenantservice.Service, idx *presence.Index, publicURL string, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, tenant: tenant, presence: idx, publicURL: publicURL, log: log.WithFields()}
}

// Register wires every /v1/agents route onto rg, which must already carry
// the auth middleware.
func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.GET("/agents", h.list)
	rg.POST("/agents/heartbeat", h.heartbeat)
	rg.PATCH("/agents/:id", h.updateAccessPolicy)
	rg.POST("/agents/suggest-alias-prefix", h.suggestAliasPrefix)
	rg.GET("/agents/resolve/:slug/:alias", h.resolve)
	rg.PUT("/agents/:id/rotate", h.rotate)
	rg.PUT("/agents/:id/retire", h.retire)
	rg.DELETE("/agents/me", h.deregisterSelf)
	rg.DELETE("/agents/:slug/:alias", h.deregisterPeer)
	rg.GET("/agents/me/log", h.log)
}

func agentToJSON(a *models.Agent) gin.H {
	body := gin.H{
		"id":            a.ID,
		"alias":         a.Alias,
		"display_name":  a.DisplayName,
		"kind":          a.Kind,
		"access_policy": a.AccessPolicy,
		"lifetime":      a.Lifetime,
		"status":        a.Status,
		"created_at":    a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.DID != nil {
		body["did"] = *a.DID
	}
	if a.SuccessorAgentID != nil {
		body["successor_agent_id"] = *a.SuccessorAgentID
	}
	return body
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (h *Handlers) list(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	includeInternal := c.Query("include_internal") == "true"
	agents, err := h.svc.List(c.Request.Context(), tenantID, includeInternal)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(agents))
	for i, a := range agents {
		out[i] = agentToJSON(a)
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (h *Handlers) heartbeat(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	agent, err := h.svc.Heartbeat(c.Request.Context(), tenantID, actorID)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.presence != nil {
		if err := h.presence.Heartbeat(c.Request.Context(), agent.ID, agent.Alias, tenantID, "online"); err != nil {
			h.log.WithError(err).Warn("refresh agent presence")
		}
	}
	c.JSON(http.StatusOK, agentToJSON(agent))
}

func (h *Handlers) updateAccessPolicy(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	var req struct {
		AccessMode string `json:"access_mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	agent, err := h.svc.UpdateAccessPolicy(c.Request.Context(), tenantID, c.Param("id"), req.AccessMode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToJSON(agent))
}

func (h *Handlers) suggestAliasPrefix(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	prefix, err := h.svc.SuggestAliasPrefix(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prefix": prefix})
}

// resolve returns the public half of a cross-tenant identity: DID, public
// key, display name — never whether the agent holds an active credential.
func (h *Handlers) resolve(c *gin.Context) {
	agent, err := h.svc.ResolveBySlugAndAlias(c.Request.Context(), c.Param("slug"), c.Param("alias"))
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{
		"alias":        agent.Alias,
		"display_name": agent.DisplayName,
		"kind":         agent.Kind,
	}
	if agent.DID != nil {
		body["did"] = *agent.DID
	}
	if len(agent.PublicKey) > 0 {
		body["public_key"] = base64.RawURLEncoding.EncodeToString(agent.PublicKey)
	}
	if h.publicURL != "" {
		body["server_url"] = h.publicURL
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handlers) targetAgentID(c *gin.Context) string {
	id := c.Param("id")
	if id == "me" {
		return auth.ActorAgentIDFrom(c)
	}
	return id
}

// decodePublicKey accepts the raw key bytes as base64, tolerating both the
// url-safe no-pad alphabet used for signatures and standard base64.
func decodePublicKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	if raw, err := base64.RawURLEncoding.DecodeString(encoded); err == nil {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.ValidationError("new_public_key", "must be base64-encoded key bytes")
	}
	return raw, nil
}

// parseTimestamp returns the caller's RFC3339 timestamp, or now when the
// caller omitted it (the custodial sign-on-behalf path, where the server
// picks the instant it signs over).
func parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.ValidationError("timestamp", "must be an RFC3339 timestamp")
	}
	return t.UTC(), nil
}

func (h *Handlers) rotate(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	var req struct {
		NewDID            string `json:"new_did"`
		NewPublicKey      string `json:"new_public_key"`
		Custody           string `json:"custody"`
		RotationSignature string `json:"rotation_signature"`
		Timestamp         string `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	pub, err := decodePublicKey(req.NewPublicKey)
	if err != nil {
		writeError(c, err)
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		writeError(c, err)
		return
	}
	agent, err := h.svc.Rotate(c.Request.Context(), tenantID, h.targetAgentID(c), req.NewDID, pub, req.Custody, req.RotationSignature, ts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToJSON(agent))
}

func (h *Handlers) retire(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	var req struct {
		SuccessorAgentID string `json:"successor_agent_id" binding:"required"`
		RetirementProof  string `json:"retirement_proof"`
		Timestamp        string `json:"timestamp"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		writeError(c, err)
		return
	}
	agent, err := h.svc.Retire(c.Request.Context(), tenantID, h.targetAgentID(c), req.SuccessorAgentID, req.RetirementProof, ts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToJSON(agent))
}

func (h *Handlers) deregisterSelf(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	if err := h.svc.Deregister(c.Request.Context(), tenantID, actorID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) deregisterPeer(c *gin.Context) {
	tenant, err := h.tenant.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.DeregisterByAlias(c.Request.Context(), tenant.ID, c.Param("alias")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) log(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.svc.Log(c.Request.Context(), tenantID, actorID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(entries))
	for i, e := range entries {
		row := gin.H{
			"id":         e.ID,
			"operation":  e.Operation,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if e.PriorDID != nil {
			row["prior_did"] = *e.PriorDID
		}
		if e.NewDID != nil {
			row["new_did"] = *e.NewDID
		}
		out[i] = row
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}
