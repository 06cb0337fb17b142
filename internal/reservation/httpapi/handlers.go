// Package httpapi exposes the Reservation Manager service as the
// /v1/reservations Gin routes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/identity/repository"
	"github.com/awebhq/aweb/internal/reservation/models"
	"github.com/awebhq/aweb/internal/reservation/service"
)

// Handlers binds the reservation service to gin routes.
type Handlers struct {
	svc      *service.Service
	identity repository.Repository
	log      *logger.Logger
}

func NewHandlers(svc *service.Service, identity repository.Repository, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, identity: identity, log: log.WithFields()}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/reservations", h.acquire)
	rg.POST("/reservations/renew", h.renew)
	rg.POST("/reservations/release", h.release)
	rg.POST("/reservations/revoke", h.revoke)
	rg.GET("/reservations", h.list)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (h *Handlers) actor(c *gin.Context) (id, alias string, err error) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		return "", "", apperr.AuthRequired("credential is not bound to an agent")
	}
	agent, err := h.identity.GetAgentByID(c.Request.Context(), tenantID, actorID)
	if err != nil {
		return "", "", err
	}
	return agent.ID, agent.Alias, nil
}

func (h *Handlers) acquire(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID, actorAlias, err := h.actor(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		ResourceKey string         `json:"resource_key" binding:"required"`
		TTLSeconds  int            `json:"ttl_seconds"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	result, err := h.svc.Acquire(c.Request.Context(), tenantID, actorID, actorAlias, req.ResourceKey, req.TTLSeconds, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":      "acquired",
		"acquired_at": result.AcquiredAt.UTC().Format(time.RFC3339),
		"expires_at":  result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) renew(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID, _, err := h.actor(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		ResourceKey string `json:"resource_key" binding:"required"`
		TTLSeconds  int    `json:"ttl_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	expiresAt, err := h.svc.Renew(c.Request.Context(), tenantID, actorID, req.ResourceKey, req.TTLSeconds)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expires_at": expiresAt.UTC().Format(time.RFC3339)})
}

func (h *Handlers) release(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID, _, err := h.actor(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req struct {
		ResourceKey string `json:"resource_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if err := h.svc.Release(c.Request.Context(), tenantID, actorID, req.ResourceKey); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) revoke(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	count, err := h.svc.Revoke(c.Request.Context(), tenantID, req.Prefix)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": count})
}

func reservationJSON(r *models.Reservation) gin.H {
	return gin.H{
		"resource_key": r.ResourceKey,
		"holder_id":    r.HolderAgentID,
		"holder_alias": r.HolderAlias,
		"acquired_at":  r.AcquiredAt.UTC().Format(time.RFC3339),
		"expires_at":   r.ExpiresAt.UTC().Format(time.RFC3339),
		"metadata":     r.Metadata,
	}
}

func (h *Handlers) list(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	reservations, err := h.svc.List(c.Request.Context(), tenantID, c.Query("prefix"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(reservations))
	for i, r := range reservations {
		out[i] = reservationJSON(r)
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out})
}
