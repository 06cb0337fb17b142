// Package httpapi exposes the Mail Pipeline service as the /v1/messages
// Gin routes.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/identity/repository"
	"github.com/awebhq/aweb/internal/mail/service"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// Handlers binds the mail service to gin routes.
type Handlers struct {
	svc      *service.Service
	identity repository.Repository
	tenant   *tenantservice.Service
	log      *logger.Logger
}

func NewHandlers(svc *service.Service, identity repository.Repository, tenant *tenantservice.Service, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, identity: identity, tenant: tenant, log: log.WithFields()}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/messages", h.send)
	rg.GET("/messages/inbox", h.inbox)
	rg.POST("/messages/:id/ack", h.ack)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (h *Handlers) send(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}

	var req struct {
		ToAlias   string `json:"to_alias" binding:"required"`
		Subject   string `json:"subject"`
		Body      string `json:"body" binding:"required"`
		Priority  string `json:"priority"`
		ThreadID  string `json:"thread_id"`
		Signature string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}

	sender, err := h.identity.GetAgentByID(c.Request.Context(), tenantID, actorID)
	if err != nil {
		writeError(c, err)
		return
	}

	// "slug/alias" addresses an agent in another tenant; a bare alias stays
	// in the sender's own.
	recipientTenantID := ""
	toAlias := req.ToAlias
	if idx := strings.Index(req.ToAlias, "/"); idx > 0 {
		slug, alias := req.ToAlias[:idx], req.ToAlias[idx+1:]
		target, err := h.tenant.GetBySlug(c.Request.Context(), slug)
		if err != nil {
			writeError(c, apperr.NotFound("agent", req.ToAlias))
			return
		}
		if target.ID != tenantID {
			recipientTenantID = target.ID
		}
		toAlias = alias
	}
	lookupTenantID := tenantID
	if recipientTenantID != "" {
		lookupTenantID = recipientTenantID
	}
	recipient, err := h.identity.GetAgentByAlias(c.Request.Context(), lookupTenantID, toAlias)
	if err != nil {
		writeError(c, err)
		return
	}

	var threadID *string
	if req.ThreadID != "" {
		threadID = &req.ThreadID
	}

	msg, err := h.svc.Deliver(c.Request.Context(), tenantID, service.DeliverInput{
		SenderAgentID:     sender.ID,
		SenderAlias:       sender.Alias,
		RecipientAgentID:  recipient.ID,
		RecipientTenantID: recipientTenantID,
		Subject:           req.Subject,
		Body:              req.Body,
		Priority:          req.Priority,
		ThreadID:          threadID,
		Signature:         req.Signature,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{
		"id":         msg.ID,
		"from_alias": msg.SenderAlias,
		"subject":    msg.Subject,
		"body":       msg.Body,
		"priority":   msg.Priority,
		"created_at": msg.CreatedAt.UTC().Format(time.RFC3339),
	}
	if msg.ThreadID != nil {
		resp["thread_id"] = *msg.ThreadID
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) inbox(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	unreadOnly := c.Query("unread_only") == "true"
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.svc.Inbox(c.Request.Context(), tenantID, actorID, unreadOnly, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(entries))
	for i, e := range entries {
		row := gin.H{
			"id":         e.Message.ID,
			"from_alias": e.Message.SenderAlias,
			"subject":    e.Message.Subject,
			"body":       e.Message.Body,
			"priority":   e.Message.Priority,
			"created_at": e.Message.CreatedAt.UTC().Format(time.RFC3339),
			"read":       e.Message.ReadAt != nil,
		}
		if e.Message.ThreadID != nil {
			row["thread_id"] = *e.Message.ThreadID
		}
		if e.Message.FromDID != nil {
			row["from_did"] = *e.Message.FromDID
		}
		if e.Message.ToDID != nil {
			row["to_did"] = *e.Message.ToDID
		}
		if e.Message.Signature != nil {
			row["signature"] = *e.Message.Signature
		}
		if e.Message.SigningKeyID != nil {
			row["signing_key_id"] = *e.Message.SigningKeyID
		}
		if e.Announcement != nil {
			row["rotation_announcement"] = gin.H{
				"prior_did": e.Announcement.PriorDID,
				"new_did":   e.Announcement.NewDID,
				"rotated_at": e.Announcement.RotatedAt.UTC().Format(time.RFC3339),
			}
		}
		out[i] = row
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (h *Handlers) ack(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}
	if err := h.svc.Acknowledge(c.Request.Context(), tenantID, actorID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
