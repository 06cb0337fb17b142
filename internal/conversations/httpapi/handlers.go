// Package httpapi exposes the merged mail+chat conversations service as
// the GET /v1/conversations Gin route.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/conversations/models"
	"github.com/awebhq/aweb/internal/conversations/service"
)

// Handlers binds the conversations service to gin routes.
type Handlers struct {
	svc *service.Service
	log *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, log: log.WithFields()}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.GET("/conversations", h.list)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func conversationJSON(conv models.Conversation) gin.H {
	row := gin.H{
		"kind":            conv.Kind,
		"conversation_id": conv.ConversationID,
		"participants":    conv.Participants,
		"last_message_at": conv.LastMessageAt.UTC().Format(time.RFC3339),
		"last_from":       conv.LastMessageFrom,
		"preview":         conv.LastMessagePreview,
		"unread_count":    conv.UnreadCount,
	}
	if conv.Subject != "" {
		row["subject"] = conv.Subject
	}
	return row
}

func (h *Handlers) list(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	actorID := auth.ActorAgentIDFrom(c)
	if actorID == "" {
		writeError(c, apperr.AuthRequired("credential is not bound to an agent"))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	page, err := h.svc.List(c.Request.Context(), tenantID, actorID, c.Query("cursor"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]gin.H, len(page.Conversations))
	for i, conv := range page.Conversations {
		out[i] = conversationJSON(conv)
	}
	resp := gin.H{"conversations": out}
	if page.NextCursor != "" {
		resp["next_cursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}
