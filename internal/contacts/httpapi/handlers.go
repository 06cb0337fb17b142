// Package httpapi exposes the Contact Gate service as the /v1/contacts
// Gin routes.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/contacts/models"
	"github.com/awebhq/aweb/internal/contacts/service"
)

// Handlers binds the contacts service to gin routes.
type Handlers struct {
	svc *service.Service
	log *logger.Logger
}

func NewHandlers(svc *service.Service, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, log: log.WithFields()}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/contacts", h.add)
	rg.GET("/contacts", h.list)
	rg.DELETE("/contacts/:id", h.remove)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func contactJSON(c *models.Contact) gin.H {
	return gin.H{
		"id":         c.ID,
		"address":    c.Address,
		"label":      c.Label,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handlers) add(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	var req struct {
		Address string `json:"address" binding:"required"`
		Label   string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}
	contact, err := h.svc.Add(c.Request.Context(), tenantID, req.Address, req.Label)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contactJSON(contact))
}

func (h *Handlers) list(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	contacts, err := h.svc.List(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]gin.H, len(contacts))
	for i, ct := range contacts {
		out[i] = contactJSON(ct)
	}
	c.JSON(http.StatusOK, gin.H{"contacts": out})
}

func (h *Handlers) remove(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	if err := h.svc.Remove(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
