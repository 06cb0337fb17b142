// Package authapi exposes GET /v1/auth/introspect and GET /v1/projects/current,
// the two routes that let a caller confirm what credential it is presenting
// without touching any domain service.
package authapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// Handlers binds introspection and current-project lookup to gin routes.
type Handlers struct {
	identity identityrepo.Repository
	tenant   *tenantservice.Service
	log      *logger.Logger
}

func NewHandlers(identity identityrepo.Repository, tenant *tenantservice.Service, log *logger.Logger) *Handlers {
	return &Handlers{identity: identity, tenant: tenant, log: log.WithFields()}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.GET("/auth/introspect", h.introspect)
	rg.GET("/projects/current", h.currentProject)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (h *Handlers) introspect(c *gin.Context) {
	result, err := auth.Introspect(c, h.identity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) currentProject(c *gin.Context) {
	tenantID := auth.TenantIDFrom(c)
	tenant, err := h.tenant.GetByID(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           tenant.ID,
		"slug":         tenant.Slug,
		"display_name": tenant.DisplayName,
		"created_at":   tenant.CreatedAt.UTC().Format(time.RFC3339),
	})
}
