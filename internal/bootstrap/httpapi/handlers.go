// Package httpapi exposes the bootstrap service as the unauthenticated
// POST /v1/init route.
package httpapi

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/bootstrap"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
)

// agentJSON shapes the created agent for the init response, including the
// DID when the init carried (or custodially minted) one.
func agentJSON(result *bootstrap.Result) gin.H {
	body := gin.H{
		"id":    result.Agent.ID,
		"alias": result.Agent.Alias,
	}
	if result.Agent.DID != nil {
		body["did"] = *result.Agent.DID
	}
	return body
}

// Handlers binds the bootstrap service to gin routes.
type Handlers struct {
	svc *bootstrap.Service
	log *logger.Logger
}

func NewHandlers(svc *bootstrap.Service, log *logger.Logger) *Handlers {
	return &Handlers{svc: svc, log: log.WithFields()}
}

func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/init", h.init)
}

func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if appErr, ok := err.(*apperr.AppError); ok {
		c.AbortWithStatusJSON(status, appErr.Body())
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (h *Handlers) init(c *gin.Context) {
	var req struct {
		ProjectSlug string `json:"project_slug" binding:"required"`
		ProjectName string `json:"project_name"`
		Alias       string `json:"alias"`
		HumanName   string `json:"human_name"`
		AgentType   string `json:"agent_type"`
		DID         string `json:"did"`
		PublicKey   string `json:"public_key"`
		Custody     string `json:"custody"`
		Lifetime    string `json:"lifetime"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.BadRequest("invalid request body: "+err.Error()))
		return
	}

	var publicKey []byte
	if req.PublicKey != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(req.PublicKey)
		if err != nil {
			if decoded, err = base64.StdEncoding.DecodeString(req.PublicKey); err != nil {
				writeError(c, apperr.ValidationError("public_key", "must be base64-encoded key bytes"))
				return
			}
		}
		publicKey = decoded
	}

	result, err := h.svc.Run(c.Request.Context(), bootstrap.Input{
		ProjectSlug: req.ProjectSlug,
		ProjectName: req.ProjectName,
		Alias:       req.Alias,
		HumanName:   req.HumanName,
		AgentType:   req.AgentType,
		DID:         req.DID,
		PublicKey:   publicKey,
		Custody:     req.Custody,
		Lifetime:    req.Lifetime,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"project": gin.H{
			"id":   result.Tenant.ID,
			"slug": result.Tenant.Slug,
			"name": result.Tenant.DisplayName,
		},
		"agent": agentJSON(result),
		"api_key":    result.APIKey,
		"created_at": result.CreatedAt.UTC().Format(time.RFC3339),
	})
}
