// Package api assembles every domain's Gin routes behind the shared
// authentication and observability middleware.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/auth"
	bootstraphttp "github.com/awebhq/aweb/internal/bootstrap/httpapi"
	"github.com/awebhq/aweb/internal/common/httpmw"
	"github.com/awebhq/aweb/internal/common/logger"
	conversationshttp "github.com/awebhq/aweb/internal/conversations/httpapi"
	identityhttp "github.com/awebhq/aweb/internal/identity/httpapi"
)

const serverName = "awebd"

// Handlers groups every domain's Gin handler set so Build can register
// them in one place without main needing to know the route paths.
type Handlers struct {
	Bootstrap     *bootstraphttp.Handlers
	Auth          interface{ Register(rg *gin.RouterGroup) }
	Identity      *identityhttp.Handlers
	Mail          interface{ Register(rg *gin.RouterGroup) }
	Chat          interface{ Register(rg *gin.RouterGroup) }
	Reservation   interface{ Register(rg *gin.RouterGroup) }
	Contacts      interface{ Register(rg *gin.RouterGroup) }
	Conversations *conversationshttp.Handlers
}

// Build constructs the gin.Engine: recovery, CORS, request logging and
// OTel tracing apply to every route; the authenticated group additionally
// runs resolver through auth.Middleware.
func Build(resolver auth.Resolver, log *logger.Logger, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, serverName))
	router.Use(httpmw.OtelTracing(serverName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serverName})
	})

	public := router.Group("/v1")
	h.Bootstrap.Register(public)

	authed := router.Group("/v1")
	authed.Use(auth.Middleware(resolver))
	h.Auth.Register(authed)
	h.Identity.Register(authed)
	h.Mail.Register(authed)
	h.Chat.Register(authed)
	h.Reservation.Register(authed)
	h.Contacts.Register(authed)
	h.Conversations.Register(authed)

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-BH-Auth")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
