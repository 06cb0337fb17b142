// Package auth implements the Auth Resolver: direct bearer-token
// lookup or strict proxy-header HMAC verification, selected by a process-wide
// trust flag, exposed as gin middleware plus an introspection helper.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awebhq/aweb/internal/common/apperr"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
)

// Context keys used to stash the resolved identity on the gin.Context for
// downstream handlers.
const (
	ctxTenantID  = "aweb.tenant_id"
	ctxActorID   = "aweb.actor_agent_id"
	ctxPrincipal = "aweb.principal"
)

// Resolved is what either auth mode produces: the authenticated tenant and,
// when known, the agent acting on its behalf.
type Resolved struct {
	TenantID      string
	ActorAgentID  string // empty if the credential is not bound to an agent
	PrincipalKind string // "u" (user) or "k" (key), proxy mode only
	Principal     string // user/key id, proxy mode only
}

// Resolver authenticates an inbound request under one fixed mode.
type Resolver interface {
	Resolve(c *gin.Context) (*Resolved, error)
}

// DirectResolver implements direct mode: Authorization: Bearer
// <token>, hashed and looked up against stored API keys.
type DirectResolver struct {
	identity identityrepo.Repository
}

func NewDirectResolver(identity identityrepo.Repository) *DirectResolver {
	return &DirectResolver{identity: identity}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *DirectResolver) Resolve(c *gin.Context) (*Resolved, error) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, apperr.AuthRequired("missing or malformed Authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return nil, apperr.AuthRequired("empty bearer token")
	}

	key, err := r.identity.GetAPIKeyByHash(c.Request.Context(), hashToken(token))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.InvalidCredentials("unrecognized API key")
		}
		return nil, err
	}

	if err := r.identity.TouchAPIKey(c.Request.Context(), key.ID, time.Now().UTC()); err != nil {
		// Not fatal to the request; last-used bookkeeping is best-effort.
		_ = err
	}

	actorID := ""
	if key.AgentID != nil {
		actorID = *key.AgentID
	}
	return &Resolved{TenantID: key.TenantID, ActorAgentID: actorID}, nil
}

// ProxyResolver implements proxy mode: a signed X-BH-Auth header
// plus the X-Project-ID/X-User-ID|X-API-Key/X-Aweb-Actor-ID header set.
// Strict: a present-but-invalid signature never falls back to bearer mode.
type ProxyResolver struct {
	secret []byte
}

func NewProxyResolver(secret string) (*ProxyResolver, error) {
	if secret == "" {
		return nil, errors.New("proxy auth requires a non-empty secret")
	}
	return &ProxyResolver{secret: []byte(secret)}, nil
}

func (r *ProxyResolver) Resolve(c *gin.Context) (*Resolved, error) {
	signed := c.GetHeader("X-BH-Auth")
	project := c.GetHeader("X-Project-ID")
	actor := c.GetHeader("X-Aweb-Actor-ID")
	userID := c.GetHeader("X-User-ID")
	apiKeyID := c.GetHeader("X-API-Key")

	if signed == "" || project == "" || actor == "" || (userID == "" && apiKeyID == "") {
		return nil, apperr.AuthRequired("missing proxy auth headers")
	}

	kind := "u"
	principal := userID
	if userID == "" {
		kind = "k"
		principal = apiKeyID
	}

	if err := verifyProxySignature(r.secret, signed, project, kind, principal, actor); err != nil {
		return nil, apperr.AuthRequired("invalid proxy auth signature")
	}

	return &Resolved{TenantID: project, ActorAgentID: actor, PrincipalKind: kind, Principal: principal}, nil
}

// verifyProxySignature checks the "v2:{project}:{u|k}:{principal}:{actor}:{hex(hmac)}"
// scheme with a constant-time comparison.
func verifyProxySignature(secret []byte, signedHeader, project, kind, principal, actor string) error {
	const schemePrefix = "v2:"
	if !strings.HasPrefix(signedHeader, schemePrefix) {
		return errors.New("unsupported auth scheme")
	}
	lastColon := strings.LastIndex(signedHeader, ":")
	if lastColon < 0 {
		return errors.New("malformed signed header")
	}
	signedPart := signedHeader[:lastColon]
	providedMAC := signedHeader[lastColon+1:]

	expectedPart := fmt.Sprintf("v2:%s:%s:%s:%s", project, kind, principal, actor)
	if signedPart != expectedPart {
		return errors.New("signed header fields do not match request headers")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signedPart))
	expectedMAC := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(providedMAC), []byte(expectedMAC)) != 1 {
		return errors.New("signature mismatch")
	}
	return nil
}

// Middleware builds a gin.HandlerFunc that resolves the request's identity
// with resolver and stashes it on the context, or aborts with the
// resolver's error.
func Middleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, err := resolver.Resolve(c)
		if err != nil {
			status := apperr.HTTPStatus(err)
			var appErr *apperr.AppError
			if errors.As(err, &appErr) {
				c.AbortWithStatusJSON(status, appErr.Body())
			} else {
				c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
			}
			return
		}
		c.Set(ctxTenantID, resolved.TenantID)
		c.Set(ctxActorID, resolved.ActorAgentID)
		c.Set(ctxPrincipal, resolved)
		c.Next()
	}
}

// TenantIDFrom returns the authenticated tenant id, set by Middleware.
func TenantIDFrom(c *gin.Context) string {
	v, _ := c.Get(ctxTenantID)
	s, _ := v.(string)
	return s
}

// ActorAgentIDFrom returns the authenticated actor agent id, set by
// Middleware; empty if the credential isn't bound to an agent.
func ActorAgentIDFrom(c *gin.Context) string {
	v, _ := c.Get(ctxActorID)
	s, _ := v.(string)
	return s
}

// IntrospectResult is the body of GET /v1/auth/introspect.
type IntrospectResult struct {
	TenantID      string  `json:"tenant_id"`
	ActorAgentID  string  `json:"actor_agent_id,omitempty"`
	PrincipalKind string  `json:"principal_kind,omitempty"`
	Principal     string  `json:"principal,omitempty"`
	Alias         *string `json:"alias,omitempty"`
	DisplayName   *string `json:"display_name,omitempty"`
	Kind          *string `json:"kind,omitempty"`
}

// Introspect builds the introspection body, enriching with agent metadata
// only when the bound agent belongs to the authenticated tenant — this is
// what prevents cross-tenant metadata leakage from a misbound API key.
func Introspect(c *gin.Context, identity identityrepo.Repository) (*IntrospectResult, error) {
	resolvedVal, _ := c.Get(ctxPrincipal)
	resolved, _ := resolvedVal.(*Resolved)
	if resolved == nil {
		return nil, apperr.AuthRequired("no authenticated identity on request")
	}
	result := &IntrospectResult{
		TenantID:      resolved.TenantID,
		ActorAgentID:  resolved.ActorAgentID,
		PrincipalKind: resolved.PrincipalKind,
		Principal:     resolved.Principal,
	}
	if resolved.ActorAgentID == "" {
		return result, nil
	}

	agent, err := identity.GetAgentByID(c.Request.Context(), resolved.TenantID, resolved.ActorAgentID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return result, nil
		}
		return nil, err
	}
	result.Alias = &agent.Alias
	result.DisplayName = &agent.DisplayName
	result.Kind = &agent.Kind
	return result, nil
}
