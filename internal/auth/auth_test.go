package auth_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/auth"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(secret, signedPart string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPart))
	return signedPart + ":" + hex.EncodeToString(mac.Sum(nil))
}

func newRouter(resolver auth.Resolver) *gin.Engine {
	r := gin.New()
	r.GET("/whoami", auth.Middleware(resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id": auth.TenantIDFrom(c),
			"actor_id":  auth.ActorAgentIDFrom(c),
		})
	})
	return r
}

func TestDirectResolverRejectsMissingAndUnknownBearerToken(t *testing.T) {
	iRepo := identityrepo.NewMemoryRepository()
	resolver := auth.NewDirectResolver(iRepo)
	router := newRouter(resolver)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxyResolverRequiresValidSignature(t *testing.T) {
	resolver, err := auth.NewProxyResolver("super-secret")
	require.NoError(t, err)
	router := newRouter(resolver)

	signedPart := "v2:tenant-1:u:user-1:agent-1"
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-BH-Auth", sign("super-secret", signedPart))
	req.Header.Set("X-Project-ID", "tenant-1")
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Aweb-Actor-ID", "agent-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestProxyResolverRejectsTamperedSignature(t *testing.T) {
	resolver, err := auth.NewProxyResolver("super-secret")
	require.NoError(t, err)
	router := newRouter(resolver)

	signedPart := "v2:tenant-1:u:user-1:agent-1"
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-BH-Auth", sign("wrong-secret", signedPart))
	req.Header.Set("X-Project-ID", "tenant-1")
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Aweb-Actor-ID", "agent-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProxyResolverRejectsMismatchedHeaderFields(t *testing.T) {
	resolver, err := auth.NewProxyResolver("super-secret")
	require.NoError(t, err)
	router := newRouter(resolver)

	signedPart := "v2:tenant-1:u:user-1:agent-1"
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-BH-Auth", sign("super-secret", signedPart))
	req.Header.Set("X-Project-ID", "tenant-2") // doesn't match signed project
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Aweb-Actor-ID", "agent-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewProxyResolverRejectsEmptySecret(t *testing.T) {
	_, err := auth.NewProxyResolver("")
	require.Error(t, err)
}
