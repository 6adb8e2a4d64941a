package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/aq2208/course-orders/configs"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ClientIDKey holds the authenticated client id in gin.Context.
const ClientIDKey = "client_id"

type Authz struct {
	cfg    configs.Config
	parser *jwt.Parser
}

func NewAuthz(cfg configs.Config) *Authz {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second), // small clock skew
		jwt.WithExpirationRequired(),
	}
	if cfg.Security.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Security.Issuer))
	}
	if cfg.Security.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Security.Audience))
	}
	return &Authz{cfg: cfg, parser: jwt.NewParser(opts...)}
}

// Require checks JWT and ensures all required permissions are present
func (a *Authz) Require(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		claims := jwt.MapClaims{}
		token, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return []byte(a.cfg.Security.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			unauth(c, "invalid_token", "invalid jwt")
			return
		}

		perms := extractPerms(claims)
		if !hasAll(perms, requiredPerms) {
			forbidden(c, "insufficient_scope", "missing required permissions")
			return
		}

		if id, ok := claims["clientID"].(string); ok {
			c.Set(ClientIDKey, id)
			logging.With(c, logging.From(c).With("client_id", id))
		}
		c.Next()
	}
}

func extractPerms(claims jwt.MapClaims) map[string]struct{} {
	out := map[string]struct{}{}
	if arr, ok := claims["perms"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

func hasAll(have map[string]struct{}, req []string) bool {
	for _, r := range req {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
