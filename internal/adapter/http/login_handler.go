package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/aq2208/course-orders/configs"
	"github.com/aq2208/course-orders/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type TokenHandler struct {
	cfg     configs.Config
	clients security.Clients
	now     func() time.Time
}

func NewTokenHandler(cfg configs.Config, clients security.Clients) *TokenHandler {
	return &TokenHandler{cfg: cfg, clients: clients, now: time.Now}
}

type tokenReq struct {
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	Scope        string `form:"scope" json:"scope"`
}

// POST /v1/token (form or JSON)
// Accepts: client_id, client_secret
// Optional: scope (space-separated subset of client's perms)
func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBind(&req); err != nil || req.ClientID == "" || req.ClientSecret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	cl, ok := h.clients.Authenticate(req.ClientID, req.ClientSecret)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}

	perms := cl.Perms
	if req.Scope != "" {
		perms = narrow(cl.Perms, strings.Fields(req.Scope))
		if len(perms) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope"})
			return
		}
	}

	ttl := h.cfg.Security.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := h.now()
	claims := jwt.MapClaims{
		"iss":      h.cfg.Security.Issuer,   // issuer
		"aud":      h.cfg.Security.Audience, // audience
		"sub":      cl.ID,
		"iat":      now.Unix(),          // issued at
		"nbf":      now.Unix(),          // not before
		"exp":      now.Add(ttl).Unix(), // expire
		"clientID": cl.ID,
		"perms":    perms,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(h.cfg.Security.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int64(ttl.Seconds()),
		"scope":        strings.Join(perms, " "),
	})
}

func narrow(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, p := range have {
		set[p] = struct{}{}
	}
	var out []string
	for _, w := range want {
		if _, ok := set[w]; ok {
			out = append(out, w)
		}
	}
	return out
}
