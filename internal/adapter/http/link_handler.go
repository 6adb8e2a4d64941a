package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type LinkResolver interface {
	ResolveLink(ctx context.Context, token string) (string, error)
}

type LinkHandler struct {
	links    LinkResolver
	fileBase string
}

// NewLinkHandler redirects resolved links to fileBase + file reference. An
// empty fileBase redirects to the reference itself.
func NewLinkHandler(links LinkResolver, fileBase string) *LinkHandler {
	return &LinkHandler{links: links, fileBase: strings.TrimRight(fileBase, "/")}
}

func (h *LinkHandler) Resolve(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	ref, err := h.links.ResolveLink(ctx, c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	target := ref
	if h.fileBase != "" {
		target = h.fileBase + "/" + strings.TrimLeft(ref, "/")
	}
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, target)
}
