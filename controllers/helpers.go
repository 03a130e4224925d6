package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avorontsov/lenta/middleware"
)

// viewerID returns the authenticated user's id from the request context.
func viewerID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		return uint(v), true
	case int64:
		return uint(v), true
	case float64:
		return uint(v), true
	default:
		return 0, false
	}
}

// viewerName returns the authenticated username, empty for anonymous visitors.
func viewerName(ctx *gin.Context) string {
	return ctx.GetString(middleware.ContextUsernameKey)
}

// renderNotFound answers with the rendered 404 page.
func renderNotFound(ctx *gin.Context) {
	ctx.HTML(http.StatusNotFound, "404.html", gin.H{"path": ctx.Request.URL.Path})
	ctx.Abort()
}

// renderServerError answers with the rendered 500 page.
func renderServerError(ctx *gin.Context) {
	ctx.HTML(http.StatusInternalServerError, "500.html", gin.H{})
	ctx.Abort()
}
