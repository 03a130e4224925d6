package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/avorontsov/lenta/config"
	"github.com/avorontsov/lenta/utils"
)

const (
	// ContextUserIDKey is the key used to store the authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
)

// LoginPath is the route unauthenticated visitors are sent to, with the
// original target carried in the next parameter.
const LoginPath = "/auth/login/"

// CurrentUser resolves the session cookie when present and stores the visitor
// identity in the context. Anonymous requests pass through untouched.
func CurrentUser() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, err := ctx.Cookie(utils.SessionCookieName)
		if err != nil || strings.TrimSpace(token) == "" {
			ctx.Next()
			return
		}
		if utils.IsTokenBlacklisted(token) {
			ctx.Next()
			return
		}
		claims, err := utils.ParseToken(token)
		if err != nil {
			ctx.Next()
			return
		}
		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Next()
	}
}

// LoginRequired guards a route: anonymous visitors get a 302 to the login page
// with the original path in next, and the request never reaches the handler.
func LoginRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if _, exists := ctx.Get(ContextUserIDKey); !exists {
			next := ctx.Request.URL.Path
			ctx.Redirect(http.StatusFound, LoginPath+"?next="+url.QueryEscape(next))
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// AdminRequired allows only usernames listed in configuration. Meant for the
// JSON admin API, so failures answer JSON rather than a rendered page.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		unameVal, exists := ctx.Get(ContextUsernameKey)
		if !exists {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "authentication required")
			ctx.Abort()
			return
		}
		uname, _ := unameVal.(string)
		if !isAdminUsername(uname) {
			utils.Error(ctx, http.StatusForbidden, 40301, "admin access required")
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

func isAdminUsername(username string) bool {
	if username == "" {
		return false
	}
	for _, u := range config.Get().AdminUsernames {
		if strings.EqualFold(strings.TrimSpace(u), username) {
			return true
		}
	}
	return false
}
