package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/utils"
)

const (
	// ContextUserIDKey is the key used to store the authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"

	// SessionCookieName carries the JWT for browser navigation, alongside the
	// Authorization header used by API clients.
	SessionCookieName = "session_token"

	// LoginPath is where unauthenticated actors are sent, with a next return parameter.
	LoginPath = "/auth/login"
)

// Identify resolves the actor from the bearer header or session cookie when
// present and valid, and never blocks the request. Handlers that merely adapt
// to the viewer (the profile page's following flag) use this.
func Identify(cfg config.AppConfig, cache utils.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if claims, ok := resolveClaims(ctx, cfg, cache); ok {
			ctx.Set(ContextUserIDKey, claims.UserID)
			ctx.Set(ContextUsernameKey, claims.Username)
		}
		ctx.Next()
	}
}

// LoginRequired ensures an authenticated actor. A missing, invalid, or revoked
// token redirects to the login page carrying the original URL in next; it is
// never surfaced as a raw 401/403.
func LoginRequired(cfg config.AppConfig, cache utils.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, ok := resolveClaims(ctx, cfg, cache)
		if !ok {
			target := LoginPath + "?next=" + url.QueryEscape(ctx.Request.URL.RequestURI())
			ctx.Redirect(http.StatusFound, target)
			ctx.Abort()
			return
		}
		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Next()
	}
}

func resolveClaims(ctx *gin.Context, cfg config.AppConfig, cache utils.Cache) (*utils.Claims, bool) {
	token := extractToken(ctx)
	if token == "" {
		return nil, false
	}
	if utils.IsTokenBlacklisted(cache, token) {
		return nil, false
	}
	claims, err := utils.ParseToken(cfg.JWTSecret, token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func extractToken(ctx *gin.Context) string {
	if authHeader := ctx.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := ctx.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}
