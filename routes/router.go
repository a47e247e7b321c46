package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/quillhq/quill/config"
	"github.com/quillhq/quill/controllers"
	"github.com/quillhq/quill/middleware"
	"github.com/quillhq/quill/utils"
)

// SetupRouter wires routes, middlewares, and controllers. Everything the
// handlers depend on (configuration, cache) is passed in here once.
func SetupRouter(db *gorm.DB, cfg config.AppConfig, cache utils.Cache) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Access log goes to its own rolling file; fall back to the default
	// recovery when the log file cannot be opened.
	if gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Resolve the viewer on every request so public pages can adapt to them.
	r.Use(middleware.Identify(cfg, cache))

	r.Static("/media", cfg.MediaDir)

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(db, cfg, cache)
	postController := controllers.NewPostController(db, cfg, cache)
	groupController := controllers.NewGroupController(db, cfg)
	profileController := controllers.NewProfileController(db, cfg)

	authGroup := r.Group("/auth")
	authGroup.Use(middleware.RateLimit(cfg.RateLimitPerMinute))
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.GET("/login", authController.LoginPage)
	authGroup.GET("/oauth/github/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/github/callback", authController.OAuthCallback)
	authGroup.POST("/logout", middleware.LoginRequired(cfg, cache), authController.Logout)
	authGroup.GET("/me", middleware.LoginRequired(cfg, cache), authController.Me)

	// Public feeds and detail pages.
	r.GET("/", postController.Index)
	r.GET("/group/:slug", groupController.Posts)
	r.GET("/profile/:username", profileController.Profile)
	r.GET("/posts/:id", postController.GetPost)

	// Everything below acts on behalf of an authenticated actor; missing or
	// invalid sessions are redirected to the login page with a next parameter.
	protected := r.Group("")
	protected.Use(middleware.LoginRequired(cfg, cache), middleware.RateLimit(cfg.RateLimitPerMinute))
	protected.GET("/create", postController.CreateForm)
	protected.POST("/create", postController.Create)
	protected.GET("/posts/:id/edit", postController.EditForm)
	protected.POST("/posts/:id/edit", postController.Update)
	protected.POST("/posts/:id/comment", postController.AddComment)
	protected.GET("/follow", profileController.FollowIndex)
	protected.GET("/profile/:username/follow", profileController.Follow)
	protected.GET("/profile/:username/unfollow", profileController.Unfollow)
	protected.POST("/groups", groupController.Create)
	protected.DELETE("/groups/:slug", groupController.Delete)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "page not found")
	})

	return r
}
