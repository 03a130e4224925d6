package routes

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/avorontsov/lenta/config"
	"github.com/avorontsov/lenta/controllers"
	"github.com/avorontsov/lenta/middleware"
	"github.com/avorontsov/lenta/templates"
	"github.com/avorontsov/lenta/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB, cache *utils.PageCache) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	r.SetHTMLTemplate(templates.Load())

	// Resolve the session cookie on every request, record PV after.
	r.Use(middleware.CurrentUser())
	r.Use(middleware.PageViewRecorder(db))

	r.Static("/static/uploads", cfg.UploadsDir)
	r.StaticFile("/static/css/site.css", "./static/css/site.css")

	posts := controllers.NewPostsController(db)
	auth := controllers.NewAuthController(db)
	admin := controllers.NewAdminController(db, cache)

	// The main page is the only cached one: a stale list for up to the
	// configured TTL is acceptable, everything else renders live.
	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	r.GET("/", cache.Middleware(), posts.Index)
	r.GET("/groups/", posts.GroupIndex)
	r.GET("/group/:slug/", posts.GroupDetail)

	authorized := r.Group("/", middleware.LoginRequired())
	{
		authorized.GET("/new/", posts.NewPost)
		authorized.POST("/new/", posts.CreatePost)
		authorized.GET("/follow/", posts.FeedIndex)
	}

	ag := r.Group("/auth")
	{
		ag.GET("/login/", auth.LoginPage)
		ag.POST("/login/", middleware.RateLimitMiddleware(), auth.Login)
		ag.GET("/signup/", auth.SignupPage)
		ag.POST("/signup/", middleware.RateLimitMiddleware(), auth.Signup)
		ag.GET("/logout/", auth.Logout)
		ag.GET("/oauth/:provider/login/", auth.OAuthRedirect)
		ag.GET("/oauth/:provider/callback/", auth.OAuthCallback)
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
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

	adm := r.Group("/admin", cors.New(corsCfg), middleware.LoginRequired(), middleware.AdminRequired())
	{
		adm.POST("/groups/", admin.CreateGroup)
		adm.POST("/cache/clear/", admin.ClearPageCache)
		adm.GET("/stats/", admin.Stats)
	}

	// Profile URLs live at the root, so they register last. Gin keeps
	// static siblings like /groups/ ahead of the :username parameter.
	r.GET("/:username/", posts.Profile)
	r.GET("/:username/follow/", middleware.LoginRequired(), posts.Follow)
	r.GET("/:username/unfollow/", middleware.LoginRequired(), posts.Unfollow)
	r.GET("/:username/:post_id/", posts.PostDetail)
	r.GET("/:username/:post_id/edit/", middleware.LoginRequired(), posts.EditPost)
	r.POST("/:username/:post_id/edit/", middleware.LoginRequired(), posts.UpdatePost)
	r.GET("/:username/:post_id/comment/", middleware.LoginRequired(), posts.AddComment)
	r.POST("/:username/:post_id/comment/", middleware.LoginRequired(), posts.AddComment)

	r.NoRoute(func(ctx *gin.Context) {
		ctx.HTML(404, "404.html", gin.H{
			"path": ctx.Request.URL.Path,
			"user": ctx.GetString(middleware.ContextUsernameKey),
		})
	})

	return r
}
