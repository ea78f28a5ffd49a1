package router

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/foliotrack/internal/config"
	"github.com/foliotrack/internal/handler"
	"github.com/foliotrack/internal/logging"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options 配置路由所需的外部依赖。
type Options struct {
	SessionSecret string
	StaticDir     string
	Logger        *zap.Logger
	// Metrics 非空时挂载到 /metrics。
	Metrics http.Handler
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(logging.Recovery(logger), logging.RequestLogger(logger))

	// 配置会话中间件
	secret := opts.SessionSecret
	if secret == "" {
		secret = config.DefaultSessionSecret
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 7 * 24 * 3600, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("foliotrack_session", store))

	r.Use(api.RequestAudit())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// 访客追踪
	r.POST("/session-events", api.RecordSessionEvents)
	r.GET("/email-open-pixel", api.EmailOpenPixel)
	r.GET("/api/track/open/:token", api.EmailOpenPixel)

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// 后台报表 API
	admin := r.Group("/admin/api")
	{
		admin.POST("/login", api.Login)
		admin.POST("/logout", api.Logout)

		auth := admin.Group("")
		auth.Use(handler.AuthRequired())
		{
			auth.GET("/overview", api.TrackingOverview)
			auth.GET("/sessions", api.ListSessions)
			auth.GET("/sessions/:id", api.GetSession)
			auth.GET("/request-logs", api.ListRequestLogs)
			auth.GET("/outreach", api.ListOutreach)
			auth.POST("/outreach", api.CreateOutreach)
		}
	}

	mountStatic(r, strings.TrimSpace(opts.StaticDir))
	return r
}

// mountStatic 提供前端构建产物，未知路径回退到 index.html。
func mountStatic(r *gin.Engine, dir string) {
	if dir == "" {
		r.NoRoute(notFound)
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		r.NoRoute(notFound)
		return
	}

	index := filepath.Join(dir, "index.html")
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			notFound(c)
			return
		}
		clean := filepath.Clean("/" + c.Request.URL.Path)
		candidate := filepath.Join(dir, clean)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			c.File(candidate)
			return
		}
		if _, err := os.Stat(index); err != nil {
			notFound(c)
			return
		}
		c.File(index)
	})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
}
