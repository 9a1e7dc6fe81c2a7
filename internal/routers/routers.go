package routers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/handlers"
	"github.com/Gopher0727/Warden/internal/middlewares"
	"github.com/Gopher0727/Warden/internal/pkg/metrics"
	"github.com/Gopher0727/Warden/internal/utils"
	pkgmw "github.com/Gopher0727/Warden/pkg/middlewares"
	"github.com/Gopher0727/Warden/pkg/ws"
	"github.com/Gopher0727/Warden/utils/ratelimit"
)

// Dependencies 路由所需的处理器与基础设施
type Dependencies struct {
	Auth    *handlers.AuthHandler
	Invites *handlers.InviteHandler
	Media   *handlers.MediaHandler
	Users   *handlers.UserHandler

	Authenticator middlewares.Authenticator
	// Limiter 为 nil 时不限流
	Limiter    ratelimit.Limiter
	IngestPool *utils.WorkerPool
	Hub        *ws.Hub
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// SetupRoutes 设置所有路由
func SetupRoutes(r *gin.Engine, cfg *config.Config, deps *Dependencies) {
	r.Use(middlewares.TraceID())
	r.Use(middlewares.Recovery(deps.Logger))
	r.Use(middlewares.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) == 0 || (len(cfg.Server.AllowedOrigins) == 1 && cfg.Server.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))

	// WebSocket 与健康检查不计入并发上限
	r.GET("/ws", middlewares.AuthMiddleware(deps.Authenticator, deps.Logger), func(c *gin.Context) {
		ws.ServeWs(deps.Hub, c)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, handlers.Response{Success: true, Message: "OK", Errors: []string{}})
	})
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
	}

	r.Use(pkgmw.MaxConcurrencyMiddleware(cfg.Server.MaxConcurrent))

	limit := func(endpoint string) gin.HandlerFunc {
		var limiter ratelimit.Limiter
		if cfg.RateLimit.Enabled {
			limiter = deps.Limiter
		}
		return pkgmw.RateLimitMiddleware(limiter, ratelimit.RuleFor(endpoint, &cfg.RateLimit), deps.Logger)
	}

	RegisterAuthRoutes(r, deps, limit)
	RegisterInviteRoutes(r, deps, cfg.Auth.AdminRole, limit)
	RegisterMediaRoutes(r, deps, limit)
	RegisterAdminRoutes(r, deps, cfg.Auth.AdminRole)
}

// RegisterAuthRoutes 认证接口
func RegisterAuthRoutes(r *gin.Engine, deps *Dependencies, limit func(string) gin.HandlerFunc) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", limit(ratelimit.EndpointRegister), deps.Auth.Register) // 注册
		authGroup.POST("/login", limit(ratelimit.EndpointLogin), deps.Auth.Login)          // 登录
		authGroup.POST("/refresh", deps.Auth.Refresh)                                      // 轮换刷新令牌
		authGroup.POST("/revoke", deps.Auth.Revoke)                                        // 吊销刷新令牌
	}
	authGroup.Use(middlewares.AuthMiddleware(deps.Authenticator, deps.Logger))
	{
		authGroup.POST("/logout", deps.Auth.Logout) // 登出
		authGroup.GET("/me", deps.Auth.Me)          // 当前用户
	}
}

// RegisterInviteRoutes 邀请码接口, 除校验外仅管理员可用
func RegisterInviteRoutes(r *gin.Engine, deps *Dependencies, adminRole string, limit func(string) gin.HandlerFunc) {
	inviteGroup := r.Group("/invites")
	inviteGroup.GET("/validate/:code", limit(ratelimit.EndpointInviteCheck), deps.Invites.Validate)

	admin := inviteGroup.Group("",
		middlewares.AuthMiddleware(deps.Authenticator, deps.Logger),
		middlewares.RequireRole(adminRole),
	)
	{
		admin.POST("/codes", deps.Invites.CreateCode)
		admin.GET("/codes", deps.Invites.ListCodes)
		admin.POST("/email", deps.Invites.CreateEmailInvite)
		admin.GET("/email", deps.Invites.ListEmailInvites)
	}
}

// RegisterMediaRoutes 媒体接口; 读取类接口允许匿名访问公开文件
func RegisterMediaRoutes(r *gin.Engine, deps *Dependencies, limit func(string) gin.HandlerFunc) {
	auth := middlewares.AuthMiddleware(deps.Authenticator, deps.Logger)
	optional := middlewares.OptionalAuth(deps.Authenticator, deps.Logger)

	mediaGroup := r.Group("/media")
	{
		mediaGroup.POST("", auth, limit(ratelimit.EndpointUpload), middlewares.AsyncMiddleware(deps.IngestPool, deps.Logger), deps.Media.Upload)
		mediaGroup.GET("", auth, deps.Media.ListMine)

		mediaGroup.GET("/:id", optional, deps.Media.Stream)
		mediaGroup.GET("/:id/thumbnail", optional, deps.Media.Thumbnail)
		mediaGroup.GET("/:id/download", optional, deps.Media.Download)
		mediaGroup.GET("/:id/info", optional, deps.Media.Info)

		mediaGroup.PATCH("/:id", auth, deps.Media.Update)
		mediaGroup.DELETE("/:id", auth, deps.Media.Delete)

		mediaGroup.POST("/:id/grants", auth, deps.Media.Grant)
		mediaGroup.GET("/:id/grants", auth, deps.Media.ListGrants)
		mediaGroup.DELETE("/:id/grants/:grantId", auth, deps.Media.RevokeGrant)
	}
}

// RegisterAdminRoutes 用户与角色管理
func RegisterAdminRoutes(r *gin.Engine, deps *Dependencies, adminRole string) {
	adminGroup := r.Group("/admin",
		middlewares.AuthMiddleware(deps.Authenticator, deps.Logger),
		middlewares.RequireRole(adminRole),
	)
	{
		adminGroup.GET("/users", deps.Users.List)
		adminGroup.GET("/roles", deps.Users.ListRoles)
		adminGroup.POST("/users/:id/roles", deps.Users.AssignRole)
		adminGroup.DELETE("/users/:id/roles/:role", deps.Users.RemoveRole)
		adminGroup.POST("/users/:id/unlock", deps.Users.Unlock)
	}
}
