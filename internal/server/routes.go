package server

import (
	"echocommand/internal/handler"
	"echocommand/internal/metrics"
	"echocommand/internal/middleware"
	"echocommand/internal/repository"
	auth "echocommand/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Command *handler.CommandHandler
	User    *handler.UserHandler
	Health  *handler.HealthHandler
}

type RouteDeps struct {
	Parser      auth.AccessTokenParser
	Users       repository.UserRepository
	RateLimiter middleware.RateLimiter // nilなら制限しない
	Metrics     *metrics.Metrics
	Log         *logrus.Logger
}

func RegisterRoutes(e *echo.Echo, h Handlers, d RouteDeps) {
	e.GET("/healthz", h.Health.Health)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	api := e.Group("/api")

	//ログイン済みだけ通す
	authed := []echo.MiddlewareFunc{
		middleware.AuthJWT(d.Parser),
		middleware.TokenVersionGuard(d.Users),
	}

	//認証（総当たり対策でIPごとに制限）
	authGroup := api.Group("/auth")
	if d.RateLimiter != nil {
		authGroup.Use(middleware.RateLimit(d.RateLimiter, d.Log))
	}
	authGroup.POST("/register", h.Auth.Register)
	authGroup.POST("/login", h.Auth.Login)
	authGroup.POST("/refresh", h.Auth.Refresh)
	authGroup.POST("/logout", h.Auth.Logout)
	authGroup.GET("/me", h.Auth.Me, authed...)

	//コマンド。publicだけ認証不要
	api.GET("/commands/public", h.Command.ListPublic)
	commands := api.Group("/commands", authed...)
	commands.GET("", h.Command.List)
	commands.POST("", h.Command.Create)
	commands.GET("/:id", h.Command.Get)
	commands.PUT("/:id", h.Command.Update)
	commands.DELETE("/:id", h.Command.Delete)
	commands.POST("/:id/use", h.Command.Use)

	//ユーザー
	users := api.Group("/users", authed...)
	users.GET("/profile", h.User.GetProfile)
	users.PUT("/profile", h.User.UpdateProfile)
	users.GET("/settings", h.User.GetSettings)
	users.PUT("/settings", h.User.UpdateSettings)
	users.PUT("/password", h.User.ChangePassword)
	users.DELETE("/account", h.User.DeleteAccount)
	users.GET("/security-events", h.User.SecurityEvents)
}
