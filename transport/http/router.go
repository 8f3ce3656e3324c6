package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter sets up the Gin router. A nil gatherer leaves /metrics out.
func SetupRouter(authService *service.AuthService, log *zap.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(RequestLogger(log), Recovery(log))

	handlers := NewAuthHandlers(authService)

	auth := router.Group("/auth")
	{
		auth.GET("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.GET("/verify-email/:token", handlers.VerifyEmail)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)
		auth.POST("/verify", handlers.VerifySignature)
	}

	session := router.Group("/session")
	{
		session.GET("", handlers.Session)
		session.POST("/validate", handlers.ValidateSession)
	}

	user := router.Group("/user")
	user.Use(AuthMiddleware(authService))
	{
		user.GET("/me", handlers.Me)
		user.POST("/link", handlers.Link)
		user.GET("/sessions", handlers.Sessions)
	}

	router.GET("/healthz", handlers.Health)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
