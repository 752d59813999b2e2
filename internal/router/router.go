package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/befundwerk/ingest-api/internal/config"
	"github.com/befundwerk/ingest-api/internal/middleware"
	"github.com/befundwerk/ingest-api/internal/model"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine  *gin.Engine
	auth    *middleware.AuthMiddleware
	ingestH Handler
	adminH  Handler
	healthH Handler
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	ingestH Handler,
	adminH Handler,
	healthH Handler,
	rateLimit config.RateLimitConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
	)

	if rateLimit.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RPS:   rateLimit.RequestsPerSecond,
			Burst: rateLimit.Burst,
		})
		engine.Use(limiter.RateLimit())
	}

	return &Router{
		engine:  engine,
		auth:    auth,
		ingestH: ingestH,
		adminH:  adminH,
		healthH: healthH,
	}
}

func (r *Router) Setup() {
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")
	r.healthH.RegisterRoutes(api)
	r.ingestH.RegisterRoutes(api)

	admin := api.Group("/admin",
		r.auth.Authenticate(),
		r.auth.RequireRole(model.RoleAdmin))
	r.adminH.RegisterRoutes(admin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
