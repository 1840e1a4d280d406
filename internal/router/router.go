package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/nurse-call-api/internal/handler/health"
	"github.com/jwalitptl/nurse-call-api/internal/handler/prometheus"
	"github.com/jwalitptl/nurse-call-api/internal/handler/request"
	"github.com/jwalitptl/nurse-call-api/internal/handler/stream"
	"github.com/jwalitptl/nurse-call-api/internal/middleware"
	"github.com/jwalitptl/nurse-call-api/pkg/auth"
	"github.com/jwalitptl/nurse-call-api/pkg/logger"
	"github.com/jwalitptl/nurse-call-api/pkg/metrics"
)

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	RequestTimeout   time.Duration
	MaxBodySize      int64
}

type Router struct {
	engine   *gin.Engine
	config   RouterConfig
	jwt      auth.JWTService
	requestH *request.Handler
	streamH  *stream.Handler
	healthH  *health.Handler
	promH    *prometheus.Handler
}

// NewRouter builds the engine and its global middleware. A nil jwtSvc
// makes the API trust the identity headers set by the gateway.
func NewRouter(
	log *logger.Logger,
	m *metrics.Metrics,
	jwtSvc auth.JWTService,
	requestH *request.Handler,
	streamH *stream.Handler,
	healthH *health.Handler,
	promH *prometheus.Handler,
	config RouterConfig,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:   engine,
		config:   config,
		jwt:      jwtSvc,
		requestH: requestH,
		streamH:  streamH,
		healthH:  healthH,
		promH:    promH,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.ErrorLogger(log),
		middleware.Metrics(m),
		middleware.SecurityHeaders(),
		middleware.CORS(config.CORSConfig),
	)
	return r
}

func (r *Router) Setup() {
	if r.healthH != nil {
		r.healthH.RegisterRoutes(r.engine.Group(""))
	}
	if r.promH != nil {
		r.promH.RegisterRoutes(r.engine)
	}

	api := r.engine.Group("/api/v1")
	api.Use(middleware.Identity(r.jwt))
	if r.config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		api.Use(limiter.RateLimit())
	}

	// The stream is long-lived and must not inherit the REST deadline.
	if r.streamH != nil {
		r.streamH.RegisterRoutes(api)
	}

	rest := api.Group("")
	rest.Use(middleware.SizeLimit(r.maxBodySize()))
	if r.config.RequestTimeout > 0 {
		rest.Use(middleware.Timeout(r.config.RequestTimeout))
	}
	r.requestH.RegisterRoutes(rest, middleware.RequireRole(auth.RoleNurse, auth.RoleAdmin))
}

func (r *Router) maxBodySize() int64 {
	if r.config.MaxBodySize > 0 {
		return r.config.MaxBodySize
	}
	return middleware.DefaultMaxBodySize
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
