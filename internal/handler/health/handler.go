package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sqlx.DB and the Redis broker.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SessionCounter reports connected stream sessions.
type SessionCounter interface {
	SessionCount() int
}

type Handler struct {
	deps     map[string]Pinger
	sessions SessionCounter
	timeout  time.Duration
}

// NewHandler checks every non-nil dependency on /health/ready. An archive
// or broker that is not configured is simply not listed.
func NewHandler(sessions SessionCounter, deps map[string]Pinger) *Handler {
	live := make(map[string]Pinger, len(deps))
	for name, p := range deps {
		if p != nil {
			live[name] = p
		}
	}
	return &Handler{
		deps:     live,
		sessions: sessions,
		timeout:  2 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	checks := make(gin.H, len(h.deps))
	for name, p := range h.deps {
		if err := p.PingContext(ctx); err != nil {
			checks[name] = "DOWN"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "UP"
	}

	body := gin.H{"status": "UP", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "DOWN"
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.SessionCount()
	}
	c.JSON(status, body)
}
