package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is implemented by the policy engine.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is a named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server reports readiness for load balancers and the gRPC health service.
type Server struct {
	checks  []Check
	timeout time.Duration
}

// NewServer returns a Server probing the database and the policy engine. Nil dependencies are skipped.
func NewServer(db Pinger, policy PolicyChecker, extra ...Check) *Server {
	var checks []Check
	if db != nil {
		checks = append(checks, Check{Name: "database", Probe: db.PingContext})
	}
	if policy != nil {
		checks = append(checks, Check{Name: "policy", Probe: policy.HealthCheck})
	}
	return &Server{checks: append(checks, extra...), timeout: 2 * time.Second}
}

// Status runs every check and returns each failure by name. An empty map means ready.
func (s *Server) Status(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	failed := map[string]string{}
	for _, c := range s.checks {
		if err := c.Probe(ctx); err != nil {
			failed[c.Name] = "unavailable"
		}
	}
	return failed
}

// Healthz handles GET /healthz: 200 when every dependency answers, 503 otherwise.
func (s *Server) Healthz(c echo.Context) error {
	failed := s.Status(c.Request().Context())
	if len(failed) > 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "NOT_SERVING", "failed": failed})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "SERVING"})
}
