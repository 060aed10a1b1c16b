package interceptors

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"cotai-security/backend/internal/logging"
)

var tracer = otel.Tracer("cotai-security/backend/internal/server")

// Telemetry returns middleware that starts a server span per request (continuing any incoming
// trace context) and writes one access log line when the request completes. skipPaths are
// neither traced nor logged.
func Telemetry(log zerolog.Logger, skipPaths map[string]bool) echo.MiddlewareFunc {
	propagator := otel.GetTextMapPropagator()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipPaths[c.Path()] {
				return next(c)
			}
			req := c.Request()
			ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			route := c.Path()
			ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
					attribute.String("client.address", c.RealIP()),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			code := statusOf(c, err)
			span.SetAttributes(attribute.Int("http.response.status_code", code))
			if code >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("status %d", code))
			}

			l := logging.Ctx(ctx, log)
			ev := l.Info()
			if code >= 500 {
				ev = l.Error().Err(err)
			}
			ev.Str("method", req.Method).
				Str("route", route).
				Int("status", code).
				Dur("duration", time.Since(start)).
				Str("ip", c.RealIP()).
				Msg("http request")
			return err
		}
	}
}
