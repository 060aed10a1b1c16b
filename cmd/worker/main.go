// Worker purges expired sessions on a schedule. Set DATABASE_URL, CLEANUP_INTERVAL and
// SESSION_RETENTION; OTEL_EXPORTER_OTLP_ENDPOINT enables purge metrics.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"cotai-security/backend/internal/cleanup"
	"cotai-security/backend/internal/config"
	"cotai-security/backend/internal/db"
	"cotai-security/backend/internal/logging"
	sessionrepo "cotai-security/backend/internal/session/repository"
	"cotai-security/backend/internal/telemetry"
	oteltelemetry "cotai-security/backend/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", false)
		l.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-worker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatal().Err(err).Msg("otel")
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("metrics")
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer sqlDB.Close()

	runner := newRunner(cfg, sqlDB, metrics, log)
	log.Info().Dur("interval", runner.Interval).Dur("retention", runner.Retention).Msg("session cleanup started")
	runner.Run(ctx)
	log.Info().Msg("stopped")
}

func newRunner(cfg *config.Config, sqlDB *sql.DB, metrics *telemetry.Metrics, log zerolog.Logger) *cleanup.Runner {
	return &cleanup.Runner{
		Sessions:  sessionrepo.NewPostgresRepository(sqlDB),
		Retention: cfg.Retention(),
		Interval:  cfg.CleanupEvery(),
		Metrics:   metrics,
		Log:       log,
	}
}
