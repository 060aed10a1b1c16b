package main

import (
	"context"
	"crypto"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"

	accountrepo "cotai-security/backend/internal/account/repository"
	"cotai-security/backend/internal/anomaly"
	"cotai-security/backend/internal/audit"
	audithandler "cotai-security/backend/internal/audit/handler"
	auditrepo "cotai-security/backend/internal/audit/repository"
	"cotai-security/backend/internal/blacklist"
	"cotai-security/backend/internal/cleanup"
	"cotai-security/backend/internal/config"
	"cotai-security/backend/internal/db"
	healthhandler "cotai-security/backend/internal/health/handler"
	identityhandler "cotai-security/backend/internal/identity/handler"
	identityservice "cotai-security/backend/internal/identity/service"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/mfa"
	"cotai-security/backend/internal/policy/engine"
	"cotai-security/backend/internal/security"
	"cotai-security/backend/internal/server"
	"cotai-security/backend/internal/server/interceptors"
	sessionrepo "cotai-security/backend/internal/session/repository"
	"cotai-security/backend/internal/telemetry"
	oteltelemetry "cotai-security/backend/internal/telemetry/otel"
	"cotai-security/backend/internal/telemetry/producer"
	tokenhandler "cotai-security/backend/internal/token/handler"
	tokenservice "cotai-security/backend/internal/token/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", false)
		l.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
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

	signer, pub, err := loadKeys(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("jwt keys")
	}
	provider := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())

	bl, redisClient, err := openBlacklist(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("blacklist")
	}
	defer bl.Close()
	if redisClient != nil {
		defer redisClient.Close()
	}

	resolver, err := engine.NewOPAResolver(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("policy")
	}

	accounts := accountrepo.NewPostgresRepository(sqlDB)
	sessions := sessionrepo.NewPostgresRepository(sqlDB)

	auditOpts := []audit.Option{
		audit.WithMetrics(metrics),
		audit.WithSIEM(oteltelemetry.NewEventEmitter(providers.LoggerProvider)),
	}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp := producer.NewKafkaProducer(brokers, cfg.AuditKafkaTopic)
		defer kp.Close()
		auditOpts = append(auditOpts, audit.WithStream(kp))
		log.Info().Strs("brokers", brokers).Str("topic", cfg.AuditKafkaTopic).Msg("audit stream enabled")
	}
	events := audit.NewLogger(auditrepo.NewPostgresRepository(sqlDB), auditrepo.NewPostgresLoginAttemptRepository(sqlDB), log, auditOpts...)

	tokens := tokenservice.NewManager(accounts, sessions, db.NewTransactor(sqlDB), provider, bl, resolver, events,
		tokenservice.Config{
			MaxSessionsPerAccount: cfg.MaxSessionsPerAccount,
			RotationThreshold:     cfg.RotationAge(),
			StaleThreshold:        cfg.StaleAge(),
		}, log, tokenservice.WithMetrics(metrics))

	detector := anomaly.New(events, accounts, tokens, anomaly.Config{
		MaxFailedLogins:  cfg.MaxFailedLogins,
		BruteForceWindow: cfg.BruteForceLookback(),
		RapidWindow:      cfg.RapidLookback(),
		RapidThresholds:  cfg.RapidThresholds(),
		RapidDefault:     cfg.RapidDefaultThreshold,
		GeoWindow:        cfg.GeoLookback(),
		SuspiciousAgents: cfg.SuspiciousAgentList(),
	}, log)
	events.Subscribe(detector)

	usedCodes := mfa.NewUsedCodes()
	auth := identityservice.NewAuthService(accounts, security.NewHasher(cfg.BcryptCost), mfa.NewTOTPVerifier(usedCodes),
		tokens, events, detector, log)

	var extra []healthhandler.Check
	if redisClient != nil {
		extra = append(extra, healthhandler.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	ready := healthhandler.NewServer(sqlDB, resolver, extra...)

	limiter := interceptors.NewRateLimiter(cfg.LoginRatePerMinute)
	defer limiter.Stop()

	e := server.NewHTTPServer(server.Deps{
		Tokens:    provider,
		Blacklist: bl,
		Events:    events,
		Policy:    resolver,
		Limiter:   limiter,
		Auth:      identityhandler.NewHandler(auth, log),
		Sessions:  tokenhandler.NewHandler(tokens, log),
		Audit:     audithandler.NewHandler(events, log),
		Health:    ready,
		Log:       log,
	})

	hs := health.NewServer()
	grpcServer := server.NewGRPCServer(hs)
	go server.WatchHealth(ctx, hs, ready, 10*time.Second, log)

	purgers := []blacklist.Purger{usedCodes}
	if p, ok := bl.(blacklist.Purger); ok {
		purgers = append(purgers, p)
	}
	go (&cleanup.Runner{Purgers: purgers, Interval: time.Minute, Log: log}).Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("listen")
	}
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc serve")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http serve")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	hs.Shutdown()
	grpcServer.GracefulStop()
	log.Info().Msg("stopped")
}

// loadKeys parses the configured signing keys. Outside production an ephemeral pair is generated
// when none are configured.
func loadKeys(cfg *config.Config, log zerolog.Logger) (crypto.Signer, crypto.PublicKey, error) {
	if cfg.JWTPrivateKey == "" && cfg.JWTPublicKey == "" {
		if cfg.Env == "production" {
			return nil, nil, errors.New("JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required in production")
		}
		log.Warn().Msg("no JWT keys configured; using an ephemeral key pair")
		return security.GenerateEphemeralKeyPair()
	}
	return security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
}

type closingStore interface {
	blacklist.Store
	Close() error
}

// openBlacklist returns a Redis-backed store with a local positive cache when REDIS_URL is set,
// else a process-local store.
func openBlacklist(ctx context.Context, cfg *config.Config, log zerolog.Logger) (closingStore, *redis.Client, error) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set; token blacklist is local to this instance")
		return blacklist.NewMemoryStore(), nil, nil
	}
	client, err := blacklist.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return blacklist.NewCachedStore(blacklist.NewRedisStore(client, cfg.RedisKeyPrefix), blacklist.DefaultLocalTTL), client, nil
}
