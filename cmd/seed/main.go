// seed inserts development accounts for local testing. Run via go run ./cmd/seed.
// Idempotent: accounts whose email already exists are skipped.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cotai-security/backend/internal/account/domain"
	accountrepo "cotai-security/backend/internal/account/repository"
	"cotai-security/backend/internal/config"
	"cotai-security/backend/internal/db"
	"cotai-security/backend/internal/logging"
	"cotai-security/backend/internal/mfa"
	"cotai-security/backend/internal/security"
)

const devPassword = "password123"

type seedAccount struct {
	email string
	role  domain.Role
	mfa   bool
}

var devAccounts = []seedAccount{
	{email: "admin@example.com", role: domain.RoleAdmin, mfa: true},
	{email: "manager@example.com", role: domain.RoleManager},
	{email: "viewer@example.com", role: domain.RoleViewer},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Env == "production" {
		fmt.Fprintln(os.Stderr, "seed: refusing to run with APP_ENV=production")
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, true)

	ctx := context.Background()
	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer sqlDB.Close()

	repo := accountrepo.NewPostgresRepository(sqlDB)
	hasher := security.NewHasher(cfg.BcryptCost)
	for _, sa := range devAccounts {
		if err := seed(ctx, repo, hasher, cfg.JWTIssuer, sa, log); err != nil {
			log.Fatal().Err(err).Str("email", sa.email).Msg("seed")
		}
	}
	log.Info().Str("password", devPassword).Msg("seed complete")
}

func seed(ctx context.Context, repo *accountrepo.PostgresRepository, hasher *security.Hasher, issuer string, sa seedAccount, log zerolog.Logger) error {
	existing, err := repo.GetByEmail(ctx, sa.email)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Info().Str("email", sa.email).Msg("already seeded")
		return nil
	}
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	acc := &domain.Account{
		ID:           uuid.NewString(),
		Email:        sa.email,
		PasswordHash: hash,
		Role:         sa.role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ev := log.Info().Str("email", sa.email).Str("role", string(sa.role))
	if sa.mfa {
		enr, err := mfa.Enroll(issuer, sa.email)
		if err != nil {
			return err
		}
		acc.MFAEnabled = true
		acc.MFASecret = enr.Secret
		ev = ev.Str("otpauth_url", enr.URL)
	}
	if err := repo.Create(ctx, acc); err != nil {
		return err
	}
	ev.Msg("account created")
	return nil
}
