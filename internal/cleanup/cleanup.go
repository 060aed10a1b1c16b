// Package cleanup periodically removes expired sessions and in-memory expiry entries.
package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cotai-security/backend/internal/blacklist"
	"cotai-security/backend/internal/telemetry"
)

// SessionPurger deletes sessions that expired before cutoff.
type SessionPurger interface {
	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Runner purges on a fixed interval. Sessions is optional; so are Purgers.
type Runner struct {
	Sessions  SessionPurger
	Purgers   []blacklist.Purger
	Retention time.Duration
	Interval  time.Duration
	Metrics   *telemetry.Metrics
	Log       zerolog.Logger

	nowF func() time.Time
}

// Result reports one pass.
type Result struct {
	Sessions int64
	Entries  int
}

// RunOnce performs one pass. Session purge errors are returned; in-memory purges cannot fail.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	now := time.Now().UTC()
	if r.nowF != nil {
		now = r.nowF()
	}
	var res Result
	for _, p := range r.Purgers {
		res.Entries += p.Purge(ctx)
	}
	if r.Sessions == nil {
		return res, nil
	}
	n, err := r.Sessions.PurgeExpiredBefore(ctx, now.Add(-r.Retention))
	if err != nil {
		return res, err
	}
	res.Sessions = n
	r.Metrics.SessionsPurged(ctx, n)
	return res, nil
}

// Run calls RunOnce immediately and then every Interval until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := r.RunOnce(ctx)
		if err != nil {
			r.Log.Error().Err(err).Msg("cleanup: purge sessions failed")
		} else if res.Sessions > 0 || res.Entries > 0 {
			r.Log.Info().Int64("sessions", res.Sessions).Int("entries", res.Entries).Msg("cleanup: purged")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
