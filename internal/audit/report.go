package audit

import (
	"context"
	"time"

	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/device"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// maxPage keeps the row offset well inside int and Postgres OFFSET bounds.
	maxPage = 10000
)

// Page is one page of audit events, newest first.
type Page struct {
	Items []*domain.Event `json:"items"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
	Pages int             `json:"pages"`
}

// Query returns the requested page of events matching f. page is clamped to [1, 10000]; size to [1, 100].
func (l *Logger) Query(ctx context.Context, f domain.Filter, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	items, total, err := l.repo.Query(ctx, f, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.Event{}
	}
	return &Page{
		Items: items,
		Total: total,
		Page:  page,
		Size:  size,
		Pages: (total + size - 1) / size,
	}, nil
}

// Dashboard is the admin security overview for a trailing period.
type Dashboard struct {
	PeriodDays       int                      `json:"period_days"`
	Since            time.Time                `json:"since"`
	Logins           LoginSection             `json:"login_statistics"`
	SecurityEvents   []*domain.Event          `json:"recent_security_events"`
	TopAccounts      []domain.AccountActivity `json:"top_accounts"`
	Locations        map[string]int           `json:"location_distribution"`
	FailedLoginsByIP []domain.IPCount         `json:"failed_logins_by_ip"`
}

// LoginSection is the login statistics block of the dashboard.
type LoginSection struct {
	domain.LoginStats
	SuccessRate float64 `json:"success_rate"`
}

// Dashboard aggregates the last days of activity. days is clamped to [1, 90] and defaults to 7.
func (l *Logger) Dashboard(ctx context.Context, days int) (*Dashboard, error) {
	if days < 1 {
		days = 7
	}
	if days > 90 {
		days = 90
	}
	since := l.nowF().Add(-time.Duration(days) * 24 * time.Hour)

	stats, err := l.attempts.LoginStats(ctx, since)
	if err != nil {
		return nil, err
	}
	security, _, err := l.repo.Query(ctx, domain.Filter{SecurityOnly: true, Start: &since}, 20, 0)
	if err != nil {
		return nil, err
	}
	top, err := l.repo.TopAccounts(ctx, since, 10)
	if err != nil {
		return nil, err
	}
	ips, err := l.repo.IPActivity(ctx, since)
	if err != nil {
		return nil, err
	}
	failed, err := l.attempts.FailedByIP(ctx, since, 10)
	if err != nil {
		return nil, err
	}

	locations := map[string]int{}
	for _, c := range ips {
		locations[device.LocationClass(c.IPAddress)] += c.Count
	}
	return &Dashboard{
		PeriodDays:       days,
		Since:            since,
		Logins:           LoginSection{LoginStats: stats, SuccessRate: stats.SuccessRate()},
		SecurityEvents:   nonNilEvents(security),
		TopAccounts:      top,
		Locations:        locations,
		FailedLoginsByIP: failed,
	}, nil
}

// ComplianceReport is the event listing and summary for a reporting period.
type ComplianceReport struct {
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	GeneratedAt time.Time      `json:"generated_at"`
	Summary     domain.Summary `json:"summary"`
	Events      *Page          `json:"events"`
}

// ComplianceReport summarizes [start, end] and returns the requested page of its events.
func (l *Logger) ComplianceReport(ctx context.Context, start, end time.Time, page, size int) (*ComplianceReport, error) {
	summary, err := l.repo.Summary(ctx, start, end)
	if err != nil {
		return nil, err
	}
	events, err := l.Query(ctx, domain.Filter{Start: &start, End: &end}, page, size)
	if err != nil {
		return nil, err
	}
	return &ComplianceReport{
		Start:       start,
		End:         end,
		GeneratedAt: l.nowF(),
		Summary:     summary,
		Events:      events,
	}, nil
}

func nonNilEvents(e []*domain.Event) []*domain.Event {
	if e == nil {
		return []*domain.Event{}
	}
	return e
}
