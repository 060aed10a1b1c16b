package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cotai-security/backend/internal/audit/domain"
	"cotai-security/backend/internal/db"
)

const eventColumns = `id, account_id, action, resource_type, ip_address, user_agent, details, status,
	duration_ms, dedupe_key, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit event repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

// Create appends the event. Findings carrying a dedupe key already present are dropped.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) (bool, error) {
	details, err := json.Marshal(detailsOrEmpty(e.Details))
	if err != nil {
		return false, err
	}
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO audit_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING`,
		e.ID, nullString(e.AccountID), string(e.Action), e.ResourceType, e.IPAddress, e.UserAgent,
		string(details), string(e.Status), nullInt64(e.DurationMS), nullString(e.DedupeKey), e.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Query returns one page of events matching f ordered by timestamp descending, and the total count.
func (r *PostgresRepository) Query(ctx context.Context, f domain.Filter, limit, offset int) ([]*domain.Event, int, error) {
	var w where
	if f.AccountID != "" {
		w.add("account_id = ?", f.AccountID)
	}
	if f.Action != "" {
		w.add("action = ?", string(f.Action))
	}
	if f.ResourceType != "" {
		w.add("resource_type = ?", f.ResourceType)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.IPAddress != "" {
		w.add("ip_address = ?", f.IPAddress)
	}
	if f.SecurityOnly {
		w.clauses = append(w.clauses, "status IN ('WARNING', 'SECURITY_INCIDENT', 'CRITICAL')")
	}
	if f.Start != nil {
		w.add("created_at >= ?", *f.Start)
	}
	if f.End != nil {
		w.add("created_at <= ?", *f.End)
	}

	conn := db.Conn(ctx, r.db)
	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args := append(w.args, limit, offset)
	q := fmt.Sprintf(`SELECT %s FROM audit_events%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		eventColumns, w.sql(), len(args)-1, len(args))
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// CountMatching counts the events of m.Action for the account (or IP) inside the window.
func (r *PostgresRepository) CountMatching(ctx context.Context, m domain.Match) (domain.WindowCount, error) {
	w := windowWhere(m, true)
	var (
		wc       domain.WindowCount
		earliest sql.NullTime
	)
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM audit_events`+w.sql(), w.args...).Scan(&wc.Count, &earliest)
	if err != nil {
		return domain.WindowCount{}, err
	}
	if earliest.Valid {
		wc.Earliest = earliest.Time.UTC()
	}
	return wc, nil
}

// Recent returns the newest events inside the window. Action is optional.
func (r *PostgresRepository) Recent(ctx context.Context, m domain.Match, limit int) ([]*domain.Event, error) {
	w := windowWhere(m, m.Action != "")
	args := append(w.args, limit)
	q := fmt.Sprintf(`SELECT %s FROM audit_events%s ORDER BY created_at DESC LIMIT $%d`, eventColumns, w.sql(), len(args))
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// TopAccounts returns the accounts with the most events since the given time.
func (r *PostgresRepository) TopAccounts(ctx context.Context, since time.Time, limit int) ([]domain.AccountActivity, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT account_id, COUNT(*) AS n FROM audit_events
		 WHERE account_id IS NOT NULL AND created_at >= $1
		 GROUP BY account_id ORDER BY n DESC, account_id LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AccountActivity
	for rows.Next() {
		var a domain.AccountActivity
		if err := rows.Scan(&a.AccountID, &a.Events); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IPActivity returns per-IP event counts since the given time.
func (r *PostgresRepository) IPActivity(ctx context.Context, since time.Time) ([]domain.IPCount, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT ip_address, COUNT(*) FROM audit_events
		 WHERE created_at >= $1 AND ip_address <> ''
		 GROUP BY ip_address`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIPCounts(rows)
}

// Summary returns totals for the compliance report period.
func (r *PostgresRepository) Summary(ctx context.Context, start, end time.Time) (domain.Summary, error) {
	var s domain.Summary
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT account_id),
		        COUNT(*) FILTER (WHERE status IN ('WARNING', 'SECURITY_INCIDENT', 'CRITICAL'))
		 FROM audit_events WHERE created_at >= $1 AND created_at <= $2`, start, end).
		Scan(&s.TotalEvents, &s.UniqueAccounts, &s.SecurityIncidents)
	return s, err
}

// windowWhere builds the detection window predicate shared by CountMatching and Recent.
func windowWhere(m domain.Match, withAction bool) where {
	var w where
	switch {
	case m.AccountID != "":
		w.add("account_id = ?", m.AccountID)
	case m.IPAddress != "":
		w.add("ip_address = ?", m.IPAddress)
	}
	if withAction {
		w.add("action = ?", string(m.Action))
	}
	w.add("created_at >= ?", m.Since)
	if !m.Until.IsZero() {
		w.add("created_at <= ?", m.Until)
	}
	if m.ExcludeID != "" {
		w.add("id <> ?", m.ExcludeID)
	}
	return w
}

// where accumulates AND-ed predicates, numbering ? placeholders as $n.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func scanEvents(rows *sql.Rows) ([]*domain.Event, error) {
	var out []*domain.Event
	for rows.Next() {
		var (
			e         domain.Event
			accountID sql.NullString
			action    string
			status    string
			details   []byte
			duration  sql.NullInt64
			dedupe    sql.NullString
		)
		if err := rows.Scan(&e.ID, &accountID, &action, &e.ResourceType, &e.IPAddress, &e.UserAgent,
			&details, &status, &duration, &dedupe, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AccountID = accountID.String
		e.Action = domain.Action(action)
		e.Status = domain.Status(status)
		e.DedupeKey = dedupe.String
		e.CreatedAt = e.CreatedAt.UTC()
		if duration.Valid {
			d := duration.Int64
			e.DurationMS = &d
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanIPCounts(rows *sql.Rows) ([]domain.IPCount, error) {
	var out []domain.IPCount
	for rows.Next() {
		var c domain.IPCount
		if err := rows.Scan(&c.IPAddress, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func detailsOrEmpty(d map[string]any) map[string]any {
	if d == nil {
		return map[string]any{}
	}
	return d
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
