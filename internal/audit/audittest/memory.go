// Package audittest provides an in-memory audit store for tests of packages that record or read audit events.
package audittest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cotai-security/backend/internal/audit/domain"
)

// Store implements the audit event and login attempt repositories in memory with the same
// window, dedupe and ordering semantics as the Postgres repositories.
type Store struct {
	mu        sync.Mutex
	events    []*domain.Event
	attempts  []*domain.LoginAttempt
	dedupe    map[string]struct{}
	CreateErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{dedupe: map[string]struct{}{}}
}

func (s *Store) Create(_ context.Context, e *domain.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return false, s.CreateErr
	}
	if e.DedupeKey != "" {
		if _, ok := s.dedupe[e.DedupeKey]; ok {
			return false, nil
		}
		s.dedupe[e.DedupeKey] = struct{}{}
	}
	cp := *e
	s.events = append(s.events, &cp)
	return true, nil
}

func (s *Store) Query(_ context.Context, f domain.Filter, limit, offset int) ([]*domain.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*domain.Event
	for _, e := range s.events {
		if f.AccountID != "" && e.AccountID != f.AccountID ||
			f.Action != "" && e.Action != f.Action ||
			f.ResourceType != "" && e.ResourceType != f.ResourceType ||
			f.Status != "" && e.Status != f.Status ||
			f.IPAddress != "" && e.IPAddress != f.IPAddress ||
			f.SecurityOnly && !e.Status.IsSecurity() ||
			f.Start != nil && e.CreatedAt.Before(*f.Start) ||
			f.End != nil && e.CreatedAt.After(*f.End) {
			continue
		}
		matched = append(matched, e)
	}
	newestFirst(matched)
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return copyEvents(matched[offset:end]), total, nil
}

func (s *Store) CountMatching(_ context.Context, m domain.Match) (domain.WindowCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wc domain.WindowCount
	for _, e := range s.window(m, true) {
		wc.Count++
		if wc.Earliest.IsZero() || e.CreatedAt.Before(wc.Earliest) {
			wc.Earliest = e.CreatedAt
		}
	}
	return wc, nil
}

func (s *Store) Recent(_ context.Context, m domain.Match, limit int) ([]*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.window(m, m.Action != "")
	newestFirst(events)
	if len(events) > limit {
		events = events[:limit]
	}
	return copyEvents(events), nil
}

func (s *Store) TopAccounts(_ context.Context, since time.Time, limit int) ([]domain.AccountActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, e := range s.events {
		if e.AccountID != "" && !e.CreatedAt.Before(since) {
			counts[e.AccountID]++
		}
	}
	out := make([]domain.AccountActivity, 0, len(counts))
	for id, n := range counts {
		out = append(out, domain.AccountActivity{AccountID: id, Events: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].AccountID < out[j].AccountID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) IPActivity(_ context.Context, since time.Time) ([]domain.IPCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, e := range s.events {
		if e.IPAddress != "" && !e.CreatedAt.Before(since) {
			counts[e.IPAddress]++
		}
	}
	return rankIPs(counts, len(counts)), nil
}

func (s *Store) Summary(_ context.Context, start, end time.Time) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum domain.Summary
	accounts := map[string]struct{}{}
	for _, e := range s.events {
		if e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
			continue
		}
		sum.TotalEvents++
		if e.AccountID != "" {
			accounts[e.AccountID] = struct{}{}
		}
		if e.Status.IsSecurity() {
			sum.SecurityIncidents++
		}
	}
	sum.UniqueAccounts = len(accounts)
	return sum, nil
}

func (s *Store) CreateAttempt(_ context.Context, a *domain.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	cp := *a
	s.attempts = append(s.attempts, &cp)
	return nil
}

func (s *Store) CountFailed(_ context.Context, m domain.Match) (domain.WindowCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var wc domain.WindowCount
	for _, a := range s.attempts {
		if a.Success || a.ID == m.ExcludeID && m.ExcludeID != "" {
			continue
		}
		switch {
		case m.Email != "":
			if !strings.EqualFold(a.Email, m.Email) {
				continue
			}
		case m.IPAddress != "":
			if a.IPAddress != m.IPAddress {
				continue
			}
		}
		if !inWindow(a.CreatedAt, m) {
			continue
		}
		wc.Count++
		if wc.Earliest.IsZero() || a.CreatedAt.Before(wc.Earliest) {
			wc.Earliest = a.CreatedAt
		}
	}
	return wc, nil
}

func (s *Store) LoginStats(_ context.Context, since time.Time) (domain.LoginStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.LoginStats
	for _, a := range s.attempts {
		if a.CreatedAt.Before(since) {
			continue
		}
		st.Total++
		if a.Success {
			st.Success++
		} else {
			st.Failed++
		}
	}
	return st, nil
}

func (s *Store) FailedByIP(_ context.Context, since time.Time, limit int) ([]domain.IPCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	for _, a := range s.attempts {
		if !a.Success && !a.CreatedAt.Before(since) {
			counts[a.IPAddress]++
		}
	}
	return rankIPs(counts, limit), nil
}

// Events returns a snapshot of every stored event in insertion order.
func (s *Store) Events() []*domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyEvents(s.events)
}

// EventsByAction returns the stored events with the given action in insertion order.
func (s *Store) EventsByAction(a domain.Action) []*domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Event
	for _, e := range s.events {
		if e.Action == a {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// Attempts returns a snapshot of every stored login attempt.
func (s *Store) Attempts() []*domain.LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.LoginAttempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// window must be called with mu held.
func (s *Store) window(m domain.Match, withAction bool) []*domain.Event {
	var out []*domain.Event
	for _, e := range s.events {
		switch {
		case m.AccountID != "":
			if e.AccountID != m.AccountID {
				continue
			}
		case m.IPAddress != "":
			if e.IPAddress != m.IPAddress {
				continue
			}
		}
		if withAction && e.Action != m.Action {
			continue
		}
		if m.ExcludeID != "" && e.ID == m.ExcludeID {
			continue
		}
		if !inWindow(e.CreatedAt, m) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func inWindow(t time.Time, m domain.Match) bool {
	if t.Before(m.Since) {
		return false
	}
	return m.Until.IsZero() || !t.After(m.Until)
}

func newestFirst(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
}

func copyEvents(in []*domain.Event) []*domain.Event {
	out := make([]*domain.Event, 0, len(in))
	for _, e := range in {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func rankIPs(counts map[string]int, limit int) []domain.IPCount {
	out := make([]domain.IPCount, 0, len(counts))
	for ip, n := range counts {
		out = append(out, domain.IPCount{IPAddress: ip, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IPAddress < out[j].IPAddress
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
