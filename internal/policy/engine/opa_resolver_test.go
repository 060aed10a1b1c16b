package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) *OPAResolver {
	t.Helper()
	r, err := NewOPAResolver(context.Background())
	require.NoError(t, err)
	return r
}

func TestOPAResolver_Permissions(t *testing.T) {
	r := newResolver(t)
	tests := []struct {
		name   string
		role   string
		grants []string
		want   []string
	}{
		{"super admin", "super_admin", nil, []string{"*"}},
		{"viewer", "viewer", nil, []string{"quotations:read", "tenders:read"}},
		{"operator", "operator", nil, []string{"quotations:*", "tenders:read"}},
		{"grants merged and deduplicated", "viewer", []string{"tenders:read", "reports:read", "reports:read"},
			[]string{"quotations:read", "reports:read", "tenders:read"}},
		{"empty grants dropped", "manager", []string{""}, []string{"reports:read", "tenders:read", "tenders:write"}},
		{"unknown role keeps grants", "auditor", []string{"audit:read"}, []string{"audit:read"}},
		{"unknown role", "nobody", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Permissions(context.Background(), tt.role, tt.grants)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOPAResolver_Admin(t *testing.T) {
	r := newResolver(t)
	got, err := r.Permissions(context.Background(), "admin", nil)
	require.NoError(t, err)
	assert.Contains(t, got, "audit:read")
	assert.Contains(t, got, "security:read")
	assert.Contains(t, got, "users:write")
}

func TestOPAResolver_Allowed(t *testing.T) {
	r := newResolver(t)
	tests := []struct {
		name     string
		perms    []string
		required string
		want     bool
	}{
		{"wildcard", []string{"*"}, "security:read", true},
		{"exact", []string{"audit:read"}, "audit:read", true},
		{"resource wildcard", []string{"tenders:*"}, "tenders:delete", true},
		{"resource wildcard other resource", []string{"tenders:*"}, "reports:read", false},
		{"missing", []string{"tenders:read"}, "audit:read", false},
		{"none", nil, "audit:read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Allowed(context.Background(), tt.perms, tt.required)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOPAResolver_HealthCheck(t *testing.T) {
	require.NoError(t, newResolver(t).HealthCheck(context.Background()))
}
