package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/rego"
)

const permissionsPolicy = `package cotai.permissions

role_permissions := {
	"super_admin": ["*"],
	"admin": ["users:read", "users:write", "tenders:*", "reports:*", "audit:read", "security:read", "security:write"],
	"manager": ["tenders:read", "tenders:write", "reports:read"],
	"operator": ["tenders:read", "quotations:*"],
	"viewer": ["tenders:read", "quotations:read"]
}

permissions contains p if {
	some p in role_permissions[input.role]
}

permissions contains p if {
	some p in input.grants
	is_string(p)
	p != ""
}

default allow := false

allow if "*" in input.permissions

allow if input.required in input.permissions

allow if {
	some p in input.permissions
	endswith(p, ":*")
	startswith(input.required, trim_suffix(p, "*"))
}
`

// OPAResolver evaluates the permission policy with an embedded OPA Rego engine.
type OPAResolver struct {
	permissions rego.PreparedEvalQuery
	allow       rego.PreparedEvalQuery
}

// NewOPAResolver compiles the permission policy.
func NewOPAResolver(ctx context.Context) (*OPAResolver, error) {
	prepare := func(query string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Query(query),
			rego.Module("permissions.rego", permissionsPolicy),
		).PrepareForEval(ctx)
	}
	perms, err := prepare("data.cotai.permissions.permissions")
	if err != nil {
		return nil, fmt.Errorf("policy: compile permissions: %w", err)
	}
	allow, err := prepare("data.cotai.permissions.allow")
	if err != nil {
		return nil, fmt.Errorf("policy: compile allow: %w", err)
	}
	return &OPAResolver{permissions: perms, allow: allow}, nil
}

func (r *OPAResolver) Permissions(ctx context.Context, role string, grants []string) ([]string, error) {
	if grants == nil {
		grants = []string{}
	}
	rs, err := r.permissions.Eval(ctx, rego.EvalInput(map[string]any{"role": role, "grants": grants}))
	if err != nil {
		return nil, fmt.Errorf("policy: eval permissions: %w", err)
	}
	out := []string{}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return out, nil
	}
	values, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("policy: unexpected permissions result %T", rs[0].Expressions[0].Value)
	}
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *OPAResolver) Allowed(ctx context.Context, permissions []string, required string) (bool, error) {
	if permissions == nil {
		permissions = []string{}
	}
	rs, err := r.allow.Eval(ctx, rego.EvalInput(map[string]any{"permissions": permissions, "required": required}))
	if err != nil {
		return false, fmt.Errorf("policy: eval allow: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// HealthCheck evaluates the policy once with a fixed input.
func (r *OPAResolver) HealthCheck(ctx context.Context) error {
	perms, err := r.Permissions(ctx, "viewer", nil)
	if err != nil {
		return err
	}
	if len(perms) == 0 {
		return fmt.Errorf("policy: viewer resolved to no permissions")
	}
	return nil
}
