package engine

import "context"

// Resolver turns an account's role and explicit grants into the permission set carried in
// access tokens, and checks a permission set against a required permission.
type Resolver interface {
	// Permissions returns the sorted, deduplicated union of the role's permissions and grants.
	Permissions(ctx context.Context, role string, grants []string) ([]string, error)
	// Allowed reports whether permissions satisfy required. "*" grants everything and
	// "resource:*" grants every action on resource.
	Allowed(ctx context.Context, permissions []string, required string) (bool, error)
}
