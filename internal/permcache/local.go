package permcache

import (
	"context"

	"github.com/propdesk/propdesk/internal/rbac"
)

// SubjectResolver binds a fixed subject to the in-process rbac.Resolver, for
// processes that can reach the override store directly.
type SubjectResolver struct {
	Resolver *rbac.Resolver
	Subject  func(ctx context.Context) (*rbac.Subject, error)
}

// Resolve implements Resolver.
func (r SubjectResolver) Resolve(ctx context.Context, page string, action rbac.Action) (bool, error) {
	subject, err := r.Subject(ctx)
	if err != nil {
		return false, err
	}
	return r.Resolver.Resolve(ctx, subject, page, action), nil
}
