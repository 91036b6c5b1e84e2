package rbac

import (
	"context"
	"errors"
	"log/slog"
)

// Resolver decides view/edit access for (subject, page). It never fails:
// missing subjects, unknown actions and store errors all resolve to deny.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver constructs a Resolver reading overrides from store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger.With(slog.String("component", "rbac.resolver"))}
}

// Resolve reports whether subject may perform action on pagePath.
func (r *Resolver) Resolve(ctx context.Context, subject *Subject, pagePath string, action Action) bool {
	return r.Decide(ctx, subject, pagePath, action).Allowed
}

// Decide returns the tagged decision for (subject, page, action).
func (r *Resolver) Decide(ctx context.Context, subject *Subject, pagePath string, action Action) Decision {
	d := Decision{Kind: DecisionDeny, PagePath: pagePath, Action: action}
	if subject != nil {
		d.SubjectID = subject.ID
	}
	if !subject.Authenticated() {
		d.Reason = "unauthenticated"
		return d
	}
	if action != ActionView && action != ActionEdit {
		d.Reason = "unknown action"
		return d
	}
	page, err := NormalizePagePath(pagePath)
	if err == nil {
		d.PagePath = page
	}
	// super_admin passes on every page, including ones that do not normalise.
	if subject.Role == RoleSuperAdmin {
		return bypass(d)
	}
	if err != nil {
		d.Reason = "invalid page"
		return d
	}
	return r.lookup(ctx, subject, d)
}

func bypass(d Decision) Decision {
	d.Kind = DecisionBypass
	d.Allowed = true
	d.Reason = "super_admin"
	return d
}

func (r *Resolver) lookup(ctx context.Context, subject *Subject, d Decision) Decision {
	if r.store == nil {
		d.Reason = "no store"
		return d
	}
	o, err := r.store.GetOverride(ctx, subject.ID, d.PagePath)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			d.Reason = "no override"
			return d
		}
		r.logger.Warn("override lookup failed, denying",
			slog.Int64("subject_id", subject.ID),
			slog.String("page", d.PagePath),
			slog.Any("error", err))
		d.Reason = "store error"
		return d
	}
	d.Kind = DecisionLookup
	d.Allowed = o.Allows(d.Action)
	if d.Allowed {
		d.Reason = "override"
	} else {
		d.Reason = "override denies"
	}
	return d
}
