package rbac

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrUnauthorized means there is no active authenticated subject.
	ErrUnauthorized = errors.New("rbac: unauthorized")
	// ErrForbidden means the subject is authenticated but not allowed.
	ErrForbidden = errors.New("rbac: forbidden")
	// ErrValidation wraps malformed override input.
	ErrValidation = errors.New("rbac: invalid input")
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
)

// Role is authoritative account metadata from the users table.
type Role string

const (
	RoleSuperAdmin       Role = "super_admin"
	RoleAdmin            Role = "admin"
	RoleRestrictedWorker Role = "restricted_worker"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleRestrictedWorker:
		return true
	}
	return false
}

// Subject describes the authenticated actor.
type Subject struct {
	ID       int64
	Email    string
	Role     Role
	IsActive bool
}

// Authenticated reports whether s may be treated as logged in at all.
func (s *Subject) Authenticated() bool {
	return s != nil && s.ID > 0 && s.IsActive
}

// IsSuperAdmin reports whether s carries the full-access bypass.
func (s *Subject) IsSuperAdmin() bool {
	return s.Authenticated() && s.Role == RoleSuperAdmin
}

// Action is the capability checked against a page.
type Action string

const (
	ActionView Action = "view"
	ActionEdit Action = "edit"
)

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionView:
		return ActionView, nil
	case ActionEdit:
		return ActionEdit, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, raw)
}

// Override is a per-subject, per-page grant row.
type Override struct {
	SubjectID int64
	PagePath  string
	CanView   bool
	CanEdit   bool
	UpdatedAt time.Time
}

// Allows returns the flag matching action.
func (o Override) Allows(action Action) bool {
	switch action {
	case ActionView:
		return o.CanView
	case ActionEdit:
		return o.CanEdit
	}
	return false
}

// OverrideInput is the administrator-supplied shape of one override.
type OverrideInput struct {
	PagePath string `json:"page_path" yaml:"page" validate:"required,startswith=/,max=255"`
	CanView  bool   `json:"can_view" yaml:"view"`
	CanEdit  bool   `json:"can_edit" yaml:"edit"`
}

// DecisionKind tags how a decision was reached.
type DecisionKind int

const (
	// DecisionDeny is the fail-closed default.
	DecisionDeny DecisionKind = iota
	// DecisionBypass is the super_admin carve-out.
	DecisionBypass
	// DecisionLookup is a decision read from an override row.
	DecisionLookup
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionBypass:
		return "bypass"
	case DecisionLookup:
		return "lookup"
	default:
		return "deny"
	}
}

// Decision is the derived, never persisted answer for (subject, page, action).
type Decision struct {
	Kind      DecisionKind
	SubjectID int64
	PagePath  string
	Action    Action
	Allowed   bool
	Reason    string
}

// NormalizePagePath canonicalises a dashboard route so that "/Dashboard/Units/"
// and "/dashboard/units" share one override row.
func NormalizePagePath(raw string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(raw))
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: page path %q must start with /", ErrValidation, raw)
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = path.Clean(p)
	if len(p) > 255 {
		return "", fmt.Errorf("%w: page path too long", ErrValidation)
	}
	return p, nil
}
