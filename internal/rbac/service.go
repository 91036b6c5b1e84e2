package rbac

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/shared"
)

// ActivityRecorder receives fire-and-forget audit events.
type ActivityRecorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// Service orchestrates administrator writes to the override set.
type Service struct {
	store    Store
	activity ActivityRecorder
	validate *validator.Validate
}

// NewService constructs a Service. recorder may be nil.
func NewService(store Store, recorder ActivityRecorder) *Service {
	return &Service{store: store, activity: recorder, validate: validator.New()}
}

// SetPermissions replaces the whole override set of subjectID. Only an
// active super_admin may call it. An empty slice removes every override.
func (s *Service) SetPermissions(ctx context.Context, actor *Subject, subjectID int64, inputs []OverrideInput) error {
	if err := requireSuperAdmin(actor); err != nil {
		return err
	}
	if subjectID <= 0 {
		return fmt.Errorf("%w: subject id must be positive", ErrValidation)
	}
	overrides, err := s.normalize(subjectID, inputs)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceOverrides(ctx, subjectID, overrides); err != nil {
		return err
	}
	s.recordChange(ctx, actor, subjectID, overrides)
	return nil
}

// Overrides lists the override set of subjectID for administrators.
func (s *Service) Overrides(ctx context.Context, actor *Subject, subjectID int64) ([]Override, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListOverrides(ctx, subjectID)
}

func requireSuperAdmin(actor *Subject) error {
	if !actor.Authenticated() {
		return ErrUnauthorized
	}
	if actor.Role != RoleSuperAdmin {
		return ErrForbidden
	}
	return nil
}

func (s *Service) normalize(subjectID int64, inputs []OverrideInput) ([]Override, error) {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]Override, 0, len(inputs))
	for i, in := range inputs {
		if err := s.validate.Struct(in); err != nil {
			return nil, fmt.Errorf("%w: override %d: %v", ErrValidation, i, err)
		}
		page, err := NormalizePagePath(in.PagePath)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[page]; dup {
			return nil, fmt.Errorf("%w: duplicate page %s", ErrValidation, page)
		}
		seen[page] = struct{}{}
		out = append(out, Override{
			SubjectID: subjectID,
			PagePath:  page,
			CanView:   in.CanView,
			CanEdit:   in.CanEdit,
		})
	}
	return out, nil
}

func (s *Service) recordChange(ctx context.Context, actor *Subject, subjectID int64, overrides []Override) {
	if s.activity == nil {
		return
	}
	pages := make([]map[string]any, 0, len(overrides))
	for _, o := range overrides {
		pages = append(pages, map[string]any{"page": o.PagePath, "view": o.CanView, "edit": o.CanEdit})
	}
	meta := shared.RequestMetaFromContext(ctx)
	s.activity.Record(ctx, activity.Event{
		SubjectID:    actor.ID,
		ActionType:   activity.ActionPermissionChange,
		PagePath:     "/dashboard/permissions",
		ResourceType: "user",
		ResourceID:   strconv.FormatInt(subjectID, 10),
		Description:  fmt.Sprintf("replaced %d page overrides", len(overrides)),
		Metadata:     map[string]any{"overrides": pages},
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	})
}
