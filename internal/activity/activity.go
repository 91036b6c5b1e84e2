// Package activity records permission-gated actions and page visits.
// Recording is best effort: callers never observe a write failure.
package activity

import (
	"context"
	"fmt"
	"time"
)

// ActionType classifies an activity record.
type ActionType string

const (
	ActionPageView         ActionType = "page_view"
	ActionCreate           ActionType = "create"
	ActionUpdate           ActionType = "update"
	ActionDelete           ActionType = "delete"
	ActionPermissionChange ActionType = "permission_change"
	ActionAccessDenied     ActionType = "access_denied"
)

// ParseActionType validates a raw action type received over the wire.
func ParseActionType(raw string) (ActionType, error) {
	switch t := ActionType(raw); t {
	case ActionPageView, ActionCreate, ActionUpdate, ActionDelete, ActionPermissionChange, ActionAccessDenied:
		return t, nil
	}
	return "", fmt.Errorf("activity: unknown action type %q", raw)
}

// Event is what callers hand to the emitter.
type Event struct {
	SubjectID    int64          `json:"subject_id"`
	ActionType   ActionType     `json:"action_type"`
	PagePath     string         `json:"page_path,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Description  string         `json:"description,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
}

// Record is an append-only activity log row.
type Record struct {
	ID string `json:"id"`
	Event
	CreatedAt time.Time `json:"created_at"`
}

// Sink persists records. Implementations may fail; the emitter swallows it.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}
