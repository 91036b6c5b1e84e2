package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/shared"
)

// Identity resolves the session to an authoritative subject. A nil subject
// with a nil error means the session is anonymous.
type Identity interface {
	CurrentSubject(ctx context.Context, sess *shared.Session) (*Subject, error)
}

type subjectContextKey struct{}

// ContextWithSubject stores the authenticated subject in context.
func ContextWithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, s)
}

// SubjectFromContext returns the subject placed by the middleware, or nil.
func SubjectFromContext(ctx context.Context) *Subject {
	s, _ := ctx.Value(subjectContextKey{}).(*Subject)
	return s
}

// Middleware wires the route gate for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Identity Identity
	Activity ActivityRecorder
	Logger   *slog.Logger
}

// RequireAuthenticated rejects anonymous requests with 401.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := m.authenticate(w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
		})
	}
}

// RequirePage gates a route on (page, action). Anonymous requests get 401,
// authenticated subjects without the grant get 403.
func (m Middleware) RequirePage(page string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := m.Authorize(w, r, page, action)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
		})
	}
}

// Authorize runs the gate inline for handlers whose page comes from the URL.
// On denial the response has already been written.
func (m Middleware) Authorize(w http.ResponseWriter, r *http.Request, page string, action Action) (*Subject, bool) {
	subject, ok := m.authenticate(w, r)
	if !ok {
		return nil, false
	}
	d := m.Resolver.Decide(r.Context(), subject, page, action)
	if d.Allowed {
		return subject, true
	}
	m.logger().Info("access denied",
		slog.Int64("subject_id", subject.ID),
		slog.String("page", d.PagePath),
		slog.String("action", string(action)),
		slog.String("reason", d.Reason))
	m.recordDenial(r, subject, d)
	httpx.Problem(w, http.StatusForbidden, "Forbidden", DenialMessage(r.Header.Get("Accept-Language"), d.PagePath, action))
	return nil, false
}

func (m Middleware) authenticate(w http.ResponseWriter, r *http.Request) (*Subject, bool) {
	if s := SubjectFromContext(r.Context()); s.Authenticated() {
		return s, true
	}
	subject, err := m.currentSubject(r)
	if err != nil {
		m.logger().Error("resolve subject", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return nil, false
	}
	if !subject.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", LoginRequiredMessage(r.Header.Get("Accept-Language")))
		return nil, false
	}
	return subject, true
}

func (m Middleware) currentSubject(r *http.Request) (*Subject, error) {
	if m.Identity == nil {
		return nil, nil
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil, nil
	}
	subject, err := m.Identity.CurrentSubject(r.Context(), sess)
	if errors.Is(err, ErrUnauthorized) {
		return nil, nil
	}
	return subject, err
}

func (m Middleware) recordDenial(r *http.Request, subject *Subject, d Decision) {
	if m.Activity == nil {
		return
	}
	meta := shared.RequestMetaFromContext(r.Context())
	m.Activity.Record(r.Context(), activity.Event{
		SubjectID:   subject.ID,
		ActionType:  activity.ActionAccessDenied,
		PagePath:    d.PagePath,
		Description: "denied " + string(d.Action) + " on " + d.PagePath,
		Metadata:    map[string]any{"method": r.Method, "path": r.URL.Path, "reason": d.Reason},
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	})
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
