package dashboard_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/dashboard"
	"github.com/propdesk/propdesk/internal/rbac"
)

type overrides map[string]rbac.Override

func (o overrides) GetOverride(_ context.Context, _ int64, page string) (rbac.Override, error) {
	if v, ok := o[page]; ok {
		return v, nil
	}
	return rbac.Override{}, rbac.ErrNotFound
}

func (o overrides) ReplaceOverrides(context.Context, int64, []rbac.Override) error { return nil }

func (o overrides) ListOverrides(context.Context, int64) ([]rbac.Override, error) { return nil, nil }

type memRecords struct {
	mu   sync.Mutex
	docs []map[string]any
}

func (m *memRecords) Create(_ context.Context, _ string, _ int64, doc map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	return "01HZX0000000000000000000AB", nil
}

type events struct {
	mu  sync.Mutex
	all []activity.Event
}

func (e *events) Record(_ context.Context, ev activity.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func newRouter(subject *rbac.Subject, store rbac.Store, records dashboard.RecordStore, rec rbac.ActivityRecorder) http.Handler {
	gate := rbac.Middleware{Resolver: rbac.NewResolver(store, nil), Activity: rec}
	h := dashboard.NewHandler(nil, gate, records, rec)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithSubject(req.Context(), subject)))
		})
	})
	r.Route("/dashboard", h.MountRoutes)
	return r
}

func get(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	_ = json.Unmarshal(res.Body.Bytes(), &body)
	return res, body
}

func affordanceIDs(body map[string]any) []string {
	var out []string
	list, _ := body["affordances"].([]any)
	for _, a := range list {
		out = append(out, a.(map[string]any)["id"].(string))
	}
	return out
}

func TestAdminWithoutOverrideHidesCreateAccount(t *testing.T) {
	admin := &rbac.Subject{ID: 5, Role: rbac.RoleAdmin, IsActive: true}
	router := newRouter(admin, overrides{}, &memRecords{}, nil)

	res, _ := get(t, router, "/dashboard/accounts")
	assert.Equal(t, http.StatusForbidden, res.Code)

	root := &rbac.Subject{ID: 1, Role: rbac.RoleSuperAdmin, IsActive: true}
	res, body := get(t, newRouter(root, overrides{}, &memRecords{}, nil), "/dashboard/accounts")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, affordanceIDs(body), "create-account")
}

func TestViewOnlyOverrideHidesEditAndForbidsCreate(t *testing.T) {
	admin := &rbac.Subject{ID: 5, Role: rbac.RoleAdmin, IsActive: true}
	store := overrides{"/dashboard/units": {SubjectID: 5, PagePath: "/dashboard/units", CanView: true}}
	records := &memRecords{}
	rec := &events{}
	router := newRouter(admin, store, records, rec)

	res, body := get(t, router, "/dashboard/units")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, false, body["can_edit"])
	assert.Equal(t, []string{"export-units"}, affordanceIDs(body))

	post := httptest.NewRequest(http.MethodPost, "/dashboard/units/records", strings.NewReader(`{"name":"Unit 12B"}`))
	post.Header.Set("Accept-Language", "id")
	out := httptest.NewRecorder()
	router.ServeHTTP(out, post)
	assert.Equal(t, http.StatusForbidden, out.Code)
	assert.Contains(t, out.Body.String(), "Anda tidak memiliki izin untuk mengubah halaman /dashboard/units.")
	assert.Empty(t, records.docs)
	require.Len(t, rec.all, 1)
	assert.Equal(t, activity.ActionAccessDenied, rec.all[0].ActionType)
}

func TestCreateRecordEmitsActivity(t *testing.T) {
	worker := &rbac.Subject{ID: 42, Role: rbac.RoleRestrictedWorker, IsActive: true}
	store := overrides{"/dashboard/maintenance": {SubjectID: 42, PagePath: "/dashboard/maintenance", CanView: true, CanEdit: true}}
	records := &memRecords{}
	rec := &events{}
	router := newRouter(worker, store, records, rec)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/dashboard/maintenance/records", strings.NewReader(`{"title":"Leaking tap","unit":"12B"}`)))
	require.Equal(t, http.StatusCreated, res.Code)
	require.Len(t, records.docs, 1)

	require.Len(t, rec.all, 1)
	ev := rec.all[0]
	assert.Equal(t, activity.ActionCreate, ev.ActionType)
	assert.Equal(t, "ticket", ev.ResourceType)
	assert.Equal(t, int64(42), ev.SubjectID)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/dashboard/maintenance/records", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestIndexListsViewablePages(t *testing.T) {
	worker := &rbac.Subject{ID: 42, Role: rbac.RoleRestrictedWorker, IsActive: true}
	store := overrides{"/dashboard/maintenance": {SubjectID: 42, PagePath: "/dashboard/maintenance", CanView: true}}
	res, body := get(t, newRouter(worker, store, &memRecords{}, nil), "/dashboard/")
	require.Equal(t, http.StatusOK, res.Code)
	pages, _ := body["pages"].([]any)
	require.Len(t, pages, 1)
	assert.Equal(t, "/dashboard/maintenance", pages[0].(map[string]any)["path"])

	res, _ = get(t, newRouter(worker, store, &memRecords{}, nil), "/dashboard/nope")
	assert.Equal(t, http.StatusNotFound, res.Code)
}
