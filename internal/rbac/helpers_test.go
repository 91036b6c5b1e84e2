package rbac_test

import (
	"context"
	"errors"
	"sync"

	"github.com/propdesk/propdesk/internal/activity"
	"github.com/propdesk/propdesk/internal/rbac"
)

type memStore struct {
	mu         sync.Mutex
	rows       map[int64][]rbac.Override
	getErr     error
	replaceErr error
	gets       int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64][]rbac.Override)}
}

func (s *memStore) GetOverride(_ context.Context, subjectID int64, pagePath string) (rbac.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return rbac.Override{}, s.getErr
	}
	for _, o := range s.rows[subjectID] {
		if o.PagePath == pagePath {
			return o, nil
		}
	}
	return rbac.Override{}, rbac.ErrNotFound
}

func (s *memStore) ReplaceOverrides(_ context.Context, subjectID int64, overrides []rbac.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.rows[subjectID] = append([]rbac.Override(nil), overrides...)
	return nil
}

func (s *memStore) ListOverrides(_ context.Context, subjectID int64) ([]rbac.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rbac.Override(nil), s.rows[subjectID]...), nil
}

func (s *memStore) lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

type recorder struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recorder) Record(_ context.Context, ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []activity.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]activity.Event(nil), r.events...)
}

var errStoreDown = errors.New("connection refused")

func superAdmin() *rbac.Subject {
	return &rbac.Subject{ID: 1, Email: "root@propdesk.test", Role: rbac.RoleSuperAdmin, IsActive: true}
}

func worker(id int64) *rbac.Subject {
	return &rbac.Subject{ID: id, Email: "worker@propdesk.test", Role: rbac.RoleRestrictedWorker, IsActive: true}
}
