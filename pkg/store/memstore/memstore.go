// Package memstore is an in-memory store.Store used by tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/usherd/usher/pkg/store"
)

type Store struct {
	mtx          sync.Mutex
	users        map[string]store.User
	requests     map[string]store.Request
	keyDataTypes map[string]store.KeyDataType
	logs         []store.DispatchLog

	// PingErr, when set, is returned by Ping to simulate an unreachable
	// store.
	PingErr error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:        map[string]store.User{},
		requests:     map[string]store.Request{},
		keyDataTypes: map[string]store.KeyDataType{},
	}
}

func (s *Store) Ping(context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.PingErr
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return errors.Wrapf(store.ErrDuplicateKey, "username %q", u.Username)
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "user %s", id)
	}
	return &u, nil
}

func (s *Store) ListUsers(context.Context) ([]store.User, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	users := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) ListUserProfiles(context.Context) ([]store.User, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	users := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, store.User{ID: u.ID, Params: u.Params, MaxDailyRequests: u.MaxDailyRequests})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) CreateRequest(_ context.Context, r *store.Request) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.requests[r.ID]; ok {
		return errors.Wrapf(store.ErrDuplicateKey, "request %s", r.ID)
	}
	s.requests[r.ID] = *r
	return nil
}

func (s *Store) GetRequest(_ context.Context, id string) (*store.Request, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, errors.Wrapf(store.ErrNotFound, "request %s", id)
	}
	return &r, nil
}

func (s *Store) ListRequests(_ context.Context, status string) ([]store.Request, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	requests := make([]store.Request, 0, len(s.requests))
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		requests = append(requests, r)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].CreatedAt.After(requests[j].CreatedAt) })
	return requests, nil
}

func (s *Store) AssignRequest(_ context.Context, id, userID string, updatedAt time.Time) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "request %s", id)
	}
	if r.User != nil {
		return errors.Wrapf(store.ErrAlreadyAssigned, "request %s", id)
	}
	r.User = &userID
	r.UpdatedAt = updatedAt
	s.requests[id] = r
	return nil
}

func (s *Store) DailyAcceptCounts(_ context.Context, since time.Time) (map[string]int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	counts := map[string]int{}
	for _, r := range s.requests {
		if r.Status != store.StatusAccept || r.User == nil || r.CreatedAt.Before(since) {
			continue
		}
		counts[*r.User]++
	}
	return counts, nil
}

func (s *Store) CreateKeyDataType(_ context.Context, k *store.KeyDataType) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.keyDataTypes[k.Name]; ok {
		return errors.Wrapf(store.ErrDuplicateKey, "key data type %q", k.Name)
	}
	s.keyDataTypes[k.Name] = *k
	return nil
}

func (s *Store) ListKeyDataTypes(context.Context) ([]store.KeyDataType, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	kdts := make([]store.KeyDataType, 0, len(s.keyDataTypes))
	for _, k := range s.keyDataTypes {
		kdts = append(kdts, k)
	}
	sort.Slice(kdts, func(i, j int) bool { return kdts[i].Name < kdts[j].Name })
	return kdts, nil
}

func (s *Store) InsertDispatchLog(_ context.Context, l *store.DispatchLog) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.logs = append(s.logs, *l)
	return nil
}

func (s *Store) DispatchSummary(_ context.Context, start, end *time.Time) ([]store.SummaryRow, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	byDate := map[string]int{}
	for _, l := range s.logs {
		if start != nil && l.RequestCreatedAt.Before(*start) {
			continue
		}
		if end != nil && l.RequestCreatedAt.After(*end) {
			continue
		}
		byDate[l.RequestCreatedAt.UTC().Format("2006-01-02")]++
	}

	rows := make([]store.SummaryRow, 0, len(byDate))
	for date, count := range byDate {
		rows = append(rows, store.SummaryRow{Date: date, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}

// DispatchLogs snapshots the audit log for assertions.
func (s *Store) DispatchLogs() []store.DispatchLog {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	out := make([]store.DispatchLog, len(s.logs))
	copy(out, s.logs)
	return out
}
