package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/healthtrack/healthtrack-go/internal/identity"
	"github.com/healthtrack/healthtrack-go/internal/model"
)

// fakeStore is an in-memory Store that records every session call.
type fakeStore struct {
	mu        sync.Mutex
	tables    map[string][]model.Row
	selectErr map[string]error
	insertErr map[string]error
	deleteErr map[string]error
	relaxErr  error
	calls     []string
	selects   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:    map[string][]model.Row{},
		selectErr: map[string]error{},
		insertErr: map[string]error{},
		deleteErr: map[string]error{},
	}
}

func (f *fakeStore) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeStore) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) SelectAll(_ context.Context, table string) ([]model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects = append(f.selects, table)
	if err := f.selectErr[table]; err != nil {
		return nil, err
	}
	rows := append([]model.Row{}, f.tables[table]...)
	return rows, nil
}

func (f *fakeStore) Session(context.Context) (Session, error) {
	return &fakeSession{store: f}, nil
}

type fakeSession struct {
	store   *fakeStore
	relaxed bool
}

func (s *fakeSession) Lock(context.Context, string) (func(), error) {
	s.store.record("lock")
	return func() { s.store.record("unlock") }, nil
}

func (s *fakeSession) RelaxIntegrity(context.Context) (func(context.Context) error, error) {
	s.store.record("relax")
	if s.store.relaxErr != nil {
		return func(context.Context) error { return nil }, s.store.relaxErr
	}
	s.relaxed = true
	return func(context.Context) error {
		if s.relaxed {
			s.store.record("restore")
			s.relaxed = false
		}
		return nil
	}, nil
}

func (s *fakeSession) DeleteAll(_ context.Context, table string) (int64, error) {
	s.store.record("delete:" + table)
	if err := s.store.deleteErr[table]; err != nil {
		return 0, err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	n := len(s.store.tables[table])
	delete(s.store.tables, table)
	return int64(n), nil
}

func (s *fakeSession) DeleteRows(_ context.Context, table string, key []string, rows []model.Row) (int64, error) {
	s.store.record("delete-rows:" + table)
	if err := s.store.deleteErr[table]; err != nil {
		return 0, err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	gone := map[string]bool{}
	for _, r := range rows {
		gone[keyOf(r, key)] = true
	}
	var kept []model.Row
	for _, r := range s.store.tables[table] {
		if !gone[keyOf(r, key)] {
			kept = append(kept, r)
		}
	}
	n := len(s.store.tables[table]) - len(kept)
	s.store.tables[table] = kept
	return int64(n), nil
}

func (s *fakeSession) InsertRows(_ context.Context, table string, rows []model.Row) (int, error) {
	s.store.record("insert:" + table)
	if err := s.store.insertErr[table]; err != nil {
		return 0, err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.tables[table] = append(s.store.tables[table], rows...)
	return len(rows), nil
}

func (s *fakeSession) UpdateColumn(_ context.Context, table, keyCol string, keyVal any, col string, val any) error {
	s.store.record(fmt.Sprintf("update:%s.%s=%v", table, col, val))
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for _, r := range s.store.tables[table] {
		if r[keyCol] == keyVal {
			r[col] = val
		}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.store.record("close")
	return nil
}

func keyOf(r model.Row, key []string) string {
	var k string
	for _, c := range key {
		k += fmt.Sprint(r[c]) + "|"
	}
	return k
}

type fakeRemote struct {
	mu     sync.Mutex
	rows   map[string][]model.Row
	err    map[string]error
	tokens []string
	called []string
}

func (f *fakeRemote) FetchAll(_ context.Context, function, authToken string) ([]model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, authToken)
	f.called = append(f.called, function)
	if err := f.err[function]; err != nil {
		return nil, err
	}
	return append([]model.Row{}, f.rows[function]...), nil
}

type fakeIdentity struct {
	mu      sync.Mutex
	created []identity.Account
	deleted []string
	fail    map[string]bool
}

func (f *fakeIdentity) CreateAccount(_ context.Context, acct identity.Account) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[acct.Email] {
		return "", errors.New("email already registered")
	}
	f.created = append(f.created, acct)
	return fmt.Sprintf("auth-%d", len(f.created)), nil
}

func (f *fakeIdentity) DeleteAccount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return errors.New("not found")
	}
	f.deleted = append(f.deleted, id)
	return nil
}
