package service

import (
	"context"

	"github.com/healthtrack/healthtrack-go/internal/model"
	"github.com/healthtrack/healthtrack-go/internal/repository"
)

// Store is the relational store the backup services read and write.
type Store interface {
	SelectAll(ctx context.Context, table string) ([]model.Row, error)
	Session(ctx context.Context) (Session, error)
}

// Session is one pinned store connection. See repository.Session.
type Session interface {
	Lock(ctx context.Context, key string) (func(), error)
	RelaxIntegrity(ctx context.Context) (func(context.Context) error, error)
	DeleteAll(ctx context.Context, table string) (int64, error)
	DeleteRows(ctx context.Context, table string, key []string, rows []model.Row) (int64, error)
	InsertRows(ctx context.Context, table string, rows []model.Row) (int, error)
	UpdateColumn(ctx context.Context, table, keyCol string, keyVal any, col string, val any) error
	Close() error
}

// RemoteFetcher retrieves a whole table through a named remote function.
type RemoteFetcher interface {
	FetchAll(ctx context.Context, function, authToken string) ([]model.Row, error)
}

type sqlStore struct {
	*repository.Store
}

// NewSQLStore adapts a repository store to Store.
func NewSQLStore(s *repository.Store) Store {
	return sqlStore{s}
}

func (s sqlStore) Session(ctx context.Context) (Session, error) {
	sess, err := s.Store.Session(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
