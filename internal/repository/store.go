package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/healthtrack/healthtrack-go/internal/model"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrIntegrityToggle   = errors.New("toggling referential integrity failed")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WriteError is a failed write against one table.
type WriteError struct {
	Table string
	Op    string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store is a generic relational store keyed by table name.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// NewStore wraps db using the dialect for driver.
func NewStore(db *sql.DB, driver string) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// SelectAll returns every row of table.
func (s *Store) SelectAll(ctx context.Context, table string) ([]model.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+s.dialect.Quote(table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []model.Row{}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		clear(values)
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(model.Row, len(cols))
		for i, c := range cols {
			row[c] = fromDB(values[i])
		}
		result = append(result, row)
	}

	return result, rows.Err()
}

// Session pins a single connection. Integrity toggles and advisory locks
// are connection state, so every write of an import must use one session.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return &Session{conn: conn, dialect: s.dialect}, nil
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}
