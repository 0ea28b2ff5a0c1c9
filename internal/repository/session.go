package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/healthtrack/healthtrack-go/internal/model"
)

// Session is a store connection held for the duration of one operation.
type Session struct {
	conn    *sql.Conn
	dialect Dialect
	relaxed bool
}

// Lock takes the store's advisory lock for key. Stores without advisory
// locks return a no-op release.
func (s *Session) Lock(ctx context.Context, key string) (func(), error) {
	if s.dialect.lock == nil {
		return func() {}, nil
	}
	if err := s.dialect.lock(ctx, s.conn, key); err != nil {
		return nil, fmt.Errorf("lock %q: %w", key, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.dialect.unlock(ctx, s.conn, key); err != nil {
			slog.Warn("releasing advisory lock failed", "key", key, "error", err)
		}
	}, nil
}

// RelaxIntegrity turns off foreign-key enforcement on this connection and
// returns the function that turns it back on. The restore function may be
// called more than once.
func (s *Session) RelaxIntegrity(ctx context.Context) (func(context.Context) error, error) {
	if _, err := s.conn.ExecContext(ctx, s.dialect.relaxSQL); err != nil {
		return func(context.Context) error { return nil }, fmt.Errorf("%w: %v", ErrIntegrityToggle, err)
	}
	s.relaxed = true

	return func(ctx context.Context) error {
		if !s.relaxed {
			return nil
		}
		if _, err := s.conn.ExecContext(ctx, s.dialect.restoreSQL); err != nil {
			return fmt.Errorf("%w: %v", ErrIntegrityToggle, err)
		}
		s.relaxed = false
		return nil
	}, nil
}

// DeleteAll removes every row of table.
func (s *Session) DeleteAll(ctx context.Context, table string) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, &WriteError{Table: table, Op: "delete", Err: err}
	}

	res, err := s.conn.ExecContext(ctx, "DELETE FROM "+s.dialect.Quote(table))
	if err != nil {
		return 0, &WriteError{Table: table, Op: "delete", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteRows removes the given rows, matched by the key columns, in one
// transaction.
func (s *Session) DeleteRows(ctx context.Context, table string, key []string, rows []model.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(key) == 0 {
		return 0, &WriteError{Table: table, Op: "delete", Err: fmt.Errorf("no key columns")}
	}
	for _, name := range append([]string{table}, key...) {
		if err := checkIdent(name); err != nil {
			return 0, &WriteError{Table: table, Op: "delete", Err: err}
		}
	}

	where := make([]string, len(key))
	for i, k := range key {
		where[i] = s.dialect.Quote(k) + " = " + s.dialect.placeholder(i+1)
	}
	query := "DELETE FROM " + s.dialect.Quote(table) + " WHERE " + strings.Join(where, " AND ")

	var total int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		args := make([]any, len(key))
		for i, row := range rows {
			for j, k := range key {
				v, ok := row[k]
				if !ok {
					return fmt.Errorf("row %d has no key column %q", i, k)
				}
				args[j] = s.dialect.arg(v)
			}
			res, err := stmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, &WriteError{Table: table, Op: "delete", Err: err}
	}
	return total, nil
}

// InsertRows inserts rows into table in one transaction; either every row
// is written or none is. Each row uses its own column set so absent
// columns fall back to their defaults.
func (s *Session) InsertRows(ctx context.Context, table string, rows []model.Row) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, &WriteError{Table: table, Op: "insert", Err: err}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmts := map[string]*sql.Stmt{}
		defer func() {
			for _, st := range stmts {
				_ = st.Close()
			}
		}()

		for i, row := range rows {
			cols := columns(row)
			if len(cols) == 0 {
				return fmt.Errorf("row %d has no columns", i)
			}
			for _, c := range cols {
				if err := checkIdent(c); err != nil {
					return fmt.Errorf("row %d: %w", i, err)
				}
			}

			sig := strings.Join(cols, ",")
			stmt, ok := stmts[sig]
			if !ok {
				var err error
				stmt, err = tx.PrepareContext(ctx, s.insertSQL(table, cols))
				if err != nil {
					return err
				}
				stmts[sig] = stmt
			}

			args := make([]any, len(cols))
			for j, c := range cols {
				args[j] = s.dialect.arg(row[c])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, &WriteError{Table: table, Op: "insert", Err: err}
	}
	return len(rows), nil
}

// UpdateColumn sets col to val on the row whose keyCol equals keyVal.
func (s *Session) UpdateColumn(ctx context.Context, table, keyCol string, keyVal any, col string, val any) error {
	for _, name := range []string{table, keyCol, col} {
		if err := checkIdent(name); err != nil {
			return &WriteError{Table: table, Op: "update", Err: err}
		}
	}

	query := "UPDATE " + s.dialect.Quote(table) +
		" SET " + s.dialect.Quote(col) + " = " + s.dialect.placeholder(1) +
		" WHERE " + s.dialect.Quote(keyCol) + " = " + s.dialect.placeholder(2)
	if _, err := s.conn.ExecContext(ctx, query, s.dialect.arg(val), s.dialect.arg(keyVal)); err != nil {
		return &WriteError{Table: table, Op: "update", Err: err}
	}
	return nil
}

// Close returns the connection to the pool. A connection still in relaxed
// mode is discarded instead so the setting cannot leak to other callers.
func (s *Session) Close() error {
	if s.relaxed {
		slog.Warn("discarding connection left with integrity checks disabled")
		_ = s.conn.Raw(func(any) error { return driver.ErrBadConn })
		return nil
	}
	return s.conn.Close()
}

func (s *Session) insertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = s.dialect.Quote(c)
		marks[i] = s.dialect.placeholder(i + 1)
	}
	return "INSERT INTO " + s.dialect.Quote(table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}

func (s *Session) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func columns(row model.Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return slices.Compact(cols)
}
