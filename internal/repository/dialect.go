package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrLockNotAcquired = errors.New("advisory lock not acquired")

// defaultLockWait bounds GET_LOCK when the context carries no deadline.
const defaultLockWait = 30 * time.Second

// Dialect captures the SQL differences between supported stores. The
// integrity statements are connection-scoped in every dialect.
type Dialect struct {
	Name       string
	DriverName string

	relaxSQL   string
	restoreSQL string

	// timeLayout, when set, rewrites exported RFC 3339 timestamps into the
	// literal form the store accepts for its date and time columns.
	timeLayout string

	quote       func(string) string
	placeholder func(n int) string
	lock        func(ctx context.Context, conn *sql.Conn, key string) error
	unlock      func(ctx context.Context, conn *sql.Conn, key string) error
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql", "":
		return mysqlDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	case "sqlite", "sqlite3":
		return sqliteDialect, nil
	default:
		return Dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// Quote returns name as a quoted identifier.
func (d Dialect) Quote(name string) string { return d.quote(name) }

// arg converts a decoded JSON value into a driver argument.
func (d Dialect) arg(v any) any {
	v = toDB(v)
	if d.timeLayout == "" {
		return v
	}
	if str, ok := v.(string); ok {
		if t, ok := parseTimestamp(str); ok {
			return t.UTC().Format(d.timeLayout)
		}
	}
	return v
}

var mysqlDialect = Dialect{
	Name:       "mysql",
	DriverName: "mysql",
	relaxSQL:   "SET FOREIGN_KEY_CHECKS = 0",
	restoreSQL: "SET FOREIGN_KEY_CHECKS = 1",
	timeLayout: "2006-01-02 15:04:05.999999",
	quote: func(name string) string {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	},
	placeholder: func(int) string { return "?" },
	lock: func(ctx context.Context, conn *sql.Conn, key string) error {
		wait := defaultLockWait
		if deadline, ok := ctx.Deadline(); ok {
			wait = time.Until(deadline)
		}
		seconds := int(math.Max(1, math.Ceil(wait.Seconds())))

		var got sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, seconds).Scan(&got); err != nil {
			return err
		}
		if !got.Valid || got.Int64 != 1 {
			return ErrLockNotAcquired
		}
		return nil
	},
	unlock: func(ctx context.Context, conn *sql.Conn, key string) error {
		_, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", key)
		return err
	},
}

var postgresDialect = Dialect{
	Name:       "postgres",
	DriverName: "pgx",
	relaxSQL:   "SET session_replication_role = 'replica'",
	restoreSQL: "SET session_replication_role = 'origin'",
	quote:      doubleQuote,
	placeholder: func(n int) string {
		return "$" + strconv.Itoa(n)
	},
	lock: func(ctx context.Context, conn *sql.Conn, key string) error {
		_, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1))", key)
		return err
	},
	unlock: func(ctx context.Context, conn *sql.Conn, key string) error {
		_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", key)
		return err
	},
}

// SQLite has no advisory locks; callers serialize with a process lock.
var sqliteDialect = Dialect{
	Name:        "sqlite",
	DriverName:  "sqlite",
	relaxSQL:    "PRAGMA foreign_keys = OFF",
	restoreSQL:  "PRAGMA foreign_keys = ON",
	quote:       doubleQuote,
	placeholder: func(int) string { return "?" },
}

func doubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
