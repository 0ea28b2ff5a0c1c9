package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/healthtrack/healthtrack-go/internal/catalog"
	"github.com/healthtrack/healthtrack-go/internal/crypto"
	"github.com/healthtrack/healthtrack-go/internal/identity"
	"github.com/healthtrack/healthtrack-go/internal/model"
)

var (
	ErrPasswordRequired = errors.New("password is required")
	ErrForbidden        = errors.New("invalid admin password")
)

const defaultFetchConcurrency = 4

// FetchError is a failed retrieval of one table during export.
type FetchError struct {
	Table string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Table, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type ExportOptions struct {
	// Concurrency bounds parallel table reads.
	Concurrency int
	// PurgeTables are emptied after a successful export.
	PurgeTables []string
	// AdminPassword, when set, must match the export password.
	// Deprecated: kept for old dashboard deployments.
	AdminPassword string
}

type ExportRequest struct {
	AuthToken string
	Password  string
}

type ExportResult struct {
	Filename string
	Envelope crypto.Envelope
	// Failed names tables exported as empty because retrieval failed.
	Failed []string
	// Warnings describe purge steps that did not complete.
	Warnings []string
}

// ExportService assembles and encrypts backup documents.
type ExportService struct {
	catalog  *catalog.Catalog
	store    Store
	remote   RemoteFetcher
	identity identity.Provider
	opts     ExportOptions
	now      func() time.Time
}

// NewExportService creates an ExportService. remote may be nil, in which
// case every table is read from the store.
func NewExportService(cat *catalog.Catalog, store Store, remote RemoteFetcher, idp identity.Provider, opts ExportOptions) *ExportService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultFetchConcurrency
	}
	if idp == nil {
		idp = identity.Nop{}
	}
	return &ExportService{
		catalog:  cat,
		store:    store,
		remote:   remote,
		identity: idp,
		opts:     opts,
		now:      time.Now,
	}
}

// Export reads every catalog table, encrypts the document under the
// request password and, if configured, purges the exported rows.
func (s *ExportService) Export(ctx context.Context, req ExportRequest) (ExportResult, error) {
	if req.Password == "" {
		return ExportResult{}, ErrPasswordRequired
	}
	if s.opts.AdminPassword != "" &&
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.opts.AdminPassword)) != 1 {
		return ExportResult{}, ErrForbidden
	}

	doc, failed := s.collect(ctx, req.AuthToken)
	if err := ctx.Err(); err != nil {
		return ExportResult{}, err
	}

	plaintext, err := json.Marshal(doc)
	if err != nil {
		return ExportResult{}, fmt.Errorf("encoding document: %w", err)
	}
	env, err := crypto.Encrypt(plaintext, req.Password)
	if err != nil {
		return ExportResult{}, fmt.Errorf("encrypting document: %w", err)
	}

	result := ExportResult{
		Filename: ExportFilename(s.now()),
		Envelope: env,
		Failed:   failed,
	}
	result.Warnings = s.purge(ctx, doc, failed)

	slog.Info("export completed", "tables", len(doc), "failed", len(failed), "warnings", len(result.Warnings))
	return result, nil
}

// ExportFilename names an export taken at t.
func ExportFilename(t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return "database-export-" + ts + ".encrypted.json"
}

func (s *ExportService) collect(ctx context.Context, authToken string) (model.Document, []string) {
	tables := s.catalog.InsertionOrder()
	snapshots := make([]model.TableSnapshot, len(tables))
	errs := make([]error, len(tables))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, t := range tables {
		g.Go(func() error {
			rows, err := s.fetch(ctx, t, authToken)
			if err != nil {
				errs[i] = &FetchError{Table: t.Name, Err: err}
				rows = []model.Row{}
			}
			snapshots[i] = model.TableSnapshot{Content: rows}
			return nil
		})
	}
	_ = g.Wait()

	doc := make(model.Document, len(tables))
	var failed []string
	for i, t := range tables {
		doc[t.Name] = snapshots[i]
		if errs[i] != nil {
			slog.Warn("table export failed, exporting empty snapshot", "table", t.Name, "error", errs[i])
			failed = append(failed, t.Name)
		}
	}
	return doc, failed
}

func (s *ExportService) fetch(ctx context.Context, t catalog.Table, authToken string) ([]model.Row, error) {
	if s.remote != nil && t.Function != "" {
		return s.remote.FetchAll(ctx, t.Function, authToken)
	}
	return s.store.SelectAll(ctx, t.Name)
}

// purge deletes exported rows children first. A table whose fetch failed
// is never purged: its rows are not in the export.
func (s *ExportService) purge(ctx context.Context, doc model.Document, failed []string) []string {
	if len(s.opts.PurgeTables) == 0 {
		return nil
	}

	want := make(map[string]bool, len(s.opts.PurgeTables))
	for _, name := range s.opts.PurgeTables {
		want[name] = true
	}
	skip := make(map[string]bool, len(failed))
	for _, name := range failed {
		skip[name] = true
	}

	var warnings []string
	warn := func(table string, err error) {
		slog.Warn("post-export purge failed", "table", table, "error", err)
		warnings = append(warnings, fmt.Sprintf("%s: %v", table, err))
	}

	sess, err := s.store.Session(ctx)
	if err != nil {
		warn("*", err)
		return warnings
	}
	defer sess.Close()

	for _, t := range s.catalog.DeletionOrder() {
		if !want[t.Name] {
			continue
		}
		if skip[t.Name] {
			warn(t.Name, errors.New("not purged because its export failed"))
			continue
		}
		rows := doc[t.Name].Content
		if len(rows) == 0 {
			continue
		}

		if len(t.Key) > 0 {
			_, err = sess.DeleteRows(ctx, t.Name, t.Key, rows)
		} else {
			_, err = sess.DeleteAll(ctx, t.Name)
		}
		if err != nil {
			warn(t.Name, err)
			continue
		}

		if t.Identity != nil && t.Identity.Link != "" {
			for _, row := range rows {
				id, _ := row[t.Identity.Link].(string)
				if id == "" {
					continue
				}
				if err := s.identity.DeleteAccount(ctx, id); err != nil {
					warn(t.Name, fmt.Errorf("deleting account %s: %w", id, err))
				}
			}
		}
	}
	return warnings
}
