package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthtrack/healthtrack-go/internal/catalog"
	"github.com/healthtrack/healthtrack-go/internal/identity"
	"github.com/healthtrack/healthtrack-go/internal/lock"
	"github.com/healthtrack/healthtrack-go/internal/model"
)

var ErrImportBusy = errors.New("another import is in progress")

const (
	importLockKey = "import"

	msgNotPresent = "not present"
	msgNoData     = "no data"
	msgImported   = "Import successful"
	msgCompleted  = "Database import completed"
)

// ImportService restores backup documents into the store.
type ImportService struct {
	catalog     *catalog.Catalog
	store       Store
	locker      lock.Locker
	identity    identity.Provider
	lockTimeout time.Duration
}

// NewImportService creates an ImportService. Imports are serialized with
// locker and, where the store supports it, an advisory lock as well.
func NewImportService(cat *catalog.Catalog, store Store, locker lock.Locker, idp identity.Provider, lockTimeout time.Duration) *ImportService {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if idp == nil {
		idp = identity.Nop{}
	}
	return &ImportService{
		catalog:     cat,
		store:       store,
		locker:      locker,
		identity:    idp,
		lockTimeout: lockTimeout,
	}
}

// Import clears and reloads every catalog table present in doc. Table
// failures are recorded in the report and never stop the run; only lock
// and connection failures return an error.
func (s *ImportService) Import(ctx context.Context, doc model.Document) (model.ImportReport, error) {
	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}

	unlock, err := s.locker.Lock(lockCtx, importLockKey)
	if err != nil {
		return model.ImportReport{}, fmt.Errorf("%w: %w", ErrImportBusy, err)
	}
	defer unlock()

	sess, err := s.store.Session(ctx)
	if err != nil {
		return model.ImportReport{}, err
	}
	defer sess.Close()

	release, err := sess.Lock(lockCtx, importLockKey)
	if err != nil {
		return model.ImportReport{}, fmt.Errorf("%w: %w", ErrImportBusy, err)
	}
	defer release()

	for name := range doc {
		if !s.catalog.Has(name) {
			slog.Debug("ignoring table not in catalog", "table", name)
		}
	}

	restore, err := sess.RelaxIntegrity(ctx)
	if err != nil {
		slog.Warn("relaxing referential integrity failed, continuing", "error", err)
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := restore(rctx); err != nil {
			slog.Warn("restoring referential integrity failed", "error", err)
		}
	}()

	s.clear(ctx, sess, doc)
	results := s.load(ctx, sess, doc)

	slog.Info("import completed", "tables", len(results))
	return model.ImportReport{
		Success: true,
		Message: msgCompleted,
		Results: results,
	}, nil
}

func (s *ImportService) clear(ctx context.Context, sess Session, doc model.Document) {
	for _, t := range s.catalog.DeletionOrder() {
		if _, ok := doc[t.Name]; !ok {
			continue
		}
		n, err := sess.DeleteAll(ctx, t.Name)
		if err != nil {
			slog.Warn("clearing table failed", "table", t.Name, "error", err)
			continue
		}
		slog.Debug("cleared table", "table", t.Name, "rows", n)
	}
}

func (s *ImportService) load(ctx context.Context, sess Session, doc model.Document) map[string]model.Outcome {
	results := make(map[string]model.Outcome, len(s.catalog.Names()))

	for _, t := range s.catalog.InsertionOrder() {
		snap, ok := doc[t.Name]
		if !ok {
			results[t.Name] = model.Outcome{Success: true, Message: msgNotPresent, Count: intPtr(0)}
			continue
		}
		if len(snap.Content) == 0 {
			results[t.Name] = model.Outcome{Success: true, Message: msgNoData, Count: intPtr(0)}
			continue
		}

		n, err := sess.InsertRows(ctx, t.Name, snap.Content)
		if err != nil {
			slog.Warn("importing table failed", "table", t.Name, "error", err)
			results[t.Name] = model.Outcome{Success: false, Message: err.Error()}
			continue
		}

		out := model.Outcome{Success: true, Message: msgImported, Count: intPtr(n)}
		if t.Identity != nil {
			out.Accounts = s.rehydrate(ctx, sess, t, snap.Content)
		}
		results[t.Name] = out
	}
	return results
}

// rehydrate creates a provider account for each imported identity row and
// records the new account id in the row's link column.
func (s *ImportService) rehydrate(ctx context.Context, sess Session, t catalog.Table, rows []model.Row) *model.AccountOutcome {
	out := &model.AccountOutcome{}

	for i, row := range rows {
		acct, err := identity.AccountFromRow(row)
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("row %d: %v", i, err))
			continue
		}

		id, err := s.identity.CreateAccount(ctx, acct)
		if errors.Is(err, identity.ErrNotConfigured) {
			slog.Info("identity provider not configured, skipping account creation", "table", t.Name)
			return nil
		}
		if err != nil {
			slog.Warn("creating account failed", "table", t.Name, "email", acct.Email, "error", err)
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", acct.Email, err))
			continue
		}
		out.Created++

		if t.Identity.Link == "" || len(t.Key) != 1 {
			continue
		}
		if err := sess.UpdateColumn(ctx, t.Name, t.Key[0], row[t.Key[0]], t.Identity.Link, id); err != nil {
			slog.Warn("linking account failed", "table", t.Name, "email", acct.Email, "error", err)
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", acct.Email, err))
		}
	}
	return out
}

func intPtr(n int) *int { return &n }
