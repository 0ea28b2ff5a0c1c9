// Package identity provisions accounts in the external identity provider
// that backs the users table.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/healthtrack/healthtrack-go/internal/model"
)

var (
	ErrNoEmail       = errors.New("account has no email")
	ErrNotConfigured = errors.New("identity provider not configured")
)

// Provider creates and removes accounts.
type Provider interface {
	CreateAccount(ctx context.Context, acct Account) (string, error)
	DeleteAccount(ctx context.Context, id string) error
}

type Account struct {
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	EmailConfirm bool           `json:"email_confirm"`
	Metadata     map[string]any `json:"user_metadata,omitempty"`
}

// AccountFromRow builds the account for an imported users row. The row
// must carry an email; username and is_premium travel as metadata, with
// is_premium false when the row has none.
func AccountFromRow(row model.Row) (Account, error) {
	email, _ := row["email"].(string)
	if email == "" {
		return Account{}, ErrNoEmail
	}

	acct := Account{Email: email, EmailConfirm: true}
	if phone, ok := row["phone"].(string); ok {
		acct.Phone = phone
	}

	acct.Metadata = map[string]any{"is_premium": false}
	if v, ok := row["username"]; ok && v != nil {
		acct.Metadata["username"] = v
	}
	if v, ok := row["is_premium"]; ok && v != nil {
		acct.Metadata["is_premium"] = truthy(v)
	}
	return acct, nil
}

// truthy accepts the shapes a boolean column takes across stores.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "1" || x == "true" || x == "t"
	case int64:
		return x != 0
	case float64:
		return x != 0
	case fmt.Stringer:
		s := x.String()
		return s != "0" && s != "" && s != "false"
	default:
		return false
	}
}

// Nop is used when no identity provider is configured. Creation reports
// ErrNotConfigured so the import outcome shows the skipped step.
type Nop struct{}

func (Nop) CreateAccount(context.Context, Account) (string, error) { return "", ErrNotConfigured }
func (Nop) DeleteAccount(context.Context, string) error           { return nil }
