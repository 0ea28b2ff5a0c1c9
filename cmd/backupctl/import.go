package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/healthtrack/healthtrack-go/internal/identity"
	"github.com/healthtrack/healthtrack-go/internal/lock"
	"github.com/healthtrack/healthtrack-go/internal/service"
)

func newImportCmd(a *app) *cobra.Command {
	var file, password string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore an export or plain backup document into the store",
		Long: `Clears every table present in the file and reloads it in catalog order.
The per-table report is printed as JSON; the command fails if any table
could not be restored.`,
		Example: `  backupctl import --file backup.encrypted.json --password hunter2
  backupctl import --file plain.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading import file: %w", err)
			}
			doc, err := service.Decode(payload, password)
			if err != nil {
				return err
			}

			cat, err := a.catalog()
			if err != nil {
				return err
			}
			store, db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			var idp identity.Provider = identity.Nop{}
			if a.cfg.AuthAdminURL != "" {
				idp = identity.NewGoTrue(a.cfg.AuthAdminURL, a.cfg.ServiceRoleKey)
			}

			svc := service.NewImportService(cat, store, lock.NewLocal(), idp, a.cfg.ImportLockTimeout)
			report, err := svc.Import(cmd.Context(), doc)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("tables not restored: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "export or backup document to import (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password for encrypted files")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
