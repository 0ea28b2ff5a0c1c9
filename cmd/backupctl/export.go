package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/healthtrack/healthtrack-go/internal/service"
)

func newExportCmd(a *app) *cobra.Command {
	var password, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an encrypted export of every catalog table",
		Example: `  backupctl export --password hunter2
  backupctl export --password hunter2 --out backup.encrypted.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return service.ErrPasswordRequired
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

			svc := service.NewExportService(cat, store, nil, nil, service.ExportOptions{
				Concurrency: a.cfg.FetchConcurrency,
			})
			res, err := svc.Export(cmd.Context(), service.ExportRequest{Password: password})
			if err != nil {
				return err
			}

			data, err := json.Marshal(res.Envelope)
			if err != nil {
				return err
			}
			if out == "" {
				out = res.Filename
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}

			for _, table := range res.Failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s exported empty, read failed\n", table)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "encryption password (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: timestamped name)")
	return cmd
}
