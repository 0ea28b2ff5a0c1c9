package main

import (
	"database/sql"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/healthtrack/healthtrack-go/internal/catalog"
	"github.com/healthtrack/healthtrack-go/internal/config"
	"github.com/healthtrack/healthtrack-go/internal/repository"
	"github.com/healthtrack/healthtrack-go/internal/service"
)

// app holds what every subcommand needs. Flags override the environment.
type app struct {
	cfg     config.Config
	driver  string
	dsn     string
	catPath string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "backupctl",
		Short: "Export and import the health database",
		Long: `backupctl reads and writes encrypted database exports directly against
the store, without going through the HTTP API.

Connection settings come from the environment (DATABASE_DRIVER,
DATABASE_DSN, CATALOG_PATH) or a .env file; flags take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			a.cfg = config.Load()

			level := a.cfg.LogLevel
			if a.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			if !cmd.Flags().Changed("driver") {
				a.driver = a.cfg.DatabaseDriver
			}
			if !cmd.Flags().Changed("dsn") {
				a.dsn = a.cfg.DatabaseDSN
			}
			if !cmd.Flags().Changed("catalog") {
				a.catPath = a.cfg.CatalogPath
			}
		},
	}

	root.PersistentFlags().StringVar(&a.driver, "driver", "", "database driver: mysql, postgres or sqlite")
	root.PersistentFlags().StringVar(&a.dsn, "dsn", "", "database DSN")
	root.PersistentFlags().StringVar(&a.catPath, "catalog", "", "table catalog YAML (built-in when empty)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newExportCmd(a), newImportCmd(a), newCatalogCmd(a))
	return root
}

func (a *app) catalog() (*catalog.Catalog, error) {
	return catalog.FromPath(a.catPath)
}

func (a *app) openStore() (service.Store, *sql.DB, error) {
	db, err := repository.NewDB(a.driver, a.dsn)
	if err != nil {
		return nil, nil, err
	}
	repo, err := repository.NewStore(db, a.driver)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return service.NewSQLStore(repo), db, nil
}
