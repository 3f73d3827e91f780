// Command sheetctl runs imports, previews and exports against the database
// directly, without going through the HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetport/internal/application"
	"github.com/JonMunkholm/sheetport/internal/config"
	"github.com/JonMunkholm/sheetport/internal/core"
	"github.com/JonMunkholm/sheetport/internal/logging"
	"github.com/JonMunkholm/sheetport/internal/schema"
	"github.com/JonMunkholm/sheetport/internal/store/sqlstore"
)

var rootCmd = &cobra.Command{
	Use:   "sheetctl",
	Short: "Bulk spreadsheet import and export",
	Long: `sheetctl imports spreadsheets into the entity store and exports
records back out as workbooks or PDF reports.

Connection settings come from the same environment variables as the
server (DB_DRIVER, DATABASE_URL, ...); a .env file in the working
directory is read when present. --db-driver and --db-url override them.

Examples:
  sheetctl entities                                # List entities and record counts
  sheetctl template zones -o zones.xlsx            # Download the import workbook
  sheetctl preview zones zones.xlsx                # Dry run
  sheetctl import zones zones.xlsx --skip-duplicates
  sheetctl export zones --filter region=eq:West -o west.xlsx`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("db-driver", "", "Database driver: postgres or sqlite (overrides DB_DRIVER)")
	rootCmd.PersistentFlags().String("db-url", "", "Database URL or SQLite path (overrides DATABASE_URL)")
	rootCmd.PersistentFlags().String("entity-dir", "", "Directory of extra entity declarations (overrides IMPORT_ENTITY_DIR)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log output (-v info, -vv debug)")
	rootCmd.PersistentFlags().String("actor", "", "Name recorded as creator of imported records")

	rootCmd.AddCommand(entitiesCmd, templateCmd, previewCmd, importCmd, exportCmd)
}

func main() {
	// Existing environment wins over .env for the CLI
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// flagEnv overlays the connection flags on the process environment.
func flagEnv(cmd *cobra.Command) config.Getenv {
	overrides := map[string]string{}
	for flag, key := range map[string]string{
		"db-driver":  "DB_DRIVER",
		"db-url":     "DATABASE_URL",
		"entity-dir": "IMPORT_ENTITY_DIR",
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			overrides[key] = v
		}
	}
	return func(key string) string {
		if v, ok := overrides[key]; ok {
			return v
		}
		return os.Getenv(key)
	}
}

func logLevel(verbosity int) string {
	switch {
	case verbosity >= 2:
		return "debug"
	case verbosity == 1:
		return "info"
	}
	return "warn"
}

// openEngine loads configuration and connects the engine. The caller closes it.
func openEngine(cmd *cobra.Command) (*application.Engine, *config.Config, error) {
	cfg, err := config.LoadFrom(flagEnv(cmd))
	if err != nil {
		return nil, nil, err
	}
	verbosity, _ := cmd.Flags().GetCount("verbose")
	logger := logging.New(os.Stderr, logLevel(verbosity), cfg.Logging.Format)

	st, err := sqlstore.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	reg, err := schema.NewRegistry(cfg.Import.EntityDir)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	engine := application.New(st, reg, application.Options{
		Import: cfg.Import,
		Export: cfg.Export,
		Logger: logger,
	})
	return engine, cfg, nil
}

// commandContext carries the --actor flag into the engine.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if actor, _ := cmd.Flags().GetString("actor"); actor != "" {
		ctx = core.ContextWithActor(ctx, actor)
	}
	return ctx
}
