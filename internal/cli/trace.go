package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scalytics/skytext/internal/tracestore"
)

var traceCmd = &cobra.Command{
	Use:   "trace <trace_id>",
	Short: "Show a stored trace as a timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := tracestore.Open(ctx, storeOptions(appConfig))
		if err != nil {
			return fmt.Errorf("open trace store: %w", err)
		}
		defer store.Close()

		tr, err := store.GetTrace(ctx, args[0])
		if err != nil {
			return err
		}
		if tr == nil {
			return fmt.Errorf("trace not found: %s", args[0])
		}
		renderTimeline(cmd.OutOrStdout(), tr)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		mode := strings.ToLower(cfg.Store.Mode)
		if mode != tracestore.ModeSQL && mode != tracestore.ModePostgres {
			return errors.New("migrate requires store.mode sql or postgres")
		}
		driver := cfg.Store.Driver
		if mode == tracestore.ModePostgres {
			driver = tracestore.DriverPgx
		}
		ctx := cmd.Context()
		store, err := tracestore.OpenSQL(ctx, driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		applied, err := store.Migrate(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(applied) == 0 {
			fmt.Fprintln(out, "No pending migrations")
			return nil
		}
		for _, name := range applied {
			fmt.Fprintf(out, "Applied %s\n", name)
		}
		return nil
	},
}
