package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pilot-net/ctrl-upgrade/db/migrate"
	"github.com/pilot-net/ctrl-upgrade/internal/history"
	"github.com/pilot-net/ctrl-upgrade/internal/report"
)

func historyCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent upgrade runs",
		Long: `Show recent runs recorded in the history database
(history.database_url in the config file).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, printer, err := opts.openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("reading history: %w", err)
			}
			if len(runs) == 0 {
				printer.Line("No runs recorded")
				return nil
			}
			printer.Table(historyHeader, historyRows(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Show applied history schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, printer, err := opts.openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := migrate.GetStatus(cmd.Context(), store.Pool())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(status.Applied)+len(status.Pending))
			for _, r := range status.Applied {
				rows = append(rows, []string{fmt.Sprintf("%03d", r.Version), r.Name, r.AppliedAt.UTC().Format(time.RFC3339)})
			}
			for _, p := range status.Pending {
				rows = append(rows, []string{p, "", "pending"})
			}
			printer.Table([]string{"VERSION", "NAME", "APPLIED"}, rows)
			return nil
		},
	})

	return cmd
}

// openHistory connects to the history database. The API server is not needed.
func (o *globalOptions) openHistory(cmd *cobra.Command) (*history.Store, *report.Printer, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.History.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("history.database_url is not configured")
	}
	store, err := history.Open(cmd.Context(), cfg.History.DatabaseURL, newLogger(cmd.ErrOrStderr(), o.debug))
	if err != nil {
		return nil, nil, err
	}
	return store, report.Auto(cmd.OutOrStdout(), cmd.ErrOrStderr()), nil
}

var historyHeader = []string{"STARTED", "SERVER", "VERSION", "MODE", "OUTDATED", "TASKS", "COMPLETED", "FAILED", "OUTCOME", "HOST"}

func historyRows(runs []history.RunSummary) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Server,
			r.TargetVersion,
			r.Mode,
			strconv.Itoa(r.Outdated),
			strconv.Itoa(r.Tasks),
			strconv.Itoa(r.Completed),
			strconv.Itoa(r.Failed),
			r.Outcome,
			r.Hostname,
		})
	}
	return rows
}
