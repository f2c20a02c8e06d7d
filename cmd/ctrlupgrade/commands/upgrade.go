package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pilot-net/ctrl-upgrade/internal/config"
	"github.com/pilot-net/ctrl-upgrade/internal/events"
	"github.com/pilot-net/ctrl-upgrade/internal/history"
	"github.com/pilot-net/ctrl-upgrade/internal/metrics"
	"github.com/pilot-net/ctrl-upgrade/internal/upgrade"
)

// upgradeCommand is the root command: list outdated controllers or upgrade them.
//
// Without --list or --upgrade the outdated controllers are listed.
//
// Environment variables:
//
//	ACC_SERVER, ACC_TOKEN, ACC_WAIT, ACC_PROFILE
func upgradeCommand(opts *globalOptions) *cobra.Command {
	var (
		list     bool
		selector string
		wait     int
	)

	cmd := &cobra.Command{
		Use:   "ctrlupgrade",
		Short: "Upgrade controllers to the Command Center server version",
		Long: `List controllers whose version differs from the server version, or
request their upgrade and wait for the upgrade tasks to finish.

  ctrlupgrade --list
  ctrlupgrade --upgrade '*'
  ctrlupgrade --upgrade a1b2,c3d4 --wait 600

--wait 0 requests the upgrades and returns without polling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := upgrade.Request{List: list || selector == ""}
			if !req.List {
				sel, err := upgrade.ParseSelector(selector)
				if err != nil {
					return err
				}
				req.Selector = sel
			}

			e, err := opts.setup(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("wait") {
					cfg.Wait = wait
				}
			})
			if err != nil {
				return err
			}
			req.Wait = e.cfg.WaitDuration()

			return e.runUpgrade(cmd.Context(), req)
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List out-of-date controllers")
	cmd.Flags().StringVarP(&selector, "upgrade", "u", "", `Upgrade controllers: "*" for all out-of-date, or comma-separated ids`)
	cmd.Flags().IntVarP(&wait, "wait", "w", 180, "Seconds to wait for upgrade tasks (0 disables polling)")
	cmd.MarkFlagsMutuallyExclusive("list", "upgrade")

	return cmd
}

func (e *env) runUpgrade(ctx context.Context, req upgrade.Request) error {
	mode := "upgrade"
	if req.List {
		mode = "list"
	}

	recorders, finish := e.openRecorders(ctx, mode)

	runner := upgrade.NewRunner(upgrade.Config{
		Server:       e.api,
		Printer:      e.printer,
		Recorder:     recorders,
		PageSize:     e.cfg.PageSize,
		PollInterval: e.cfg.PollInterval,
		Logger:       e.logger,
	})

	_, err := runner.Run(ctx, req)
	finish(err)
	return err
}

// openRecorders starts every configured recorder. A recorder that cannot be
// opened is logged and skipped. finish flushes and closes them.
func (e *env) openRecorders(ctx context.Context, mode string) (upgrade.Recorders, func(error)) {
	var (
		recorders upgrade.Recorders
		closers   []func(error)
	)
	host := history.CurrentHost(ctx)
	// Final writes must survive an interrupted run.
	bg := context.WithoutCancel(ctx)

	if url := e.cfg.History.DatabaseURL; url != "" {
		store, err := history.Open(ctx, url, e.logger)
		if err == nil {
			err = store.StartRun(ctx, history.Run{ID: e.runID, Server: e.cfg.Server, Mode: mode, Host: host})
			if err != nil {
				store.Close()
			}
		}
		if err != nil {
			e.logger.Warn("run history disabled", "error", err)
		} else {
			recorders = append(recorders, store)
			closers = append(closers, func(runErr error) {
				if err := store.FinishRun(bg, history.OutcomeFor(runErr)); err != nil {
					e.logger.Warn("recording run outcome failed", "error", err)
				}
				store.Close()
			})
		}
	}

	if url := e.cfg.Events.RedisURL; url != "" {
		pub, err := events.New(ctx, events.Config{
			RedisURL: url,
			Channel:  e.cfg.Events.Channel,
			TTL:      e.cfg.Events.TTL,
			RunID:    e.runID.String(),
			Logger:   e.logger,
		})
		if err != nil {
			e.logger.Warn("event publishing disabled", "error", err)
		} else {
			recorders = append(recorders, pub)
			closers = append(closers, func(error) { pub.Close() })
		}
	}

	if url := e.cfg.Metrics.PushgatewayURL; url != "" {
		collector := metrics.New()
		recorders = append(recorders, collector)
		closers = append(closers, func(error) {
			collector.Finish()
			if err := collector.Push(bg, url, e.cfg.Metrics.Job, host.Hostname); err != nil {
				e.logger.Warn("metrics push failed", "error", err)
			}
		})
	}

	return recorders, func(runErr error) {
		for _, c := range closers {
			c(runErr)
		}
	}
}
