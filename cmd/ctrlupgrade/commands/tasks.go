package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pilot-net/ctrl-upgrade/internal/report"
)

func tasksCommand(opts *globalOptions) *cobra.Command {
	var controllerID string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List controller upgrade tasks",
		Long: `List the upgrade tasks known to the server, grouped by the controller
each task upgrades.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.setup(cmd, nil)
			if err != nil {
				return err
			}
			groups, err := e.groupTasks(cmd.Context(), controllerID)
			if err != nil {
				return err
			}
			e.printer.Tasks(groups)
			return nil
		},
	}

	cmd.Flags().StringVar(&controllerID, "controller", "", "Only show tasks for this controller id")
	return cmd
}

// groupTasks fetches every task and its controller, grouping in order of
// first appearance. Tasks whose controller cannot be resolved are grouped
// under an empty id.
func (e *env) groupTasks(ctx context.Context, only string) ([]report.ControllerTasks, error) {
	tasks, err := e.api.ListUpgradeTasks(ctx, e.cfg.PageSize)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var groups []report.ControllerTasks
	for _, t := range tasks {
		id := ""
		c, err := e.api.GetTaskController(ctx, t.ID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("resolving task controller failed", "task_id", t.ID, "error", err)
		} else {
			id = c.ID
		}

		if only != "" && id != only {
			continue
		}
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, report.ControllerTasks{ControllerID: id})
		}
		groups[i].Tasks = append(groups[i].Tasks, t)
	}
	return groups, nil
}
