package commands

import (
	"github.com/spf13/cobra"
)

func infoCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the server and API versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.setup(cmd, nil)
			if err != nil {
				return err
			}
			info, err := e.api.ServerInfo(cmd.Context())
			if err != nil {
				return err
			}
			e.printer.ServerInfo(info)
			return nil
		},
	}
}
