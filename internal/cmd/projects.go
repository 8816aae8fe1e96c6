package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laibrary/courier/internal/logging"
	"github.com/laibrary/courier/internal/transport"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the projects available on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		pull := transport.NewPull(cfg.Server.URL, logging.Transport())
		projects, err := pull.Projects(cmd.Context())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
			return nil
		}
		for _, p := range projects {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
}
