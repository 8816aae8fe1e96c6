package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laibrary/courier/internal/logging"
	"github.com/laibrary/courier/internal/transport"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's session and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		pull := transport.NewPull(cfg.Server.URL, logging.Transport())
		st, err := pull.Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		project := st.CurrentProject
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "Project:        %s\n", project)
		fmt.Fprintf(out, "History length: %d\n", st.HistoryLength)
		fmt.Fprintf(out, "Queued:         %d\n", len(st.Queue.QueuedMessages))
		fmt.Fprintf(out, "Processing:     %d\n", len(st.Queue.ProcessingMessages))
		fmt.Fprintf(out, "Completed:      %d\n", st.Queue.CompletedCount)
		fmt.Fprintf(out, "Failed:         %d\n", st.Queue.FailedCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
