package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/laibrary/courier/internal/logging"
	"github.com/laibrary/courier/internal/protocol"
	"github.com/laibrary/courier/internal/transport"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <message>...",
	Short: "Send a single message and wait for its result",
	Long: `Submits one message over the request path and polls until the server
resolves it or the timeout expires. Useful for scripting; for a
conversation, use "courier chat".`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Minute,
		"How long to wait for the message to resolve")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	out := cmd.OutOrStdout()
	message := strings.Join(args, " ")

	pull := transport.NewPull(cfg.Server.URL, logging.Transport())

	ev, err := pull.Submit(ctx, message)
	if err != nil {
		return err
	}

	switch ev.Type {
	case protocol.TypeImmediate:
		fmt.Fprintln(out, ev.Response)
		return nil

	case protocol.TypeCleared:
		fmt.Fprintln(out, "History cleared.")
		return nil

	case protocol.TypeQueued:
		fmt.Fprintf(out, "Queued as #%d (%d pending)\n", ev.MessageID, ev.PendingCount)
		return waitForResolution(ctx, out, pull, ev.MessageID)

	case protocol.TypeError:
		return fmt.Errorf("server error: %s", ev.Error)

	default:
		return fmt.Errorf("unexpected response type %q", ev.Type)
	}
}

// waitForResolution polls until the given message resolves.
func waitForResolution(ctx context.Context, out io.Writer, pull *transport.Pull, messageID int64) error {
	since := messageID - 1
	ticker := time.NewTicker(cfg.Reconnect.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for message #%d: %w", messageID, ctx.Err())
		case <-ticker.C:
		}

		resp, err := pull.Poll(ctx, since)
		if err != nil {
			// Transient; the next tick retries.
			continue
		}
		for _, u := range resp.Updates {
			if u.MessageID != messageID || !u.IsResolution() {
				continue
			}
			if u.Type == protocol.TypeFailed {
				return fmt.Errorf("message #%d failed: %s", messageID, u.Error)
			}
			fmt.Fprintln(out, u.Response)
			return nil
		}
	}
}
