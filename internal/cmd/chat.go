package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/laibrary/courier/internal/reconnect"
	"github.com/laibrary/courier/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively with the laibrary server",
	Long: `Opens an interactive conversation. Messages are delivered over the
push channel when it is up and over the polling channel otherwise; each
submitted message resolves exactly once, whichever channel reports first.

Type /quit to exit. Other slash commands (/clear, /use <project>, /list)
are interpreted by the server.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// reconnectConfig maps the loaded configuration onto the controller.
func reconnectConfig() reconnect.Config {
	return reconnect.Config{
		InitialDelay: cfg.Reconnect.InitialDelay(),
		Multiplier:   cfg.Reconnect.Multiplier,
		MaxDelay:     cfg.Reconnect.MaxDelay(),
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		PollInterval: cfg.Reconnect.PollInterval(),
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	client := session.New(cfg.Server.URL, session.Callbacks{
		OnResult: func(r session.Result) {
			if r.Error != "" {
				fmt.Fprintf(out, "\n[#%d failed] %s\n> ", r.MessageID, r.Error)
				return
			}
			if r.MessageID == 0 {
				fmt.Fprintf(out, "\n%s\n> ", r.Text)
				return
			}
			fmt.Fprintf(out, "\n[#%d] %s\n> ", r.MessageID, r.Text)
		},
		OnStateChange: func(s reconnect.State) {
			switch s {
			case reconnect.Connected:
				fmt.Fprint(out, "\n[connected]\n> ")
			case reconnect.Degraded:
				fmt.Fprint(out, "\n[connection degraded: polling only]\n> ")
			}
		},
		OnProjectChange: func(project string) {
			fmt.Fprintf(out, "\n[project: %s]\n> ", project)
		},
		OnCleared: func() {
			fmt.Fprint(out, "\n[history cleared]\n> ")
		},
		OnError: func(msg string) {
			fmt.Fprintf(out, "\n[server error] %s\n> ", msg)
		},
	}, session.WithReconnectConfig(reconnectConfig()))

	client.Start(ctx)
	defer client.Close()

	fmt.Fprintf(out, "Connected to %s. Type /quit to exit.\n", cfg.Server.URL)
	fmt.Fprint(out, "> ")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "> ")
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if err := client.SubmitMessage(ctx, line); err != nil {
			fmt.Fprintf(out, "[not delivered] %v\n", err)
		}
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
