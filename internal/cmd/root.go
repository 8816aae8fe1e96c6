// Package cmd provides the CLI commands for Courier.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/laibrary/courier/internal/appdir"
	"github.com/laibrary/courier/internal/config"
	"github.com/laibrary/courier/internal/logging"
)

var (
	// Global flags
	serverURL     string
	configPath    string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Courier - a resilient chat client for the laibrary service",
	Long: `Courier keeps a conversation with a laibrary server alive across
flaky networks. It prefers a persistent WebSocket push channel and falls
back to polling automatically, so submitted messages always resolve
exactly once, on whichever channel recovers first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Priority: --log-level flag > --debug flag > default (info)
		effectiveLogLevel := "info"
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		var components []string
		if logComponents != "" {
			for _, c := range strings.Split(logComponents, ",") {
				c = strings.TrimSpace(c)
				if c != "" {
					components = append(components, c)
				}
			}
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Courier directory: %w", err)
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.LoadOrDefault()
		}
		if err != nil {
			return err
		}

		// Flags override the config file.
		if serverURL != "" {
			cfg.Server.URL = serverURL
		}
		if logFile == "" {
			logFile = cfg.Logging.File
		}

		var fileLog *logging.FileLogConfig
		if logFile != "" {
			fileLog = &logging.FileLogConfig{
				Path:       logFile,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
			}
		}
		if err := logging.Initialize(logging.Config{
			Level:      effectiveLogLevel,
			FileLog:    fileLog,
			JSON:       cfg.Logging.JSON,
			Components: components,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "",
		"Base URL of the laibrary server (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Write logs to this file (with rotation)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "",
		"Comma-separated list of components to log (default: all)")
}
