// Package cli defines Cobra command definitions for the sessionbus CLI.
// This file contains the root command, version flag, and help output.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentflow-dev/sessionbus/internal/client"
	"github.com/agentflow-dev/sessionbus/internal/runtime"
	"github.com/agentflow-dev/sessionbus/internal/tui"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:   "sessionbus",
	Short: "Coordination hub for parallel agent sessions",
	Long: `Sessionbus coordinates concurrent agent sessions. Sessions register
themselves, raise blocking input requests when they need a human, and
long-poll their inbox for the answer. Humans watch the dashboard and
respond from it or with 'sessionbus respond'.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// When no subcommand is provided, launch the dashboard if TTY,
		// show help otherwise.
		if !tui.IsTTY() {
			return cmd.Help()
		}

		dir, err := runtime.Dir()
		if err != nil {
			return err
		}
		c, err := client.Discover(dir, true)
		if err != nil {
			return fmt.Errorf("reaching hub: %w", err)
		}
		return tui.Run(tui.NewDashboard(c))
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hubClient connects to the running hub, starting one when needed.
func hubClient() (*client.Client, error) {
	dir, err := runtime.Dir()
	if err != nil {
		return nil, err
	}
	c, err := client.Discover(dir, true)
	if err != nil {
		return nil, fmt.Errorf("reaching hub: %w", err)
	}
	return c, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(heartbeatCmd)
	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(logCmd)
}
