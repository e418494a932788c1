// Package cmd defines the CLI commands for the forum-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forum-crawler",
		Short: "Harvests recent forum topics into a JSON file or Postgres.",
		Long: `forum-crawler walks a Discourse-style forum's latest-topics listing
newest-first, fetches the detail of every topic created within the recency
window and stores the normalized records in a JSON array file or upserts them
into a Postgres table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute runs the CLI until completion or until SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
