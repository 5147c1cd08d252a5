// Package cmd defines and implements the CLI commands for the streamwatch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/streamwatch/internal/config"
)

// Version is stamped at build time with -ldflags "-X github.com/JakeFAU/streamwatch/cmd.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and registers every subcommand.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "streamwatch",
		Short: "A quota-budgeted poller for video and social platforms.",
		Long: `streamwatch polls YouTube, TikTok, Facebook and Instagram on
configured weekly schedules without exceeding each platform's daily API quota.
It caches responses, learns which slots actually surface new content, and
prefetches keys that clients are about to read.`,
		SilenceUsage: true,
		Version:      Version,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("STREAMWATCH_CONFIG"),
		"config file (env STREAMWATCH_CONFIG; defaults and STREAMWATCH_* env vars apply when empty)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newQuotaCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
