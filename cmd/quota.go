package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/clock/system"
	"github.com/JakeFAU/streamwatch/internal/quota"
	"github.com/JakeFAU/streamwatch/internal/server"
	pgstore "github.com/JakeFAU/streamwatch/internal/storage/postgres"
)

func newQuotaCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Print persisted quota usage for each enabled platform",
		Long: `Reads the ledger state saved by a running poller and prints usage for
the current quota window. Requires storage.backend=postgres.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != "postgres" {
				return fmt.Errorf("quota state is only persisted with storage.backend=postgres (got %q)", cfg.Storage.Backend)
			}
			pool, err := pgstore.Connect(cmd.Context(), pgstore.Config{DSN: cfg.DB.DSN, MaxConns: 1})
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			reg, err := server.NewQuotaRegistry(cmd.Context(), cfg, pgstore.NewQuotaStore(pool), system.New(), zap.NewNop())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reg.Stats())
			}
			return printQuota(cmd.OutOrStdout(), reg.Stats())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}

func printQuota(w io.Writer, stats []quota.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tUSED\tRESERVED\tLIMIT\tAVAILABLE\tUSED%\tRESETS\tLOCKED")
	for _, s := range stats {
		locked := "no"
		if s.Locked {
			locked = "until " + s.LockedUntil.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.1f\t%s\t%s\n",
			s.Platform, s.Used, s.Reserved, s.Limit, s.Available, s.Percentage,
			s.NextReset.Format(time.RFC3339), locked)
	}
	return tw.Flush()
}
