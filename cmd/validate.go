package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/streamwatch/internal/config"
	"github.com/JakeFAU/streamwatch/internal/poller"
	"github.com/JakeFAU/streamwatch/internal/schedule"
	pgstore "github.com/JakeFAU/streamwatch/internal/storage/postgres"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and schedule definitions",
		Long: `Loads the configuration, then every schedule definition from the
configured source. Invalid definitions are listed and make the command fail;
valid ones are printed with their next slot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			defs, invalid, err := loadDefinitions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return reportDefinitions(cmd.OutOrStdout(), cfg, defs, invalid, time.Now())
		},
	}
}

func loadDefinitions(ctx context.Context, cfg *config.Config) ([]poller.ScheduleDefinition, []error, error) {
	if cfg.Schedules.Source == "postgres" {
		pool, err := pgstore.Connect(ctx, pgstore.Config{DSN: cfg.DB.DSN, MaxConns: 1})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, nil, fmt.Errorf("logger init failed: %w", err)
		}
		defs, err := pgstore.NewScheduleStore(pool, logger).List(ctx)
		if err != nil {
			return nil, nil, err
		}
		return defs, nil, nil
	}
	raw, err := os.ReadFile(cfg.Schedules.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("read schedules: %w", err)
	}
	defs, invalid, err := schedule.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse schedules %s: %w", cfg.Schedules.Path, err)
	}
	return defs, invalid, nil
}

func reportDefinitions(
	w io.Writer,
	cfg *config.Config,
	defs []poller.ScheduleDefinition,
	invalid []error,
	now time.Time,
) error {
	enabled := make(map[poller.Platform]bool)
	for _, p := range cfg.EnabledPlatforms() {
		enabled[p] = true
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLATFORM\tPRIORITY\tACTIVE\tSLOTS\tNEXT")
	for _, def := range defs {
		next := "-"
		if at, ok := schedule.NextSlot(def, now); ok && def.Active {
			next = at.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%s\n", def.ID, def.Platform, def.Priority, def.Active, len(def.Slots), next)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, def := range defs {
		if def.Active && !enabled[def.Platform] {
			fmt.Fprintf(w, "warning: schedule %s targets disabled platform %s\n", def.ID, def.Platform)
		}
	}
	for _, err := range invalid {
		fmt.Fprintf(w, "invalid: %v\n", err)
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%d invalid schedule definitions", len(invalid))
	}
	fmt.Fprintf(w, "ok: %d schedules, %d platforms enabled\n", len(defs), len(enabled))
	return nil
}
