package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/bankruptcy-monitor/internal/monitoring"
)

var monitorWatch bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check recent run health and send alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		collector := monitoring.NewCollector(st)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		if monitorWatch {
			checker.Run(ctx)
			return nil
		}

		snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackHours)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), snap); err != nil {
			return err
		}
		triggered, sent := checker.Check(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "alerts triggered=%d sent=%d\n", triggered, sent)
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorWatch, "watch", false, "keep checking every monitoring.check_interval_secs")
	rootCmd.AddCommand(monitorCmd)
}
