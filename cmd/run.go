package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/filter"
	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/monitoring"
	"github.com/sells-group/bankruptcy-monitor/internal/pipeline"
	"github.com/sells-group/bankruptcy-monitor/internal/report"
)

var (
	runCountries []string
	runYear      int
	runMonth     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monthly bankruptcy sweep",
	Long:  "Scrapes, deduplicates, scores and reports bankruptcy filings for each country, resolving trustee contacts and staging outreach for review.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if len(runCountries) > 0 {
			cfg.Countries = parseCountries(runCountries)
		}
		if runYear > 0 {
			cfg.Run.Year = runYear
		}
		if runMonth > 0 {
			cfg.Run.Month = runMonth
		}

		st, err := openStore(ctx, "run")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New(prometheus.NewRegistry())
		f := newFetcher()
		reg, err := buildRegistry(f, m)
		if err != nil {
			return err
		}
		stager, err := buildStager(st, reg, m)
		if err != nil {
			return err
		}
		reporter, err := report.NewWriter(cfg.Report.Format, cfg.Report.Dir)
		if err != nil {
			return err
		}

		p := pipeline.New(pipeline.Deps{
			Registry:  reg,
			Store:     st,
			Contacts:  buildResolver(f, m),
			Stager:    stager,
			Reasoner:  buildReasoner(),
			Overrides: cfg.Scoring.Overrides,
			Filter:    filter.FromConfig(cfg.Filter),
			Reporter:  reporter,
			Metrics:   m,
			Notifier:  monitoring.NewAlerter(cfg.Monitoring),
		})

		year, month := pipeline.TargetMonth(time.Now(), cfg.Run.Year, cfg.Run.Month)
		zap.L().Info("run: target month", zap.Int("year", year), zap.Int("month", month), zap.Strings("countries", cfg.Countries))

		results := p.Run(ctx, cfg.Countries, year, month)
		formatResults(cmd.OutOrStdout(), results)

		failed := 0
		for _, r := range results {
			if r.Status == model.RunStatusFailed {
				failed++
			}
		}
		if len(results) > 0 && failed == len(results) {
			return eris.Errorf("run: all %d countries failed", failed)
		}
		return nil
	},
}

// parseCountries accepts repeated and comma-separated codes.
func parseCountries(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, code := range strings.Split(r, ",") {
			if code = strings.ToLower(strings.TrimSpace(code)); code != "" {
				out = append(out, code)
			}
		}
	}
	return out
}

func formatResults(w io.Writer, results []pipeline.CountryResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tSTATUS\tSCRAPED\tNEW\tSCORED\tCONTACTS\tSTAGED\tREPORTED\tDURATION\tREPORT")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Country, r.Status, r.Scraped, r.New, r.Scored, r.Contacts, r.Staged, r.Reported,
			r.Duration.Round(time.Millisecond), r.ReportPath,
		)
	}
	tw.Flush() //nolint:errcheck

	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "%s: %s: %v\n", r.Country, r.Status.Message(), r.Err)
		case r.Status == model.RunStatusNoRecords, r.Status == model.RunStatusFilteredOut:
			fmt.Fprintf(w, "%s: %s\n", r.Country, r.Status.Message())
		}
	}
}

func init() {
	runCmd.Flags().StringSliceVar(&runCountries, "country", nil, "country codes to run (default from config)")
	runCmd.Flags().IntVar(&runYear, "year", 0, "target year (default: derived from today)")
	runCmd.Flags().IntVar(&runMonth, "month", 0, "target month 1-12 (default: derived from today)")
	rootCmd.AddCommand(runCmd)
}
