package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/report"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

var (
	recordsCountry string
	recordsTier    string
	recordsYear    int
	recordsMonth   int
	recordsLimit   int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List stored filing records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListRecords(ctx, store.RecordQuery{
			Country: strings.ToLower(recordsCountry),
			Tier:    model.Tier(strings.ToUpper(recordsTier)),
			Year:    recordsYear,
			Month:   recordsMonth,
			Limit:   recordsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "records list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No records found.")
			return nil
		}
		report.SortByTier(recs)
		formatRecords(cmd.OutOrStdout(), recs)
		return nil
	},
}

func formatRecords(w io.Writer, recs []model.FilingRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tDATE\tORG\tCOMPANY\tTIER\tSCORE\tINDUSTRY\tTRUSTEE\tEMAIL")
	for _, r := range recs {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprint(*r.Score)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Country, r.FilingDate.Format(model.DateLayout), r.OrgNumber, truncate(r.CompanyName, 40),
			r.Tier, score, r.IndustryCode, truncate(r.TrusteeName, 30), r.TrusteeEmail,
		)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	recordsCmd.Flags().StringVar(&recordsCountry, "country", "", "filter by country code")
	recordsCmd.Flags().StringVar(&recordsTier, "tier", "", "filter by tier (HIGH, MEDIUM, LOW)")
	recordsCmd.Flags().IntVar(&recordsYear, "year", 0, "filter by filing year")
	recordsCmd.Flags().IntVar(&recordsMonth, "month", 0, "filter by filing month")
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 100, "maximum number of records")
	rootCmd.AddCommand(recordsCmd)
}
