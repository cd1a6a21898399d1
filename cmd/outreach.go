package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/outreach"
	"github.com/sells-group/bankruptcy-monitor/internal/store"
)

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Review and send trustee outreach",
}

// withMachine opens the store and runs fn with a state machine over it,
// printing the resulting entry as JSON.
func withMachine(cmd *cobra.Command, fn func(ctx context.Context, m *outreach.Machine) (*model.OutreachEntry, error)) error {
	ctx := cmd.Context()
	st, err := openStore(ctx, "store")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	e, err := fn(ctx, outreach.NewMachine(st))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), e)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

// -- outreach list --

var (
	outreachStatus  string
	outreachCountry string
	outreachLimit   int
)

var outreachListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outreach entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		status := model.OutreachStatus(strings.ToLower(outreachStatus))
		if status != "" && !status.Valid() {
			return eris.Errorf("unknown status %q", outreachStatus)
		}

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListOutreach(ctx, store.OutreachQuery{
			Status:  status,
			Country: strings.ToLower(outreachCountry),
			Limit:   outreachLimit,
		})
		if err != nil {
			return eris.Wrap(err, "outreach list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No outreach entries found.")
			return nil
		}
		formatOutreachList(cmd.OutOrStdout(), entries)
		return nil
	},
}

func formatOutreachList(w io.Writer, entries []model.OutreachEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOUNTRY\tCOMPANY\tRECIPIENT\tSTATUS\tCREATED\tERROR")
	for _, e := range entries {
		status := string(e.Status)
		if e.Simulated {
			status += " (simulated)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Country, truncate(e.CompanyName, 40), e.Recipient, status,
			e.CreatedAt.Format("2006-01-02 15:04"), truncate(e.LastError, 50),
		)
	}
	tw.Flush() //nolint:errcheck
}

// -- outreach approve --

var (
	approveSubject  string
	approveBodyFile string
)

var outreachApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending entry for sending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := ""
		if approveBodyFile != "" {
			raw, err := os.ReadFile(approveBodyFile)
			if err != nil {
				return eris.Wrapf(err, "read body file %s", approveBodyFile)
			}
			body = string(raw)
		}
		return withMachine(cmd, func(ctx context.Context, m *outreach.Machine) (*model.OutreachEntry, error) {
			return m.Approve(ctx, args[0], body, approveSubject)
		})
	},
}

var outreachRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending or approved entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMachine(cmd, func(ctx context.Context, m *outreach.Machine) (*model.OutreachEntry, error) {
			return m.Reject(ctx, args[0])
		})
	},
}

var outreachResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Return a failed entry to approved so the next send retries it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMachine(cmd, func(ctx context.Context, m *outreach.Machine) (*model.OutreachEntry, error) {
			return m.Reset(ctx, args[0])
		})
	},
}

var bounceReason string

var outreachBounceCmd = &cobra.Command{
	Use:   "bounce <id-or-message-id>",
	Short: "Mark a sent entry as bounced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMachine(cmd, func(ctx context.Context, m *outreach.Machine) (*model.OutreachEntry, error) {
			return m.MarkBounced(ctx, args[0], bounceReason)
		})
	},
}

// -- outreach send --

var outreachSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send every approved entry (dry run unless outreach.live is set)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "send")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sender := buildSender(st, metrics.New(prometheus.NewRegistry()))
		sum, err := sender.SendApproved(ctx)
		if err != nil {
			return err
		}
		mode := "dry-run"
		if cfg.Outreach.Live {
			mode = "live"
		}
		if !cfg.Outreach.Enabled {
			mode = "disabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "mode=%s sent=%d simulated=%d failed=%d blocked=%d\n",
			mode, sum.Sent, sum.Simulated, sum.Failed, sum.Blocked)
		return nil
	},
}

// -- outreach optout --

var optOutReason string

var outreachOptOutCmd = &cobra.Command{
	Use:   "optout <email>",
	Short: "Block an address from all future outreach",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !strings.Contains(args[0], "@") {
			return eris.Errorf("invalid email %q", args[0])
		}
		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.AddOptOut(ctx, args[0], optOutReason); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "opted out %s\n", strings.ToLower(strings.TrimSpace(args[0])))
		return nil
	},
}

func init() {
	outreachListCmd.Flags().StringVar(&outreachStatus, "status", "", "filter by status")
	outreachListCmd.Flags().StringVar(&outreachCountry, "country", "", "filter by country code")
	outreachListCmd.Flags().IntVar(&outreachLimit, "limit", 0, "maximum number of entries")
	outreachApproveCmd.Flags().StringVar(&approveSubject, "subject", "", "replacement subject")
	outreachApproveCmd.Flags().StringVar(&approveBodyFile, "body-file", "", "file holding a replacement body")
	outreachBounceCmd.Flags().StringVar(&bounceReason, "reason", "manual", "bounce reason")
	outreachOptOutCmd.Flags().StringVar(&optOutReason, "reason", "", "opt-out reason")

	outreachCmd.AddCommand(
		outreachListCmd,
		outreachApproveCmd,
		outreachRejectCmd,
		outreachResetCmd,
		outreachSendCmd,
		outreachOptOutCmd,
		outreachBounceCmd,
	)
	rootCmd.AddCommand(outreachCmd)
}
