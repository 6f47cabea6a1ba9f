package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cardsync/internal/backfill"
	"github.com/sells-group/cardsync/internal/model"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <set-key>",
	Short: "Match a set's printings to provider variants and ingest prices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := backfillOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		runner, st, err := initRunner(ctx, "backfill")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := runner.RunBackfill(ctx, args[0], opts)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return eris.Wrap(err, "backfill: encode result")
			}
		} else {
			formatBackfillResult(cmd.OutOrStdout(), res)
		}

		if !res.OK {
			return eris.Errorf("backfill %s failed: %s", res.SetKey, res.FirstError)
		}
		return nil
	},
}

func backfillOptionsFromFlags(cmd *cobra.Command) (backfill.Options, error) {
	opts := backfill.DefaultOptions()
	var err error
	if opts.Language, err = cmd.Flags().GetString("language"); err != nil {
		return opts, err
	}
	if opts.Aggressive, err = cmd.Flags().GetBool("aggressive"); err != nil {
		return opts, err
	}
	if opts.DryRun, err = cmd.Flags().GetBool("dry-run"); err != nil {
		return opts, err
	}
	if opts.ProviderSetIDOverride, err = cmd.Flags().GetString("provider-set-id"); err != nil {
		return opts, err
	}
	return opts, nil
}

// formatBackfillResult writes a human-readable run summary to out.
func formatBackfillResult(out io.Writer, res *backfill.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	status := "ok"
	if !res.OK {
		status = "FAILED"
	}
	if res.DryRun {
		status += " (dry run)"
	}
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(w, "Set:\t%s -> %s (%s)\n", res.SetKey, res.ProviderSetID, res.Language)
	if res.FailedStage != "" {
		_, _ = fmt.Fprintf(w, "Status:\t%s at %s\n", status, res.FailedStage)
	} else {
		_, _ = fmt.Fprintf(w, "Status:\t%s\n", status)
	}
	if res.ProviderWindowUsed != "" {
		_, _ = fmt.Fprintf(w, "Window:\t%s (requested %s)\n", res.ProviderWindowUsed, res.ProviderWindowRequested)
	}
	if res.RecentWindowError != "" {
		_, _ = fmt.Fprintf(w, "Recent window:\t%s\n", res.RecentWindowError)
	}

	c := res.Counts
	_, _ = fmt.Fprintf(w, "Printings:\t%d\n", c.PrintingsSelected)
	_, _ = fmt.Fprintf(w, "Provider cards:\t%d\n", c.ProviderCards)
	_, _ = fmt.Fprintf(w, "Matched:\t%d (%d manual)\n", c.Matched, c.ManualRepairs)
	_, _ = fmt.Fprintf(w, "Mappings:\t%d\n", c.MappingUpserts)
	_, _ = fmt.Fprintf(w, "Latest prices:\t%d\n", c.LatestPriceWrites)
	_, _ = fmt.Fprintf(w, "History points:\t%d\n", c.HistoryPointsWritten)
	_, _ = fmt.Fprintf(w, "Metric rows:\t%d\n", c.MetricRowsWritten)
	_, _ = fmt.Fprintf(w, "Ambiguous:\t%d\n", c.Ambiguous)
	_, _ = fmt.Fprintf(w, "No match:\t%d\n", c.NoMatch)
	_, _ = fmt.Fprintf(w, "Payload invalid:\t%d\n", c.PayloadInvalid)
	_, _ = fmt.Fprintf(w, "Hard failures:\t%d\n", c.HardFailures)

	kinds := make([]string, 0, len(res.ErrorCounts))
	for k := range res.ErrorCounts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", k, res.ErrorCounts[model.FailureKind(k)])
	}
	if res.FirstError != "" {
		_, _ = fmt.Fprintf(w, "First error:\t%s\n", res.FirstError)
	}
	_ = w.Flush()
}

func addBackfillFlags(cmd *cobra.Command) {
	cmd.Flags().String("language", "EN", "printing language to backfill")
	cmd.Flags().Bool("aggressive", true, "start the window cascade at the broadest window")
	cmd.Flags().Bool("dry-run", false, "fetch and match without writing anything")
	cmd.Flags().String("provider-set-id", "", "provider set id, bypassing the set mapping table")
	cmd.Flags().Bool("json", false, "print the full result as JSON")
}

func init() {
	addBackfillFlags(backfillCmd)
	rootCmd.AddCommand(backfillCmd)
}
