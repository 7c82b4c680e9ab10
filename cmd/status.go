package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openshelf/bibcat/internal/model"
)

var statusFailures int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show batch progress and cumulative enrichment counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ps, err := st.LoadProcessingState(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if ps == nil {
			fmt.Fprintln(out, "No batch has run yet.")
			return nil
		}

		fmt.Fprintf(out, "Run %d: %d/%d items complete (%.1f%%), %d failed\n",
			ps.RunCount, len(ps.CompletedItemIDs), ps.TotalItems, ps.OverallPercentage, len(ps.FailedItemIDs))
		if ps.LastItemID != "" {
			fmt.Fprintf(out, "Last item: %s\n", ps.LastItemID)
		}
		for _, source := range model.KnownSources() {
			if n := ps.PerSourceCounts[source]; n > 0 {
				fmt.Fprintf(out, "  %-20s %d\n", source, n)
			}
		}
		if len(ps.FailedItemIDs) > 0 {
			fmt.Fprintf(out, "Failed items: %s\n", strings.Join(ps.FailedItemIDs, ", "))
		}

		cum, err := st.LoadCumulativeState(ctx)
		if err != nil {
			return err
		}
		if cum != nil {
			fmt.Fprintf(out, "\nAcross %d runs: %d items enriched (%.1f%%), %d untouched\n",
				cum.RunsCompleted, cum.TotalItemsProcessed, cum.OverallPercentage, cum.NoEnrichment)
			for _, source := range model.KnownSources() {
				if n := cum.SourceCounts[source]; n > 0 {
					fmt.Fprintf(out, "  %-20s %d\n", source, n)
				}
			}
		}

		if statusFailures > 0 {
			failures, err := st.ListFailures(ctx, statusFailures)
			if err != nil {
				return err
			}
			if len(failures) > 0 {
				fmt.Fprintln(out, "\nRecent provider failures:")
				for _, f := range failures {
					fmt.Fprintf(out, "  %s  %s  %-9s  %s\n",
						f.OccurredAt.Format("2006-01-02 15:04"), f.ItemID, classLabel(f.Transient), f.Reason)
				}
			}
		}
		return nil
	},
}

func classLabel(transient bool) string {
	if transient {
		return "transient"
	}
	return "permanent"
}

func init() {
	statusCmd.Flags().IntVar(&statusFailures, "failures", 0, "also show the N most recent provider failures")
	rootCmd.AddCommand(statusCmd)
}
