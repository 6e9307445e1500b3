package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/memorial-cli/internal/model"
	"github.com/sells-group/memorial-cli/internal/store"
)

var (
	historyMarkerID int64
	historyBatchID  string
	historyLimit    int
	historyTable    bool
)

var markersHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the correction log",
	Long:  "Lists correction log entries, optionally for one marker or one batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		entries, err := s.ListCorrections(ctx, store.CorrectionFilter{
			MarkerID: historyMarkerID,
			BatchID:  historyBatchID,
			Limit:    historyLimit,
		})
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			zap.L().Info("no corrections found")
		}
		if historyTable {
			formatCorrections(cmd.OutOrStdout(), entries)
			return nil
		}
		return render(cmd.OutOrStdout(), outputFormat, entries)
	},
}

func init() {
	markersHistoryCmd.Flags().Int64Var(&historyMarkerID, "marker", 0, "only entries for this marker id")
	markersHistoryCmd.Flags().StringVar(&historyBatchID, "batch", "", "only entries for this batch id")
	markersHistoryCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of entries (0 = all)")
	markersHistoryCmd.Flags().BoolVar(&historyTable, "table", false, "print a table instead of structured output")
	markersCmd.AddCommand(markersHistoryCmd)
}

// formatCorrections writes a tabular representation of log entries to out.
func formatCorrections(out io.Writer, entries []model.CorrectionLogEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMARKER\tBATCH\tOLD E\tOLD N\tNEW E\tNEW N\tOPERATOR\tAT")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t-----\t-----\t-----\t-----\t--------\t--")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%.6f\t%.6f\t%.3f\t%.3f\t%s\t%s\n",
			e.ID,
			e.MarkerID,
			shortID(e.BatchID),
			e.OldE,
			e.OldN,
			e.NewE,
			e.NewN,
			e.Operator,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
