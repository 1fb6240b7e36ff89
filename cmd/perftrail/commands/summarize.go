package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"perftrail/internal/models"
)

const dateLayout = "2006-01-02"

func newSummarizeCommand() *cobra.Command {
	var (
		kinds  []string
		period string
		from   string
		to     string
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Args:  cobra.NoArgs,
		Short: "Recompute summaries for a date range",
		Long: `Recompute day or week summaries for every bucket between --from and --to.
Existing summaries are replaced, so the command can be rerun safely.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := parseRange(from, to, time.Now().UTC())
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			targets := a.summarizer.Kinds()
			if len(kinds) > 0 {
				targets = targets[:0]
				for _, k := range kinds {
					targets = append(targets, models.TargetKind(k))
				}
			}

			total := 0
			for _, kind := range targets {
				n, err := a.summarizer.Backfill(cmd.Context(), kind, models.PeriodType(period), start, end)
				if err != nil {
					return fmt.Errorf("failed to summarize %s: %w", kind, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %d summaries\n", kind, n)
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total  %d summaries\n", total)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "target kinds to summarize: job, route, query (default all)")
	cmd.Flags().StringVar(&period, "period", string(models.PeriodDay), "bucket width: day or week")
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default 7 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD, inclusive (default today)")
	return cmd
}

// parseRange turns the inclusive day flags into a half-open [start, end).
func parseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	today := models.PeriodDay.Truncate(now)
	start, end := today.AddDate(0, 0, -7), today

	var err error
	if from != "" {
		if start, err = time.Parse(dateLayout, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	end = end.AddDate(0, 0, 1)

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to", start.Format(dateLayout))
	}
	return start, end, nil
}
