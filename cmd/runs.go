package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect scan run history",
	Long:  "Commands for listing, viewing, and summarizing rank-check runs and rank snapshots.",
}

// withStore opens the configured store, migrates it, and runs fn against
// it, closing the store on the way out.
func withStore(cmd *cobra.Command, fn func(context.Context, store.Store) error) error {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	return fn(ctx, st)
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			runs, err := st.ListRuns(ctx, listFilter(cmd))
			if err != nil {
				return eris.Wrap(err, "runs list")
			}

			if len(runs) == 0 {
				fmt.Fprintln(os.Stderr, "No runs found.")
				return nil
			}

			formatRunsList(os.Stdout, runs)
			return nil
		})
	},
}

// listFilter builds a RunFilter from the list command's flags.
func listFilter(cmd *cobra.Command) store.RunFilter {
	status, _ := cmd.Flags().GetString("status")
	identifier, _ := cmd.Flags().GetString("asin")
	keyword, _ := cmd.Flags().GetString("keyword")
	limit, _ := cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetDuration("since")

	filter := store.RunFilter{
		Status:     model.RunStatus(status),
		Identifier: identifier,
		Keyword:    keyword,
		Limit:      limit,
	}
	if since > 0 {
		filter.CreatedAfter = time.Now().Add(-since)
	}
	return filter
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "runs show")
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			since, _ := cmd.Flags().GetDuration("since")
			filter := store.RunFilter{Limit: 10000} // plenty for aggregates
			if since > 0 {
				filter.CreatedAfter = time.Now().Add(-since)
			}

			runs, err := st.ListRuns(ctx, filter)
			if err != nil {
				return eris.Wrap(err, "runs stats")
			}

			formatRunStats(os.Stdout, computeRunStats(runs))
			return nil
		})
	},
}

// -- runs history --

var runsHistoryCmd = &cobra.Command{
	Use:   "history <identifier>",
	Short: "Show daily rank snapshots for an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			since, _ := cmd.Flags().GetDuration("since")

			snaps, err := st.ListSnapshots(ctx, args[0], time.Now().Add(-since))
			if err != nil {
				return eris.Wrap(err, "runs history")
			}

			if len(snaps) == 0 {
				fmt.Fprintln(os.Stderr, "No snapshots found.")
				return nil
			}

			formatSnapshots(os.Stdout, snaps)
			return nil
		})
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, running, complete, failed)")
	runsListCmd.Flags().String("asin", "", "filter by catalog identifier")
	runsListCmd.Flags().String("keyword", "", "filter by search keyword")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().Duration("since", 0, "only runs created within this window (e.g. 24h)")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsHistoryCmd.Flags().Duration("since", 30*24*time.Hour, "snapshot window (e.g. 168h, 720h)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd, runsHistoryCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Complete   int
	Failed     int
	Found      int
	NotFound   int
	Other      int
	ByKind     map[model.ErrorKind]int
	AvgDurSecs float64
	AvgPages   float64
}

// computeRunStats tallies outcome counts and averages across runs.
func computeRunStats(runs []model.Run) runStats {
	s := runStats{Total: len(runs), ByKind: make(map[model.ErrorKind]int)}

	var totalDur time.Duration
	var durCount, pages, paged int

	for i := range runs {
		r := &runs[i]
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
			totalDur += r.Duration()
			durCount++
			if r.Result != nil {
				if r.Result.Found() {
					s.Found++
				} else {
					s.NotFound++
				}
				pages += r.Result.ScannedPages
				paged++
			}
		case model.RunStatusFailed:
			s.Failed++
			code := model.ErrUnknown
			if r.Error != nil {
				code = r.Error.Code
			}
			s.ByKind[code]++
		default:
			s.Other++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	if paged > 0 {
		s.AvgPages = float64(pages) / float64(paged)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tIDENTIFIER\tKEYWORD\tSTATUS\tORGANIC\tPROMOTED\tPAGE\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----------\t-------\t------\t-------\t--------\t----\t-------\t--------")

	for i := range runs {
		r := &runs[i]

		organic, promoted, page := "-", "-", "-"
		if r.Result != nil {
			organic = rankText(r.Result.OrganicRank)
			promoted = rankText(r.Result.PromotedRank)
			page = rankText(r.Result.PageFound)
		}

		keyword := r.Request.Keyword
		if len(keyword) > 24 {
			keyword = keyword[:21] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Request.Identifier,
			keyword,
			r.Status,
			organic,
			promoted,
			page,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Duration().Round(time.Second).String(),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "  Found:\t%d\n", s.Found)
	_, _ = fmt.Fprintf(w, "  Not found:\t%d\n", s.NotFound)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)

	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", k, s.ByKind[model.ErrorKind(k)])
	}

	if s.Other > 0 {
		_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.Other)
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	if s.AvgPages > 0 {
		_, _ = fmt.Fprintf(w, "Avg pages:\t%.1f\n", s.AvgPages)
	}
	_ = w.Flush()
}

// formatSnapshots writes a tabular list of daily rank snapshots to w.
func formatSnapshots(out io.Writer, snaps []model.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tKEYWORD\tORGANIC\tPROMOTED\tPAGE")
	_, _ = fmt.Fprintln(w, "----\t-------\t-------\t--------\t----")

	for i := range snaps {
		s := &snaps[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.CapturedOn.Format("2006-01-02"),
			s.Keyword,
			rankText(s.OrganicRank),
			rankText(s.PromotedRank),
			rankText(s.PageFound),
		)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first block for compact display.
func truncateID(id string) string {
	return id[:min(8, len(id))]
}
