package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
)

var (
	checkASIN         string
	checkKeyword      string
	checkOrganicOnly  bool
	checkPromotedOnly bool
	checkLocation     string
	checkJSON         bool
	checkNotion       bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Resolve search rank for a single identifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if checkOrganicOnly && checkPromotedOnly {
			return eris.New("--organic-only and --promoted-only are mutually exclusive")
		}

		env, err := initScan(ctx, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.Request{
			Identifier:     checkASIN,
			Keyword:        checkKeyword,
			CheckOrganic:   !checkPromotedOnly,
			CheckPromoted:  !checkOrganicOnly,
			EnableLocation: checkLocation != "",
			LocationHint:   checkLocation,
		}

		run, err := env.Store.CreateRun(ctx, req)
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		scanCtx, cancel := sessionTimeout(ctx)
		defer cancel()
		resp := env.Runner.ExecuteRun(scanCtx, run)

		if checkNotion {
			if err := publishRunResult(ctx, env, run.ID); err != nil {
				zap.L().Warn("notion publish failed", zap.Error(err))
			}
		}

		if checkJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return eris.Wrap(err, "encode response")
			}
		} else {
			formatCheckResult(os.Stdout, resp)
		}

		if !resp.Success {
			return eris.Errorf("check failed: %s: %s", resp.Error.Code, resp.Error.Message)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkASIN, "asin", "", "catalog identifier to locate (required)")
	checkCmd.Flags().StringVar(&checkKeyword, "keyword", "", "search keyword (required)")
	checkCmd.Flags().BoolVar(&checkOrganicOnly, "organic-only", false, "resolve only the organic rank")
	checkCmd.Flags().BoolVar(&checkPromotedOnly, "promoted-only", false, "resolve only the promoted rank")
	checkCmd.Flags().StringVar(&checkLocation, "location", "", "postal code for location-scoped results")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the raw response JSON")
	checkCmd.Flags().BoolVar(&checkNotion, "notion", false, "publish the result to the Notion results database")
	_ = checkCmd.MarkFlagRequired("asin")
	_ = checkCmd.MarkFlagRequired("keyword")
	rootCmd.AddCommand(checkCmd)
}

// publishRunResult reloads the run's terminal state and upserts it into the
// Notion results database.
func publishRunResult(ctx context.Context, env *scanEnv, runID string) error {
	pub, err := newPublisher()
	if err != nil {
		return err
	}
	run, err := env.Store.GetRun(ctx, runID)
	if err != nil {
		return eris.Wrap(err, "reload run")
	}
	return pub.PublishRun(ctx, run)
}

// formatCheckResult writes a human-readable summary of one check to w.
func formatCheckResult(out io.Writer, resp model.Response) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if !resp.Success {
		_, _ = fmt.Fprintf(w, "Status:\tfailed\n")
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", resp.Error.Code)
		_, _ = fmt.Fprintf(w, "Detail:\t%s\n", resp.Error.Message)
		_ = w.Flush()
		return
	}

	res := resp.Data
	_, _ = fmt.Fprintf(w, "Identifier:\t%s\n", res.Identifier)
	_, _ = fmt.Fprintf(w, "Keyword:\t%s\n", res.Keyword)

	if res.Found() {
		_, _ = fmt.Fprintf(w, "Organic rank:\t%s\n", rankText(res.OrganicRank))
		_, _ = fmt.Fprintf(w, "Promoted rank:\t%s\n", rankText(res.PromotedRank))
		_, _ = fmt.Fprintf(w, "Location:\tpage %s, position %s\n", rankText(res.PageFound), rankText(res.PositionOnPage))
		validated := "no"
		if res.BoundaryValidated {
			validated = "yes"
		}
		_, _ = fmt.Fprintf(w, "Boundary validated:\t%s\n", validated)
	} else {
		_, _ = fmt.Fprintf(w, "Rank:\tnot found\n")
	}

	_, _ = fmt.Fprintf(w, "Scanned:\t%d results across %d page(s)\n", res.TotalResultsScanned, res.ScannedPages)
	_ = w.Flush()
}

// rankText renders a nullable rank for display.
func rankText(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
