package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/report"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

var (
	exportOut    string
	exportNotion bool
	exportStatus string
	exportSince  time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export scan runs to XLSX or Notion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if exportOut == "" && !exportNotion {
			return eris.New("nothing to export: pass --out and/or --notion")
		}

		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			filter := store.RunFilter{
				Status: model.RunStatus(exportStatus),
				Limit:  10000,
			}
			if exportSince > 0 {
				filter.CreatedAfter = time.Now().Add(-exportSince)
			}

			runs, err := st.ListRuns(ctx, filter)
			if err != nil {
				return eris.Wrap(err, "export: list runs")
			}
			if len(runs) == 0 {
				zap.L().Info("no runs to export")
				return nil
			}

			if exportOut != "" {
				if err := report.WriteRuns(exportOut, runs, report.Options{SheetName: cfg.Report.SheetName}); err != nil {
					return eris.Wrap(err, "export: write report")
				}
				zap.L().Info("report written", zap.String("path", exportOut), zap.Int("runs", len(runs)))
			}

			if exportNotion {
				pub, err := newPublisher()
				if err != nil {
					return err
				}
				n, err := pub.PublishRuns(ctx, runs)
				if err != nil {
					return eris.Wrap(err, "export: publish to notion")
				}
				zap.L().Info("notion publish complete", zap.Int("published", n), zap.Int("runs", len(runs)))
			}

			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "write an XLSX report to the given path")
	exportCmd.Flags().BoolVar(&exportNotion, "notion", false, "publish runs to the Notion results database")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "only export runs with this status")
	exportCmd.Flags().DurationVar(&exportSince, "since", 0, "only runs created within this window (e.g. 168h)")
	rootCmd.AddCommand(exportCmd)
}
