package main

import (
	"context"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shelfmetrics/rank-cli/internal/fetcher"
	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/report"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

var (
	batchInput       string
	batchLimit       int
	batchConcurrency int
	batchReport      string
	batchNotion      bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run rank checks for a job list",
	Long:  "Loads identifier/keyword jobs from a CSV, TSV, XLSX, or JSON source (local path or http/ftp URL) and scans them with bounded concurrency.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScan(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := fetcher.LoadJobs(ctx, batchInput, jobOptions())
		if err != nil {
			return eris.Wrap(err, "load jobs")
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentScans
		}

		runIDs, err := processBatch(ctx, env.Store, jobs, batchLimit, concurrency, func(ctx context.Context, run *model.Run) model.Response {
			scanCtx, cancel := sessionTimeout(ctx)
			defer cancel()
			return env.Runner.ExecuteRun(scanCtx, run)
		})
		if err != nil {
			return err
		}

		if batchReport == "" && !batchNotion {
			return nil
		}

		runs, err := collectRuns(ctx, env.Store, runIDs)
		if err != nil {
			return err
		}
		if batchReport != "" {
			if err := report.WriteRuns(batchReport, runs, report.Options{SheetName: cfg.Report.SheetName}); err != nil {
				return eris.Wrap(err, "write report")
			}
			zap.L().Info("report written", zap.String("path", batchReport), zap.Int("runs", len(runs)))
		}
		if batchNotion {
			pub, err := newPublisher()
			if err != nil {
				return err
			}
			n, err := pub.PublishRuns(ctx, runs)
			if err != nil {
				return eris.Wrap(err, "publish to notion")
			}
			zap.L().Info("notion publish complete", zap.Int("published", n))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "job list source: .csv, .tsv, .xlsx, .json, or a URL (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of jobs to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent scans (default from config)")
	batchCmd.Flags().StringVar(&batchReport, "report", "", "write an XLSX report of this batch to the given path")
	batchCmd.Flags().BoolVar(&batchNotion, "notion", false, "publish results to the Notion results database")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// jobOptions maps batch config onto job list loading options.
func jobOptions() fetcher.JobOptions {
	opts := fetcher.JobOptions{
		SheetName: cfg.Batch.XLSXSheet,
		CSV: fetcher.CSVOptions{
			Charset: cfg.Batch.CSVCharset,
		},
	}
	if cfg.Batch.CSVDelimiter != "" {
		opts.CSV.Delimiter = []rune(cfg.Batch.CSVDelimiter)[0]
	}
	return opts
}

// scanFunc executes one persisted run and reports its terminal response.
type scanFunc func(ctx context.Context, run *model.Run) model.Response

// processBatch applies limit, then creates one persisted run per job and
// scans them concurrently with the given function. Individual failures do
// not abort the batch. Returns the IDs of every run it created.
func processBatch(ctx context.Context, st store.Store, jobs []model.Request, limit, concurrency int, scan scanFunc) ([]string, error) {
	if len(jobs) == 0 {
		zap.L().Info("no jobs to process")
		return nil, nil
	}

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	zap.L().Info("processing batch",
		zap.Int("jobs", len(jobs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		mu     sync.Mutex
		runIDs []string
	)
	var succeeded, failed atomic.Int64

	for _, job := range jobs {
		g.Go(func() error {
			log := zap.L().With(
				zap.String("identifier", job.Identifier),
				zap.String("keyword", job.Keyword),
			)

			run, err := st.CreateRun(gctx, job)
			if err != nil {
				failed.Add(1)
				log.Error("create run failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			mu.Lock()
			runIDs = append(runIDs, run.ID)
			mu.Unlock()

			resp := scan(gctx, run)
			if !resp.Success {
				failed.Add(1)
				log.Warn("scan failed", zap.String("code", string(resp.Error.Code)))
				return nil
			}

			succeeded.Add(1)
			log.Info("scan complete",
				zap.Bool("found", resp.Data.Found()),
				zap.Int("pages_scanned", resp.Data.ScannedPages),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return runIDs, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return runIDs, nil
}

// collectRuns loads the terminal state of each run for reporting.
func collectRuns(ctx context.Context, st store.Store, ids []string) ([]model.Run, error) {
	runs := make([]model.Run, 0, len(ids))
	for _, id := range ids {
		run, err := st.GetRun(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "collect run %s", id)
		}
		runs = append(runs, *run)
	}
	return runs, nil
}
