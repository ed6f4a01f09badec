package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/renderer"
	"github.com/shelfmetrics/rank-cli/internal/resilience"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

// Options configures a scan session.
type Options struct {
	// MaxPages bounds how deep into the result pagination a scan goes.
	MaxPages int

	// MaxRetries is the number of retry attempts after the first try.
	MaxRetries int

	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	PerPageTimeout time.Duration

	// PageInterval is the minimum spacing between page navigations.
	PageInterval time.Duration

	// RetryLaunchFailures opts renderer launch failures into the
	// retryable set.
	RetryLaunchFailures bool

	// Retryable overrides the default retryable fault kinds when non-nil.
	Retryable map[model.ErrorKind]bool

	Marketplace renderer.Marketplace
}

// DefaultOptions matches the stock configuration.
func DefaultOptions() Options {
	return Options{
		MaxPages:       5,
		MaxRetries:     2,
		BaseBackoff:    time.Second,
		MaxBackoff:     8 * time.Second,
		PerPageTimeout: 45 * time.Second,
		PageInterval:   1500 * time.Millisecond,
	}
}

// Runner drives complete scan sessions: input validation, the retry state
// machine, per-attempt renderer lifecycles, page iteration, and run
// persistence. One Runner serves many sequential scans.
type Runner struct {
	opts      Options
	store     store.Store
	renderers renderer.Factory

	classifier *Classifier
	validator  *Validator
	limiter    *PageLimiter

	// sleep stands in for a context-aware timer in tests.
	sleep func(context.Context, time.Duration) error
}

func New(opts Options, st store.Store, rf renderer.Factory) *Runner {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	if opts.PerPageTimeout <= 0 {
		opts.PerPageTimeout = 45 * time.Second
	}
	return &Runner{
		opts:       opts,
		store:      st,
		renderers:  rf,
		classifier: NewClassifier(nil),
		validator:  NewValidator(nil),
		limiter:    NewPageLimiter(opts.PageInterval),
		sleep:      sleepCtx,
	}
}

// Run resolves one rank request. It returns the resolved result (nil ranks
// when the target was scanned and not found), the final retry-session
// state, and the terminal fault if every attempt failed. The result and
// the error are mutually exclusive.
func (r *Runner) Run(ctx context.Context, req model.Request) (*model.RankResult, model.RetrySessionState, error) {
	if err := NormalizeRequest(&req); err != nil {
		return nil, model.RetrySessionState{}, err
	}

	log := zap.L().With(
		zap.String("identifier", req.Identifier),
		zap.String("keyword", req.Keyword),
	)
	log.Info("scan: starting session",
		zap.Int("max_pages", r.opts.MaxPages),
		zap.Int("max_retries", r.opts.MaxRetries),
	)

	policy := resilience.RetryPolicy{
		MaxAttempts:         r.opts.MaxRetries + 1,
		BaseBackoff:         r.opts.BaseBackoff,
		MaxBackoff:          r.opts.MaxBackoff,
		RetryLaunchFailures: r.opts.RetryLaunchFailures,
		Retryable:           r.opts.Retryable,
	}
	ctrl := resilience.NewController(policy)
	ctrl.OnTransition = func(from, to resilience.SessionState) {
		log.Debug("scan: retry state", zap.Stringer("from", from), zap.Stringer("to", to))
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, ctrl.Snapshot(), resilience.NewFault(model.ErrTimeout, eris.Wrap(err, "scan: deadline before attempt"))
		}
		attempt, err := ctrl.Begin()
		if err != nil {
			return nil, ctrl.Snapshot(), eris.Wrap(err, "scan: begin attempt")
		}

		res, attemptErr := r.attempt(ctx, req, attempt)
		if attemptErr == nil {
			if err := ctrl.Succeed(); err != nil {
				return nil, ctrl.Snapshot(), eris.Wrap(err, "scan: record success")
			}
			log.Info("scan: session complete",
				zap.Int("attempts", attempt),
				zap.Bool("found", res.Found()),
				zap.Int("scanned_pages", res.ScannedPages),
			)
			return res, ctrl.Snapshot(), nil
		}

		kind := resilience.KindOf(attemptErr)
		decision, err := ctrl.Fail(kind)
		if err != nil {
			return nil, ctrl.Snapshot(), eris.Wrap(err, "scan: record failure")
		}
		log.Warn("scan: attempt failed",
			zap.Int("attempt", attempt),
			zap.String("fault", string(kind)),
			zap.Bool("retry", decision.Retry),
			zap.Duration("backoff", decision.Delay),
			zap.Error(attemptErr),
		)
		if !decision.Retry {
			return nil, ctrl.Snapshot(), attemptErr
		}
		if err := r.sleep(ctx, decision.Delay); err != nil {
			return nil, ctrl.Snapshot(), resilience.NewFault(model.ErrTimeout, eris.Wrap(err, "scan: deadline during backoff"))
		}
	}
}

// attempt runs one full scan attempt on a fresh renderer session. All
// cross-page counters are locals, so a retry restarts from zero by
// construction. The session is released on every exit path.
func (r *Runner) attempt(ctx context.Context, req model.Request, attempt int) (*model.RankResult, error) {
	log := zap.L().With(
		zap.String("identifier", req.Identifier),
		zap.Int("attempt", attempt),
	)

	sess, err := r.renderers.NewSession(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("scan: session close failed", zap.Error(cerr))
		}
	}()

	var (
		totalScanned int
		organicSeen  int
		promotedSeen int
	)

	for page := 1; page <= r.opts.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, resilience.NewFault(model.ErrTimeout, eris.Wrapf(err, "scan: deadline before page %d", page))
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, resilience.NewFault(model.ErrTimeout, eris.Wrap(err, "scan: deadline while pacing"))
		}

		pageCtx, cancel := context.WithTimeout(ctx, r.opts.PerPageTimeout)
		pr, merged, stop, err := r.scanPage(pageCtx, sess, req, page)
		cancel()
		if err != nil {
			return nil, err
		}
		if stop {
			// The storefront ran out of results. Page 1 empty is the
			// keyword having no results at all; either way the answer is
			// a clean not-found.
			log.Info("scan: no results page", zap.Int("page", page))
			return r.notFound(req, page, totalScanned), nil
		}

		if pr.Found {
			res := r.foundResult(req, page, pr, merged, totalScanned, organicSeen, promotedSeen)
			r.limiter.OnSuccess()
			return res, nil
		}

		totalScanned += pr.TotalResults
		organicSeen += pr.OrganicCount
		promotedSeen += pr.PromotedCount
		r.limiter.OnSuccess()
		log.Debug("scan: page scanned without match",
			zap.Int("page", page),
			zap.Int("page_results", pr.TotalResults),
			zap.Int("total_scanned", totalScanned),
		)
	}

	return r.notFound(req, r.opts.MaxPages, totalScanned), nil
}

// scanPage performs one page's worth of work: navigate, detect blocks and
// empty pages, extract both passes, classify, merge, and rank. stop=true
// means the page declared zero results.
func (r *Runner) scanPage(ctx context.Context, sess renderer.Session, req model.Request, page int) (model.PageResult, []model.ClassifiedResult, bool, error) {
	none := model.PageResult{}

	url := renderer.SearchURL(r.opts.Marketplace.Domain, req.Keyword, page)
	if err := sess.Navigate(ctx, url); err != nil {
		return none, nil, false, resilience.AsFault(err)
	}

	bt, err := sess.Blocked(ctx)
	if err != nil {
		return none, nil, false, resilience.AsFault(err)
	}
	if bt != renderer.BlockNone {
		r.limiter.OnBlocked()
		return none, nil, false, resilience.Faultf(model.ErrBotBlocked, "challenge page (%s) on page %d", bt, page)
	}

	empty, err := sess.NoResults(ctx)
	if err != nil {
		return none, nil, false, resilience.AsFault(err)
	}
	if empty {
		return none, nil, true, nil
	}

	passA, err := sess.ExtractCandidates(ctx)
	if err != nil {
		return none, nil, false, resilience.AsFault(err)
	}
	clsA := r.classifier.ClassifyAll(passA)

	if err := sess.SettleLazyContent(ctx); err != nil {
		return none, nil, false, resilience.AsFault(err)
	}
	passB, err := sess.ExtractCandidates(ctx)
	if err != nil {
		return none, nil, false, resilience.AsFault(err)
	}
	clsB := r.classifier.ClassifyAll(passB)

	merged := Merge(clsA, clsB)
	pr := ComputeRanks(merged, req.Identifier)
	maskFamilies(&pr, req)
	return pr, merged, false, nil
}

// foundResult turns a page-local match into the session-level answer by
// adding the counts accumulated on earlier pages.
func (r *Runner) foundResult(req model.Request, page int, pr model.PageResult, merged []model.ClassifiedResult, totalScanned, organicSeen, promotedSeen int) *model.RankResult {
	validated := true
	if pr.Position != nil && IsBoundaryZone(*pr.Position, pr.TotalResults) {
		markup := targetMarkup(merged, req.Identifier)
		v := r.validator.Validate(req.Identifier, markup)
		validated = v.Valid
		if !v.Valid {
			zap.L().Warn("scan: boundary validation failed, keeping match",
				zap.String("identifier", req.Identifier),
				zap.Int("position", *pr.Position),
				zap.Float64("confidence", v.Confidence),
				zap.Bool("identifier_match", v.Checks.IdentifierMatch),
				zap.Bool("structural_integrity", v.Checks.StructuralIntegrity),
				zap.Bool("content_presence", v.Checks.ContentPresence),
				zap.Bool("not_injection", v.Checks.NotInjection),
			)
		}
	}

	pageCopy := page
	return &model.RankResult{
		Identifier:          req.Identifier,
		Keyword:             req.Keyword,
		OrganicRank:         addOffset(pr.OrganicRank, organicSeen),
		PromotedRank:        addOffset(pr.PromotedRank, promotedSeen),
		PageFound:           &pageCopy,
		PositionOnPage:      pr.Position,
		TotalResultsScanned: totalScanned + pr.TotalResults,
		ScannedPages:        page,
		BoundaryValidated:   validated,
		Timestamp:           time.Now().UTC(),
	}
}

// notFound is the terminal success for a target absent from every scanned
// page. BoundaryValidated is vacuously true: there is no match to doubt.
func (r *Runner) notFound(req model.Request, pagesScanned, totalScanned int) *model.RankResult {
	return &model.RankResult{
		Identifier:          req.Identifier,
		Keyword:             req.Keyword,
		TotalResultsScanned: totalScanned,
		ScannedPages:        pagesScanned,
		BoundaryValidated:   true,
		Timestamp:           time.Now().UTC(),
	}
}

// maskFamilies drops ranks the caller did not ask for. A target present
// only in an unrequested family counts as not found.
func maskFamilies(pr *model.PageResult, req model.Request) {
	if !req.CheckOrganic {
		pr.OrganicRank = nil
	}
	if !req.CheckPromoted {
		pr.PromotedRank = nil
	}
	pr.Found = pr.OrganicRank != nil || pr.PromotedRank != nil
	if !pr.Found {
		pr.Position = nil
	}
}

// targetMarkup returns the markup of the target's first merged entry.
func targetMarkup(merged []model.ClassifiedResult, targetID string) string {
	for _, m := range merged {
		if m.Identifier == targetID {
			return m.Markup
		}
	}
	return ""
}

func addOffset(rank *int, offset int) *int {
	if rank == nil {
		return nil
	}
	v := *rank + offset
	return &v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteRun drives a persisted run through the scanner: mark it running,
// scan, and record the terminal state plus a daily rank snapshot on success.
// Persistence failures are logged and absorbed; they never change the scan
// outcome.
func (r *Runner) ExecuteRun(ctx context.Context, run *model.Run) model.Response {
	log := zap.L().With(zap.String("run_id", run.ID))

	if err := r.store.MarkRunning(ctx, run.ID); err != nil {
		log.Warn("scan: mark running failed", zap.Error(err))
	}

	res, state, err := r.Run(ctx, run.Request)
	if err != nil {
		f := resilience.AsFault(err)
		info := model.ErrorInfo{Code: f.Kind, Message: faultMessage(f)}
		if serr := r.store.FailRun(ctx, run.ID, info, state.Attempt); serr != nil {
			log.Warn("scan: persist failure failed", zap.Error(serr))
		}
		return model.Fail(info.Code, info.Message)
	}

	if serr := r.store.CompleteRun(ctx, run.ID, res, state.Attempt); serr != nil {
		log.Warn("scan: persist result failed", zap.Error(serr))
	}
	if serr := r.store.SaveSnapshots(ctx, []model.Snapshot{model.SnapshotFromResult(res)}); serr != nil {
		log.Warn("scan: persist snapshot failed", zap.Error(serr))
	}
	return model.OK(res)
}

func faultMessage(f *resilience.Fault) string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}
