package renderer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/resilience"
)

// Options configures the rod-backed session factory.
type Options struct {
	Headless            bool
	Proxy               string
	UserAgent           string
	BlockHeavyResources bool
	SettleDelay         time.Duration
	Marketplace         Marketplace
}

// RodFactory launches one dedicated headless browser per session. A fresh
// process per attempt is deliberate: recycling a browser across attempts
// would carry over cookies, cache, and fingerprint state into what must be
// a clean retry.
type RodFactory struct {
	opts Options
}

func NewRodFactory(opts Options) *RodFactory {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 1200 * time.Millisecond
	}
	if opts.Marketplace.Domain == "" {
		opts.Marketplace = ResolveMarketplace("")
	}
	return &RodFactory{opts: opts}
}

// NewSession launches a browser, applies stealth patches, and prepares a
// page for the scan. Launch failures come back as renderer_launch_failed
// faults; whether those retry is a policy decision, not the factory's.
func (f *RodFactory) NewSession(ctx context.Context, req model.Request) (Session, error) {
	l := launcher.New().
		Headless(f.opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("lang", f.opts.Marketplace.Locale)
	if f.opts.Proxy != "" {
		l = l.Proxy(f.opts.Proxy)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, resilience.NewFault(model.ErrRendererLaunchFailed, eris.Wrap(err, "renderer: launch browser"))
	}

	browser := rod.New().ControlURL(wsURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, resilience.NewFault(model.ErrRendererLaunchFailed, eris.Wrap(err, "renderer: connect browser"))
	}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		l.Cleanup()
		return nil, resilience.NewFault(model.ErrRendererLaunchFailed, eris.Wrap(err, "renderer: create stealth page"))
	}

	s := &rodSession{
		lnch:    l,
		browser: browser,
		page:    page,
		settle:  f.opts.SettleDelay,
	}

	if f.opts.UserAgent != "" || f.opts.Marketplace.AcceptLanguage != "" {
		override := &proto.NetworkSetUserAgentOverride{
			UserAgent:      f.opts.UserAgent,
			AcceptLanguage: f.opts.Marketplace.AcceptLanguage,
		}
		if err := page.SetUserAgent(override); err != nil {
			zap.L().Warn("renderer: user-agent override failed", zap.Error(err))
		}
	}

	if f.opts.BlockHeavyResources {
		if err := blockHeavyResources(page); err != nil {
			zap.L().Warn("renderer: resource blocking failed", zap.Error(err))
		}
	}

	if req.EnableLocation {
		cookies := locationCookies(f.opts.Marketplace, req.LocationHint)
		if err := page.SetCookies(cookies); err != nil {
			_ = s.Close()
			return nil, resilience.NewFault(model.ErrRendererLaunchFailed, eris.Wrap(err, "renderer: set location cookies"))
		}
	}

	zap.L().Debug("renderer: session ready",
		zap.String("marketplace", f.opts.Marketplace.Domain),
		zap.Bool("location", req.EnableLocation),
	)
	return s, nil
}

// extractScript captures every candidate result container in DOM order.
// Containers without a non-empty identifier attribute (separators, spacer
// slots) are skipped before numbering, so positions count listings only.
const extractScript = `() => {
	const nodes = document.querySelectorAll(
		'div[data-asin][data-component-type="s-search-result"], div.s-result-item[data-asin]'
	);
	const seen = new Set();
	const out = [];
	for (const n of nodes) {
		const id = (n.getAttribute('data-asin') || '').trim();
		if (!id || seen.has(n)) continue;
		seen.add(n);
		out.push({ identifier: id, markup: n.outerHTML });
	}
	return JSON.stringify(out);
}`

type rodSession struct {
	lnch    *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
	settle  time.Duration
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return eris.Wrapf(err, "renderer: navigate %s", url)
	}
	if err := p.WaitLoad(); err != nil {
		return eris.Wrapf(err, "renderer: wait load %s", url)
	}
	return nil
}

func (s *rodSession) Blocked(ctx context.Context) (BlockType, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return BlockNone, eris.Wrap(err, "renderer: read page html")
	}
	return DetectBlocking(html), nil
}

func (s *rodSession) NoResults(ctx context.Context) (bool, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return false, eris.Wrap(err, "renderer: read page html")
	}
	return DetectNoResults(html), nil
}

// SettleLazyContent scrolls to the bottom of the page and waits a fixed
// settle interval so lazily injected slots attach before the second
// extraction pass.
func (s *rodSession) SettleLazyContent(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	if err != nil {
		return eris.Wrap(err, "renderer: scroll for lazy content")
	}
	timer := time.NewTimer(s.settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return nil
}

func (s *rodSession) ExtractCandidates(ctx context.Context) ([]model.RawResult, error) {
	res, err := s.page.Context(ctx).Eval(extractScript)
	if err != nil {
		return nil, eris.Wrap(err, "renderer: extract result containers")
	}

	var items []struct {
		Identifier string `json:"identifier"`
		Markup     string `json:"markup"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &items); err != nil {
		return nil, resilience.NewFault(model.ErrParseFailed, eris.Wrap(err, "renderer: decode extraction payload"))
	}

	records := make([]model.RawResult, 0, len(items))
	for _, it := range items {
		id := strings.ToUpper(strings.TrimSpace(it.Identifier))
		if id == "" {
			continue
		}
		records = append(records, model.RawResult{
			Identifier: id,
			Position:   len(records) + 1,
			Markup:     it.Markup,
		})
	}
	return records, nil
}

// Close releases the page, the browser, and the launcher state. Every exit
// path of an attempt lands here; leaking a browser process turns retries
// into a resource exhaustion spiral.
func (s *rodSession) Close() error {
	var first error
	if s.page != nil {
		if err := s.page.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
	if first != nil {
		return eris.Wrap(first, "renderer: close session")
	}
	return nil
}
