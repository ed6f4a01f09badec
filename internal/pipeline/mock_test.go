package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shelfmetrics/rank-cli/internal/model"
	"github.com/shelfmetrics/rank-cli/internal/renderer"
	"github.com/shelfmetrics/rank-cli/internal/store"
)

// --- Renderer Fakes ---

// pageScript describes one page's worth of scripted renderer behavior.
// Zero value is a healthy empty page.
type pageScript struct {
	navigateErr error
	blockType   renderer.BlockType
	noResults   bool
	extractErr  error
	passA       []model.RawResult
	passB       []model.RawResult
}

// fakeSession replays a fixed page script. Navigate advances to the next
// page; each page serves pass A on the first extraction and pass B after.
type fakeSession struct {
	pages    []pageScript
	page     int
	pass     int
	closed   bool
	closeErr error
}

func (s *fakeSession) current() pageScript {
	i := s.page - 1
	if i < 0 || i >= len(s.pages) {
		return pageScript{noResults: true}
	}
	return s.pages[i]
}

func (s *fakeSession) Navigate(_ context.Context, _ string) error {
	s.page++
	s.pass = 0
	return s.current().navigateErr
}

func (s *fakeSession) Blocked(_ context.Context) (renderer.BlockType, error) {
	return s.current().blockType, nil
}

func (s *fakeSession) NoResults(_ context.Context) (bool, error) {
	return s.current().noResults, nil
}

func (s *fakeSession) SettleLazyContent(_ context.Context) error {
	return nil
}

func (s *fakeSession) ExtractCandidates(_ context.Context) ([]model.RawResult, error) {
	sc := s.current()
	if sc.extractErr != nil {
		return nil, sc.extractErr
	}
	s.pass++
	if s.pass == 1 {
		return sc.passA, nil
	}
	return sc.passB, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return s.closeErr
}

// fakeFactory hands out one scripted session per attempt, in order. An
// entry in errs fails that attempt's launch instead.
type fakeFactory struct {
	sessions []*fakeSession
	errs     []error
	launches int
}

func (f *fakeFactory) NewSession(_ context.Context, _ model.Request) (renderer.Session, error) {
	i := f.launches
	f.launches++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i >= len(f.sessions) {
		i = len(f.sessions) - 1
	}
	return f.sessions[i], nil
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, req model.Request) (*model.Run, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) MarkRunning(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *mockStore) CompleteRun(ctx context.Context, runID string, result *model.RankResult, attempts int) error {
	args := m.Called(ctx, runID, result, attempts)
	return args.Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, runID string, errInfo model.ErrorInfo, attempts int) error {
	args := m.Called(ctx, runID, errInfo, attempts)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Run), args.Error(1)
}

func (m *mockStore) SaveSnapshots(ctx context.Context, snaps []model.Snapshot) error {
	args := m.Called(ctx, snaps)
	return args.Error(0)
}

func (m *mockStore) ListSnapshots(ctx context.Context, identifier string, since time.Time) ([]model.Snapshot, error) {
	args := m.Called(ctx, identifier, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Snapshot), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Markup Fixtures ---

// organicMarkup is a realistic result card with no promotion signals:
// permalink anchor, image, title, rating, price, delivery, and a buy
// button, comfortably over the minimum validation length.
func organicMarkup(id string) string {
	return `<div data-asin="` + id + `" data-index="3" data-component-type="s-search-result" class="s-result-item s-asin">` +
		`<div class="s-product-image-container"><a class="a-link-normal s-no-outline" href="/dp/` + id + `?ref=sr_1_3">` +
		`<img src="https://images.example-cdn.net/I/41abc123._AC_UY218_.jpg" class="s-image" alt="Ergonomic wireless mouse, 2.4 GHz, six buttons"/></a></div>` +
		`<h2 class="a-size-mini a-spacing-none"><a class="a-link-normal a-text-normal" href="/dp/` + id + `">` +
		`<span class="a-size-base-plus a-color-base a-text-normal">Ergonomic Wireless Mouse with Nano USB Receiver</span></a></h2>` +
		`<div class="a-row a-size-small"><span class="a-icon-alt">4.6 out of 5 stars</span>` +
		`<span class="a-size-base s-underline-text">12,847</span></div>` +
		`<div class="a-row"><span class="a-price" data-a-size="xl"><span class="a-offscreen">$24.99</span>` +
		`<span class="a-price-whole">24</span><span class="a-price-fraction">99</span></span></div>` +
		`<div class="a-row a-size-base a-color-secondary"><i class="a-icon a-icon-prime a-icon-medium"></i>` +
		`<span>FREE delivery Tue, Jun 10 on your first order</span></div>` +
		`<div class="a-section a-spacing-none"><button class="a-button-text" type="button">Add to cart</button></div></div>`
}

// promotedMarkup layers all four promotion signals onto a result card.
func promotedMarkup(id string) string {
	return `<div data-asin="` + id + `" data-index="1" data-component-type="sp-sponsored-result" class="s-result-item AdHolder" ` +
		`data-ad-details="{&quot;adCreativeMetaData&quot;:{&quot;adCreativeId&quot;:&quot;9001&quot;}}" ` +
		`cel_widget_id="MAIN-SEARCH_RESULTS-sp_atf">` +
		`<div class="a-row"><span class="puis-sponsored-label-text" aria-label="View Sponsored information or leave ad feedback">Sponsored</span></div>` +
		strings.TrimPrefix(organicMarkup(id), `<div data-asin="`+id+`" data-index="3" data-component-type="s-search-result" class="s-result-item s-asin">`)
}

// thinMarkup is a stub card: identifier present but no anchor, content,
// or bulk. Quick validation fails on it and full validation passes only
// the identifier check.
func thinMarkup(id string) string {
	return `<div data-asin="` + id + `" class="s-result-item"><span>` + id + `</span></div>`
}

// genPage builds one extraction pass of n records with the given promoted
// positions. If targetPos is nonzero, that record carries targetID.
func genPage(n int, promotedAt map[int]bool, targetPos int, targetID string) []model.RawResult {
	out := make([]model.RawResult, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("B%09d", i)
		if i == targetPos {
			id = targetID
		}
		markup := organicMarkup(id)
		if promotedAt[i] {
			markup = promotedMarkup(id)
		}
		out = append(out, model.RawResult{Identifier: id, Position: i, Markup: markup})
	}
	return out
}

// --- Ensure interface compliance ---
var (
	_ renderer.Session = (*fakeSession)(nil)
	_ renderer.Factory = (*fakeFactory)(nil)
	_ store.Store      = (*mockStore)(nil)
)
