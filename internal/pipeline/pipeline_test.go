package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"morning-dispatch/internal/domain"
	"morning-dispatch/internal/fundamentals"

	"go.opentelemetry.io/otel/trace"
)

func noopTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

type stubQuotes struct {
	fail map[string]error
}

func (s *stubQuotes) quote(symbol string) (domain.QuoteSnapshot, error) {
	if err, ok := s.fail[symbol]; ok {
		return domain.QuoteSnapshot{}, err
	}
	return domain.QuoteSnapshot{Day: "2026-08-27", Close: 100, ChangePct: 0.5, Source: "stooq:" + symbol}, nil
}

func (s *stubQuotes) IndexQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	return s.quote(symbol)
}

func (s *stubQuotes) PriceOnly(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	return s.quote(symbol)
}

type stubThemes struct {
	res fundamentals.BuildResult
	err error
}

func (s *stubThemes) Build(ctx context.Context, themes map[string][]string) (fundamentals.BuildResult, error) {
	return s.res, s.err
}

type stubPutCall struct {
	reading *domain.PutCallReading
	err     error
}

func (s *stubPutCall) DailyPutCall(ctx context.Context) (*domain.PutCallReading, error) {
	return s.reading, s.err
}

type stubSurvey struct {
	reading *domain.SurveyReading
	err     error
}

func (s *stubSurvey) Survey(ctx context.Context) (*domain.SurveyReading, error) {
	return s.reading, s.err
}

type stubSpot struct {
	price float64
	err   error
}

func (s *stubSpot) SpotPrice(ctx context.Context, pair string) (float64, error) {
	return s.price, s.err
}

type stubDerivs struct {
	funding, last float64
	err           error
}

func (s *stubDerivs) FundingRate(ctx context.Context) (float64, error) { return s.funding, s.err }
func (s *stubDerivs) SwapLast(ctx context.Context) (float64, error)    { return s.last, s.err }

type stubCalendar struct {
	events []domain.Event
	err    error
}

func (s *stubCalendar) Calendar(ctx context.Context, day string) ([]domain.Event, error) {
	return s.events, s.err
}

type stubFeeds struct {
	items  []domain.NewsItem
	papers []domain.NewsItem
}

func (s *stubFeeds) FetchFeed(ctx context.Context, feedURL string, maxItems int) ([]domain.NewsItem, error) {
	return s.items, nil
}

func (s *stubFeeds) FetchArxiv(ctx context.Context) ([]domain.NewsItem, error) {
	return s.papers, nil
}

func healthyDeps() Deps {
	return Deps{
		Quotes: &stubQuotes{},
		GoldQuote: func(ctx context.Context) (domain.QuoteSnapshot, error) {
			return domain.QuoteSnapshot{Day: "2026-08-27", Close: 2500, Source: "fmp:XAUUSD"}, nil
		},
		Themes: &stubThemes{res: fundamentals.BuildResult{
			Themes:       map[string]domain.ThemeMetrics{"ai": {Theme: "ai"}},
			EdgarHealthy: true,
		}},
		PutCall: &stubPutCall{reading: &domain.PutCallReading{
			Ratios: map[string]float64{"equity": 0.8},
			Source: "cboe_daily_market_statistics",
		}},
		Survey: &stubSurvey{reading: &domain.SurveyReading{Spread: 5, Source: "aaii_sentiment_survey"}},
		Spot:   &stubSpot{price: 60000},
		Derivatives: &stubDerivs{funding: 0.01, last: 60300},
		Flows: []FlowSource{
			{Name: "sosovalue", Fetch: func(ctx context.Context) (float64, error) { return 120.5, nil }},
		},
		Calendar: &stubCalendar{events: []domain.Event{
			{Date: "2026-08-28", Title: "Core PCE", Impact: "high", Source: "trading_economics"},
		}},
		Feeds: &stubFeeds{},
	}
}

func testPipeline(t *testing.T, deps Deps, mutate func(*Options)) *Pipeline {
	t.Helper()
	opts := Options{
		OverrideDate: "2026-08-27",
		Themes:       map[string][]string{"ai": {"NVDA"}},
		MaxEvents:    12,
		OutDir:       t.TempDir(),
		StateDir:     t.TempDir(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts, deps, noopTracer())
}

func TestRunCompletesAndWritesArtifacts(t *testing.T) {
	p := testPipeline(t, healthyDeps(), nil)

	state, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != domain.RunCompleted {
		t.Fatalf("state = %v", state)
	}

	var doc domain.MarketDocument
	if err := readJSON(p.paths.RawMarket(), &doc); err != nil {
		t.Fatalf("raw market: %v", err)
	}
	if doc.Market.Indexes["SPX"].Source != "stooq:SPY" {
		t.Fatalf("SPX must route through its proxy: %+v", doc.Market.Indexes["SPX"])
	}
	if doc.Market.Indexes["HSI"].Source == "" {
		t.Fatal("HSI missing from indexes")
	}
	if doc.BTC.Basis == nil || *doc.BTC.Basis != (60300.0-60000.0)/60000.0 {
		t.Fatalf("basis = %v", doc.BTC.Basis)
	}
	if doc.Sentiment.Composite == nil {
		t.Fatal("composite must be set with live components")
	}

	var report domain.RunStatusReport
	if err := readJSON(p.paths.Status(), &report); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !report.OK || report.Date != "2026-08-27" {
		t.Fatalf("report = %+v", report)
	}
	if !fileExists(p.paths.Marker("2026-08-27")) {
		t.Fatal("marker must exist after a completed run")
	}
}

func TestRunCachedSkip(t *testing.T) {
	p := testPipeline(t, healthyDeps(), nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	state, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if state != domain.RunCachedSkip {
		t.Fatalf("state = %v, want cached-skip", state)
	}
}

func TestRunSelfHealsMissingArtifact(t *testing.T) {
	p := testPipeline(t, healthyDeps(), nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := os.Remove(p.paths.RawEvents()); err != nil {
		t.Fatal(err)
	}

	state, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if state != domain.RunCompleted {
		t.Fatalf("missing artifact must force a re-run, state = %v", state)
	}
	if !fileExists(p.paths.RawEvents()) {
		t.Fatal("artifact must be rewritten")
	}
}

func TestRunForceIgnoresMarker(t *testing.T) {
	p := testPipeline(t, healthyDeps(), nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	forced := testPipeline(t, healthyDeps(), func(o *Options) {
		o.Force = true
		o.OutDir = p.opts.OutDir
		o.StateDir = p.opts.StateDir
	})
	state, err := forced.Run(context.Background())
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if state != domain.RunCompleted {
		t.Fatalf("force must re-execute, state = %v", state)
	}
}

func TestStrictDegradedFailsWithoutMarker(t *testing.T) {
	deps := healthyDeps()
	deps.PutCall = &stubPutCall{err: errors.New("cboe unreachable")}
	p := testPipeline(t, deps, func(o *Options) { o.Strict = true })

	state, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("strict degraded run must error")
	}
	if state != domain.RunFailed {
		t.Fatalf("state = %v", state)
	}
	if fileExists(p.paths.Marker("2026-08-27")) {
		t.Fatal("failed run must not write the day marker")
	}
	if fileExists(p.paths.Status()) {
		t.Fatal("failed run must not finalize the status report")
	}
}

func TestDegradedNonStrictCompletes(t *testing.T) {
	deps := healthyDeps()
	deps.Survey = &stubSurvey{err: errors.New("aaii down")}
	p := testPipeline(t, deps, nil)

	state, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != domain.RunCompleted {
		t.Fatalf("state = %v", state)
	}

	var report domain.RunStatusReport
	if err := readJSON(p.paths.Status(), &report); err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("required failure must flip overall ok")
	}
	if !fileExists(p.paths.Marker("2026-08-27")) {
		t.Fatal("non-strict degraded run still writes the marker")
	}
}

func TestStalePutCallFallback(t *testing.T) {
	out, state := t.TempDir(), t.TempDir()

	first := testPipeline(t, healthyDeps(), func(o *Options) {
		o.OutDir, o.StateDir = out, state
	})
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	deps := healthyDeps()
	deps.PutCall = &stubPutCall{err: errors.New("cboe unreachable")}
	second := testPipeline(t, deps, func(o *Options) {
		o.OverrideDate = "2026-08-28"
		o.OutDir, o.StateDir = out, state
	})
	if _, err := second.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var report domain.RunStatusReport
	if err := readJSON(second.paths.Status(), &report); err != nil {
		t.Fatal(err)
	}
	byName := map[string]domain.FetchStatus{}
	for _, s := range report.Sources {
		byName[s.Name] = s
	}
	if byName[domain.SourcePutCall].OK {
		t.Fatal("primary put/call must be recorded as failed")
	}
	if !byName[domain.SourcePutCallStale].OK {
		t.Fatal("stale fallback must be recorded ok")
	}
	if report.OK {
		t.Fatal("stale reuse must not mask the required failure")
	}

	var doc domain.MarketDocument
	if err := readJSON(second.paths.RawMarket(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Sentiment.PutCall == nil || doc.Sentiment.PutCall.Ratios["equity"] != 0.8 {
		t.Fatalf("previous reading must be reused: %+v", doc.Sentiment.PutCall)
	}
}

func TestStaleETFFlowFallback(t *testing.T) {
	out, state := t.TempDir(), t.TempDir()

	first := testPipeline(t, healthyDeps(), func(o *Options) {
		o.OutDir, o.StateDir = out, state
	})
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	deps := healthyDeps()
	deps.Flows = []FlowSource{
		{Name: "sosovalue", Fetch: func(ctx context.Context) (float64, error) { return 0, errors.New("403") }},
	}
	second := testPipeline(t, deps, func(o *Options) {
		o.OverrideDate = "2026-08-28"
		o.OutDir, o.StateDir = out, state
	})
	if _, err := second.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var report domain.RunStatusReport
	if err := readJSON(second.paths.Status(), &report); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range report.Sources {
		if s.Name == "btc_etf_flow_fallback" && s.OK {
			found = true
		}
	}
	if !found {
		t.Fatal("reused etf flow must record its own fallback status")
	}

	var doc domain.MarketDocument
	if err := readJSON(second.paths.RawMarket(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.BTC.Simulated {
		t.Fatal("block completed by the previous run's flow must stay live")
	}
	if doc.BTC.ETFNetInflowMUSD == nil || *doc.BTC.ETFNetInflowMUSD != 120.5 {
		t.Fatalf("previous flow must be reused: %v", doc.BTC.ETFNetInflowMUSD)
	}
	if doc.BTC.Sources["etf_flow"] != "previous_run" {
		t.Fatalf("source attribution = %q", doc.BTC.Sources["etf_flow"])
	}
}

func TestKeyErrorsSurfaceInReport(t *testing.T) {
	p := testPipeline(t, healthyDeps(), func(o *Options) {
		o.KeyErrors = []string{`API_KEYS: unknown key name "fmp"`}
	})

	state, err := p.Run(context.Background())
	if err != nil || state != domain.RunCompleted {
		t.Fatalf("state=%v err=%v", state, err)
	}

	var report domain.RunStatusReport
	if err := readJSON(p.paths.Status(), &report); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range report.Sources {
		if s.Name == "config_keys" && !s.OK && s.Message != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("credential validation errors must appear as failed source entries")
	}
	if !report.OK {
		t.Fatal("config entries are not required sources and must not flip overall ok")
	}
}

func TestIncompleteCryptoFallsBackSimulated(t *testing.T) {
	deps := healthyDeps()
	deps.Flows = []FlowSource{
		{Name: "sosovalue", Fetch: func(ctx context.Context) (float64, error) { return 0, errors.New("403") }},
	}
	p := testPipeline(t, deps, nil)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc domain.MarketDocument
	if err := readJSON(p.paths.RawMarket(), &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.BTC.Simulated {
		t.Fatalf("incomplete block must be replaced wholesale: %+v", doc.BTC)
	}
}

func TestEventsSortedAndCapped(t *testing.T) {
	deps := healthyDeps()
	var events []domain.Event
	for i := 0; i < 20; i++ {
		impact := "low"
		if i%3 == 0 {
			impact = "high"
		}
		events = append(events, domain.Event{
			Date:   fmt.Sprintf("2026-09-%02d", (i%5)+1),
			Title:  fmt.Sprintf("event %d", i),
			Impact: impact,
		})
	}
	deps.Calendar = &stubCalendar{events: events}
	p := testPipeline(t, deps, func(o *Options) { o.MaxEvents = 12 })

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc domain.EventsDocument
	if err := readJSON(p.paths.RawEvents(), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Events) != 12 {
		t.Fatalf("events must cap at 12, got %d", len(doc.Events))
	}
	for i := 1; i < len(doc.Events); i++ {
		prev, cur := doc.Events[i-1], doc.Events[i]
		if prev.Date > cur.Date {
			t.Fatalf("events out of date order at %d", i)
		}
		if prev.Date == cur.Date && domain.ImpactRank(prev.Impact) > domain.ImpactRank(cur.Impact) {
			t.Fatalf("events out of impact order at %d", i)
		}
	}
}

func TestMarketSimulatedWhenAllIndexesFail(t *testing.T) {
	deps := healthyDeps()
	deps.Quotes = &stubQuotes{fail: map[string]error{
		"SPY": errors.New("down"), "QQQ": errors.New("down"),
		"BOTZ": errors.New("down"), "XLP": errors.New("down"),
		"^HSI": errors.New("down"), "2800.HK": errors.New("down"), "2828.HK": errors.New("down"),
	}}
	deps.GoldQuote = func(ctx context.Context) (domain.QuoteSnapshot, error) {
		return domain.QuoteSnapshot{}, errors.New("down")
	}
	p := testPipeline(t, deps, nil)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var doc domain.MarketDocument
	if err := readJSON(p.paths.RawMarket(), &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.Market.Simulated {
		t.Fatal("market must be simulated when every index fails")
	}
	var report domain.RunStatusReport
	if err := readJSON(p.paths.Status(), &report); err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("simulated market must leave the run degraded")
	}
}

func TestTradingDay(t *testing.T) {
	if got := TradingDay("2026-01-02", time.Now); got != "2026-01-02" {
		t.Fatalf("override ignored: %q", got)
	}

	// 2026-08-30 is a Sunday; walking back lands on Friday the 28th.
	sunday := func() time.Time {
		return time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)
	}
	if got := TradingDay("", sunday); got != "2026-08-28" {
		t.Fatalf("weekend walk-back = %q", got)
	}
}

func TestCachedCompleteRejectsDateMismatch(t *testing.T) {
	p := testPipeline(t, healthyDeps(), nil)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.paths.TouchMarker("2026-08-28"); err != nil {
		t.Fatal(err)
	}
	if p.paths.CachedComplete("2026-08-28") {
		t.Fatal("status date mismatch must defeat the marker")
	}
}
