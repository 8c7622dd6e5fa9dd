// Package pipeline sequences one trading day's data acquisition: market
// snapshot, themes, sentiment, crypto and events, each isolated so one
// failure never cancels the rest.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"morning-dispatch/internal/domain"
	"morning-dispatch/internal/fundamentals"
	"morning-dispatch/internal/resolver"
	"morning-dispatch/internal/sentiment"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Index symbols are quoted through liquid ETF proxies; HSI has its own chain.
var indexProxies = map[string]string{
	"SPX": "SPY",
	"NDX": "QQQ",
}

var sectorProxies = map[string]string{
	"AI":        "BOTZ",
	"Defensive": "XLP",
}

var hsiProxies = []string{"2800.HK", "2828.HK"}

// Sources whose failure flips the run's overall ok. Events and news are
// decoration and never do.
var requiredSources = map[string]struct{}{
	domain.SourceMarketSnapshot: {},
	domain.SourceHKMarket:       {},
	domain.SourceThemeMetrics:   {},
	domain.SourceEdgar:          {},
	domain.SourcePutCall:        {},
	domain.SourceAAII:           {},
	domain.SourceBTC:            {},
}

type QuoteRouter interface {
	IndexQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error)
	PriceOnly(ctx context.Context, symbol string) (domain.QuoteSnapshot, error)
}

type ThemeSource interface {
	Build(ctx context.Context, themes map[string][]string) (fundamentals.BuildResult, error)
}

type PutCallSource interface {
	DailyPutCall(ctx context.Context) (*domain.PutCallReading, error)
}

type SurveySource interface {
	Survey(ctx context.Context) (*domain.SurveyReading, error)
}

type SpotSource interface {
	SpotPrice(ctx context.Context, pair string) (float64, error)
}

type DerivativesSource interface {
	FundingRate(ctx context.Context) (float64, error)
	SwapLast(ctx context.Context) (float64, error)
}

// FlowSource is one entry in the ordered ETF-flow chain.
type FlowSource struct {
	Name  string
	Fetch func(ctx context.Context) (float64, error)
}

type CalendarSource interface {
	Calendar(ctx context.Context, day string) ([]domain.Event, error)
}

type EarningsSource interface {
	EarningsCalendar(ctx context.Context, day string) ([]domain.Event, error)
}

type FeedSource interface {
	FetchFeed(ctx context.Context, feedURL string, maxItems int) ([]domain.NewsItem, error)
	FetchArxiv(ctx context.Context) ([]domain.NewsItem, error)
}

type BriefSource interface {
	Brief(ctx context.Context, events []domain.Event, updates []domain.NewsItem) (string, error)
}

// Deps wires the acquisition stages. Optional stages may be nil.
type Deps struct {
	Quotes      QuoteRouter
	GoldQuote   func(ctx context.Context) (domain.QuoteSnapshot, error)
	Themes      ThemeSource
	PutCall     PutCallSource
	Survey      SurveySource
	Spot        SpotSource
	Derivatives DerivativesSource
	Flows       []FlowSource
	Calendar    CalendarSource
	Earnings    EarningsSource
	Feeds       FeedSource
	Brief       BriefSource
}

// Options carries the run-level knobs. Themes, Feeds and MaxEvents come from
// config; the rest from flags and environment. KeyErrors are credential
// validation failures surfaced into the run report.
type Options struct {
	OverrideDate string
	Force        bool
	Strict       bool
	Themes       map[string][]string
	Feeds        []string
	MaxEvents    int
	OutDir       string
	StateDir     string
	KeyErrors    []string
}

type Pipeline struct {
	opts   Options
	deps   Deps
	paths  Paths
	tracer trace.Tracer
	now    func() time.Time
}

func New(opts Options, deps Deps, tracer trace.Tracer) *Pipeline {
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 12
	}
	return &Pipeline{
		opts:   opts,
		deps:   deps,
		paths:  Paths{OutDir: opts.OutDir, StateDir: opts.StateDir},
		tracer: tracer,
		now:    time.Now,
	}
}

// Run executes one trading day end to end and reports the terminal state.
// Artifacts are written before the day marker; the marker is always last.
func (p *Pipeline) Run(ctx context.Context) (domain.RunState, error) {
	day := TradingDay(p.opts.OverrideDate, p.now)

	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("trading_day", day), attribute.Bool("force", p.opts.Force))

	p.paths.RecordStep("etl", "started", day)

	if !p.opts.Force && p.paths.CachedComplete(day) {
		log.Printf("run for %s already complete, skipping", day)
		p.paths.RecordStep("etl", "cached", day)
		return domain.RunCachedSkip, nil
	}

	prev, hasPrev := p.paths.PreviousMarket()

	var statuses []domain.FetchStatus
	addStatus := func(name string, ok bool, msg string) {
		statuses = append(statuses, domain.FetchStatus{Name: name, OK: ok, Message: msg})
	}
	for _, msg := range p.opts.KeyErrors {
		addStatus("config_keys", false, msg)
	}

	market := p.fetchMarket(ctx, day, addStatus)
	p.fetchHK(ctx, &market, addStatus)
	p.fetchThemes(ctx, &market, addStatus)

	history := sentiment.LoadHistory(p.opts.StateDir)
	sent := p.fetchSentiment(ctx, history, prev, hasPrev, addStatus)
	if err := history.Save(); err != nil {
		log.Printf("Warning: could not persist sentiment history: %v", err)
	}

	btc := p.fetchCrypto(ctx, day, prev, hasPrev, addStatus)
	events, updates := p.fetchEvents(ctx, day, addStatus)

	doc := domain.MarketDocument{Market: market, BTC: btc, Sentiment: sent}
	eventsDoc := domain.EventsDocument{Events: events, AIUpdates: updates}
	if p.deps.Brief != nil {
		brief, err := p.deps.Brief.Brief(ctx, events, updates)
		if err != nil {
			addStatus(domain.SourceLLMNews, false, err.Error())
		} else if brief != "" {
			eventsDoc.Brief = brief
			addStatus(domain.SourceLLMNews, true, "")
		}
	}

	report := domain.RunStatusReport{Date: day, Sources: statuses, OK: requiredOK(statuses)}

	if p.opts.Strict && !report.OK {
		p.paths.RecordStep("etl", "failed", day)
		span.SetAttributes(attribute.Bool("degraded", true))
		return domain.RunFailed, fmt.Errorf("strict mode: degraded run for %s: %s", day, failedRequired(statuses))
	}

	if err := writeJSON(p.paths.RawMarket(), doc); err != nil {
		return domain.RunFailed, err
	}
	if err := writeJSON(p.paths.RawEvents(), eventsDoc); err != nil {
		return domain.RunFailed, err
	}
	if err := writeJSON(p.paths.Status(), report); err != nil {
		return domain.RunFailed, err
	}
	p.paths.RecordStep("etl", "completed", day)

	if err := p.paths.TouchMarker(day); err != nil {
		return domain.RunFailed, fmt.Errorf("write day marker: %w", err)
	}

	if !report.OK {
		log.Printf("Warning: run for %s completed degraded: %s", day, failedRequired(statuses))
	}
	span.SetAttributes(attribute.Bool("degraded", !report.OK))
	return domain.RunCompleted, nil
}

func (p *Pipeline) fetchMarket(ctx context.Context, day string, addStatus func(string, bool, string)) domain.MarketBlock {
	ctx, span := p.tracer.Start(ctx, "pipeline.market")
	defer span.End()

	market := domain.MarketBlock{
		Date:    day,
		Indexes: map[string]domain.QuoteSnapshot{},
		Sectors: map[string]domain.SectorPerformance{},
	}

	var failures []string
	names := make([]string, 0, len(indexProxies))
	for name := range indexProxies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		snap, err := p.deps.Quotes.IndexQuote(ctx, indexProxies[name])
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		market.Indexes[name] = snap
	}

	if p.deps.GoldQuote != nil {
		if snap, err := p.deps.GoldQuote(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("GOLD: %v", err))
		} else {
			market.Indexes["GOLD"] = snap
		}
	}

	sectorNames := make([]string, 0, len(sectorProxies))
	for name := range sectorProxies {
		sectorNames = append(sectorNames, name)
	}
	sort.Strings(sectorNames)
	for _, name := range sectorNames {
		snap, err := p.deps.Quotes.PriceOnly(ctx, sectorProxies[name])
		if err != nil {
			log.Printf("Warning: sector %s via %s failed: %v", name, sectorProxies[name], err)
			continue
		}
		market.Sectors[name] = domain.SectorPerformance{Performance: snap.ChangePct, Source: snap.Source}
	}

	// A run with no live US index at all falls back to a simulated snapshot
	// so downstream rendering still works. The failure stays on record.
	if len(market.Indexes) == 0 {
		addStatus(domain.SourceMarketSnapshot, false, strings.Join(failures, "; "))
		return simulatedMarket(day)
	}
	addStatus(domain.SourceMarketSnapshot, len(failures) == 0, strings.Join(failures, "; "))
	return market
}

// fetchHK resolves the Hang Seng through its own chain: the index symbol
// first, then the liquid tracker ETFs as proxies.
func (p *Pipeline) fetchHK(ctx context.Context, market *domain.MarketBlock, addStatus func(string, bool, string)) {
	ctx, span := p.tracer.Start(ctx, "pipeline.hk")
	defer span.End()

	candidates := []resolver.Candidate[domain.QuoteSnapshot]{
		{Name: "index", Fetch: func(ctx context.Context) (domain.QuoteSnapshot, error) {
			return p.deps.Quotes.IndexQuote(ctx, "^HSI")
		}},
	}
	for _, proxy := range hsiProxies {
		candidates = append(candidates, resolver.Candidate[domain.QuoteSnapshot]{
			Name: proxy,
			Fetch: func(ctx context.Context) (domain.QuoteSnapshot, error) {
				return p.deps.Quotes.PriceOnly(ctx, proxy)
			},
		})
	}

	snap, _, err := resolver.Resolve(ctx, "quote HSI", candidates)
	if err != nil {
		addStatus(domain.SourceHKMarket, false, err.Error())
		return
	}
	market.Indexes["HSI"] = snap
	addStatus(domain.SourceHKMarket, true, "")
}

func (p *Pipeline) fetchThemes(ctx context.Context, market *domain.MarketBlock, addStatus func(string, bool, string)) {
	ctx, span := p.tracer.Start(ctx, "pipeline.themes")
	defer span.End()

	res, err := p.deps.Themes.Build(ctx, p.opts.Themes)
	if err != nil {
		addStatus(domain.SourceThemeMetrics, false, err.Error())
	} else {
		market.Themes = res.Themes
		addStatus(domain.SourceThemeMetrics, true, "")
	}
	addStatus(domain.SourceEdgar, res.EdgarHealthy, strings.Join(res.Failures, "; "))
}

// fetchSentiment gathers put/call and survey readings, preferring live data
// and falling back to the previous day's persisted readings. Only live
// readings join the rolling history; a reused reading is scored against the
// window it already sits in.
func (p *Pipeline) fetchSentiment(ctx context.Context, history *sentiment.History, prev domain.MarketDocument, hasPrev bool, addStatus func(string, bool, string)) domain.SentimentBlock {
	ctx, span := p.tracer.Start(ctx, "pipeline.sentiment")
	defer span.End()

	var block domain.SentimentBlock

	reading, err := p.deps.PutCall.DailyPutCall(ctx)
	if err == nil && reading == nil {
		err = fmt.Errorf("empty put/call reading")
	}
	switch {
	case err == nil:
		addStatus(domain.SourcePutCall, true, reading.Source)
		block.PutCall = reading
		c := sentiment.ScorePutCall(history, reading.Ratios["equity"])
		block.Components = append(block.Components, c)
	case hasPrev && prev.Sentiment.PutCall != nil:
		addStatus(domain.SourcePutCall, false, err.Error())
		addStatus(domain.SourcePutCallStale, true, "reusing previous put/call reading")
		stale := prev.Sentiment.PutCall
		block.PutCall = stale
		block.Components = append(block.Components, scoreStale(
			sentiment.SeriesPutCallEquity,
			sentiment.LogZScore(stale.Ratios["equity"], history.Window(sentiment.SeriesPutCallEquity)),
		))
	default:
		addStatus(domain.SourcePutCall, false, err.Error())
	}

	survey, err := p.deps.Survey.Survey(ctx)
	if err == nil && survey == nil {
		err = fmt.Errorf("empty survey reading")
	}
	switch {
	case err == nil:
		addStatus(domain.SourceAAII, true, survey.Source)
		block.Survey = survey
		c := sentiment.ScoreSurveySpread(history, survey.Spread)
		block.Components = append(block.Components, c)
	case hasPrev && prev.Sentiment.Survey != nil:
		addStatus(domain.SourceAAII, false, err.Error())
		addStatus(domain.SourceAAIIStale, true, "reusing previous survey reading")
		stale := prev.Sentiment.Survey
		block.Survey = stale
		block.Components = append(block.Components, scoreStale(
			sentiment.SeriesAAIISpread,
			sentiment.RawZScore(stale.Spread, history.Window(sentiment.SeriesAAIISpread)),
		))
	default:
		addStatus(domain.SourceAAII, false, err.Error())
	}

	block.Composite = sentiment.Composite(block.Components)
	return block
}

func scoreStale(name string, z float64) domain.SentimentComponent {
	v := sentiment.Contrarian(sentiment.Compress(z))
	return domain.SentimentComponent{Name: name, Value: v, Score: sentiment.DisplayScore(v)}
}

// fetchCrypto builds the BTC block: spot, funding, perp basis and ETF net
// flow. The block is only "live" when all four resolved; otherwise the
// simulated fallback replaces it wholesale.
func (p *Pipeline) fetchCrypto(ctx context.Context, day string, prev domain.MarketDocument, hasPrev bool, addStatus func(string, bool, string)) domain.CryptoBlock {
	ctx, span := p.tracer.Start(ctx, "pipeline.crypto")
	defer span.End()

	block := domain.CryptoBlock{Sources: map[string]string{}}
	var failures []string

	spot, err := p.deps.Spot.SpotPrice(ctx, "BTC-USD")
	if err != nil {
		failures = append(failures, fmt.Sprintf("spot: %v", err))
	} else {
		block.SpotUSD = domain.Float(spot)
		block.Sources["spot"] = "coinbase"
	}

	funding, err := p.deps.Derivatives.FundingRate(ctx)
	if err != nil {
		failures = append(failures, fmt.Sprintf("funding: %v", err))
	} else {
		block.FundingRate = domain.Float(funding)
		block.Sources["funding"] = "okx"
	}

	if block.SpotUSD != nil {
		last, err := p.deps.Derivatives.SwapLast(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("basis: %v", err))
		} else if spot != 0 {
			block.Basis = domain.Float((last - spot) / spot)
			block.Sources["basis"] = "okx"
		}
	} else {
		failures = append(failures, "basis: no spot price to compare against")
	}

	flowResolved := false
	for _, src := range p.deps.Flows {
		v, err := src.Fetch(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", src.Name, err))
			continue
		}
		block.ETFNetInflowMUSD = domain.Float(v)
		block.Sources["etf_flow"] = src.Name
		flowResolved = true
		break
	}
	if !flowResolved && hasPrev && prev.BTC.ETFNetInflowMUSD != nil {
		block.ETFNetInflowMUSD = prev.BTC.ETFNetInflowMUSD
		block.Sources["etf_flow"] = "previous_run"
		addStatus("btc_etf_flow_fallback", true, "reused previous run's etf net flow")
	}

	if block.SpotUSD != nil && block.FundingRate != nil && block.Basis != nil && block.ETFNetInflowMUSD != nil {
		addStatus(domain.SourceBTC, len(failures) == 0, strings.Join(failures, "; "))
		return block
	}
	addStatus(domain.SourceBTC, false, strings.Join(failures, "; "))
	return simulatedCrypto(day)
}

func (p *Pipeline) fetchEvents(ctx context.Context, day string, addStatus func(string, bool, string)) ([]domain.Event, []domain.NewsItem) {
	ctx, span := p.tracer.Start(ctx, "pipeline.events")
	defer span.End()

	var events []domain.Event
	var updates []domain.NewsItem

	if p.deps.Calendar != nil {
		calEvents, err := p.deps.Calendar.Calendar(ctx, day)
		if err != nil {
			addStatus(domain.SourceEvents, false, err.Error())
			events = simulatedEvents(day, p.now)
		} else {
			addStatus(domain.SourceEvents, true, "")
			events = calEvents
		}
	} else {
		events = simulatedEvents(day, p.now)
	}

	if p.deps.Earnings != nil {
		earnings, err := p.deps.Earnings.EarningsCalendar(ctx, day)
		if err != nil {
			addStatus(domain.SourceEarnings, false, err.Error())
		} else {
			addStatus(domain.SourceEarnings, true, "")
			events = append(events, earnings...)
		}
	}

	if p.deps.Feeds != nil {
		for i, feedURL := range p.opts.Feeds {
			name := fmt.Sprintf("ai_rss_%d", i+1)
			items, err := p.deps.Feeds.FetchFeed(ctx, feedURL, 5)
			if err != nil {
				log.Printf("Warning: feed %s failed: %v", feedURL, err)
				addStatus(name, false, err.Error())
				continue
			}
			addStatus(name, true, "")
			updates = append(updates, items...)
		}

		papers, err := p.deps.Feeds.FetchArxiv(ctx)
		if err != nil {
			addStatus(domain.SourceArxiv, false, err.Error())
		} else {
			addStatus(domain.SourceArxiv, true, "")
			updates = append(updates, papers...)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return domain.ImpactRank(events[i].Impact) < domain.ImpactRank(events[j].Impact)
	})
	if len(events) > p.opts.MaxEvents {
		events = events[:p.opts.MaxEvents]
	}
	return events, updates
}

// requiredOK is the AND over required sources only. Stale-fallback entries
// carry their own names, so a reused reading never masks its source failure.
func requiredOK(statuses []domain.FetchStatus) bool {
	seen := map[string]bool{}
	for _, s := range statuses {
		if _, required := requiredSources[s.Name]; !required {
			continue
		}
		seen[s.Name] = seen[s.Name] || s.OK
	}
	for name := range requiredSources {
		if !seen[name] {
			return false
		}
	}
	return true
}

func failedRequired(statuses []domain.FetchStatus) string {
	var parts []string
	seen := map[string]bool{}
	for _, s := range statuses {
		if _, required := requiredSources[s.Name]; !required {
			continue
		}
		seen[s.Name] = seen[s.Name] || s.OK
	}
	names := make([]string, 0, len(requiredSources))
	for name := range requiredSources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !seen[name] {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}
