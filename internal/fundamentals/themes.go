package fundamentals

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"morning-dispatch/internal/domain"
	"morning-dispatch/internal/provider"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat"
)

const themeFallbackGap = 200 * time.Millisecond

// BatchQuoter returns prices, daily changes and reported market caps for many
// symbols in one call.
type BatchQuoter interface {
	BatchQuotes(ctx context.Context, symbols []string) (map[string]provider.BatchQuote, error)
}

// PriceFallback fills single symbols the batch call missed.
type PriceFallback interface {
	PriceOnly(ctx context.Context, symbol string) (domain.QuoteSnapshot, error)
}

// ThemeBuilder assembles valuation tables for named symbol baskets.
type ThemeBuilder struct {
	quotes   BatchQuoter
	fallback PriceFallback
	merger   *Merger
	throttle *provider.Throttle
	tracer   trace.Tracer
}

func NewThemeBuilder(quotes BatchQuoter, fallback PriceFallback, merger *Merger, throttle *provider.Throttle, tracer trace.Tracer) *ThemeBuilder {
	return &ThemeBuilder{quotes: quotes, fallback: fallback, merger: merger, throttle: throttle, tracer: tracer}
}

// BuildResult reports the theme tables plus the health of the filings feed.
type BuildResult struct {
	Themes       map[string]domain.ThemeMetrics
	EdgarHealthy bool
	Failures     []string
}

// Build quotes the union of all theme symbols once, fills gaps per symbol,
// attaches fundamentals and aggregates per theme.
func (b *ThemeBuilder) Build(ctx context.Context, themes map[string][]string) (BuildResult, error) {
	ctx, span := b.tracer.Start(ctx, "themes.build")
	defer span.End()
	span.SetAttributes(attribute.Int("themes", len(themes)))

	symbols := symbolUnion(themes)
	res := BuildResult{Themes: make(map[string]domain.ThemeMetrics, len(themes))}

	quotes, err := b.quotes.BatchQuotes(ctx, symbols)
	if err != nil {
		log.Printf("Warning: batch quotes failed, falling back per symbol: %v", err)
		quotes = map[string]provider.BatchQuote{}
	}
	b.fillMissing(ctx, symbols, quotes)

	fetched := b.merger.FetchAll(ctx, symbols)
	res.EdgarHealthy = fetched.PrimaryHits > 0
	res.Failures = fetched.Failures

	anyRow := false
	for name, basket := range themes {
		tm := b.buildTheme(name, basket, quotes, fetched.Records)
		if len(tm.Symbols) > 0 {
			anyRow = true
		}
		res.Themes[name] = tm
	}
	if !anyRow {
		return res, provider.EmptyError("no theme produced any valuation row")
	}
	return res, nil
}

func symbolUnion(themes map[string][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, sym := range themes[name] {
			if _, ok := seen[sym]; ok {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}

func (b *ThemeBuilder) fillMissing(ctx context.Context, symbols []string, quotes map[string]provider.BatchQuote) {
	if b.fallback == nil {
		return
	}
	for _, sym := range symbols {
		if q, ok := quotes[sym]; ok && q.Price != nil {
			continue
		}
		snap, err := b.fallback.PriceOnly(ctx, sym)
		if err != nil {
			log.Printf("Warning: price fallback for %s failed: %v", sym, err)
			continue
		}
		quotes[sym] = provider.BatchQuote{
			Price:     domain.Float(snap.Close),
			ChangePct: domain.Float(snap.ChangePct),
			Source:    snap.Source,
		}
		_ = b.throttle.Sleep(ctx, themeFallbackGap)
	}
}

func (b *ThemeBuilder) buildTheme(name string, basket []string, quotes map[string]provider.BatchQuote, records map[string]domain.FundamentalsRecord) domain.ThemeMetrics {
	tm := domain.ThemeMetrics{Theme: name}

	var changes, pes, pss, pbs []float64
	var capSum float64
	var capSeen bool

	for _, sym := range basket {
		q, ok := quotes[sym]
		if !ok || q.Price == nil {
			continue
		}
		row := valuationRow(sym, q, records[sym])
		tm.Symbols = append(tm.Symbols, row)

		if row.ChangePct != nil {
			changes = append(changes, *row.ChangePct)
		}
		if row.PE != nil {
			pes = append(pes, *row.PE)
		}
		if row.PS != nil {
			pss = append(pss, *row.PS)
		}
		if row.PB != nil {
			pbs = append(pbs, *row.PB)
		}
		if row.MarketCap != nil {
			capSum += *row.MarketCap
			capSeen = true
		}
	}

	tm.AvgChangePct = roundPtr(meanOf(changes))
	tm.AvgPE = roundPtr(meanOf(pes))
	tm.AvgPS = roundPtr(meanOf(pss))
	tm.AvgPB = roundPtr(meanOf(pbs))
	if capSeen {
		tm.TotalMarketCap = roundPtr(&capSum)
	}
	return tm
}

// valuationRow derives the ratios that only make sense when both operands
// exist. A reported market cap always wins; price times shares is only the
// backfill.
func valuationRow(sym string, q provider.BatchQuote, rec domain.FundamentalsRecord) domain.SymbolValuation {
	row := domain.SymbolValuation{
		Symbol:    sym,
		Price:     roundPtr(q.Price),
		ChangePct: roundPtr(q.ChangePct),
		Source:    q.Source,
	}

	mktCap := q.MarketCap
	if nilOrZero(mktCap) {
		mktCap = mulPtr(q.Price, rec.SharesDiluted)
	}
	row.MarketCap = roundPtr(mktCap)

	eps := divPtr(rec.NetIncomeTTM, rec.SharesDiluted)
	row.PE = roundPtr(divPtr(q.Price, eps))
	row.PS = roundPtr(divPtr(mktCap, rec.RevenueTTM))
	row.PB = roundPtr(divPtr(mktCap, rec.EquityLatest))
	return row
}

func divPtr(a, b *float64) *float64 {
	if a == nil || nilOrZero(b) {
		return nil
	}
	v := *a / *b
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func mulPtr(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := *a * *b
	return &v
}

func meanOf(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	v := stat.Mean(xs, nil)
	return &v
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*100) / 100
	return &r
}
