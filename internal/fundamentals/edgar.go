package fundamentals

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"morning-dispatch/internal/domain"
	"morning-dispatch/internal/provider"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	edgarTickerMapURL = "https://www.sec.gov/files/company_tickers.json"
	edgarFactsURLFmt  = "https://data.sec.gov/api/xbrl/companyfacts/CIK%s.json"
)

// Filing forms accepted as authoritative for fact selection.
var edgarAllowedForms = map[string]struct{}{
	"10-Q": {}, "10-Q/A": {}, "10-K": {}, "10-K/A": {},
	"20-F": {}, "40-F": {}, "6-K": {}, "6-K/A": {},
}

type concept struct {
	taxonomy string
	tag      string
}

var (
	revenueConcepts = []concept{
		{"us-gaap", "Revenues"},
		{"us-gaap", "SalesRevenueNet"},
		{"us-gaap", "RevenueFromContractWithCustomerExcludingAssessedTax"},
		{"ifrs-full", "Revenue"},
	}
	netIncomeConcepts = []concept{
		{"us-gaap", "NetIncomeLoss"},
		{"us-gaap", "ProfitLoss"},
		{"ifrs-full", "ProfitLoss"},
	}
	sharesConcepts = []concept{
		{"us-gaap", "WeightedAverageNumberOfDilutedSharesOutstanding"},
		{"us-gaap", "WeightedAverageNumberOfSharesOutstandingBasic"},
		{"us-gaap", "CommonStockSharesOutstanding"},
		{"dei", "EntityCommonStockSharesOutstanding"},
		{"ifrs-full", "NumberOfSharesOutstanding"},
	}
	equityConcepts = []concept{
		{"us-gaap", "StockholdersEquity"},
		{"us-gaap", "StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest"},
		{"ifrs-full", "Equity"},
	}

	usdUnits   = []string{"USD"}
	shareUnits = []string{"shares", "pure"}
)

// TickerMap caches the SEC ticker-to-CIK mapping for the process lifetime.
// It is owned by the merger and injectable, so tests can pre-seed it and
// callers can reset it.
type TickerMap struct {
	mu       sync.Mutex
	byTicker map[string]string
}

func NewTickerMap() *TickerMap {
	return &TickerMap{}
}

// Seed installs a mapping directly, bypassing the network load.
func (m *TickerMap) Seed(byTicker map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTicker = byTicker
}

func (m *TickerMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTicker = nil
}

func (m *TickerMap) lookup(symbol string, load func() (map[string]string, error)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byTicker == nil {
		loaded, err := load()
		if err != nil {
			return "", err
		}
		m.byTicker = loaded
	}
	cik, ok := m.byTicker[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return "", provider.EmptyError("missing identifier for " + symbol)
	}
	return cik, nil
}

// EdgarClient pulls structured company facts from the SEC XBRL API.
type EdgarClient struct {
	client    *provider.Client
	tickerURL string
	factsURL  string
	userAgent string
	tickers   *TickerMap
	tracer    trace.Tracer
}

func NewEdgarClient(client *provider.Client, userAgent string, tickers *TickerMap, tracer trace.Tracer) *EdgarClient {
	return &EdgarClient{
		client:    client,
		tickerURL: edgarTickerMapURL,
		factsURL:  edgarFactsURLFmt,
		userAgent: strings.TrimSpace(userAgent),
		tickers:   tickers,
		tracer:    tracer,
	}
}

func (c *EdgarClient) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.userAgent != "" {
		h["User-Agent"] = c.userAgent
	}
	return h
}

func (c *EdgarClient) CIKFor(ctx context.Context, symbol string) (string, error) {
	return c.tickers.lookup(symbol, func() (map[string]string, error) {
		var raw map[string]struct {
			CIK    int64  `json:"cik_str"`
			Ticker string `json:"ticker"`
		}
		if err := c.client.GetJSON(ctx, c.tickerURL, c.headers(), &raw); err != nil {
			return nil, fmt.Errorf("load ticker map: %w", err)
		}
		byTicker := make(map[string]string, len(raw))
		for _, row := range raw {
			byTicker[strings.ToUpper(row.Ticker)] = fmt.Sprintf("%010d", row.CIK)
		}
		return byTicker, nil
	})
}

type factObservation struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Val   float64 `json:"val"`
	FP    string  `json:"fp"`
	Form  string  `json:"form"`
}

type companyFacts struct {
	Facts map[string]map[string]struct {
		Units map[string][]factObservation `json:"units"`
	} `json:"facts"`
}

// Fundamentals fetches and reduces company facts for one symbol.
func (c *EdgarClient) Fundamentals(ctx context.Context, symbol string) (domain.FundamentalsRecord, error) {
	ctx, span := c.tracer.Start(ctx, "edgar.fundamentals")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	var rec domain.FundamentalsRecord
	cik, err := c.CIKFor(ctx, symbol)
	if err != nil {
		return rec, err
	}

	// Politeness spacing between calls lives in the client's retry policy.
	var facts companyFacts
	url := fmt.Sprintf(c.factsURL, cik)
	if err := c.client.GetJSON(ctx, url, c.headers(), &facts); err != nil {
		return rec, fmt.Errorf("company facts %s: %w", symbol, err)
	}

	rec.RevenueTTM = ttmValue(observationsFor(facts, revenueConcepts, usdUnits))
	rec.NetIncomeTTM = ttmValue(observationsFor(facts, netIncomeConcepts, usdUnits))
	rec.SharesDiluted = latestShares(observationsFor(facts, sharesConcepts, shareUnits))
	rec.EquityLatest = latestInstant(observationsFor(facts, equityConcepts, usdUnits))
	rec.Source = "edgar"
	return rec, nil
}

// observationsFor picks the first concept with usable observations, trying
// unit candidates in order and falling back to whatever unit exists.
func observationsFor(facts companyFacts, concepts []concept, unitCandidates []string) []factObservation {
	for _, cpt := range concepts {
		taxonomy, ok := facts.Facts[cpt.taxonomy]
		if !ok {
			continue
		}
		fact, ok := taxonomy[cpt.tag]
		if !ok || len(fact.Units) == 0 {
			continue
		}

		var obs []factObservation
		for _, unit := range unitCandidates {
			if rows, ok := fact.Units[unit]; ok {
				obs = rows
				break
			}
		}
		if obs == nil {
			keys := make([]string, 0, len(fact.Units))
			for k := range fact.Units {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			obs = fact.Units[keys[0]]
		}

		filtered := obs[:0:0]
		for _, o := range obs {
			if _, ok := edgarAllowedForms[o.Form]; ok {
				filtered = append(filtered, o)
			}
		}
		if len(filtered) > 0 {
			return filtered
		}
	}
	return nil
}

func durationDays(o factObservation) int {
	start, err1 := time.Parse("2006-01-02", o.Start)
	end, err2 := time.Parse("2006-01-02", o.End)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(end.Sub(start).Hours() / 24)
}

// isQuarterly accepts any explicit quarter marker; filers report year-to-date
// frames under Q2/Q3, so duration only decides for unmarked rows.
func isQuarterly(o factObservation) bool {
	if strings.HasPrefix(strings.ToUpper(o.FP), "Q") {
		return true
	}
	d := durationDays(o)
	return d >= 70 && d <= 100
}

func isAnnual(o factObservation) bool {
	if strings.EqualFold(o.FP, "FY") {
		return true
	}
	return durationDays(o) > 300
}

func sortByEndDesc(obs []factObservation) []factObservation {
	out := append([]factObservation(nil), obs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].End > out[j].End })
	return out
}

func dedupeByEnd(obs []factObservation) []factObservation {
	seen := make(map[string]struct{}, len(obs))
	out := obs[:0:0]
	for _, o := range obs {
		if _, ok := seen[o.End]; ok {
			continue
		}
		seen[o.End] = struct{}{}
		out = append(out, o)
	}
	return out
}

// ttmValue prefers the sum of the four most recent quarters, then the latest
// annual figure, then the sum of whatever quarters exist.
func ttmValue(obs []factObservation) *float64 {
	if len(obs) == 0 {
		return nil
	}

	var quarters, annuals []factObservation
	for _, o := range obs {
		switch {
		case isQuarterly(o):
			quarters = append(quarters, o)
		case isAnnual(o):
			annuals = append(annuals, o)
		}
	}
	quarters = dedupeByEnd(sortByEndDesc(quarters))

	if len(quarters) >= 4 {
		sum := 0.0
		for _, q := range quarters[:4] {
			sum += q.Val
		}
		return &sum
	}
	if len(annuals) > 0 {
		latest := sortByEndDesc(annuals)[0]
		v := latest.Val
		return &v
	}
	if len(quarters) > 0 {
		sum := 0.0
		for _, q := range quarters {
			sum += q.Val
		}
		return &sum
	}
	return nil
}

// latestInstant returns the most recent point-in-time observation.
func latestInstant(obs []factObservation) *float64 {
	instants := obs[:0:0]
	for _, o := range obs {
		if o.Start == "" || o.Start == o.End {
			instants = append(instants, o)
		}
	}
	if len(instants) == 0 {
		instants = obs
	}
	if len(instants) == 0 {
		return nil
	}
	v := sortByEndDesc(instants)[0].Val
	return &v
}

// latestShares prefers the newest quarterly observation, falling back to the
// newest dated one of any duration.
func latestShares(obs []factObservation) *float64 {
	if len(obs) == 0 {
		return nil
	}
	var quarterly []factObservation
	for _, o := range obs {
		if o.Start == "" || isQuarterly(o) {
			quarterly = append(quarterly, o)
		}
	}
	pick := quarterly
	if len(pick) == 0 {
		pick = obs
	}
	v := sortByEndDesc(pick)[0].Val
	return &v
}
