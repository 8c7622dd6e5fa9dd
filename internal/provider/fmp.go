package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	fmpBaseURL       = "https://financialmodelingprep.com"
	fmpBatchSize     = 50
	fmpBatchTries    = 3
	fmpBatchDelay    = 800 * time.Millisecond
	fmpInterChunkGap = 300 * time.Millisecond
)

// FMPProvider covers Financial Modeling Prep: daily quotes, bulk quotes with
// market caps, and the TTM key-metrics endpoint used as the secondary
// fundamentals source. A built-in token bucket spaces calls under the
// per-minute plan quota; the retry client absorbs whatever 429s remain.
type FMPProvider struct {
	client  *Client
	baseURL string
	apiKey  string
	limiter *RateLimiter
	tracer  trace.Tracer
	warmed  bool
}

func NewFMPProvider(client *Client, apiKey string, tracer trace.Tracer) *FMPProvider {
	return &FMPProvider{
		client:  client,
		baseURL: fmpBaseURL,
		apiKey:  strings.TrimSpace(apiKey),
		limiter: NewRateLimiter(10, 6*time.Second, client.Throttle()),
		tracer:  tracer,
	}
}

func (p *FMPProvider) requireKey() error {
	if p.apiKey == "" {
		return ConfigError("financial_modeling_prep", "api key not configured")
	}
	return nil
}

func (p *FMPProvider) DailyQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	_, span := p.tracer.Start(ctx, "fmp.daily-quote")
	defer span.End()

	if err := p.requireKey(); err != nil {
		return domain.QuoteSnapshot{}, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.QuoteSnapshot{}, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	u := fmt.Sprintf("%s/api/v3/historical-price-full/%s?timeseries=2&apikey=%s",
		p.baseURL, url.PathEscape(symbol), url.QueryEscape(p.apiKey))

	var payload struct {
		Historical []struct {
			Date  string  `json:"date"`
			Close float64 `json:"close"`
		} `json:"historical"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &payload); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("fmp historical %s: %w", symbol, err)
	}
	if len(payload.Historical) < 2 {
		return domain.QuoteSnapshot{}, EmptyError("fmp: fewer than two daily rows")
	}

	latest := payload.Historical[0]
	previous := payload.Historical[1]
	if previous.Close == 0 {
		return domain.QuoteSnapshot{}, EmptyError("fmp: zero previous close")
	}
	return domain.QuoteSnapshot{
		Day:       latest.Date,
		Close:     latest.Close,
		ChangePct: changePct(latest.Close, previous.Close),
		Source:    "fmp",
	}, nil
}

type fmpQuoteRow struct {
	Symbol    string   `json:"symbol"`
	Price     *float64 `json:"price"`
	ChangePct *float64 `json:"changesPercentage"`
	MarketCap *float64 `json:"marketCap"`
}

// BatchQuotes fetches price/change/cap for up to 50 symbols per call. The
// stable endpoint is preferred; plans without stable access answer 402/403
// and get routed to the legacy v3 path.
func (p *FMPProvider) BatchQuotes(ctx context.Context, symbols []string) (map[string]BatchQuote, error) {
	ctx, span := p.tracer.Start(ctx, "fmp.batch-quotes")
	defer span.End()
	span.SetAttributes(attribute.Int("symbol_count", len(symbols)))

	if err := p.requireKey(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return map[string]BatchQuote{}, nil
	}
	p.warmup(ctx)

	out := make(map[string]BatchQuote, len(symbols))
	for start := 0; start < len(symbols); start += fmpBatchSize {
		end := start + fmpBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		chunk := symbols[start:end]
		rows, err := p.fetchChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[strings.ToUpper(row.Symbol)] = BatchQuote{
				Price:     row.Price,
				ChangePct: row.ChangePct,
				MarketCap: row.MarketCap,
				Source:    "fmp",
			}
		}
		if end < len(symbols) {
			if err := p.client.Throttle().Sleep(ctx, fmpInterChunkGap); err != nil {
				return out, nil
			}
		}
	}
	return out, nil
}

func (p *FMPProvider) fetchChunk(ctx context.Context, chunk []string) ([]fmpQuoteRow, error) {
	joined := url.QueryEscape(strings.Join(chunk, ","))
	stable := fmt.Sprintf("%s/stable/quote?symbol=%s&apikey=%s", p.baseURL, joined, url.QueryEscape(p.apiKey))
	legacy := fmt.Sprintf("%s/api/v3/quote/%s?apikey=%s", p.baseURL, joined, url.QueryEscape(p.apiKey))

	delay := fmpBatchDelay
	var lastErr error
	for try := 0; try < fmpBatchTries; try++ {
		rows, err := p.fetchQuoteURL(ctx, stable)
		if err != nil {
			switch {
			case isStatus(err, 402, 403):
				rows, err = p.fetchQuoteURL(ctx, legacy)
			case KindOf(err) == ErrRateLimited:
				return nil, fmt.Errorf("fmp batch throttled: %w", err)
			}
		}
		if err == nil && len(rows) > 0 {
			return rows, nil
		}
		if err == nil {
			err = EmptyError("fmp batch: empty response")
		}
		lastErr = err
		if try < fmpBatchTries-1 {
			if serr := p.client.Throttle().Sleep(ctx, delay); serr != nil {
				return nil, serr
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

func (p *FMPProvider) fetchQuoteURL(ctx context.Context, u string) ([]fmpQuoteRow, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rows []fmpQuoteRow
	if err := p.client.GetJSON(ctx, u, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// warmup issues one throwaway GET so the CDN session is established before
// the batched calls start.
func (p *FMPProvider) warmup(ctx context.Context) {
	if p.warmed {
		return
	}
	p.warmed = true
	if p.limiter.Wait(ctx) != nil {
		return
	}
	_, _ = p.client.Get(ctx, p.baseURL, nil)
}

// KeyMetricsTTM extracts trailing-twelve-month fundamentals from the
// key-metrics endpoint, newest filing first. Field names vary across plan
// generations so matching is case-insensitive over a candidate list.
func (p *FMPProvider) KeyMetricsTTM(ctx context.Context, symbol string) (domain.FundamentalsRecord, error) {
	_, span := p.tracer.Start(ctx, "fmp.key-metrics-ttm")
	defer span.End()

	var rec domain.FundamentalsRecord
	if err := p.requireKey(); err != nil {
		return rec, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return rec, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	u := fmt.Sprintf("%s/api/v3/key-metrics-ttm/%s?apikey=%s",
		p.baseURL, url.PathEscape(symbol), url.QueryEscape(p.apiKey))

	var entries []map[string]json.RawMessage
	if err := p.client.GetJSON(ctx, u, nil, &entries); err != nil {
		return rec, fmt.Errorf("fmp key-metrics %s: %w", symbol, err)
	}
	if len(entries) == 0 {
		return rec, EmptyError("fmp key-metrics: empty response")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return fmpEntryDate(entries[i]) > fmpEntryDate(entries[j])
	})
	entry := entries[0]

	rec.RevenueTTM = pickNumber(entry, "revenueTTM")
	rec.NetIncomeTTM = pickNumber(entry, "netIncomeTTM")
	rec.SharesDiluted = pickNumber(entry,
		"weightedAverageSharesDilutedTTM", "weightedAverageShsOutDilTTM", "weightedAverageShsOutTTM")
	rec.EquityLatest = pickNumber(entry,
		"shareholdersEquityTTM", "totalStockholdersEquityTTM")
	rec.Source = "fmp"
	return rec, nil
}

func fmpEntryDate(entry map[string]json.RawMessage) string {
	for k, v := range entry {
		if strings.EqualFold(k, "date") {
			var s string
			if json.Unmarshal(v, &s) == nil {
				return s
			}
		}
	}
	return ""
}

func pickNumber(entry map[string]json.RawMessage, names ...string) *float64 {
	for _, name := range names {
		for k, v := range entry {
			if !strings.EqualFold(k, name) {
				continue
			}
			var f float64
			if json.Unmarshal(v, &f) == nil && f != 0 {
				return &f
			}
		}
	}
	return nil
}

func isStatus(err error, statuses ...int) bool {
	var pe *Error
	if !asProviderError(err, &pe) {
		return false
	}
	for _, s := range statuses {
		if pe.Status == s {
			return true
		}
	}
	return false
}
