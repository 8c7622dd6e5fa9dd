package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var yahooQuoteEndpoints = []string{
	"https://query1.finance.yahoo.com/v10/finance/quote",
	"https://query1.finance.yahoo.com/v7/finance/quote",
	"https://query2.finance.yahoo.com/v6/finance/quote",
}

// YahooProvider is the unofficial chart/quote API. It is kept at the tail of
// every fallback chain and can be removed entirely through config.
type YahooProvider struct {
	client         *Client
	chartURL       string
	quoteEndpoints []string
	tracer         trace.Tracer
}

func NewYahooProvider(client *Client, tracer trace.Tracer) *YahooProvider {
	return &YahooProvider{
		client:         client,
		chartURL:       "https://query1.finance.yahoo.com/v8/finance/chart",
		quoteEndpoints: yahooQuoteEndpoints,
		tracer:         tracer,
	}
}

func (p *YahooProvider) DailyQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	_, span := p.tracer.Start(ctx, "yahoo.daily-quote")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	u := fmt.Sprintf("%s/%s?interval=1d&range=5d", p.chartURL, url.PathEscape(symbol))

	var payload struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Close []*float64 `json:"close"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := p.client.GetJSON(ctx, u, yahooHeaders(), &payload); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	if payload.Chart.Error != nil {
		return domain.QuoteSnapshot{}, EmptyError("yahoo chart: " + payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return domain.QuoteSnapshot{}, EmptyError("yahoo chart: empty result")
	}

	result := payload.Chart.Result[0]
	closes := result.Indicators.Quote[0].Close

	type point struct {
		ts    int64
		close float64
	}
	var points []point
	for i, c := range closes {
		if c == nil || i >= len(result.Timestamp) {
			continue
		}
		points = append(points, point{ts: result.Timestamp[i], close: *c})
	}
	if len(points) < 2 {
		return domain.QuoteSnapshot{}, EmptyError("yahoo chart: fewer than two closes")
	}

	last := points[len(points)-1]
	prev := points[len(points)-2]
	return domain.QuoteSnapshot{
		Day:       unixDay(last.ts),
		Close:     last.close,
		ChangePct: changePct(last.close, prev.close),
		Source:    "yahoo:" + symbol,
	}, nil
}

// BatchQuotes walks the versioned quote endpoints in order; newer hosts get
// gated behind consent checks first.
func (p *YahooProvider) BatchQuotes(ctx context.Context, symbols []string) (map[string]BatchQuote, error) {
	_, span := p.tracer.Start(ctx, "yahoo.batch-quotes")
	defer span.End()

	if len(symbols) == 0 {
		return map[string]BatchQuote{}, nil
	}
	joined := url.QueryEscape(strings.Join(symbols, ","))

	var failures []string
	for _, endpoint := range p.quoteEndpoints {
		u := fmt.Sprintf("%s?symbols=%s", endpoint, joined)
		var payload struct {
			QuoteResponse struct {
				Result []struct {
					Symbol    string   `json:"symbol"`
					Price     *float64 `json:"regularMarketPrice"`
					ChangePct *float64 `json:"regularMarketChangePercent"`
					MarketCap *float64 `json:"marketCap"`
				} `json:"result"`
			} `json:"quoteResponse"`
		}
		if err := p.client.GetJSON(ctx, u, yahooHeaders(), &payload); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}
		if len(payload.QuoteResponse.Result) == 0 {
			failures = append(failures, endpoint+": empty result")
			continue
		}
		out := make(map[string]BatchQuote, len(payload.QuoteResponse.Result))
		for _, row := range payload.QuoteResponse.Result {
			out[strings.ToUpper(row.Symbol)] = BatchQuote{
				Price:     row.Price,
				ChangePct: row.ChangePct,
				MarketCap: row.MarketCap,
				Source:    "yahoo",
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("yahoo batch: %s", strings.Join(failures, "; "))
}

func yahooHeaders() map[string]string {
	return map[string]string{
		"User-Agent": "Mozilla/5.0 (compatible; morning-dispatch/1.0)",
	}
}
