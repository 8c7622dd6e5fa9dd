package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type AlphaVantageProvider struct {
	client  *Client
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewAlphaVantageProvider(client *Client, apiKey string, tracer trace.Tracer) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		client:  client,
		baseURL: "https://www.alphavantage.co",
		apiKey:  strings.TrimSpace(apiKey),
		tracer:  tracer,
	}
}

func (p *AlphaVantageProvider) DailyQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	_, span := p.tracer.Start(ctx, "alphavantage.daily-quote")
	defer span.End()

	if p.apiKey == "" {
		return domain.QuoteSnapshot{}, ConfigError("alpha_vantage", "api key not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	u := fmt.Sprintf("%s/query?function=TIME_SERIES_DAILY&symbol=%s&apikey=%s",
		p.baseURL, url.QueryEscape(symbol), url.QueryEscape(p.apiKey))

	var payload struct {
		Note        string                       `json:"Note"`
		Information string                       `json:"Information"`
		Series      map[string]map[string]string `json:"Time Series (Daily)"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &payload); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("alpha_vantage %s: %w", symbol, err)
	}
	// The free tier reports quota exhaustion as a 200 with a prose field.
	if payload.Note != "" || payload.Information != "" {
		return domain.QuoteSnapshot{}, &Error{Kind: ErrRateLimited, Message: "alpha_vantage: quota message in payload"}
	}
	if len(payload.Series) < 2 {
		return domain.QuoteSnapshot{}, EmptyError("alpha_vantage: fewer than two daily rows")
	}

	days := make([]string, 0, len(payload.Series))
	for day := range payload.Series {
		days = append(days, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	latest, err1 := strconv.ParseFloat(payload.Series[days[0]]["4. close"], 64)
	previous, err2 := strconv.ParseFloat(payload.Series[days[1]]["4. close"], 64)
	if err1 != nil || err2 != nil || previous == 0 {
		return domain.QuoteSnapshot{}, &Error{Kind: ErrParse, Message: "alpha_vantage: unparseable close"}
	}

	return domain.QuoteSnapshot{
		Day:       days[0],
		Close:     latest,
		ChangePct: changePct(latest, previous),
		Source:    "alpha_vantage",
	}, nil
}
