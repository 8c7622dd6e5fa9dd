package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type TwelveDataProvider struct {
	client  *Client
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewTwelveDataProvider(client *Client, apiKey string, tracer trace.Tracer) *TwelveDataProvider {
	return &TwelveDataProvider{
		client:  client,
		baseURL: "https://api.twelvedata.com",
		apiKey:  strings.TrimSpace(apiKey),
		tracer:  tracer,
	}
}

func (p *TwelveDataProvider) DailyQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	_, span := p.tracer.Start(ctx, "twelvedata.daily-quote")
	defer span.End()

	if p.apiKey == "" {
		return domain.QuoteSnapshot{}, ConfigError("twelve_data", "api key not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	u := fmt.Sprintf("%s/time_series?symbol=%s&interval=1day&outputsize=2&apikey=%s",
		p.baseURL, url.QueryEscape(symbol), url.QueryEscape(p.apiKey))

	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Values  []struct {
			Datetime string `json:"datetime"`
			Close    string `json:"close"`
		} `json:"values"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &payload); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("twelve_data %s: %w", symbol, err)
	}
	if payload.Status == "error" {
		return domain.QuoteSnapshot{}, EmptyError("twelve_data: " + payload.Message)
	}
	if len(payload.Values) < 2 {
		return domain.QuoteSnapshot{}, EmptyError("twelve_data: fewer than two daily rows")
	}

	latest, err1 := strconv.ParseFloat(payload.Values[0].Close, 64)
	previous, err2 := strconv.ParseFloat(payload.Values[1].Close, 64)
	if err1 != nil || err2 != nil || previous == 0 {
		return domain.QuoteSnapshot{}, &Error{Kind: ErrParse, Message: "twelve_data: unparseable close"}
	}
	day := strings.Fields(payload.Values[0].Datetime)
	if len(day) == 0 {
		return domain.QuoteSnapshot{}, &Error{Kind: ErrParse, Message: "twelve_data: missing datetime"}
	}

	return domain.QuoteSnapshot{
		Day:       day[0],
		Close:     latest,
		ChangePct: changePct(latest, previous),
		Source:    "twelve_data",
	}, nil
}
