package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

type AlpacaProvider struct {
	client  *Client
	baseURL string
	keyID   string
	secret  string
	tracer  trace.Tracer
}

func NewAlpacaProvider(client *Client, keyID, secret string, tracer trace.Tracer) *AlpacaProvider {
	return &AlpacaProvider{
		client:  client,
		baseURL: "https://data.alpaca.markets",
		keyID:   strings.TrimSpace(keyID),
		secret:  strings.TrimSpace(secret),
		tracer:  tracer,
	}
}

func (p *AlpacaProvider) DailyQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	_, span := p.tracer.Start(ctx, "alpaca.daily-quote")
	defer span.End()

	if p.keyID == "" || p.secret == "" {
		return domain.QuoteSnapshot{}, ConfigError("alpaca", "key id or secret not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	u := fmt.Sprintf("%s/v2/stocks/%s/bars?timeframe=1Day&limit=2&adjustment=raw&sort=desc",
		p.baseURL, url.PathEscape(symbol))

	headers := map[string]string{
		"APCA-API-KEY-ID":     p.keyID,
		"APCA-API-SECRET-KEY": p.secret,
	}
	var payload struct {
		Bars []struct {
			Timestamp string  `json:"t"`
			Close     float64 `json:"c"`
		} `json:"bars"`
	}
	if err := p.client.GetJSON(ctx, u, headers, &payload); err != nil {
		return domain.QuoteSnapshot{}, fmt.Errorf("alpaca %s: %w", symbol, err)
	}
	if len(payload.Bars) < 2 {
		return domain.QuoteSnapshot{}, EmptyError("alpaca: fewer than two daily bars")
	}

	latest := payload.Bars[0]
	previous := payload.Bars[1]
	if previous.Close == 0 {
		return domain.QuoteSnapshot{}, EmptyError("alpaca: zero previous close")
	}
	day := latest.Timestamp
	if len(day) >= 10 {
		day = day[:10]
	}
	return domain.QuoteSnapshot{
		Day:       day,
		Close:     latest.Close,
		ChangePct: changePct(latest.Close, previous.Close),
		Source:    "alpaca",
	}, nil
}
