package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// Earnings above this market cap (millions USD) get flagged high impact.
const finnhubLargeCapMUSD = 200_000

type FinnhubProvider struct {
	client  *Client
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewFinnhubProvider(client *Client, apiKey string, tracer trace.Tracer) *FinnhubProvider {
	return &FinnhubProvider{
		client:  client,
		baseURL: "https://finnhub.io",
		apiKey:  strings.TrimSpace(apiKey),
		tracer:  tracer,
	}
}

// EarningsCalendar returns earnings dates within [day, day+5d] as events.
func (p *FinnhubProvider) EarningsCalendar(ctx context.Context, day string) ([]domain.Event, error) {
	_, span := p.tracer.Start(ctx, "finnhub.earnings-calendar")
	defer span.End()

	if p.apiKey == "" {
		return nil, ConfigError("finnhub", "api key not configured")
	}
	from, to, err := calendarWindow(day, teCalendarDays)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/api/v1/calendar/earnings?from=%s&to=%s&token=%s",
		p.baseURL, from, to, url.QueryEscape(p.apiKey))

	var payload struct {
		EarningsCalendar []struct {
			Date         string   `json:"date"`
			Symbol       string   `json:"symbol"`
			EPSEstimate  *float64 `json:"epsEstimate"`
			EPSActual    *float64 `json:"epsActual"`
			Hour         string   `json:"hour"`
			MarketCapMln *float64 `json:"marketCapitalization"`
		} `json:"earningsCalendar"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &payload); err != nil {
		return nil, fmt.Errorf("finnhub earnings: %w", err)
	}
	if len(payload.EarningsCalendar) == 0 {
		return nil, EmptyError("finnhub: empty earnings calendar")
	}

	events := make([]domain.Event, 0, len(payload.EarningsCalendar))
	for _, row := range payload.EarningsCalendar {
		if row.Symbol == "" {
			continue
		}
		impact := "medium"
		if row.MarketCapMln != nil && *row.MarketCapMln >= finnhubLargeCapMUSD {
			impact = "high"
		}
		events = append(events, domain.Event{
			Date:   row.Date,
			Title:  fmt.Sprintf("%s earnings%s", row.Symbol, sessionLabel(row.Hour)),
			Impact: impact,
			Source: "finnhub",
			Detail: epsDetail(row.EPSEstimate, row.EPSActual),
		})
	}
	return events, nil
}

func sessionLabel(hour string) string {
	switch strings.ToLower(strings.TrimSpace(hour)) {
	case "amc":
		return " (after close)"
	case "bmo":
		return " (before open)"
	}
	return ""
}

func epsDetail(estimate, actual *float64) string {
	switch {
	case actual != nil && estimate != nil:
		return fmt.Sprintf("EPS %.2f vs est %.2f", *actual, *estimate)
	case estimate != nil:
		return fmt.Sprintf("EPS est %.2f", *estimate)
	}
	return ""
}

func calendarWindow(day string, days int) (string, string, error) {
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return "", "", fmt.Errorf("bad trading day %q: %w", day, err)
	}
	return start.Format("2006-01-02"), start.AddDate(0, 0, days).Format("2006-01-02"), nil
}
