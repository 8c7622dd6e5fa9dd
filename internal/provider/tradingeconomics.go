package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	teCalendarDays = 5
	teMaxEvents    = 8
)

// TradingEconomicsProvider fetches the US macro calendar. The public "guest"
// credential works with tight quotas, so a missing key degrades rather than
// fails outright.
type TradingEconomicsProvider struct {
	client     *Client
	baseURL    string
	credential string
	tracer     trace.Tracer
}

func NewTradingEconomicsProvider(client *Client, credential string, tracer trace.Tracer) *TradingEconomicsProvider {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		credential = "guest:guest"
	}
	return &TradingEconomicsProvider{
		client:     client,
		baseURL:    "https://api.tradingeconomics.com",
		credential: credential,
		tracer:     tracer,
	}
}

// Calendar returns upcoming US macro events inside [day, day+5d], highest
// importance first, capped at 8.
func (p *TradingEconomicsProvider) Calendar(ctx context.Context, day string) ([]domain.Event, error) {
	_, span := p.tracer.Start(ctx, "tradingeconomics.calendar")
	defer span.End()

	from, to, err := calendarWindow(day, teCalendarDays)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/calendar/country/united%%20states?c=%s&d1=%s&d2=%s&f=json",
		p.baseURL, url.QueryEscape(p.credential), from, to)

	var rows []struct {
		Date       string `json:"Date"`
		Event      string `json:"Event"`
		Importance int    `json:"Importance"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &rows); err != nil {
		return nil, fmt.Errorf("trading economics calendar: %w", err)
	}
	if len(rows) == 0 {
		return nil, EmptyError("trading economics: empty calendar")
	}

	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		title := collapseSpaces(row.Event)
		if title == "" {
			continue
		}
		date := row.Date
		if len(date) >= 10 {
			date = date[:10]
		}
		events = append(events, domain.Event{
			Date:   date,
			Title:  title,
			Impact: teImportance(row.Importance),
			Source: "trading_economics",
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return domain.ImpactRank(events[i].Impact) < domain.ImpactRank(events[j].Impact)
	})
	if len(events) > teMaxEvents {
		events = events[:teMaxEvents]
	}
	return events, nil
}

func teImportance(v int) string {
	switch v {
	case 3:
		return "high"
	case 2:
		return "medium"
	default:
		return "low"
	}
}
