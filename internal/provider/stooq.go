package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const stooqBaseURL = "https://stooq.com"

// StooqProvider fetches end-of-day quotes from the stooq CSV endpoint.
// No credential required, which makes it the cheapest link in most chains.
type StooqProvider struct {
	client  *Client
	baseURL string
	tracer  trace.Tracer
}

func NewStooqProvider(client *Client, tracer trace.Tracer) *StooqProvider {
	return &StooqProvider{client: client, baseURL: stooqBaseURL, tracer: tracer}
}

// DailyQuote resolves a symbol trying the bare form first, then the ".us"
// suffixed listing for plain US equities.
func (p *StooqProvider) DailyQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	_, span := p.tracer.Start(ctx, "stooq.daily-quote")
	defer span.End()

	var failures []string
	for _, candidate := range stooqCandidates(symbol) {
		snap, err := p.fetchCandidate(ctx, candidate)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", candidate, err))
			continue
		}
		return snap, nil
	}
	return domain.QuoteSnapshot{}, fmt.Errorf("stooq: %s", strings.Join(failures, "; "))
}

func (p *StooqProvider) fetchCandidate(ctx context.Context, candidate string) (domain.QuoteSnapshot, error) {
	url := fmt.Sprintf("%s/q/d/l/?s=%s&i=d", p.baseURL, candidate)
	body, err := p.client.Get(ctx, url, map[string]string{"Accept": "text/csv"})
	if err != nil {
		return domain.QuoteSnapshot{}, err
	}

	rows, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return domain.QuoteSnapshot{}, &Error{Kind: ErrParse, Message: "bad csv", Err: err}
	}
	// Header plus at least two data rows to compute a day-over-day change.
	if len(rows) < 3 {
		return domain.QuoteSnapshot{}, EmptyError("fewer than two daily rows")
	}

	last := rows[len(rows)-1]
	prev := rows[len(rows)-2]
	if len(last) < 5 || len(prev) < 5 {
		return domain.QuoteSnapshot{}, &Error{Kind: ErrParse, Message: "short csv row"}
	}
	closeLast, err1 := strconv.ParseFloat(last[4], 64)
	closePrev, err2 := strconv.ParseFloat(prev[4], 64)
	if err1 != nil || err2 != nil || closePrev == 0 {
		return domain.QuoteSnapshot{}, &Error{Kind: ErrParse, Message: "unparseable close column"}
	}

	return domain.QuoteSnapshot{
		Day:       last[0],
		Close:     closeLast,
		ChangePct: changePct(closeLast, closePrev),
		Source:    "stooq:" + candidate,
	}, nil
}

func stooqCandidates(symbol string) []string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if strings.HasPrefix(s, "^") || strings.Contains(s, ".") {
		return []string{s}
	}
	return []string{s, s + ".us"}
}
