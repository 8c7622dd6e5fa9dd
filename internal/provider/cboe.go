package provider

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"morning-dispatch/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/trace"
)

const cboeDailyStatsURL = "https://www.cboe.com/us/options/market_statistics/daily/"

var cboeRatioPatterns = map[string]*regexp.Regexp{
	"equity":   regexp.MustCompile(`(?i)\bEQUITY\s+PUT/CALL\s+RATIO\s+([0-9]*\.?[0-9]+)`),
	"index":    regexp.MustCompile(`(?i)\bINDEX\s+PUT/CALL\s+RATIO\s+([0-9]*\.?[0-9]+)`),
	"spx_spxw": regexp.MustCompile(`(?i)SPX\s*\+\s*SPXW\s+PUT/CALL\s+RATIO\s+([0-9]*\.?[0-9]+)`),
	"vix":      regexp.MustCompile(`(?i)\bVIX\s+PUT/CALL\s+RATIO\s+([0-9]*\.?[0-9]+)`),
}

// CBOEProvider scrapes the exchange's daily market statistics page. There is
// no public JSON endpoint for the put/call ratios, so this parses the
// rendered tables and falls back to a text sweep of the whole page.
type CBOEProvider struct {
	client  *Client
	pageURL string
	tracer  trace.Tracer
	now     func() time.Time
}

func NewCBOEProvider(client *Client, tracer trace.Tracer) *CBOEProvider {
	return &CBOEProvider{
		client:  client,
		pageURL: cboeDailyStatsURL,
		tracer:  tracer,
		now:     time.Now,
	}
}

func (p *CBOEProvider) DailyPutCall(ctx context.Context) (*domain.PutCallReading, error) {
	_, span := p.tracer.Start(ctx, "cboe.daily-put-call")
	defer span.End()

	body, err := p.client.Get(ctx, p.pageURL, map[string]string{
		"User-Agent": "Mozilla/5.0 (compatible; morning-dispatch/1.0)",
		"Accept":     "text/html",
	})
	if err != nil {
		return nil, fmt.Errorf("cboe daily stats: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrParse, Message: "cboe: bad html", Err: err}
	}

	ratios := make(map[string]float64)

	// Table cells first: label in one cell, ratio in the next.
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		label := strings.ToUpper(collapseSpaces(cells.Eq(0).Text()))
		if !strings.Contains(label, "PUT/CALL RATIO") {
			return
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(cells.Eq(1).Text()), 64)
		if err != nil {
			return
		}
		if key := cboeLabelKey(label); key != "" {
			ratios[key] = value
		}
	})

	// Text sweep catches layouts where label and number share a cell.
	text := collapseSpaces(doc.Find("body").Text())
	for key, pattern := range cboeRatioPatterns {
		if _, ok := ratios[key]; ok {
			continue
		}
		if m := pattern.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				ratios[key] = v
			}
		}
	}

	if _, ok := ratios["equity"]; !ok {
		return nil, EmptyError("cboe: equity put/call ratio not found")
	}

	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		chicago = time.UTC
	}
	now := p.now()
	return &domain.PutCallReading{
		Ratios:       ratios,
		AsOfExchange: now.In(chicago).Format("2006-01-02"),
		AsOfUTC:      now.UTC(),
		Source:       "cboe_daily_market_statistics",
	}, nil
}

func cboeLabelKey(label string) string {
	switch {
	case strings.Contains(label, "SPX"):
		return "spx_spxw"
	case strings.Contains(label, "VIX"):
		return "vix"
	case strings.Contains(label, "EQUITY"):
		return "equity"
	case strings.Contains(label, "INDEX"):
		return "index"
	}
	return ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
