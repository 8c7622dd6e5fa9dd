package provider

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"morning-dispatch/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/trace"
)

const aaiiSurveyURL = "https://www.aaii.com/sentimentsurvey/sent_results"

// AAIIProvider scrapes the weekly investor sentiment survey results table.
type AAIIProvider struct {
	client  *Client
	pageURL string
	tracer  trace.Tracer
}

func NewAAIIProvider(client *Client, tracer trace.Tracer) *AAIIProvider {
	return &AAIIProvider{client: client, pageURL: aaiiSurveyURL, tracer: tracer}
}

func (p *AAIIProvider) Survey(ctx context.Context) (*domain.SurveyReading, error) {
	_, span := p.tracer.Start(ctx, "aaii.survey")
	defer span.End()

	body, err := p.client.Get(ctx, p.pageURL, map[string]string{
		"User-Agent": "Mozilla/5.0 (compatible; morning-dispatch/1.0)",
		"Accept":     "text/html",
	})
	if err != nil {
		return nil, fmt.Errorf("aaii survey: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrParse, Message: "aaii: bad html", Err: err}
	}

	var reading *domain.SurveyReading
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		text := strings.ToLower(table.Text())
		if !strings.Contains(text, "bullish") || !strings.Contains(text, "bearish") {
			return true
		}
		table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			var week string
			var percents []float64
			row.Find("td, th").Each(func(i int, cell *goquery.Selection) {
				cellText := strings.TrimSpace(cell.Text())
				if i == 0 {
					week = cellText
				}
				if v, ok := parsePercent(cellText); ok {
					percents = append(percents, v)
				}
			})
			if len(percents) < 3 {
				return true
			}
			reading = &domain.SurveyReading{
				BullishPct: percents[0],
				NeutralPct: percents[1],
				BearishPct: percents[2],
				Spread:     percents[0] - percents[2],
				Week:       week,
				Source:     "aaii_sentiment_survey",
			}
			return false
		})
		return reading == nil
	})

	if reading == nil {
		return nil, EmptyError("aaii: results table not found")
	}
	return reading, nil
}

func parsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, false
	}
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
