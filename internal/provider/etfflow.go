package provider

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/trace"
)

// The three spot-ETF flow sources, tried in order by the resolver: sosovalue
// (keyed API), coinglass (keyed API, two endpoint generations), farside
// (public HTML table). All return the latest daily net inflow in millions of
// US dollars.

type SosoValueProvider struct {
	client  *Client
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewSosoValueProvider(client *Client, apiKey string, tracer trace.Tracer) *SosoValueProvider {
	return &SosoValueProvider{
		client:  client,
		baseURL: "https://api.sosovalue.xyz",
		apiKey:  strings.TrimSpace(apiKey),
		tracer:  tracer,
	}
}

func (p *SosoValueProvider) NetInflowMUSD(ctx context.Context) (float64, error) {
	_, span := p.tracer.Start(ctx, "sosovalue.net-inflow")
	defer span.End()

	if p.apiKey == "" {
		return 0, ConfigError("sosovalue", "api key not configured")
	}
	u := p.baseURL + "/openapi/v2/etf/currentEtfDataMetrics"
	headers := map[string]string{"x-soso-api-key": p.apiKey}
	payload := map[string]string{"type": "us-btc-spot"}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			TotalNetInflow struct {
				Value *float64 `json:"value"`
			} `json:"totalNetInflow"`
		} `json:"data"`
	}
	if err := p.client.PostJSON(ctx, u, headers, payload, &resp); err != nil {
		return 0, fmt.Errorf("sosovalue: %w", err)
	}
	if resp.Code != 0 || resp.Data.TotalNetInflow.Value == nil {
		return 0, EmptyError("sosovalue: no inflow value")
	}
	return *resp.Data.TotalNetInflow.Value / 1e6, nil
}

type CoinglassProvider struct {
	client *Client
	v4URL  string
	v1URL  string
	secret string
	tracer trace.Tracer
}

func NewCoinglassProvider(client *Client, secret string, tracer trace.Tracer) *CoinglassProvider {
	return &CoinglassProvider{
		client: client,
		v4URL:  "https://open-api-v4.coinglass.com/api/etf/bitcoin/flow-history",
		v1URL:  "https://open-api.coinglass.com/api/index/bitcoin-etf-flow",
		secret: strings.TrimSpace(secret),
		tracer: tracer,
	}
}

func (p *CoinglassProvider) NetInflowMUSD(ctx context.Context) (float64, error) {
	_, span := p.tracer.Start(ctx, "coinglass.net-inflow")
	defer span.End()

	if p.secret == "" {
		return 0, ConfigError("coinglass", "secret not configured")
	}
	headers := map[string]string{"coinglassSecret": p.secret}

	v, err := p.fetchFlow(ctx, p.v4URL, headers)
	if err == nil {
		return v, nil
	}
	v1, err1 := p.fetchFlow(ctx, p.v1URL, headers)
	if err1 == nil {
		return v1, nil
	}
	return 0, fmt.Errorf("coinglass: v4: %v; v1: %v", err, err1)
}

func (p *CoinglassProvider) fetchFlow(ctx context.Context, u string, headers map[string]string) (float64, error) {
	var resp struct {
		Data []struct {
			Timestamp int64    `json:"timestamp"`
			FlowUSD   *float64 `json:"flowUsd"`
			ChangeUSD *float64 `json:"changeUsd"`
		} `json:"data"`
	}
	if err := p.client.GetJSON(ctx, u, headers, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, EmptyError("empty flow history")
	}
	latest := resp.Data[len(resp.Data)-1]
	for _, row := range resp.Data {
		if row.Timestamp > latest.Timestamp {
			latest = row
		}
	}
	switch {
	case latest.FlowUSD != nil:
		return *latest.FlowUSD / 1e6, nil
	case latest.ChangeUSD != nil:
		return *latest.ChangeUSD / 1e6, nil
	}
	return 0, EmptyError("flow row carries no usd value")
}

type FarsideProvider struct {
	client  *Client
	pageURL string
	apiURL  string
	cookies string
	tracer  trace.Tracer
}

func NewFarsideProvider(client *Client, cookies string, tracer trace.Tracer) *FarsideProvider {
	return &FarsideProvider{
		client:  client,
		pageURL: "https://farside.co.uk/btc/",
		apiURL:  "https://farside.co.uk/wp-json/wp/v2/pages?search=bitcoin-etf-flow",
		cookies: strings.TrimSpace(cookies),
		tracer:  tracer,
	}
}

// NetInflowMUSD reads the latest "Total" column of the flow table. The table
// reports values in US$ millions already.
func (p *FarsideProvider) NetInflowMUSD(ctx context.Context) (float64, error) {
	_, span := p.tracer.Start(ctx, "farside.net-inflow")
	defer span.End()

	headers := map[string]string{
		"User-Agent": "Mozilla/5.0 (compatible; morning-dispatch/1.0)",
		"Accept":     "text/html",
	}
	if p.cookies != "" {
		headers["Cookie"] = p.cookies
	}

	body, err := p.client.Get(ctx, p.pageURL, headers)
	if err == nil {
		if v, perr := parseFarsideTable(body); perr == nil {
			return v, nil
		} else {
			err = perr
		}
	}

	// The rendered page sits behind a challenge sometimes; the wp-json API
	// serves the same table inside the page content.
	var pages []struct {
		Content struct {
			Rendered string `json:"rendered"`
		} `json:"content"`
	}
	if jerr := p.client.GetJSON(ctx, p.apiURL, headers, &pages); jerr != nil {
		return 0, fmt.Errorf("farside: page: %v; api: %v", err, jerr)
	}
	for _, page := range pages {
		if v, perr := parseFarsideTable([]byte(page.Content.Rendered)); perr == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("farside: no parseable flow table (page err: %v)", err)
}

func parseFarsideTable(body []byte) (float64, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, &Error{Kind: ErrParse, Message: "farside: bad html", Err: err}
	}

	var found bool
	var value float64
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if !strings.Contains(strings.ToLower(table.Text()), "total") {
			return
		}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			last := strings.TrimSpace(cells.Eq(cells.Length() - 1).Text())
			if v, ok := parseFlowNumber(last); ok {
				value = v
				found = true
			}
		})
	})
	if !found {
		return 0, EmptyError("farside: no numeric total row")
	}
	return value, nil
}

func parseFlowNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
