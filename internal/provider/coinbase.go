package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type CoinbaseProvider struct {
	client  *Client
	baseURL string
	tracer  trace.Tracer
}

func NewCoinbaseProvider(client *Client, tracer trace.Tracer) *CoinbaseProvider {
	return &CoinbaseProvider{client: client, baseURL: "https://api.coinbase.com", tracer: tracer}
}

// SpotPrice returns the current spot price for a pair like "BTC-USD".
func (p *CoinbaseProvider) SpotPrice(ctx context.Context, pair string) (float64, error) {
	_, span := p.tracer.Start(ctx, "coinbase.spot-price")
	defer span.End()

	u := fmt.Sprintf("%s/v2/prices/%s/spot", p.baseURL, strings.ToUpper(strings.TrimSpace(pair)))
	var payload struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &payload); err != nil {
		return 0, fmt.Errorf("coinbase spot %s: %w", pair, err)
	}
	v, err := strconv.ParseFloat(payload.Data.Amount, 64)
	if err != nil || v <= 0 {
		return 0, &Error{Kind: ErrParse, Message: "coinbase: unparseable amount"}
	}
	return v, nil
}
