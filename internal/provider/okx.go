package provider

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/trace"
)

const okxSwapInstrument = "BTC-USD-SWAP"

type OKXProvider struct {
	client  *Client
	baseURL string
	tracer  trace.Tracer
}

func NewOKXProvider(client *Client, tracer trace.Tracer) *OKXProvider {
	return &OKXProvider{client: client, baseURL: "https://www.okx.com", tracer: tracer}
}

func (p *OKXProvider) FundingRate(ctx context.Context) (float64, error) {
	_, span := p.tracer.Start(ctx, "okx.funding-rate")
	defer span.End()

	u := fmt.Sprintf("%s/api/v5/public/funding-rate?instId=%s", p.baseURL, okxSwapInstrument)
	var payload struct {
		Code string `json:"code"`
		Data []struct {
			FundingRate string `json:"fundingRate"`
		} `json:"data"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &payload); err != nil {
		return 0, fmt.Errorf("okx funding rate: %w", err)
	}
	if payload.Code != "0" || len(payload.Data) == 0 {
		return 0, EmptyError("okx funding rate: empty response")
	}
	v, err := strconv.ParseFloat(payload.Data[0].FundingRate, 64)
	if err != nil {
		return 0, &Error{Kind: ErrParse, Message: "okx: unparseable funding rate"}
	}
	return v, nil
}

// SwapLast returns the last traded price of the perpetual, used to compute
// the basis against the spot price.
func (p *OKXProvider) SwapLast(ctx context.Context) (float64, error) {
	_, span := p.tracer.Start(ctx, "okx.swap-last")
	defer span.End()

	u := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", p.baseURL, okxSwapInstrument)
	var payload struct {
		Code string `json:"code"`
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err := p.client.GetJSON(ctx, u, nil, &payload); err != nil {
		return 0, fmt.Errorf("okx ticker: %w", err)
	}
	if payload.Code != "0" || len(payload.Data) == 0 {
		return 0, EmptyError("okx ticker: empty response")
	}
	v, err := strconv.ParseFloat(payload.Data[0].Last, 64)
	if err != nil || v <= 0 {
		return 0, &Error{Kind: ErrParse, Message: "okx: unparseable last price"}
	}
	return v, nil
}
