package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

func noopTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func TestResolveFirstSuccessWins(t *testing.T) {
	invoked := []string{}
	candidates := []Candidate[int]{
		{Name: "a", Fetch: func(ctx context.Context) (int, error) {
			invoked = append(invoked, "a")
			return 0, errors.New("boom")
		}},
		{Name: "b", Fetch: func(ctx context.Context) (int, error) {
			invoked = append(invoked, "b")
			return 42, nil
		}},
		{Name: "c", Fetch: func(ctx context.Context) (int, error) {
			invoked = append(invoked, "c")
			return 7, nil
		}},
	}

	v, winner, err := Resolve(context.Background(), "answer", candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || winner != "b" {
		t.Fatalf("v=%d winner=%q", v, winner)
	}
	if len(invoked) != 2 {
		t.Fatalf("later candidates must not be invoked after success: %v", invoked)
	}
}

func TestResolveAggregatesAllFailures(t *testing.T) {
	candidates := []Candidate[int]{
		{Name: "stooq", Fetch: func(ctx context.Context) (int, error) { return 0, errors.New("no data") }},
		{Name: "fmp", Fetch: func(ctx context.Context) (int, error) { return 0, errors.New("402 payment") }},
	}

	_, _, err := Resolve(context.Background(), "quote ZZZ", candidates)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, frag := range []string{"quote ZZZ", "stooq: no data", "fmp: 402 payment", "; "} {
		if !strings.Contains(msg, frag) {
			t.Fatalf("error %q missing fragment %q", msg, frag)
		}
	}
}

func TestResolveNoCandidates(t *testing.T) {
	_, _, err := Resolve[int](context.Background(), "quote X", nil)
	if err == nil || !strings.Contains(err.Error(), "no providers") {
		t.Fatalf("expected no-providers error, got %v", err)
	}
}

func staticQuote(source string) QuoteFunc {
	return func(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
		return domain.QuoteSnapshot{Day: "2026-08-27", Close: 1, Source: source + ":" + symbol}, nil
	}
}

func failingQuote(msg string) QuoteFunc {
	return func(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
		return domain.QuoteSnapshot{}, errors.New(msg)
	}
}

func allProviders() map[string]QuoteFunc {
	return map[string]QuoteFunc{
		ProviderStooq:        staticQuote("stooq"),
		ProviderFMP:          staticQuote("fmp"),
		ProviderTwelveData:   staticQuote("twelve_data"),
		ProviderAlphaVantage: staticQuote("alpha_vantage"),
		ProviderAlpaca:       staticQuote("alpaca"),
		ProviderYahoo:        staticQuote("yahoo"),
	}
}

func TestOrderForDefaults(t *testing.T) {
	r := NewRouter(allProviders(), Options{}, noopTracer())

	index := r.OrderFor(ClassIndex)
	if index[0] != ProviderStooq || len(index) != 4 {
		t.Fatalf("index order = %v", index)
	}
	equity := r.OrderFor(ClassEquity)
	if equity[0] != ProviderFMP || len(equity) != 5 {
		t.Fatalf("equity order = %v", equity)
	}
	for _, name := range append(index, equity...) {
		if name == ProviderYahoo {
			t.Fatal("yahoo must not appear without the fallback flag")
		}
	}
}

func TestOrderForOverrideAndUnknownNames(t *testing.T) {
	r := NewRouter(allProviders(), Options{
		Override: []string{"twelve_data", "mystery", "stooq"},
	}, noopTracer())

	got := r.OrderFor(ClassEquity)
	want := []string{ProviderTwelveData, ProviderStooq}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestYahooGating(t *testing.T) {
	r := NewRouter(allProviders(), Options{YahooFallback: true}, noopTracer())
	order := r.OrderFor(ClassIndex)
	if order[len(order)-1] != ProviderYahoo {
		t.Fatalf("yahoo should be appended last when enabled: %v", order)
	}

	r = NewRouter(allProviders(), Options{YahooFallback: true, DisableYahoo: true}, noopTracer())
	for _, name := range r.OrderFor(ClassIndex) {
		if name == ProviderYahoo {
			t.Fatal("disable flag must remove yahoo from every ordering")
		}
	}
}

func TestIndexQuoteFallsThrough(t *testing.T) {
	providers := allProviders()
	providers[ProviderStooq] = failingQuote("csv malformed")
	r := NewRouter(providers, Options{}, noopTracer())

	snap, err := r.IndexQuote(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Source != "fmp:SPY" {
		t.Fatalf("expected second provider to win, got %q", snap.Source)
	}
}

func TestPriceOnlyPreferStooq(t *testing.T) {
	providers := allProviders()
	r := NewRouter(providers, Options{PreferStooq: true, YahooFallback: true}, noopTracer())

	snap, err := r.PriceOnly(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(snap.Source, "stooq") {
		t.Fatalf("prefer-stooq should put stooq first, got %q", snap.Source)
	}
}
