package resolver

import (
	"context"
	"log"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Provider names recognized in quote orderings.
const (
	ProviderStooq        = "stooq"
	ProviderFMP          = "financial_modeling_prep"
	ProviderTwelveData   = "twelve_data"
	ProviderAlphaVantage = "alpha_vantage"
	ProviderAlpaca       = "alpaca"
	ProviderYahoo        = "yahoo"
)

// Index quotes favor the free CSV source; single equities favor the richer
// commercial feeds. Yahoo never appears in a default order, it is appended
// last only when explicitly enabled.
var (
	defaultIndexOrder  = []string{ProviderStooq, ProviderFMP, ProviderTwelveData, ProviderAlphaVantage}
	defaultEquityOrder = []string{ProviderFMP, ProviderTwelveData, ProviderStooq, ProviderAlpaca, ProviderAlphaVantage}
	priceOnlyOrder     = []string{ProviderStooq, ProviderAlpaca, ProviderYahoo}
)

type QuoteFunc func(ctx context.Context, symbol string) (domain.QuoteSnapshot, error)

type Class int

const (
	ClassIndex Class = iota
	ClassEquity
)

// Options steer ordering without code change: a global override list, per
// class file-config orders and the yahoo gate flags.
type Options struct {
	Override      []string
	IndexOrder    []string
	EquityOrder   []string
	DisableYahoo  bool
	YahooFallback bool
	PreferStooq   bool
}

// Router resolves daily quotes through configurable fallback chains. Exactly
// one provider contributes to any resolved quote; blending across providers
// never happens here.
type Router struct {
	providers map[string]QuoteFunc
	opts      Options
	tracer    trace.Tracer
}

func NewRouter(providers map[string]QuoteFunc, opts Options, tracer trace.Tracer) *Router {
	return &Router{providers: providers, opts: opts, tracer: tracer}
}

func (r *Router) IndexQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	return r.resolveQuote(ctx, ClassIndex, symbol)
}

func (r *Router) EquityQuote(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	return r.resolveQuote(ctx, ClassEquity, symbol)
}

// PriceOnly is the cheap per-symbol fallback used when a batch quote call
// came back empty for some symbols.
func (r *Router) PriceOnly(ctx context.Context, symbol string) (domain.QuoteSnapshot, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.price-only")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	order := append([]string(nil), priceOnlyOrder...)
	if r.opts.PreferStooq {
		order = promote(order, ProviderStooq)
	}
	snap, _, err := Resolve(ctx, "price "+symbol, r.candidates(order, symbol))
	return snap, err
}

func (r *Router) resolveQuote(ctx context.Context, class Class, symbol string) (domain.QuoteSnapshot, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.quote")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	snap, winner, err := Resolve(ctx, "quote "+symbol, r.candidates(r.OrderFor(class), symbol))
	if err != nil {
		span.RecordError(err)
		return domain.QuoteSnapshot{}, err
	}
	span.SetAttributes(attribute.String("winner", winner))
	if snap.Source == "" {
		snap.Source = winner
	}
	return snap, nil
}

// OrderFor computes the effective provider order for a quantity class:
// global override beats file config beats the class default, unknown names
// are dropped with a warning, and yahoo is gated onto the tail.
func (r *Router) OrderFor(class Class) []string {
	base := r.opts.Override
	if len(base) == 0 {
		switch class {
		case ClassIndex:
			base = r.opts.IndexOrder
			if len(base) == 0 {
				base = defaultIndexOrder
			}
		default:
			base = r.opts.EquityOrder
			if len(base) == 0 {
				base = defaultEquityOrder
			}
		}
	}

	order := make([]string, 0, len(base)+1)
	for _, name := range base {
		if name == ProviderYahoo {
			continue
		}
		if _, ok := r.providers[name]; !ok {
			log.Printf("Warning: unknown quote provider %q in configured order, skipping", name)
			continue
		}
		order = append(order, name)
	}
	if r.yahooAllowed() {
		order = append(order, ProviderYahoo)
	}
	return order
}

func (r *Router) yahooAllowed() bool {
	if r.opts.DisableYahoo {
		return false
	}
	if _, ok := r.providers[ProviderYahoo]; !ok {
		return false
	}
	return r.opts.YahooFallback
}

func (r *Router) candidates(order []string, symbol string) []Candidate[domain.QuoteSnapshot] {
	out := make([]Candidate[domain.QuoteSnapshot], 0, len(order))
	for _, name := range order {
		fetch, ok := r.providers[name]
		if !ok {
			continue
		}
		out = append(out, Candidate[domain.QuoteSnapshot]{
			Name: name,
			Fetch: func(ctx context.Context) (domain.QuoteSnapshot, error) {
				return fetch(ctx, symbol)
			},
		})
	}
	return out
}

func promote(order []string, name string) []string {
	out := []string{name}
	for _, n := range order {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
