package fundamentals

import (
	"context"
	"fmt"
	"log"

	"morning-dispatch/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Secondary supplies TTM metrics when the filings-based record is missing
// fields. Only incomplete symbols ever reach it.
type Secondary interface {
	KeyMetricsTTM(ctx context.Context, symbol string) (domain.FundamentalsRecord, error)
}

// Merger resolves fundamentals per symbol: regulator filings first, a
// commercial key-metrics feed as gap filler. Filing values always win on a
// field-by-field basis.
type Merger struct {
	edgar     *EdgarClient
	secondary Secondary
	tracer    trace.Tracer
}

func NewMerger(edgar *EdgarClient, secondary Secondary, tracer trace.Tracer) *Merger {
	return &Merger{edgar: edgar, secondary: secondary, tracer: tracer}
}

// FetchResult carries the per-symbol records plus the health signals the run
// report needs.
type FetchResult struct {
	Records     map[string]domain.FundamentalsRecord
	PrimaryHits int
	Failures    []string
}

// FetchAll resolves fundamentals for every symbol. A symbol without a filing
// identifier is recorded as a failure message, never a hard error; the batch
// is healthy as long as one symbol produced at least one primary field.
func (m *Merger) FetchAll(ctx context.Context, symbols []string) FetchResult {
	ctx, span := m.tracer.Start(ctx, "fundamentals.fetch-all")
	defer span.End()
	span.SetAttributes(attribute.Int("symbols", len(symbols)))

	res := FetchResult{Records: make(map[string]domain.FundamentalsRecord, len(symbols))}
	for _, symbol := range symbols {
		rec, err := m.edgar.Fundamentals(ctx, symbol)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("%s: %v", symbol, err))
			rec = domain.FundamentalsRecord{}
		} else if hasPrimaryField(rec) {
			res.PrimaryHits++
		}

		if incomplete(rec) && m.secondary != nil {
			sec, err := m.secondary.KeyMetricsTTM(ctx, symbol)
			if err != nil {
				log.Printf("Warning: secondary fundamentals for %s failed: %v", symbol, err)
			} else {
				mergeRecord(&rec, sec)
			}
		}
		res.Records[symbol] = rec
	}
	return res
}

func nilOrZero(v *float64) bool {
	return v == nil || *v == 0
}

func hasPrimaryField(rec domain.FundamentalsRecord) bool {
	return !nilOrZero(rec.RevenueTTM) || !nilOrZero(rec.NetIncomeTTM) ||
		!nilOrZero(rec.SharesDiluted) || !nilOrZero(rec.EquityLatest)
}

func incomplete(rec domain.FundamentalsRecord) bool {
	return nilOrZero(rec.RevenueTTM) || nilOrZero(rec.NetIncomeTTM) ||
		nilOrZero(rec.SharesDiluted) || nilOrZero(rec.EquityLatest)
}

// mergeRecord fills only the fields the primary record left empty.
func mergeRecord(primary *domain.FundamentalsRecord, secondary domain.FundamentalsRecord) {
	filled := false
	fill := func(dst **float64, src *float64) {
		if nilOrZero(*dst) && !nilOrZero(src) {
			*dst = src
			filled = true
		}
	}
	fill(&primary.RevenueTTM, secondary.RevenueTTM)
	fill(&primary.NetIncomeTTM, secondary.NetIncomeTTM)
	fill(&primary.SharesDiluted, secondary.SharesDiluted)
	fill(&primary.EquityLatest, secondary.EquityLatest)

	if !filled {
		return
	}
	if primary.Source == "" {
		primary.Source = secondary.Source
	} else if secondary.Source != "" && primary.Source != secondary.Source {
		primary.Source = primary.Source + "+" + secondary.Source
	}
}
