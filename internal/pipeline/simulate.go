package pipeline

import (
	"time"

	"morning-dispatch/internal/domain"
)

// daySeed derives a small deterministic seed from the day key so simulated
// numbers are stable within a day and vary across days.
func daySeed(day string) int {
	sum := 0
	for _, b := range []byte(day) {
		sum += int(b)
	}
	return sum % 11
}

// simulatedMarket produces a clearly-flagged placeholder market block when
// every live index source failed. Downstream consumers can still render.
func simulatedMarket(day string) domain.MarketBlock {
	seed := daySeed(day)
	spx := float64(5600 + seed*13)
	ndx := float64(20100 + seed*21)
	return domain.MarketBlock{
		Date: day,
		Indexes: map[string]domain.QuoteSnapshot{
			"SPX": {Day: day, Close: spx, ChangePct: float64(seed%5-2) * 0.3, Source: "simulated"},
			"NDX": {Day: day, Close: ndx, ChangePct: float64(seed%7-3) * 0.4, Source: "simulated"},
		},
		Sectors: map[string]domain.SectorPerformance{
			"AI":        {Performance: float64(seed%5-2) * 0.5, Source: "simulated"},
			"Defensive": {Performance: float64(seed%3-1) * 0.2, Source: "simulated"},
		},
		Simulated: true,
	}
}

// simulatedCrypto fills the BTC block when the live chain could not produce a
// complete one.
func simulatedCrypto(day string) domain.CryptoBlock {
	seed := daySeed(day)
	return domain.CryptoBlock{
		SpotUSD:          domain.Float(float64(60000 + seed*450)),
		FundingRate:      domain.Float(0.01 + float64(seed)*0.001),
		Basis:            domain.Float(0.02 - float64(seed)*0.0015),
		ETFNetInflowMUSD: domain.Float(float64(seed-5) * 12.5),
		Sources:          map[string]string{"all": "simulated"},
		Simulated:        true,
	}
}

// simulatedEvents keeps the events artifact non-empty when the calendar
// providers are all down.
func simulatedEvents(day string, now func() time.Time) []domain.Event {
	later := now().UTC().AddDate(0, 0, 2).Format(tradingDayLayout)
	return []domain.Event{
		{Date: day, Title: "FOMC minutes release", Impact: "high", Source: "simulated"},
		{Date: later, Title: "Large-cap tech earnings", Impact: "medium", Source: "simulated"},
	}
}
