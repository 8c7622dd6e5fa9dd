package provider

import "time"

// BatchQuote is one row of a bulk quote response. Fields are nullable because
// batch endpoints routinely omit caps for ETFs and foreign listings.
type BatchQuote struct {
	Price     *float64
	ChangePct *float64
	MarketCap *float64
	Source    string
}

func changePct(latest, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (latest - previous) / previous * 100
}

func unixDay(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}
