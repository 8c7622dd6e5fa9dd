package pipeline

import "time"

const tradingDayLayout = "2006-01-02"

// TradingDay resolves the day key for this run: the override verbatim when
// set, otherwise today in US market time walked back to the last weekday.
func TradingDay(override string, now func() time.Time) string {
	if override != "" {
		return override
	}
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		loc = time.UTC
	}
	t := now().In(loc)
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format(tradingDayLayout)
}
