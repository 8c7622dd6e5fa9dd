// Package sentiment turns raw positioning readings into contrarian scores
// against each series' own rolling history.
package sentiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	SeriesPutCallEquity = "put_call_equity"
	SeriesAAIISpread    = "aaii_bull_bear_spread"

	historyFileName = "sentiment_history.json"
)

// Caps keep roughly one year of each cadence: daily put/call, weekly survey.
var seriesCaps = map[string]int{
	SeriesPutCallEquity: 252,
	SeriesAAIISpread:    104,
}

const defaultSeriesCap = 252

// History is the persisted rolling window per series. Values are ordered
// oldest first; appends evict from the front.
type History struct {
	path   string
	Series map[string][]float64
}

// LoadHistory reads the rolling windows from stateDir. A missing or corrupt
// file yields an empty history, never an error: scoring degrades to z=0.
func LoadHistory(stateDir string) *History {
	h := &History{
		path:   filepath.Join(stateDir, historyFileName),
		Series: map[string][]float64{},
	}
	raw, err := os.ReadFile(h.path)
	if err != nil {
		return h
	}
	var series map[string][]float64
	if err := json.Unmarshal(raw, &series); err != nil {
		return h
	}
	h.Series = series
	if h.Series == nil {
		h.Series = map[string][]float64{}
	}
	return h
}

// Append adds today's reading to a series and enforces its cap.
func (h *History) Append(series string, value float64) {
	window := append(h.Series[series], value)
	limit := seriesCaps[series]
	if limit == 0 {
		limit = defaultSeriesCap
	}
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	h.Series[series] = window
}

func (h *History) Window(series string) []float64 {
	return h.Series[series]
}

// Save writes the windows atomically: temp file in the same directory, then
// rename.
func (h *History) Save() error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(h.Series, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(h.path), ".sentiment-*")
	if err != nil {
		return fmt.Errorf("temp history: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close history: %w", err)
	}
	return os.Rename(tmp.Name(), h.path)
}
