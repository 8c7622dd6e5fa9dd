package sentiment

import (
	"math"

	"morning-dispatch/internal/domain"

	"gonum.org/v1/gonum/stat"
)

// LogZScore standardizes value against the window in log space. Ratio series
// are right-skewed; logs symmetrize them. Non-positive values drop out of the
// window, and a window that cannot support a z-score yields 0.
func LogZScore(value float64, window []float64) float64 {
	if value <= 0 {
		return 0
	}
	logs := make([]float64, 0, len(window))
	for _, v := range window {
		if v > 0 {
			logs = append(logs, math.Log(v))
		}
	}
	return zScore(math.Log(value), logs)
}

// RawZScore standardizes value against the window as-is, for series that are
// already symmetric around zero.
func RawZScore(value float64, window []float64) float64 {
	return zScore(value, append([]float64(nil), window...))
}

func zScore(value float64, window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	mean := stat.Mean(window, nil)
	sigma := math.Sqrt(stat.PopVariance(window, nil))
	if sigma == 0 || math.IsNaN(sigma) {
		return 0
	}
	return (value - mean) / sigma
}

// Compress maps an unbounded z-score into (-1, 1) with a soft saturation.
func Compress(z float64) float64 {
	return math.Tanh(z / 2)
}

// Contrarian flips the sign: extreme fear reads as a buying signal and
// extreme greed as a selling one.
func Contrarian(v float64) float64 {
	return -v
}

// DisplayScore maps a compressed signal onto the 0-100 scale.
func DisplayScore(v float64) float64 {
	return clampScore(50 + 50*v)
}

// Composite averages the component signals and maps the mean onto 0-100.
// With no components there is no opinion: the result is nil, never a fake 50.
func Composite(components []domain.SentimentComponent) *float64 {
	if len(components) == 0 {
		return nil
	}
	values := make([]float64, len(components))
	for i, c := range components {
		values[i] = c.Value
	}
	score := clampScore(50 + 50*stat.Mean(values, nil))
	return &score
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ScorePutCall appends today's equity put/call ratio to its window and scores
// it. Appending first means today participates in its own baseline.
func ScorePutCall(h *History, ratio float64) domain.SentimentComponent {
	h.Append(SeriesPutCallEquity, ratio)
	z := LogZScore(ratio, h.Window(SeriesPutCallEquity))
	v := Contrarian(Compress(z))
	return domain.SentimentComponent{
		Name:  SeriesPutCallEquity,
		Value: v,
		Score: DisplayScore(v),
	}
}

// ScoreSurveySpread appends and scores the AAII bull-bear spread. A crowded
// bullish spread is a contrarian negative.
func ScoreSurveySpread(h *History, spread float64) domain.SentimentComponent {
	h.Append(SeriesAAIISpread, spread)
	z := RawZScore(spread, h.Window(SeriesAAIISpread))
	v := Contrarian(Compress(z))
	return domain.SentimentComponent{
		Name:  SeriesAAIISpread,
		Value: v,
		Score: DisplayScore(v),
	}
}
