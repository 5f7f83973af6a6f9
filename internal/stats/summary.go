package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a float32 series such as a loss curve or one layer's
// weights.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Last   float64 `json:"last"`
	// Slope is the least-squares trend per sample; negative means the
	// series is falling.
	Slope float64 `json:"slope"`
}

// Summarize ignores non-finite values. An empty series yields the zero
// Summary.
func Summarize(values []float32) Summary {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		xs = append(xs, f)
	}
	if len(xs) == 0 {
		return Summary{}
	}

	s := Summary{
		Count: len(xs),
		Min:   floats.Min(xs),
		Max:   floats.Max(xs),
		Last:  xs[len(xs)-1],
	}
	if len(xs) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
		idx := make([]float64, len(xs))
		floats.Span(idx, 0, float64(len(xs)-1))
		_, s.Slope = stat.LinearRegression(idx, xs, nil, false)
	} else {
		s.Mean = xs[0]
	}

	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	return s
}

// WindowMeans splits values into consecutive windows of size width and
// returns each window's mean; a short tail window is kept.
func WindowMeans(values []float32, width int) []float64 {
	if width <= 0 || len(values) == 0 {
		return nil
	}
	out := make([]float64, 0, (len(values)+width-1)/width)
	window := make([]float64, 0, width)
	for start := 0; start < len(values); start += width {
		end := min(start+width, len(values))
		window = window[:0]
		for _, v := range values[start:end] {
			window = append(window, float64(v))
		}
		out = append(out, stat.Mean(window, nil))
	}
	return out
}
