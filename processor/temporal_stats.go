package processor

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TemporalStatistics are generic change statistics over a zonal time
// series, independent of any seasonal model.
type TemporalStatistics struct {
	MeanChange   float64 `json:"mean_change"`
	MedianChange float64 `json:"median_change"`
	AbsChange    float64 `json:"abs_change"`
	CentralDiff  float64 `json:"central_diff"`
	NumPeaks     int     `json:"num_peaks"`
}

// peakWindow is the number of neighbors on each side a point must
// dominate to count as a peak.
const peakWindow = 10

func ComputeTemporalStatistics(points []*TimeSeriesPoint) (*TemporalStatistics, error) {
	var values []float64
	for _, pt := range points {
		if pt.Missing {
			continue
		}
		values = append(values, pt.Mean)
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("temporal statistics need at least 2 data points, got %d", len(values))
	}

	diffs := make([]float64, len(values)-1)
	absDiffs := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs[i-1] = values[i] - values[i-1]
		absDiffs[i-1] = math.Abs(values[i] - values[i-1])
	}
	sortedDiffs := append([]float64(nil), diffs...)
	sort.Float64s(sortedDiffs)

	var central []float64
	for i := 1; i < len(values)-1; i++ {
		central = append(central, (values[i+1]-values[i-1])/2)
	}
	centralDiff := math.NaN()
	if len(central) > 0 {
		centralDiff = stat.Mean(central, nil)
	}

	return &TemporalStatistics{
		MeanChange:   stat.Mean(diffs, nil),
		MedianChange: stat.Quantile(0.5, stat.Empirical, sortedDiffs, nil),
		AbsChange:    stat.Mean(absDiffs, nil),
		CentralDiff:  centralDiff,
		NumPeaks:     numPeaks(values, peakWindow),
	}, nil
}

// numPeaks counts points strictly greater than their n neighbors on
// both sides.
func numPeaks(values []float64, n int) int {
	count := 0
	for i := n; i < len(values)-n; i++ {
		peak := true
		for k := 1; k <= n && peak; k++ {
			if values[i] <= values[i-k] || values[i] <= values[i+k] {
				peak = false
			}
		}
		if peak {
			count++
		}
	}
	return count
}
