package processor

import (
	"math"
	"testing"
	"time"
)

func TestComputeTemporalStatistics(test *testing.T) {
	base := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	points := seasonPoints(base, 10, []float64{1, 2, 4, 3, 5})

	stats, err := ComputeTemporalStatistics(points)
	if err != nil {
		test.Fatalf("ComputeTemporalStatistics: %v", err)
	}

	// diffs are {1, 2, -1, 2}
	checkMetric(test, "mean_change", stats.MeanChange, 1)
	checkMetric(test, "median_change", stats.MedianChange, 1)
	checkMetric(test, "abs_change", stats.AbsChange, 1.5)
	checkMetric(test, "central_diff", stats.CentralDiff, 2.5/3)
	if stats.NumPeaks != 0 {
		test.Errorf("num_peaks: got %d, want 0 for a series shorter than the peak window", stats.NumPeaks)
	}
}

func TestComputeTemporalStatisticsSkipsMissing(test *testing.T) {
	base := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	points := seasonPoints(base, 10, []float64{1, 2, 4, 3, 5})
	gap := &TimeSeriesPoint{TimeStamp: base.AddDate(0, 0, 5), Mean: math.NaN(), Missing: true}
	withGap := append([]*TimeSeriesPoint{points[0], gap}, points[1:]...)

	stats, err := ComputeTemporalStatistics(withGap)
	if err != nil {
		test.Fatalf("ComputeTemporalStatistics: %v", err)
	}
	checkMetric(test, "mean_change", stats.MeanChange, 1)
}

func TestComputeTemporalStatisticsTooShort(test *testing.T) {
	base := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := ComputeTemporalStatistics(seasonPoints(base, 10, []float64{1})); err == nil {
		test.Errorf("single point series accepted")
	}
}

func TestNumPeaks(test *testing.T) {
	flat := make([]float64, 25)
	if got := numPeaks(flat, peakWindow); got != 0 {
		test.Errorf("flat series: got %d peaks, want 0", got)
	}

	spiked := make([]float64, 25)
	spiked[12] = 1
	if got := numPeaks(spiked, peakWindow); got != 1 {
		test.Errorf("single spike: got %d peaks, want 1", got)
	}

	plateau := make([]float64, 25)
	plateau[12], plateau[13] = 1, 1
	if got := numPeaks(plateau, peakWindow); got != 0 {
		test.Errorf("plateau: got %d peaks, want 0 (not strictly dominant)", got)
	}
}
