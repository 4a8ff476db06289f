package processor

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// PhenologyMetrics are the land surface phenology statistics of one
// growing season derived from a vegetation index series. Day-of-year
// fields and value fields that cannot be derived, a series with no
// positive greening slope for instance, come back as NaN.
type PhenologyMetrics struct {
	SOS    float64 `json:"SOS"`
	POS    float64 `json:"POS"`
	EOS    float64 `json:"EOS"`
	VSOS   float64 `json:"vSOS"`
	VPOS   float64 `json:"vPOS"`
	VEOS   float64 `json:"vEOS"`
	Trough float64 `json:"Trough"`
	LOS    float64 `json:"LOS"`
	AOS    float64 `json:"AOS"`
	ROG    float64 `json:"ROG"`
	ROS    float64 `json:"ROS"`
}

// Phenology derives the seasonal metrics from a zonal time series.
// methodSOS selects the start of season among the positive slopes on
// the greening side: "first" takes the value furthest below their
// median, "median" the value closest to it. methodEOS mirrors this on
// the senescing side with "last" and "median".
func Phenology(points []*TimeSeriesPoint, methodSOS, methodEOS string) (*PhenologyMetrics, error) {
	if methodSOS != "first" && methodSOS != "median" {
		return nil, fmt.Errorf("method_sos should be either 'median' or 'first'")
	}
	if methodEOS != "last" && methodEOS != "median" {
		return nil, fmt.Errorf("method_eos should be either 'median' or 'last'")
	}

	var times []time.Time
	var values []float64
	for _, pt := range points {
		if pt.Missing {
			continue
		}
		times = append(times, pt.TimeStamp)
		values = append(values, pt.Mean)
	}
	if len(values) < 3 {
		return nil, fmt.Errorf("phenology needs at least 3 data points, got %d", len(values))
	}

	peakIdx := 0
	troughVal := values[0]
	for i, v := range values {
		if v > values[peakIdx] {
			peakIdx = i
		}
		if v < troughVal {
			troughVal = v
		}
	}
	vpos := values[peakIdx]
	pos := dayOfYear(times[peakIdx])

	deriv := timeDerivative(times, values)

	sosIdx := seasonEdgeIndex(values, deriv, 0, peakIdx, true, methodSOS == "median")
	eosIdx := seasonEdgeIndex(values, deriv, peakIdx+1, len(values), false, methodEOS == "median")

	m := &PhenologyMetrics{
		POS:    pos,
		VPOS:   vpos,
		Trough: troughVal,
		AOS:    vpos - troughVal,
		SOS:    math.NaN(),
		VSOS:   math.NaN(),
		EOS:    math.NaN(),
		VEOS:   math.NaN(),
		LOS:    math.NaN(),
		ROG:    math.NaN(),
		ROS:    math.NaN(),
	}

	if sosIdx >= 0 {
		m.VSOS = values[sosIdx]
		m.SOS = dayOfYear(times[sosIdx])
		if m.POS != m.SOS {
			m.ROG = (m.VPOS - m.VSOS) / (m.POS - m.SOS)
		}
	}
	if eosIdx >= 0 {
		m.VEOS = values[eosIdx]
		m.EOS = dayOfYear(times[eosIdx])
		if m.EOS != m.POS {
			m.ROS = (m.VEOS - m.VPOS) / (m.EOS - m.POS)
		}
	}
	if sosIdx >= 0 && eosIdx >= 0 {
		los := m.EOS - m.SOS
		if los < 0 {
			// season wraps the calendar year
			los = dayOfYear(times[len(times)-1]) + los
		}
		m.LOS = los
	}
	return m, nil
}

func dayOfYear(t time.Time) float64 {
	return float64(t.YearDay())
}

// timeDerivative is the first order slope of the series in value per
// day: central differences on the interior, one sided at the ends.
func timeDerivative(times []time.Time, values []float64) []float64 {
	n := len(values)
	deriv := make([]float64, n)
	days := make([]float64, n)
	for i, t := range times {
		days[i] = float64(t.Unix()) / 86400.0
	}
	for i := 0; i < n; i++ {
		lo, hi := i-1, i+1
		if lo < 0 {
			lo = 0
		}
		if hi > n-1 {
			hi = n - 1
		}
		dt := days[hi] - days[lo]
		if dt == 0 {
			deriv[i] = 0
			continue
		}
		deriv[i] = (values[hi] - values[lo]) / dt
	}
	return deriv
}

// seasonEdgeIndex picks the start or end of season among [from, to).
// On the greening side candidates are points with positive slope, on
// the senescing side points with negative slope. The edge is either
// the candidate furthest below the candidates' median or the one
// closest to it.
func seasonEdgeIndex(values, deriv []float64, from, to int, greening, nearestMedian bool) int {
	var cand []int
	for i := from; i < to; i++ {
		if greening && deriv[i] > 0 {
			cand = append(cand, i)
		}
		if !greening && deriv[i] < 0 {
			cand = append(cand, i)
		}
	}
	if len(cand) == 0 {
		return -1
	}

	candValues := make([]float64, len(cand))
	for i, idx := range cand {
		candValues[i] = values[idx]
	}
	sorted := append([]float64(nil), candValues...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	best := -1
	bestScore := math.Inf(1)
	for i, idx := range cand {
		score := candValues[i] - median
		if nearestMedian {
			score = math.Abs(score)
		}
		if score < bestScore {
			bestScore = score
			best = idx
		}
	}
	return best
}
