package processor

import (
	"math"
	"testing"
	"time"
)

func seasonPoints(base time.Time, stepDays int, values []float64) []*TimeSeriesPoint {
	points := make([]*TimeSeriesPoint, len(values))
	for i, v := range values {
		points[i] = &TimeSeriesPoint{
			TimeStamp: base.AddDate(0, 0, stepDays*i),
			Mean:      v,
			Count:     10,
		}
	}
	return points
}

func checkMetric(test *testing.T, name string, got, want float64) {
	if math.Abs(got-want) > 1e-9 {
		test.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func TestPhenologySeasonalCurve(test *testing.T) {
	// one clean hump, 15 day cadence from day 10 of the year
	base := time.Date(2019, 1, 10, 0, 0, 0, 0, time.UTC)
	values := []float64{0.2, 0.25, 0.3, 0.5, 0.7, 0.8, 0.7, 0.5, 0.3, 0.25, 0.2}
	points := seasonPoints(base, 15, values)

	m, err := Phenology(points, "first", "last")
	if err != nil {
		test.Fatalf("Phenology: %v", err)
	}

	checkMetric(test, "POS", m.POS, 85)
	checkMetric(test, "vPOS", m.VPOS, 0.8)
	checkMetric(test, "SOS", m.SOS, 10)
	checkMetric(test, "vSOS", m.VSOS, 0.2)
	checkMetric(test, "EOS", m.EOS, 160)
	checkMetric(test, "vEOS", m.VEOS, 0.2)
	checkMetric(test, "Trough", m.Trough, 0.2)
	checkMetric(test, "AOS", m.AOS, 0.6)
	checkMetric(test, "LOS", m.LOS, 150)
	checkMetric(test, "ROG", m.ROG, 0.6/75)
	checkMetric(test, "ROS", m.ROS, -0.6/75)
}

func TestPhenologyMedianMethods(test *testing.T) {
	base := time.Date(2019, 1, 10, 0, 0, 0, 0, time.UTC)
	values := []float64{0.2, 0.25, 0.3, 0.5, 0.7, 0.8, 0.7, 0.5, 0.3, 0.25, 0.2}
	points := seasonPoints(base, 15, values)

	m, err := Phenology(points, "median", "median")
	if err != nil {
		test.Fatalf("Phenology: %v", err)
	}

	// the median of the greening side values {0.2, 0.25, 0.3, 0.5, 0.7}
	// is 0.3, at day 40; mirrored on the senescing side at day 130
	checkMetric(test, "SOS", m.SOS, 40)
	checkMetric(test, "vSOS", m.VSOS, 0.3)
	checkMetric(test, "EOS", m.EOS, 130)
	checkMetric(test, "vEOS", m.VEOS, 0.3)
	checkMetric(test, "LOS", m.LOS, 90)
}

func TestPhenologyYearWrap(test *testing.T) {
	dates := []time.Time{
		time.Date(2019, 11, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	values := []float64{0.2, 0.3, 0.5, 0.8, 0.7, 0.5, 0.4, 0.3, 0.25, 0.2}
	points := make([]*TimeSeriesPoint, len(values))
	for i := range values {
		points[i] = &TimeSeriesPoint{TimeStamp: dates[i], Mean: values[i], Count: 10}
	}

	m, err := Phenology(points, "first", "last")
	if err != nil {
		test.Fatalf("Phenology: %v", err)
	}

	// season starts on day 305 of 2019 and ends on day 214 of 2020, so
	// the raw difference wraps negative and is folded back
	checkMetric(test, "SOS", m.SOS, 305)
	checkMetric(test, "EOS", m.EOS, 214)
	checkMetric(test, "LOS", m.LOS, 123)
}

func TestPhenologySkipsMissing(test *testing.T) {
	base := time.Date(2019, 1, 10, 0, 0, 0, 0, time.UTC)
	values := []float64{0.2, 0.25, 0.3, 0.5, 0.7, 0.8, 0.7, 0.5, 0.3, 0.25, 0.2}
	points := seasonPoints(base, 15, values)
	gap := &TimeSeriesPoint{
		TimeStamp: base.AddDate(0, 0, 7),
		Mean:      math.NaN(),
		Missing:   true,
	}
	withGap := append([]*TimeSeriesPoint{points[0], gap}, points[1:]...)

	m, err := Phenology(withGap, "first", "last")
	if err != nil {
		test.Fatalf("Phenology: %v", err)
	}
	checkMetric(test, "POS", m.POS, 85)
	checkMetric(test, "SOS", m.SOS, 10)
}

func TestPhenologyErrors(test *testing.T) {
	base := time.Date(2019, 1, 10, 0, 0, 0, 0, time.UTC)
	points := seasonPoints(base, 15, []float64{0.2, 0.5, 0.8, 0.5, 0.2})

	if _, err := Phenology(points, "earliest", "last"); err == nil {
		test.Errorf("bad method_sos accepted")
	}
	if _, err := Phenology(points, "first", "latest"); err == nil {
		test.Errorf("bad method_eos accepted")
	}
	if _, err := Phenology(points[:2], "first", "last"); err == nil {
		test.Errorf("two point series accepted")
	}
}
