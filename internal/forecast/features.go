package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
)

// numFeatures is the width of one feature row: elapsed hours, four cyclical
// time components, and the four concurrent metric values.
const numFeatures = 9

// extractTimeFeatures encodes a timestamp's position in the daily and weekly
// cycles as [sin(hour), cos(hour), sin(day), cos(day)]. Hour-of-day and
// day-of-week are fractional, so 23:59 and 00:01 map to nearly identical
// vectors and a linear model can represent periodic patterns without a
// discontinuity at wrap-around.
func extractTimeFeatures(t time.Time) [4]float64 {
	t = t.UTC()
	hour := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
	day := float64(t.Weekday()) + hour/24

	hourAngle := 2 * math.Pi * hour / 24
	dayAngle := 2 * math.Pi * day / 7

	return [4]float64{
		math.Sin(hourAngle),
		math.Cos(hourAngle),
		math.Sin(dayAngle),
		math.Cos(dayAngle),
	}
}

// buildFeatureRow assembles the feature vector for one observation:
// [elapsedHours, sin(hour), cos(hour), sin(day), cos(day),
// temperature, humidity, rainfall, windSpeed].
func buildFeatureRow(r domain.Reading, elapsedHours float64) []float64 {
	tf := extractTimeFeatures(r.Timestamp)
	return []float64{
		elapsedHours,
		tf[0], tf[1], tf[2], tf[3],
		r.Temperature,
		r.Humidity,
		r.Rainfall,
		r.WindSpeed,
	}
}

// finite reports whether v is a usable sample: not NaN, not ±Inf.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// finiteRow reports whether every element of row is finite.
func finiteRow(row []float64) bool {
	for _, v := range row {
		if !finite(v) {
			return false
		}
	}
	return true
}

// detectOutliers flags values outside the Tukey fences Q1−1.5·IQR and
// Q3+1.5·IQR. Quartiles are taken at the 25th/75th index of a sorted copy,
// not interpolated. Fewer than 4 samples yields no flags; quartile
// estimates are not stable below that.
func detectOutliers(values []float64) []bool {
	flags := make([]bool, len(values))
	if len(values) < 4 {
		return flags
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := sorted[len(sorted)/4]
	q3 := sorted[(3*len(sorted))/4]
	iqr := q3 - q1

	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr
	for i, v := range values {
		flags[i] = v < lower || v > upper
	}
	return flags
}

// capOutliers pulls each flagged value halfway back toward the median,
// preserving sample count and temporal ordering. Unflagged values pass
// through untouched.
func capOutliers(values []float64, flags []bool, median float64) []float64 {
	capped := make([]float64, len(values))
	for i, v := range values {
		if flags[i] {
			capped[i] = median + 0.5*(v-median)
		} else {
			capped[i] = v
		}
	}
	return capped
}

// medianOf returns the middle element of a sorted copy (upper middle for
// even lengths, consistent with the index-based quartiles), or 0 for empty
// input.
func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// stats holds the z-score parameters for one column.
type stats struct {
	mean float64
	std  float64
}

// calculateStats computes mean and population standard deviation over the
// finite values only. The deviation is floored to 1 for a constant column or
// when no finite samples exist, so normalization never divides by zero.
func calculateStats(values []float64) stats {
	var sum float64
	var n int
	for _, v := range values {
		if finite(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return stats{mean: 0, std: 1}
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range values {
		if finite(v) {
			d := v - mean
			sq += d * d
		}
	}
	std := math.Sqrt(sq / float64(n))
	if std <= 0 {
		std = 1
	}
	return stats{mean: mean, std: std}
}

// normalize z-scores v against s.
func normalize(v float64, s stats) float64 {
	return (v - s.mean) / s.std
}
