package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// hourlyReadings builds n hourly readings starting at testStart with metric
// values produced by fn.
func hourlyReadings(n int, fn func(i int) domain.Metrics) []domain.Reading {
	out := make([]domain.Reading, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Reading{
			Timestamp: testStart.Add(time.Duration(i) * time.Hour),
			Metrics:   fn(i),
		})
	}
	return out
}

func TestTrain_FitsLinearTrend(t *testing.T) {
	readings := hourlyReadings(24, func(i int) domain.Metrics {
		return domain.Metrics{
			Temperature: 10 + 2*float64(i),
			Humidity:    60,
			Rainfall:    0,
			WindSpeed:   10,
		}
	})

	m := Train(readings, domain.MetricTemperature)

	require.Equal(t, FitOK, m.Status)
	require.Len(t, m.Coefficients, numFeatures)
	assert.Greater(t, m.RSquared, 0.95)

	// Evaluating one step past the training window should continue the trend.
	next := testStart.Add(24 * time.Hour)
	pred := m.Predict(next, 24, domain.Metrics{Temperature: 58, Humidity: 60, Rainfall: 0, WindSpeed: 10})
	assert.InDelta(t, 58.0, pred, 1.5)
}

func TestTrain_InsufficientData(t *testing.T) {
	t.Run("two readings", func(t *testing.T) {
		readings := hourlyReadings(2, func(i int) domain.Metrics {
			return domain.Metrics{Temperature: 20 + float64(i), Humidity: 60, Rainfall: 0, WindSpeed: 5}
		})

		m := Train(readings, domain.MetricTemperature)

		assert.Equal(t, FitInsufficientData, m.Status)
		assert.Equal(t, 0.0, m.RSquared)
		for i, c := range m.Coefficients {
			assert.Zero(t, c, "coefficient %d", i)
		}
		assert.Equal(t, 21.0, m.Intercept, "intercept must be the last target value")
	})

	t.Run("no readings", func(t *testing.T) {
		m := Train(nil, domain.MetricRainfall)

		assert.Equal(t, FitInsufficientData, m.Status)
		assert.Equal(t, 0.0, m.Intercept)
		assert.Equal(t, 0.0, m.RSquared)
	})

	t.Run("filtering leaves too few rows", func(t *testing.T) {
		temps := []float64{20, math.NaN(), math.NaN(), math.NaN(), 22}
		readings := hourlyReadings(5, func(i int) domain.Metrics {
			return domain.Metrics{Temperature: temps[i], Humidity: 60, Rainfall: 0, WindSpeed: 5}
		})

		m := Train(readings, domain.MetricTemperature)

		assert.Equal(t, FitInsufficientData, m.Status)
		assert.Equal(t, 22.0, m.Intercept, "intercept must be the most recent finite target")
	})
}

func TestTrain_Idempotent(t *testing.T) {
	readings := hourlyReadings(36, func(i int) domain.Metrics {
		return domain.Metrics{
			Temperature: 25 + 4*math.Sin(2*math.Pi*float64(i)/24),
			Humidity:    70 + 8*math.Cos(2*math.Pi*float64(i)/24),
			Rainfall:    float64(i % 5),
			WindSpeed:   10 + float64(i%3),
		}
	})

	m1 := Train(readings, domain.MetricHumidity)
	m2 := Train(readings, domain.MetricHumidity)

	assert.Equal(t, m1, m2, "training holds no hidden random state")
}

func TestTrain_RSquaredStaysInRange(t *testing.T) {
	cases := []struct {
		name     string
		readings []domain.Reading
	}{
		{
			"all identical readings",
			hourlyReadings(10, func(int) domain.Metrics {
				return domain.Metrics{Temperature: 25, Humidity: 60, Rainfall: 0, WindSpeed: 5}
			}),
		},
		{
			"injected NaN targets",
			hourlyReadings(12, func(i int) domain.Metrics {
				temp := 20 + float64(i)
				if i%3 == 0 {
					temp = math.NaN()
				}
				return domain.Metrics{Temperature: temp, Humidity: 60, Rainfall: 0, WindSpeed: 5}
			}),
		},
		{
			"injected infinities in features",
			hourlyReadings(12, func(i int) domain.Metrics {
				wind := 8.0
				if i%4 == 1 {
					wind = math.Inf(1)
				}
				return domain.Metrics{Temperature: 20 + float64(i), Humidity: 60, Rainfall: 0, WindSpeed: wind}
			}),
		},
		{
			"two readings",
			hourlyReadings(2, func(i int) domain.Metrics {
				return domain.Metrics{Temperature: float64(i), Humidity: 60, Rainfall: 0, WindSpeed: 5}
			}),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, key := range domain.MetricKeys {
				m := Train(tc.readings, key)
				assert.GreaterOrEqual(t, m.RSquared, 0.0, "metric %s", key)
				assert.LessOrEqual(t, m.RSquared, 1.0, "metric %s", key)
			}
		})
	}
}

func TestTrain_CapsTargetOutliers(t *testing.T) {
	// Eleven calm rainfall samples around 5mm plus one 500mm gauge spike.
	values := []float64{4.8, 5.1, 5.3, 4.9, 5.0, 5.2, 4.7, 5.4, 5.1, 4.9, 500, 5.0}
	const spikeIdx = 10

	readings := hourlyReadings(len(values), func(i int) domain.Metrics {
		return domain.Metrics{Temperature: 28, Humidity: 70, Rainfall: values[i], WindSpeed: 8}
	})

	flags := detectOutliers(values)
	for i, f := range flags {
		assert.Equal(t, i == spikeIdx, f, "index %d", i)
	}

	m := Train(readings, domain.MetricRainfall)
	require.Equal(t, FitOK, m.Status)
	assert.GreaterOrEqual(t, m.RSquared, 0.0)
	assert.LessOrEqual(t, m.RSquared, 1.0)

	// The training target at the spike was pulled to median + 0.5·(500−median).
	cappedSpike := 5.1 + 0.5*(500-5.1)

	spike := readings[spikeIdx]
	pred := m.Predict(spike.Timestamp, float64(spikeIdx), spike.Metrics)
	assert.Less(t, math.Abs(pred-cappedSpike), math.Abs(pred-500),
		"fit must track the capped target, not the raw spike")

	// Calm samples must not be dragged up toward the spike.
	calm := readings[3]
	calmPred := m.Predict(calm.Timestamp, 3, calm.Metrics)
	assert.Less(t, math.Abs(calmPred-5.0), 25.0)
}

func TestPredict_Fallbacks(t *testing.T) {
	at := testStart.Add(6 * time.Hour)
	okMetrics := domain.Metrics{Temperature: 20, Humidity: 60, Rainfall: 0, WindSpeed: 5}

	full := Model{
		Coefficients: []float64{1, 0, 0, 0, 0, 0.5, 0, 0, 0},
		Intercept:    10,
		Status:       FitOK,
	}

	t.Run("uses all nine features", func(t *testing.T) {
		// 10 + 1·4 + 0.5·20
		assert.InDelta(t, 24.0, full.Predict(at, 4, okMetrics), 1e-9)
	})

	t.Run("NaN elapsed returns intercept", func(t *testing.T) {
		assert.Equal(t, 10.0, full.Predict(at, math.NaN(), okMetrics))
	})

	t.Run("infinite metric returns intercept", func(t *testing.T) {
		bad := okMetrics
		bad.Temperature = math.Inf(1)
		assert.Equal(t, 10.0, full.Predict(at, 4, bad))
	})

	t.Run("legacy five-coefficient model", func(t *testing.T) {
		legacy := Model{Coefficients: []float64{1, 2, 3, 4, 5}, Intercept: 10}
		pred := legacy.Predict(at, 2, domain.Metrics{Temperature: 1, Humidity: 1, Rainfall: 1, WindSpeed: 1})
		// 10 + 1·2 + 2·1 + 3·1 + 4·1 + 5·1
		assert.InDelta(t, 26.0, pred, 1e-9)
	})

	t.Run("undersized coefficient slice returns intercept", func(t *testing.T) {
		stub := Model{Coefficients: []float64{1, 2}, Intercept: 7}
		assert.Equal(t, 7.0, stub.Predict(at, 2, okMetrics))
	})

	t.Run("overflowing arithmetic returns intercept", func(t *testing.T) {
		huge := Model{
			Coefficients: []float64{math.MaxFloat64, 0, 0, 0, 0, math.MaxFloat64, 0, 0, 0},
			Intercept:    7,
		}
		assert.Equal(t, 7.0, huge.Predict(at, 2, okMetrics))
	})
}

func TestSolveLinearSystem(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		a := [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
		b := []float64{1, 2, 3}

		x, ok := solveLinearSystem(a, b)
		require.True(t, ok)
		assert.InDelta(t, 1, x[0], 1e-12)
		assert.InDelta(t, 2, x[1], 1e-12)
		assert.InDelta(t, 3, x[2], 1e-12)
	})

	t.Run("zero leading pivot needs row exchange", func(t *testing.T) {
		a := [][]float64{{0, 1}, {1, 0}}
		b := []float64{2, 3}

		x, ok := solveLinearSystem(a, b)
		require.True(t, ok)
		assert.InDelta(t, 3, x[0], 1e-12)
		assert.InDelta(t, 2, x[1], 1e-12)
	})

	t.Run("well-conditioned 3x3", func(t *testing.T) {
		a := [][]float64{{2, 1, -1}, {-3, -1, 2}, {-2, 1, 2}}
		b := []float64{8, -11, -3}

		x, ok := solveLinearSystem(a, b)
		require.True(t, ok)
		assert.InDelta(t, 2, x[0], 1e-9)
		assert.InDelta(t, 3, x[1], 1e-9)
		assert.InDelta(t, -1, x[2], 1e-9)
	})

	t.Run("singular system reports failure", func(t *testing.T) {
		a := [][]float64{{1, 2}, {2, 4}}
		b := []float64{1, 2}

		_, ok := solveLinearSystem(a, b)
		assert.False(t, ok)
	})
}

func TestLastValidTarget(t *testing.T) {
	readings := []domain.Reading{
		{Timestamp: testStart.Add(2 * time.Hour), Metrics: domain.Metrics{Temperature: math.NaN()}},
		{Timestamp: testStart, Metrics: domain.Metrics{Temperature: 18}},
		{Timestamp: testStart.Add(time.Hour), Metrics: domain.Metrics{Temperature: 19}},
	}

	// Latest finite value wins even when input is unsorted and the newest
	// reading is invalid.
	assert.Equal(t, 19.0, lastValidTarget(readings, domain.MetricTemperature))
	assert.Equal(t, 0.0, lastValidTarget(nil, domain.MetricTemperature))
}

func TestDegenerateModelShape(t *testing.T) {
	m := degenerateModel(12.5, FitSolveFailed)

	assert.Equal(t, FitSolveFailed, m.Status)
	assert.Equal(t, 12.5, m.Intercept)
	assert.Equal(t, 0.0, m.RSquared)
	require.Len(t, m.Coefficients, numFeatures)
	require.Len(t, m.FeatureStds, numFeatures)
	for i := range m.Coefficients {
		assert.Zero(t, m.Coefficients[i])
		assert.Equal(t, 1.0, m.FeatureStds[i])
	}

	// A degenerate model predicts its intercept everywhere.
	pred := m.Predict(testStart, 100, domain.Metrics{Temperature: 99, Humidity: 1, Rainfall: 50, WindSpeed: 80})
	assert.Equal(t, 12.5, pred)
}
