package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calmReadings is a small well-behaved dataset for shape-oriented tests.
func calmReadings(n int) []domain.Reading {
	return hourlyReadings(n, func(i int) domain.Metrics {
		return domain.Metrics{
			Temperature: 24 + 0.5*math.Sin(2*math.Pi*float64(i)/24),
			Humidity:    65,
			Rainfall:    0.2,
			WindSpeed:   8,
		}
	})
}

func TestRun_ErrorConditions(t *testing.T) {
	t.Run("no data at all", func(t *testing.T) {
		_, err := Run(Request{Horizon: domain.Horizon1h})
		require.ErrorIs(t, err, ErrNoData)
	})

	t.Run("two readings is insufficient", func(t *testing.T) {
		_, err := Run(Request{Readings: calmReadings(2), Horizon: domain.Horizon6h})
		require.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("current override alone is insufficient", func(t *testing.T) {
		current := domain.Reading{Timestamp: testStart, Metrics: domain.Metrics{Temperature: 20}}
		_, err := Run(Request{Current: &current, Horizon: domain.Horizon1h})
		require.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("unknown horizon", func(t *testing.T) {
		_, err := Run(Request{Readings: calmReadings(5), Horizon: "3d"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown horizon")
	})
}

func TestRun_StepShape(t *testing.T) {
	readings := calmReadings(48)
	last := readings[len(readings)-1].Timestamp

	for _, h := range domain.Horizons {
		t.Run(string(h), func(t *testing.T) {
			res, err := Run(Request{Readings: readings, Horizon: h})
			require.NoError(t, err)
			require.Len(t, res.Forecast, h.Steps())

			prev := last
			for i, p := range res.Forecast {
				assert.Equal(t, last.Add(time.Duration(i+1)*h.StepInterval()), p.Timestamp)
				assert.True(t, p.Timestamp.After(prev), "timestamps must strictly increase")
				prev = p.Timestamp
			}
		})
	}
}

func TestRun_PhysicalBounds(t *testing.T) {
	// Deliberately erratic data to push the rollout toward the clamps.
	readings := hourlyReadings(48, func(i int) domain.Metrics {
		return domain.Metrics{
			Temperature: 28 + 30*math.Sin(float64(i)),
			Humidity:    50 + 49*math.Cos(0.7*float64(i)),
			Rainfall:    math.Abs(40 * math.Sin(1.3*float64(i))),
			WindSpeed:   30 + 25*math.Sin(2.1*float64(i)),
		}
	})

	for _, h := range domain.Horizons {
		t.Run(string(h), func(t *testing.T) {
			res, err := Run(Request{Readings: readings, Horizon: h})
			require.NoError(t, err)

			for _, p := range res.Forecast {
				for _, k := range domain.MetricKeys {
					v := p.Value(k)
					min, max := k.Bounds()
					assert.GreaterOrEqual(t, v, min, "metric %s", k)
					assert.LessOrEqual(t, v, max, "metric %s", k)
				}
			}
			assert.GreaterOrEqual(t, res.FitQuality, 0.0)
			assert.LessOrEqual(t, res.FitQuality, 1.0)
		})
	}
}

func TestRun_CurrentOverride(t *testing.T) {
	readings := calmReadings(24)
	last := readings[len(readings)-1].Timestamp

	t.Run("extreme rainfall override is clamped at the first step", func(t *testing.T) {
		current := &domain.Reading{
			Timestamp: last.Add(30 * time.Minute),
			Metrics:   domain.Metrics{Temperature: 24, Humidity: 65, Rainfall: 10000, WindSpeed: 8},
		}

		res, err := Run(Request{Readings: readings, Current: current, Horizon: domain.Horizon1h})
		require.NoError(t, err)
		require.Len(t, res.Forecast, 1)
		assert.LessOrEqual(t, res.Forecast[0].Rainfall, 1000.0)
	})

	t.Run("override timestamp anchors the steps", func(t *testing.T) {
		current := &domain.Reading{
			Timestamp: last.Add(30 * time.Minute),
			Metrics:   domain.Metrics{Temperature: 24, Humidity: 65, Rainfall: 0, WindSpeed: 8},
		}

		res, err := Run(Request{Readings: readings, Current: current, Horizon: domain.Horizon6h})
		require.NoError(t, err)
		assert.Equal(t, current.Timestamp.Add(time.Hour), res.Forecast[0].Timestamp)
	})

	t.Run("override without timestamp keeps the historical anchor", func(t *testing.T) {
		current := &domain.Reading{
			Metrics: domain.Metrics{Temperature: 30, Humidity: 65, Rainfall: 0, WindSpeed: 8},
		}

		res, err := Run(Request{Readings: readings, Current: current, Horizon: domain.Horizon1h})
		require.NoError(t, err)
		assert.Equal(t, last.Add(time.Hour), res.Forecast[0].Timestamp)
	})
}

func TestRun_DailySinusoid24h(t *testing.T) {
	// Seven days of hourly readings with a clean daily temperature cycle:
	// mean 28°C, amplitude 5°C, period 24h.
	readings := hourlyReadings(7*24, func(i int) domain.Metrics {
		phase := 2 * math.Pi * float64(i%24) / 24
		return domain.Metrics{
			Temperature: 28 + 5*math.Sin(phase),
			Humidity:    75 - 10*math.Sin(phase),
			Rainfall:    0.2,
			WindSpeed:   12 + 3*math.Cos(phase),
		}
	})

	res, err := Run(Request{Readings: readings, Horizon: domain.Horizon24h})
	require.NoError(t, err)

	assert.Greater(t, res.Models.Temperature.RSquared, 0.8,
		"a clean daily cycle must be learnable")

	require.Len(t, res.Forecast, 8)
	for i, p := range res.Forecast {
		assert.GreaterOrEqual(t, p.Temperature, 23.0, "step %d", i)
		assert.LessOrEqual(t, p.Temperature, 33.0, "step %d", i)
	}
}

func TestRun_ToleratesUnsortedInput(t *testing.T) {
	readings := calmReadings(24)
	shuffled := make([]domain.Reading, len(readings))
	for i, r := range readings {
		// Deterministic scramble.
		shuffled[(i*7)%len(readings)] = r
	}

	a, err := Run(Request{Readings: readings, Horizon: domain.Horizon6h})
	require.NoError(t, err)
	b, err := Run(Request{Readings: shuffled, Horizon: domain.Horizon6h})
	require.NoError(t, err)

	assert.Equal(t, a.Forecast, b.Forecast)
	assert.Equal(t, a.FitQuality, b.FitQuality)
}

func TestRun_DeterministicAcrossCalls(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(testStart.Add(100 * time.Hour)))
	defer domain.SetClock(nil)

	req := Request{Readings: calmReadings(36), Horizon: domain.Horizon24h}

	a, err := Run(req)
	require.NoError(t, err)
	b, err := Run(req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, testStart.Add(100*time.Hour), a.GeneratedAt)
}

func TestRun_BrokenRowsDropWholesale(t *testing.T) {
	// A NaN in one metric invalidates the whole row for every model, since
	// that metric is a feature of the other three. Four broken rows out of
	// six leave too few to fit anything, and each model falls back to its
	// own last valid observation.
	temps := []float64{21, math.NaN(), math.NaN(), math.NaN(), math.NaN(), 23}
	readings := hourlyReadings(6, func(i int) domain.Metrics {
		return domain.Metrics{Temperature: temps[i], Humidity: 65, Rainfall: 0.1, WindSpeed: 8}
	})

	res, err := Run(Request{Readings: readings, Horizon: domain.Horizon6h})
	require.NoError(t, err)

	for _, k := range domain.MetricKeys {
		assert.Equal(t, FitInsufficientData, res.Models.ByKey(k).Status, "metric %s", k)
	}

	// Every degenerate model forecasts its intercept flat.
	for _, p := range res.Forecast {
		assert.InDelta(t, 23.0, p.Temperature, 1e-9)
		assert.InDelta(t, 65.0, p.Humidity, 1e-9)
		assert.InDelta(t, 0.1, p.Rainfall, 1e-9)
		assert.InDelta(t, 8.0, p.WindSpeed, 1e-9)
	}
}

func TestModelSet(t *testing.T) {
	set := ModelSet{
		Temperature: Model{RSquared: 0.4},
		Humidity:    Model{RSquared: 0.6},
		Rainfall:    Model{RSquared: 0.8},
		WindSpeed:   Model{RSquared: 1.0},
	}

	assert.InDelta(t, 0.7, set.FitQuality(), 1e-12)

	assert.Equal(t, 0.4, set.ByKey(domain.MetricTemperature).RSquared)
	assert.Equal(t, 0.6, set.ByKey(domain.MetricHumidity).RSquared)
	assert.Equal(t, 0.8, set.ByKey(domain.MetricRainfall).RSquared)
	assert.Equal(t, 1.0, set.ByKey(domain.MetricWindSpeed).RSquared)
	assert.Equal(t, Model{}, set.ByKey(domain.MetricKey("bogus")))
}

func TestSnapshot(t *testing.T) {
	res := Result{
		Forecast: []domain.Prediction{
			{Timestamp: testStart, Metrics: domain.Metrics{Rainfall: 4}},
			{Timestamp: testStart.Add(time.Hour), Metrics: domain.Metrics{Rainfall: 20}},
		},
		FitQuality:  0.75,
		GeneratedAt: testStart.Add(2 * time.Hour),
	}

	snap := Snapshot("STA-007", domain.Horizon6h, res)

	assert.Equal(t, "STA-007", snap.StationID)
	assert.Equal(t, domain.Horizon6h, snap.Horizon)
	assert.Equal(t, res.GeneratedAt, snap.GeneratedAt)
	assert.Equal(t, res.Forecast, snap.Forecast)
	assert.Equal(t, 0.75, snap.FitQuality)
	assert.Equal(t, domain.AdvisoryOrange, snap.Advisory)
}
