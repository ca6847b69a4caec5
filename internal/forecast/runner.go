package forecast

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
)

// minReadings is the smallest dataset a regression will be attempted on.
const minReadings = 3

var (
	// ErrNoData means there is nothing to forecast from at all.
	ErrNoData = errors.New("forecast: no data")

	// ErrInsufficientData means fewer than minReadings readings are
	// available. Callers show an "insufficient data" state and skip
	// forecasting; this is a normal condition for a young station, not a
	// failure.
	ErrInsufficientData = errors.New("forecast: insufficient data")
)

// Request describes one forecast run.
type Request struct {
	// Readings is the historical window, in any order.
	Readings []domain.Reading

	// Current optionally overrides the latest historical reading as the
	// rollout baseline when a fresher observation exists.
	Current *domain.Reading

	// Horizon selects the step count and spacing.
	Horizon domain.Horizon
}

// ModelSet bundles the four per-metric models. A fixed struct rather than a
// map keeps the bundle's shape compile-time checked.
type ModelSet struct {
	Temperature Model
	Humidity    Model
	Rainfall    Model
	WindSpeed   Model
}

// ByKey returns the model for a metric. Unknown keys return a zero Model.
func (s ModelSet) ByKey(k domain.MetricKey) Model {
	switch k {
	case domain.MetricTemperature:
		return s.Temperature
	case domain.MetricHumidity:
		return s.Humidity
	case domain.MetricRainfall:
		return s.Rainfall
	case domain.MetricWindSpeed:
		return s.WindSpeed
	default:
		return Model{}
	}
}

// FitQuality is the unweighted mean rSquared across the four models, the
// scalar trust indicator reported to consumers. It does not improve
// monotonically across retrains and consumers must not assume it does.
func (s ModelSet) FitQuality() float64 {
	sum := s.Temperature.RSquared + s.Humidity.RSquared + s.Rainfall.RSquared + s.WindSpeed.RSquared
	return sum / float64(len(domain.MetricKeys))
}

// Result is one completed forecast run.
type Result struct {
	// Forecast is ordered by strictly increasing timestamp, one entry per
	// horizon step, every value clamped to its metric's physical range.
	Forecast []domain.Prediction

	// Models are the per-metric regressions this run trained. They are not
	// cached or shared across runs.
	Models ModelSet

	// FitQuality is Models.FitQuality, precomputed for serialization.
	FitQuality float64

	// GeneratedAt is when the run happened, from the injectable clock.
	GeneratedAt time.Time
}

// Run trains one model per metric from the historical readings and rolls the
// forecast forward step by step. The rollout is autoregressive: each step's
// clamped output becomes the next step's concurrent-weather input, so error
// compounds with distance. That is an accepted property of the design, kept
// deliberately.
//
// Run holds no state between calls and is safe to invoke concurrently.
func Run(req Request) (Result, error) {
	if len(req.Readings) == 0 && req.Current == nil {
		return Result{}, ErrNoData
	}
	if len(req.Readings) < minReadings {
		return Result{}, ErrInsufficientData
	}

	steps := req.Horizon.Steps()
	if steps == 0 {
		return Result{}, fmt.Errorf("forecast: unknown horizon %q", req.Horizon)
	}
	interval := req.Horizon.StepInterval()

	sorted := append([]domain.Reading(nil), req.Readings...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	origin := sorted[0].Timestamp

	models := ModelSet{
		Temperature: Train(sorted, domain.MetricTemperature),
		Humidity:    Train(sorted, domain.MetricHumidity),
		Rainfall:    Train(sorted, domain.MetricRainfall),
		WindSpeed:   Train(sorted, domain.MetricWindSpeed),
	}

	latest := sorted[len(sorted)-1]
	start := latest.Timestamp
	if req.Current != nil {
		latest = *req.Current
		if !latest.Timestamp.IsZero() {
			start = latest.Timestamp
		}
	}
	baseline := latest.Metrics.Clamped()

	preds := make([]domain.Prediction, 0, steps)
	for i := 1; i <= steps; i++ {
		ts := start.Add(time.Duration(i) * interval)
		elapsed := ts.Sub(origin).Hours()

		next := domain.Metrics{
			Temperature: models.Temperature.Predict(ts, elapsed, baseline),
			Humidity:    models.Humidity.Predict(ts, elapsed, baseline),
			Rainfall:    models.Rainfall.Predict(ts, elapsed, baseline),
			WindSpeed:   models.WindSpeed.Predict(ts, elapsed, baseline),
		}.Clamped()

		preds = append(preds, domain.Prediction{Timestamp: ts, Metrics: next})
		baseline = next
	}

	return Result{
		Forecast:    preds,
		Models:      models,
		FitQuality:  models.FitQuality(),
		GeneratedAt: domain.Now(),
	}, nil
}

// Snapshot packages a Result for one station into the wire form consumed by
// the forecast topic, the HTTP API, and WebSocket clients.
func Snapshot(stationID string, horizon domain.Horizon, res Result) domain.ForecastSnapshot {
	snap := domain.ForecastSnapshot{
		StationID:   stationID,
		Horizon:     horizon,
		GeneratedAt: res.GeneratedAt,
		Forecast:    res.Forecast,
		FitQuality:  res.FitQuality,
	}
	snap.Advisory = domain.DeriveAdvisory(snap.MaxRainfall())
	return snap
}
