package domain

import (
	"fmt"
	"math"
	"time"
)

// MetricKey identifies one of the four observed metrics. One regression
// model is trained per key.
type MetricKey string

const (
	MetricTemperature MetricKey = "temperature"
	MetricHumidity    MetricKey = "humidity"
	MetricRainfall    MetricKey = "rainfall"
	MetricWindSpeed   MetricKey = "wind_speed"
)

// MetricKeys lists the metrics in canonical order. The order is load-bearing:
// it matches the trailing four positions of the feature vector.
var MetricKeys = [4]MetricKey{MetricTemperature, MetricHumidity, MetricRainfall, MetricWindSpeed}

// Bounds returns the physically plausible range for the metric. Values
// outside the range are instrument glitches or model extrapolation artifacts,
// never real weather. See the package documentation for the rationale behind
// each limit.
func (k MetricKey) Bounds() (min, max float64) {
	switch k {
	case MetricTemperature:
		return -50, 60
	case MetricHumidity:
		return 0, 100
	case MetricRainfall:
		return 0, 1000
	case MetricWindSpeed:
		return 0, 200
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// Clamp forces v into the metric's physical range.
func (k MetricKey) Clamp(v float64) float64 {
	min, max := k.Bounds()
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Metrics holds one value per observed metric. Units: temperature °C,
// humidity %, rainfall mm, wind speed km/h.
type Metrics struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Rainfall    float64 `json:"rainfall"`
	WindSpeed   float64 `json:"wind_speed"`
}

// Value returns the metric identified by key. Unknown keys return NaN so the
// mistake surfaces as a dropped row rather than a silent zero.
func (m Metrics) Value(k MetricKey) float64 {
	switch k {
	case MetricTemperature:
		return m.Temperature
	case MetricHumidity:
		return m.Humidity
	case MetricRainfall:
		return m.Rainfall
	case MetricWindSpeed:
		return m.WindSpeed
	default:
		return math.NaN()
	}
}

// WithValue returns a copy of m with the keyed metric replaced.
func (m Metrics) WithValue(k MetricKey, v float64) Metrics {
	switch k {
	case MetricTemperature:
		m.Temperature = v
	case MetricHumidity:
		m.Humidity = v
	case MetricRainfall:
		m.Rainfall = v
	case MetricWindSpeed:
		m.WindSpeed = v
	}
	return m
}

// Clamped returns a copy of m with every metric forced into its physical range.
func (m Metrics) Clamped() Metrics {
	for _, k := range MetricKeys {
		m = m.WithValue(k, k.Clamp(m.Value(k)))
	}
	return m
}

// Reading is a single timestamped observation from a weather station.
// Immutable once recorded; the forecasting core consumes readings read-only.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Metrics
}

// Prediction is one forecast step. Every value is clamped to its metric's
// physical range before the Prediction is emitted.
type Prediction struct {
	Timestamp time.Time `json:"timestamp"`
	Metrics
}

// Horizon selects how far a forecast extends and at what resolution.
type Horizon string

const (
	Horizon1h  Horizon = "1h"
	Horizon6h  Horizon = "6h"
	Horizon24h Horizon = "24h"
)

// Horizons lists the supported horizons.
var Horizons = [3]Horizon{Horizon1h, Horizon6h, Horizon24h}

// Steps returns the number of forecast steps for the horizon. Longer horizons
// sample more coarsely: short-interval precision is not credible a day out,
// and eight 3-hour steps bound the rollout cost.
func (h Horizon) Steps() int {
	switch h {
	case Horizon1h:
		return 1
	case Horizon6h:
		return 6
	case Horizon24h:
		return 8
	default:
		return 0
	}
}

// StepInterval returns the spacing between consecutive forecast steps.
func (h Horizon) StepInterval() time.Duration {
	if h == Horizon24h {
		return 3 * time.Hour
	}
	return time.Hour
}

// ParseHorizon validates a horizon string from config or a request.
func ParseHorizon(s string) (Horizon, error) {
	switch Horizon(s) {
	case Horizon1h, Horizon6h, Horizon24h:
		return Horizon(s), nil
	}
	return "", fmt.Errorf("unknown horizon %q (want 1h, 6h, or 24h)", s)
}

// ForecastSnapshot is the output of one forecast run for one station,
// serialized as-is to the forecast topic and WebSocket clients.
type ForecastSnapshot struct {
	StationID   string        `json:"station_id"`
	Horizon     Horizon       `json:"horizon"`
	GeneratedAt time.Time     `json:"generated_at"`
	Forecast    []Prediction  `json:"forecast"`
	FitQuality  float64       `json:"fit_quality"`
	Advisory    AdvisoryLevel `json:"advisory"`
}

// MaxRainfall returns the largest rainfall value across the forecast steps,
// the quantity the advisory classifier keys on. Returns 0 for an empty forecast.
func (s ForecastSnapshot) MaxRainfall() float64 {
	var max float64
	for _, p := range s.Forecast {
		if p.Rainfall > max {
			max = p.Rainfall
		}
	}
	return max
}
