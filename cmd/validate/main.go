// Command validate replays a station readings fixture through the ingest
// parser and the forecast core, then checks the invariants the rest of the
// service depends on: parse outcomes, forecast shape per horizon, physical
// bounds, model health, and advisory consistency.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -readings data/mock/station_readings_250601_combined.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
	"github.com/couchcryptid/station-forecast-service/internal/forecast"
	"github.com/jonboulle/clockwork"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	readings := flag.String("readings", "", "path to station readings fixture JSON")
	flag.Parse()

	if *readings == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*readings); code != 0 {
		os.Exit(code)
	}
}

func run(readingsPath string) int {
	fmt.Println("=== Station Forecast Invariant Validation ===")
	fmt.Println()

	rows, err := loadRows(readingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load readings fixture: %v\n", err)
		return 1
	}

	stations, malformed := parseRows(rows)
	if len(stations) == 0 {
		fmt.Fprintf(os.Stderr, "FATAL: no parseable readings in %s\n", readingsPath)
		return 1
	}

	// Freeze the clock just past the newest observation so generated_at
	// assertions are reproducible across runs.
	asOf := newestTimestamp(stations).Add(time.Hour)
	domain.SetClock(clockwork.NewFakeClockAt(asOf))
	defer domain.SetClock(nil)

	// ── Run validation phases ──
	shape, runs := validateForecastShape(stations)
	phases := []*phase{
		validateFixture(stations, malformed),
		shape,
		validateModelHealth(runs),
		validateAdvisories(stations, runs, asOf),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d fixture, %d parsed across %d stations, %d forecasts checked\n",
		len(rows), countReadings(stations), len(stations), len(runs))

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

// stationData holds one station's parsed readings, sorted by timestamp.
type stationData struct {
	id       string
	readings []domain.Reading
}

// forecastRun is one completed forecast for one station at one horizon.
type forecastRun struct {
	station string
	horizon domain.Horizon
	result  forecast.Result
	snap    domain.ForecastSnapshot
}

func loadRows(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// parseRows pushes every fixture row through the same parser the ingest path
// uses, grouping survivors by station. Malformed rows are counted, not fatal:
// the service drops them at ingest too.
func parseRows(rows []json.RawMessage) ([]stationData, int) {
	byStation := make(map[string][]domain.Reading)
	malformed := 0
	for _, row := range rows {
		id, reading, err := domain.ParseRawReading(domain.RawReading{Value: row})
		if err != nil {
			malformed++
			continue
		}
		byStation[id] = append(byStation[id], reading)
	}

	ids := make([]string, 0, len(byStation))
	for id := range byStation {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	stations := make([]stationData, 0, len(ids))
	for _, id := range ids {
		readings := byStation[id]
		sort.Slice(readings, func(i, j int) bool {
			return readings[i].Timestamp.Before(readings[j].Timestamp)
		})
		stations = append(stations, stationData{id: id, readings: readings})
	}
	return stations, malformed
}

func newestTimestamp(stations []stationData) time.Time {
	var newest time.Time
	for _, s := range stations {
		if last := s.readings[len(s.readings)-1].Timestamp; last.After(newest) {
			newest = last
		}
	}
	return newest
}

func countReadings(stations []stationData) int {
	n := 0
	for _, s := range stations {
		n += len(s.readings)
	}
	return n
}

// ── Phase 1: Fixture Integrity ──
// Validates the parsed readings themselves: orderable timestamps and
// physically plausible values for every metric that is present.

func validateFixture(stations []stationData, malformed int) *phase {
	p := &phase{name: "Phase 1: Fixture Integrity (readings JSON)"}

	if malformed > 0 {
		fmt.Printf("  Note: %d malformed row(s) rejected by the ingest parser\n", malformed)
	}

	for _, s := range stations {
		for i, r := range s.readings {
			if r.Timestamp.IsZero() {
				p.errorf("%s reading %d: zero timestamp", s.id, i)
			}
			if i > 0 && !s.readings[i-1].Timestamp.Before(r.Timestamp) {
				p.errorf("%s: duplicate or unordered timestamp %s", s.id, r.Timestamp.Format(time.RFC3339))
			}
			for _, k := range domain.MetricKeys {
				v := r.Value(k)
				if math.IsNaN(v) {
					continue // missing observation, allowed
				}
				if min, max := k.Bounds(); v < min || v > max {
					p.errorf("%s %s: %s=%g outside [%g, %g]",
						s.id, r.Timestamp.Format(time.RFC3339), k, v, min, max)
				}
			}
		}
	}
	return p
}

// ── Phase 2: Forecast Shape ──
// Runs the forecast core for every station at every horizon and validates
// step counts, spacing, and the anchor at the newest reading.

func validateForecastShape(stations []stationData) (*phase, []forecastRun) {
	p := &phase{name: "Phase 2: Forecast Shape (steps & spacing)"}

	var runs []forecastRun
	skipped := 0
	for _, s := range stations {
		stationSkipped := false
		for _, h := range domain.Horizons {
			res, err := forecast.Run(forecast.Request{Readings: s.readings, Horizon: h})
			if errors.Is(err, forecast.ErrInsufficientData) {
				stationSkipped = true
				continue
			}
			if err != nil {
				p.errorf("%s %s: %v", s.id, h, err)
				continue
			}

			checkShape(p, s, h, res)
			runs = append(runs, forecastRun{
				station: s.id,
				horizon: h,
				result:  res,
				snap:    forecast.Snapshot(s.id, h, res),
			})
		}
		if stationSkipped {
			skipped++
		}
	}

	if skipped > 0 {
		fmt.Printf("  Note: %d station(s) below the training minimum, skipped\n", skipped)
	}
	return p, runs
}

func checkShape(p *phase, s stationData, h domain.Horizon, res forecast.Result) {
	if len(res.Forecast) != h.Steps() {
		p.errorf("%s %s: expected %d steps, got %d", s.id, h, h.Steps(), len(res.Forecast))
		return
	}

	anchor := s.readings[len(s.readings)-1].Timestamp
	interval := h.StepInterval()
	for i, step := range res.Forecast {
		want := anchor.Add(time.Duration(i+1) * interval)
		if !step.Timestamp.Equal(want) {
			p.errorf("%s %s step %d: timestamp %s, want %s",
				s.id, h, i, step.Timestamp.Format(time.RFC3339), want.Format(time.RFC3339))
		}
	}
}

// ── Phase 3: Bounds & Model Health ──
// Every predicted value must be finite and inside its metric's physical
// range; every model must report a coherent fit.

func validateModelHealth(runs []forecastRun) *phase {
	p := &phase{name: "Phase 3: Bounds & Model Health"}

	for _, r := range runs {
		checkPredictionBounds(p, r)
		checkModels(p, r)
	}
	return p
}

func checkPredictionBounds(p *phase, r forecastRun) {
	for i, step := range r.result.Forecast {
		for _, k := range domain.MetricKeys {
			v := step.Value(k)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				p.errorf("%s %s step %d: %s is not finite", r.station, r.horizon, i, k)
				continue
			}
			if min, max := k.Bounds(); v < min || v > max {
				p.errorf("%s %s step %d: %s=%g outside [%g, %g]", r.station, r.horizon, i, k, v, min, max)
			}
		}
	}
}

func checkModels(p *phase, r forecastRun) {
	validStatus := map[forecast.FitStatus]bool{
		forecast.FitOK:               true,
		forecast.FitInsufficientData: true,
		forecast.FitSolveFailed:      true,
	}

	for _, k := range domain.MetricKeys {
		m := r.result.Models.ByKey(k)
		if !validStatus[m.Status] {
			p.errorf("%s %s: %s model has unknown status %q", r.station, r.horizon, k, m.Status)
		}
		if m.RSquared < 0 || m.RSquared > 1 {
			p.errorf("%s %s: %s rSquared %g outside [0, 1]", r.station, r.horizon, k, m.RSquared)
		}
		if m.Status != forecast.FitOK {
			checkFlatRollout(p, r, k, m)
		}
	}

	if r.result.FitQuality < 0 || r.result.FitQuality > 1 {
		p.errorf("%s %s: fit quality %g outside [0, 1]", r.station, r.horizon, r.result.FitQuality)
	}
	if !floatEq(r.result.FitQuality, r.result.Models.FitQuality()) {
		p.errorf("%s %s: fit quality %g does not match models (%g)",
			r.station, r.horizon, r.result.FitQuality, r.result.Models.FitQuality())
	}
}

// checkFlatRollout verifies the graceful-degradation contract: a model that
// could not be fitted holds its metric at the clamped intercept for the whole
// horizon instead of inventing a trend.
func checkFlatRollout(p *phase, r forecastRun, k domain.MetricKey, m forecast.Model) {
	if m.RSquared != 0 {
		p.errorf("%s %s: %s fallback model reports rSquared %g, want 0", r.station, r.horizon, k, m.RSquared)
	}
	want := k.Clamp(m.Intercept)
	for i, step := range r.result.Forecast {
		if got := step.Value(k); !floatEq(got, want) {
			p.errorf("%s %s step %d: %s fallback predicted %g, want flat %g",
				r.station, r.horizon, i, k, got, want)
		}
	}
}

// ── Phase 4: Advisory & Determinism ──
// Validates snapshot packaging: the advisory matches the rainfall peak, the
// timestamp comes from the injected clock, and re-running the same request
// reproduces the same forecast.

func validateAdvisories(stations []stationData, runs []forecastRun, asOf time.Time) *phase {
	p := &phase{name: "Phase 4: Advisory & Determinism"}

	byID := make(map[string]stationData, len(stations))
	for _, s := range stations {
		byID[s.id] = s
	}

	validAdvisories := map[domain.AdvisoryLevel]bool{
		domain.AdvisoryNone:   true,
		domain.AdvisoryYellow: true,
		domain.AdvisoryOrange: true,
		domain.AdvisoryRed:    true,
	}

	for _, r := range runs {
		if r.snap.StationID != r.station || r.snap.Horizon != r.horizon {
			p.errorf("%s %s: snapshot labeled %s %s", r.station, r.horizon, r.snap.StationID, r.snap.Horizon)
		}
		if !validAdvisories[r.snap.Advisory] {
			p.errorf("%s %s: unknown advisory %q", r.station, r.horizon, r.snap.Advisory)
		}
		if want := domain.DeriveAdvisory(r.snap.MaxRainfall()); r.snap.Advisory != want {
			p.errorf("%s %s: advisory %q does not match peak rainfall %.2fmm (want %q)",
				r.station, r.horizon, r.snap.Advisory, r.snap.MaxRainfall(), want)
		}
		if !r.snap.GeneratedAt.Equal(asOf) {
			p.errorf("%s %s: generated_at %s, want clock time %s",
				r.station, r.horizon, r.snap.GeneratedAt.Format(time.RFC3339), asOf.Format(time.RFC3339))
		}

		checkDeterminism(p, byID[r.station], r)
	}
	return p
}

// checkDeterminism re-runs the identical request and compares step by step.
func checkDeterminism(p *phase, s stationData, r forecastRun) {
	again, err := forecast.Run(forecast.Request{Readings: s.readings, Horizon: r.horizon})
	if err != nil {
		p.errorf("%s %s: rerun failed: %v", r.station, r.horizon, err)
		return
	}
	if len(again.Forecast) != len(r.result.Forecast) {
		p.errorf("%s %s: rerun produced %d steps, first run %d",
			r.station, r.horizon, len(again.Forecast), len(r.result.Forecast))
		return
	}
	for i := range again.Forecast {
		a, b := r.result.Forecast[i], again.Forecast[i]
		if !a.Timestamp.Equal(b.Timestamp) {
			p.errorf("%s %s step %d: rerun timestamp differs", r.station, r.horizon, i)
		}
		for _, k := range domain.MetricKeys {
			if !floatEq(a.Value(k), b.Value(k)) {
				p.errorf("%s %s step %d: rerun %s differs: %g vs %g",
					r.station, r.horizon, i, k, a.Value(k), b.Value(k))
			}
		}
	}
}

// ── Helpers ──

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
