// Command genreadings generates the combined station readings fixture used by
// the forecast test suites. Station profiles are deterministic, so rerunning
// the command reproduces the checked-in fixture byte for byte, and every row
// is replayed through the actual ingest parser and forecast core so the
// printed stats match real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genreadings -out data/mock/station_readings_250601_combined.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
	"github.com/couchcryptid/station-forecast-service/internal/forecast"
)

var startTime = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)

// readingRow is the collector wire format. Metric fields are pointers so
// simulated sensor dropouts serialize as null, exactly as real collectors
// report them.
type readingRow struct {
	StationID   string   `json:"station_id"`
	Timestamp   string   `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Rainfall    *float64 `json:"rainfall"`
	WindSpeed   *float64 `json:"wind_speed"`
}

// partialRow mirrors readingRow with every field optional. The fixture tail
// carries two such rows so the parser's reject paths stay covered by the
// replay tests.
type partialRow struct {
	StationID   string   `json:"station_id,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Rainfall    *float64 `json:"rainfall,omitempty"`
	WindSpeed   *float64 `json:"wind_speed,omitempty"`
}

// stationProfile shapes one station's day of readings. Metrics follow a
// diurnal sinusoid plus an optional linear trend, rounded to two decimals the
// way collector firmware reports them.
type stationProfile struct {
	id            string
	hours         int
	baseTemp      float64
	tempSwing     float64
	tempTrend     float64 // degrees per elapsed hour
	baseHumidity  float64
	humiditySwing float64
	baseWind      float64
	windSwing     float64
	rainCycle     []float64 // repeating shower pattern, mm per reading
	rainRamp      float64   // monsoon build-up, mm per elapsed hour
	// dropouts maps reading index to the metric that reports null there,
	// simulating a sensor fault.
	dropouts map[int]domain.MetricKey
}

// Three fixed stations: a calm diurnal cycle, a monsoon build-up that climbs
// the advisory ladder, and a short-history station that stays below the
// trainable minimum.
var profiles = []stationProfile{
	{
		id:           "tondo-01",
		hours:        24,
		baseTemp:     28,
		tempSwing:    5,
		baseHumidity: 75, humiditySwing: -10,
		baseWind: 12, windSwing: 3,
		rainCycle: []float64{0.8, 0.2, 0.2},
		dropouts:  map[int]domain.MetricKey{7: domain.MetricHumidity},
	},
	{
		id:           "marikina-02",
		hours:        24,
		baseTemp:     26,
		tempSwing:    4,
		baseHumidity: 80, humiditySwing: 8,
		baseWind: 18, windSwing: 5,
		rainCycle: []float64{1.0},
		rainRamp:  0.8,
		dropouts:  map[int]domain.MetricKey{13: domain.MetricWindSpeed},
	},
	{
		id:           "baguio-03",
		hours:        2,
		baseTemp:     18.5,
		tempTrend:    1,
		baseHumidity: 88,
		baseWind:     6,
	},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the readings fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	// Freeze the clock at the end of the captured day so the stats printed
	// below are reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(startTime.Add(24 * time.Hour)))
	defer domain.SetClock(nil)

	total := 0
	for _, p := range profiles {
		total += p.hours
	}

	rows := make([]any, 0, total+2)
	byStation := make(map[string][]domain.Reading, len(profiles))

	for _, p := range profiles {
		for i := 0; i < p.hours; i++ {
			row := p.reading(i)
			rows = append(rows, row)

			// Replay through the real ingest parser so the stats reflect
			// exactly what the pipeline would store.
			payload, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("marshal reading: %w", err)
			}
			stationID, reading, err := domain.ParseRawReading(domain.RawReading{Value: payload})
			if err != nil {
				return fmt.Errorf("generated unparseable reading: %w", err)
			}
			byStation[stationID] = append(byStation[stationID], reading)
		}
	}

	for _, row := range malformedTail() {
		rows = append(rows, row)
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal tail row: %w", err)
		}
		_, _, perr := domain.ParseRawReading(domain.RawReading{Value: payload})
		if perr == nil {
			return fmt.Errorf("tail row unexpectedly parsed: %s", payload)
		}
		log.Printf("tail row rejected as intended: %v", perr)
	}

	if err := writeJSON(*out, rows); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d rows for %d stations: %s", len(rows), len(profiles), *out)

	printStats(byStation)
	return nil
}

// reading computes the profile's i-th hourly reading.
func (p stationProfile) reading(i int) readingRow {
	ts := startTime.Add(time.Duration(i) * time.Hour)
	elapsed := float64(i)
	tod := 2 * math.Pi * float64(ts.Hour()) / 24

	temp := p.baseTemp + p.tempSwing*math.Sin(tod) + p.tempTrend*elapsed
	humidity := p.baseHumidity + p.humiditySwing*math.Sin(tod)
	wind := p.baseWind + p.windSwing*math.Cos(tod)
	rain := p.rainRamp * elapsed
	if len(p.rainCycle) > 0 {
		rain += p.rainCycle[i%len(p.rainCycle)]
	}

	row := readingRow{
		StationID:   p.id,
		Timestamp:   ts.Format(time.RFC3339),
		Temperature: ptr(round2(temp)),
		Humidity:    ptr(round2(humidity)),
		Rainfall:    ptr(round2(rain)),
		WindSpeed:   ptr(round2(wind)),
	}

	switch p.dropouts[i] {
	case domain.MetricTemperature:
		row.Temperature = nil
	case domain.MetricHumidity:
		row.Humidity = nil
	case domain.MetricRainfall:
		row.Rainfall = nil
	case domain.MetricWindSpeed:
		row.WindSpeed = nil
	}

	return row
}

// malformedTail returns the junk rows real collectors occasionally emit: one
// with no station id and one with an unparseable timestamp. The replay tests
// count on the parser dropping both.
func malformedTail() []partialRow {
	return []partialRow{
		{Timestamp: "2025-06-01T03:00:00Z", Temperature: ptr(25)},
		{StationID: "tondo-01", Timestamp: "yesterday", Temperature: ptr(25)},
	}
}

func ptr(v float64) *float64 { return &v }

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// printStats runs the real forecast core over each station's readings and
// prints the numbers test assertions key on.
func printStats(byStation map[string][]domain.Reading) {
	ids := make([]string, 0, len(byStation))
	for id := range byStation {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Println("\n=== Stats for updating test assertions ===")
	for _, id := range ids {
		readings := byStation[id]
		res, err := forecast.Run(forecast.Request{Readings: readings, Horizon: domain.Horizon6h})
		if err != nil {
			fmt.Printf("%s: %d readings, no forecast (%v)\n", id, len(readings), err)
			continue
		}

		snap := forecast.Snapshot(id, domain.Horizon6h, res)
		fmt.Printf("%s: %d readings, fit=%.3f advisory=%s max_rain=%.1fmm\n",
			id, len(readings), res.FitQuality, snap.Advisory, snap.MaxRainfall())
		for _, k := range domain.MetricKeys {
			m := res.Models.ByKey(k)
			fmt.Printf("  %-12s status=%-18s r2=%.3f\n", k, m.Status, m.RSquared)
		}
	}
}
