package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
)

// FitStatus tags how a model was produced, so callers and tests can tell a
// genuinely fitted model from a degenerate fallback, and why the fallback
// fired.
type FitStatus string

const (
	// FitOK means the normal equations were solved and the coefficients are live.
	FitOK FitStatus = "fitted"
	// FitInsufficientData means fewer than three valid rows were available;
	// the model predicts the last observed target value flat.
	FitInsufficientData FitStatus = "insufficient_data"
	// FitSolveFailed means elimination hit a near-singular pivot or produced
	// a non-finite intermediate; the model predicts the target mean flat.
	FitSolveFailed FitStatus = "solve_failed"
)

// Model is one per-metric regression, fitted or degenerate. Immutable after
// Train; safe to share across goroutines.
type Model struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	RSquared     float64   `json:"r_squared"`
	FeatureMeans []float64 `json:"feature_means"`
	FeatureStds  []float64 `json:"feature_stds"`
	Status       FitStatus `json:"status"`
}

// legacyFeatures is the feature count of pre-cyclical-encoding models:
// [elapsedHours, temperature, humidity, rainfall, windSpeed].
const legacyFeatures = 5

// Train fits a ridge-regularized least-squares model for one target metric.
// It never fails: insufficient data and numeric pathology both resolve to a
// tagged degenerate model instead of an error.
//
// Readings may arrive in any order; they are sorted by timestamp and elapsed
// hours are measured from the earliest timestamp in the set. Rows containing
// any non-finite feature or target are dropped whole, never imputed.
// Outliers are capped in the target column only: features come straight off
// calibrated instruments, while targets carry the erratic spikes.
func Train(readings []domain.Reading, target domain.MetricKey) Model {
	if len(readings) < minReadings {
		return degenerateModel(lastValidTarget(readings, target), FitInsufficientData)
	}

	sorted := append([]domain.Reading(nil), readings...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	origin := sorted[0].Timestamp

	rows := make([][]float64, 0, len(sorted))
	targets := make([]float64, 0, len(sorted))
	for _, r := range sorted {
		row := buildFeatureRow(r, r.Timestamp.Sub(origin).Hours())
		y := r.Value(target)
		if !finiteRow(row) || !finite(y) {
			continue
		}
		rows = append(rows, row)
		targets = append(targets, y)
	}
	if len(rows) < minReadings {
		return degenerateModel(lastValidTarget(sorted, target), FitInsufficientData)
	}

	flags := detectOutliers(targets)
	targets = capOutliers(targets, flags, medianOf(targets))

	featureStats := make([]stats, numFeatures)
	col := make([]float64, len(rows))
	for j := 0; j < numFeatures; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		featureStats[j] = calculateStats(col)
	}
	targetStats := calculateStats(targets)

	normRows := make([][]float64, len(rows))
	for i, row := range rows {
		nr := make([]float64, numFeatures)
		for j, v := range row {
			nr[j] = normalize(v, featureStats[j])
		}
		normRows[i] = nr
	}
	normTargets := make([]float64, len(targets))
	for i, y := range targets {
		normTargets[i] = normalize(y, targetStats)
	}

	// Normal equations (XᵗX + λI)β = Xᵗy. The ridge term λ grows as the
	// sample count shrinks, pulling thin-data fits toward the flat fallback.
	xtx := make([][]float64, numFeatures)
	for j := range xtx {
		xtx[j] = make([]float64, numFeatures)
	}
	xty := make([]float64, numFeatures)
	for i, row := range normRows {
		for j := 0; j < numFeatures; j++ {
			for k := 0; k < numFeatures; k++ {
				xtx[j][k] += row[j] * row[k]
			}
			xty[j] += row[j] * normTargets[i]
		}
	}
	lambda := math.Max(0.0001, 0.001/math.Sqrt(float64(len(normRows))))
	for j := 0; j < numFeatures; j++ {
		xtx[j][j] += lambda
	}

	beta, ok := solveLinearSystem(xtx, xty)
	if !ok {
		return degenerateModel(targetStats.mean, FitSolveFailed)
	}

	// Denormalize back to the original scale.
	coefs := make([]float64, numFeatures)
	for j := 0; j < numFeatures; j++ {
		if featureStats[j].std <= 0 || targetStats.std <= 0 {
			continue
		}
		coefs[j] = beta[j] * targetStats.std / featureStats[j].std
	}
	intercept := targetStats.mean
	for j := 0; j < numFeatures; j++ {
		intercept -= coefs[j] * featureStats[j].mean
	}

	// R² on the original scale against the capped targets.
	var ssRes, ssTot float64
	for i, row := range rows {
		pred := intercept
		for j, c := range coefs {
			pred += c * row[j]
		}
		d := targets[i] - pred
		ssRes += d * d
		m := targets[i] - targetStats.mean
		ssTot += m * m
	}
	rSquared := 0.0
	if ssTot > 0 {
		rSquared = clamp01(1 - ssRes/ssTot)
	}

	means := make([]float64, numFeatures)
	stds := make([]float64, numFeatures)
	for j, s := range featureStats {
		means[j], stds[j] = s.mean, s.std
	}

	return Model{
		Coefficients: coefs,
		Intercept:    intercept,
		RSquared:     rSquared,
		FeatureMeans: means,
		FeatureStds:  stds,
		Status:       FitOK,
	}
}

// Predict evaluates the model at a timestamp, with elapsed hours measured
// from the same origin used during training and the current metric values as
// the concurrent-weather features. Invalid inputs, a coefficient-count
// mismatch from an older serialized model, and non-finite arithmetic all
// degrade to the intercept; prediction never fails.
func (m Model) Predict(ts time.Time, elapsedHours float64, current domain.Metrics) float64 {
	row := buildFeatureRow(domain.Reading{Timestamp: ts, Metrics: current}, elapsedHours)
	if !finiteRow(row) {
		return m.Intercept
	}

	coefs := m.Coefficients
	if len(coefs) != len(row) {
		if len(coefs) < legacyFeatures {
			return m.Intercept
		}
		row = []float64{row[0], row[5], row[6], row[7], row[8]}
		coefs = coefs[:legacyFeatures]
	}

	result := m.Intercept
	for i, c := range coefs {
		result += c * row[i]
	}
	if !finite(result) {
		return m.Intercept
	}
	return result
}

// degenerateModel is the graceful-degradation fallback: zero coefficients, a
// flat intercept, zero explanatory power. Thin or broken data is a normal
// operating condition for a freshly deployed station, never an error.
func degenerateModel(intercept float64, status FitStatus) Model {
	stds := make([]float64, numFeatures)
	for i := range stds {
		stds[i] = 1
	}
	return Model{
		Coefficients: make([]float64, numFeatures),
		Intercept:    intercept,
		RSquared:     0,
		FeatureMeans: make([]float64, numFeatures),
		FeatureStds:  stds,
		Status:       status,
	}
}

// lastValidTarget scans for the most recent finite target value, defaulting
// to 0 when none exists.
func lastValidTarget(readings []domain.Reading, target domain.MetricKey) float64 {
	var value float64
	var at time.Time
	found := false
	for _, r := range readings {
		v := r.Value(target)
		if !finite(v) {
			continue
		}
		if !found || r.Timestamp.After(at) {
			value, at, found = v, r.Timestamp, true
		}
	}
	if !found {
		return 0
	}
	return value
}

// clamp01 forces v into [0,1], mapping NaN to 0.
func clamp01(v float64) float64 {
	if !finite(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// nearSingular is the pivot magnitude below which elimination gives up and
// training falls back to a degenerate model.
const nearSingular = 1e-10

// solveLinearSystem solves Ax = b by Gaussian elimination with partial
// pivoting, mutating both arguments. The boolean result is false when the
// system is near-singular or any intermediate goes non-finite; callers treat
// that as a solve failure, not an error.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)

	for i := 0; i < n; i++ {
		// Select the row with the largest absolute value in the pivot column.
		pivot := i
		for r := i + 1; r < n; r++ {
			if math.Abs(a[r][i]) > math.Abs(a[pivot][i]) {
				pivot = r
			}
		}
		a[i], a[pivot] = a[pivot], a[i]
		b[i], b[pivot] = b[pivot], b[i]

		if math.Abs(a[i][i]) < nearSingular {
			return nil, false
		}

		for r := i + 1; r < n; r++ {
			factor := a[r][i] / a[i][i]
			if !finite(factor) {
				return nil, false
			}
			for c := i; c < n; c++ {
				a[r][c] -= factor * a[i][c]
			}
			b[r] -= factor * b[i]
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for c := i + 1; c < n; c++ {
			sum -= a[i][c] * x[c]
		}
		x[i] = sum / a[i][i]
		if !finite(x[i]) {
			return nil, false
		}
	}
	return x, true
}
