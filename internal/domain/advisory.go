package domain

// AdvisoryLevel is the color-coded rainfall warning derived from a forecast.
type AdvisoryLevel string

const (
	AdvisoryNone   AdvisoryLevel = "none"
	AdvisoryYellow AdvisoryLevel = "yellow"
	AdvisoryOrange AdvisoryLevel = "orange"
	AdvisoryRed    AdvisoryLevel = "red"
)

// DeriveAdvisory maps peak forecast rainfall to a warning level using the
// PAGASA-style hourly rainfall bands:
//   - yellow: ≥7.5mm, flooding possible in low-lying areas
//   - orange: ≥15mm, flooding threatening, prepare for evacuation
//   - red:    ≥30mm, serious flooding expected, evacuate
//
// Below 7.5mm no advisory is issued. The thresholds are a project-specific
// simplification for user-facing warnings, not an official product.
func DeriveAdvisory(maxRainfall float64) AdvisoryLevel {
	switch {
	case maxRainfall >= 30:
		return AdvisoryRed
	case maxRainfall >= 15:
		return AdvisoryOrange
	case maxRainfall >= 7.5:
		return AdvisoryYellow
	default:
		return AdvisoryNone
	}
}
