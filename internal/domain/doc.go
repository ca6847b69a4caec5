// Package domain models weather-station readings and forecast output.
//
// # Data Source
//
// Readings originate from field weather stations deployed at monitored sites
// (evacuation centers, river gauges, coastal outposts). Each station's
// collector samples its sensors on a fixed cadence and publishes one flat
// JSON document per sample to the Kafka readings topic, keyed by station ID.
// The collector sets the Kafka message timestamp to the sample time, so a
// missing "timestamp" field in the payload still yields a usable reading.
//
// # Units and Conventions
//
// All metrics are instrument-native units:
//
//	temperature  degrees Celsius
//	humidity     relative humidity, percent
//	rainfall     accumulated millimeters over the sampling interval
//	wind_speed   kilometers per hour
//
// Missing metric fields are represented internally as NaN, never as zero:
// a rain gauge that reported nothing is not a rain gauge that measured 0mm.
// The forecasting core drops any row containing a NaN rather than imputing.
//
// # Physical Bounds
//
// Every forecast value is clamped to a physically plausible range before it
// leaves the engine:
//
//	temperature  −50..60 °C    (recorded terrestrial extremes with margin)
//	humidity     0..100 %      (definition of relative humidity)
//	rainfall     0..1000 mm    (above the highest daily accumulations on record)
//	wind_speed   0..200 km/h   (above sustained typhoon-strength winds)
//
// Values outside these ranges are sensor glitches or regression extrapolation
// artifacts, never weather. Clamping at the bound also keeps a runaway
// forecast step from poisoning subsequent autoregressive steps.
//
// # Rainfall Advisory
//
// The advisory classifier maps peak forecast rainfall to a four-level
// color-coded scale modeled on PAGASA heavy-rainfall warnings:
//
//	none <7.5mm | yellow ≥7.5mm | orange ≥15mm | red ≥30mm
//
// The scale is a project-specific simplification for user-facing warnings.
// See [DeriveAdvisory].
package domain
