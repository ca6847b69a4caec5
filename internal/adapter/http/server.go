package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/station-forecast-service/internal/domain"
	"github.com/couchcryptid/station-forecast-service/internal/forecast"
)

// defaultReadingsLimit caps /readings responses when no limit is given.
const defaultReadingsLimit = 100

// ForecastService is the pipeline surface the API serves from.
type ForecastService interface {
	Snapshot(stationID string, horizon domain.Horizon) (domain.ForecastSnapshot, error)
	CheckReadiness(ctx context.Context) error
}

// StationDirectory exposes the stored per-station readings.
type StationDirectory interface {
	Stations() []string
	Recent(stationID string, count int) []domain.Reading
	Len(stationID string) int
}

// Server exposes the station API plus health, readiness, and metrics routes.
type Server struct {
	httpServer     *http.Server
	svc            ForecastService
	stations       StationDirectory
	defaultHorizon domain.Horizon
	logger         *slog.Logger
}

// NewServer creates the HTTP server. The ws handler, when non-nil, is mounted
// at GET /ws for live snapshot subscriptions.
func NewServer(addr string, defaultHorizon domain.Horizon, svc ForecastService, stations StationDirectory, ws http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		svc:            svc,
		stations:       stations,
		defaultHorizon: defaultHorizon,
		logger:         logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/stations", s.handleStations)
	mux.HandleFunc("GET /api/v1/stations/{id}/readings", s.handleReadings)
	mux.HandleFunc("GET /api/v1/stations/{id}/forecast", s.handleForecast)
	mux.HandleFunc("GET /api/v1/stations/{id}/advisory", s.handleAdvisory)

	if ws != nil {
		mux.Handle("GET /ws", ws)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.svc.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type stationSummary struct {
	StationID string `json:"station_id"`
	Readings  int    `json:"readings"`
}

func (s *Server) handleStations(w http.ResponseWriter, _ *http.Request) {
	ids := s.stations.Stations()
	out := make([]stationSummary, len(ids))
	for i, id := range ids {
		out[i] = stationSummary{StationID: id, Readings: s.stations.Len(id)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": out})
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.stations.Len(id) == 0 {
		writeError(w, http.StatusNotFound, "unknown station")
		return
	}

	limit := defaultReadingsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	readings := s.stations.Recent(id, limit)
	out := make([]readingDTO, len(readings))
	for i, rd := range readings {
		out[i] = toReadingDTO(rd)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"station_id": id,
		"readings":   out,
	})
}

// readingDTO is the wire form of a stored reading. Metric fields are pointers
// so a missing observation goes back out as null, the same way it came in;
// the JSON encoder cannot represent the NaN the store uses internally.
type readingDTO struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	Rainfall    *float64  `json:"rainfall"`
	WindSpeed   *float64  `json:"wind_speed"`
}

func toReadingDTO(r domain.Reading) readingDTO {
	return readingDTO{
		Timestamp:   r.Timestamp,
		Temperature: finitePtr(r.Temperature),
		Humidity:    finitePtr(r.Humidity),
		Rainfall:    finitePtr(r.Rainfall),
		WindSpeed:   finitePtr(r.WindSpeed),
	}
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	horizon, ok := s.resolveHorizon(w, r)
	if !ok {
		return
	}

	snap, err := s.svc.Snapshot(id, horizon)
	if err != nil {
		s.writeForecastError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAdvisory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	horizon, ok := s.resolveHorizon(w, r)
	if !ok {
		return
	}

	snap, err := s.svc.Snapshot(id, horizon)
	if err != nil {
		s.writeForecastError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"station_id":   snap.StationID,
		"horizon":      snap.Horizon,
		"advisory":     snap.Advisory,
		"max_rainfall": snap.MaxRainfall(),
		"generated_at": snap.GeneratedAt,
	})
}

// resolveHorizon reads the optional horizon query parameter. On a bad value it
// writes a 400 response and reports false.
func (s *Server) resolveHorizon(w http.ResponseWriter, r *http.Request) (domain.Horizon, bool) {
	raw := r.URL.Query().Get("horizon")
	if raw == "" {
		return s.defaultHorizon, true
	}
	horizon, err := domain.ParseHorizon(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return horizon, true
}

// writeForecastError maps forecast sentinel errors onto API statuses: a
// station we have never heard from is a 404, one that is still warming up is
// a 422 the client can retry later.
func (s *Server) writeForecastError(w http.ResponseWriter, stationID string, err error) {
	switch {
	case errors.Is(err, forecast.ErrNoData):
		writeError(w, http.StatusNotFound, "unknown station")
	case errors.Is(err, forecast.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_data")
	default:
		s.logger.Error("forecast request failed", "station", stationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}
