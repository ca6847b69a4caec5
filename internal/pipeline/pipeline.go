package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/station-forecast-service/internal/config"
	"github.com/couchcryptid/station-forecast-service/internal/domain"
	"github.com/couchcryptid/station-forecast-service/internal/forecast"
	"github.com/couchcryptid/station-forecast-service/internal/observability"
	"github.com/couchcryptid/station-forecast-service/internal/store"
)

// BatchExtractor reads up to batchSize raw readings from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawReading, error)
}

// SnapshotPublisher writes forecast snapshots to the destination topic.
type SnapshotPublisher interface {
	PublishBatch(ctx context.Context, snaps []domain.ForecastSnapshot) error
}

// Broadcaster pushes a snapshot to connected live subscribers.
type Broadcaster interface {
	Broadcast(snap domain.ForecastSnapshot)
}

// Pipeline orchestrates the ingest-store-recompute loop: readings come off
// Kafka into the station store, and fresh forecasts flow out to the forecast
// topic, the websocket hub, and the snapshot cache.
type Pipeline struct {
	extractor   BatchExtractor
	publisher   SnapshotPublisher
	broadcaster Broadcaster
	store       *store.ReadingStore
	cache       *store.SnapshotCache
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock

	// limiter coalesces bursts of readings into one retrain per window.
	limiter *rate.Limiter

	horizon           domain.Horizon
	batchSize         int
	recomputeInterval time.Duration
	ready             atomic.Bool

	mu    sync.Mutex
	dirty map[string]struct{}
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, pub SnapshotPublisher, b Broadcaster, st *store.ReadingStore, cache *store.SnapshotCache, logger *slog.Logger, metrics *observability.Metrics, cfg *config.Config) *Pipeline {
	return &Pipeline{
		extractor:         e,
		publisher:         pub,
		broadcaster:       b,
		store:             st,
		cache:             cache,
		logger:            logger,
		metrics:           metrics,
		clock:             clockwork.NewRealClock(),
		limiter:           rate.NewLimiter(rate.Every(cfg.RetrainMinInterval), 1),
		horizon:           cfg.DefaultHorizon,
		batchSize:         cfg.IngestBatchSize,
		recomputeInterval: cfg.RecomputeInterval,
		dirty:             make(map[string]struct{}),
	}
}

// CheckReadiness returns nil if the pipeline has ingested at least one reading,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not ingested any readings yet")
	}
	return nil
}

// Run executes the ingest loop until the context is cancelled. A background
// ticker additionally recomputes every station at the configured interval, so
// forecasts age out even when the readings topic goes quiet.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"batch_size", p.batchSize,
		"horizon", p.horizon,
		"recompute_interval", p.recomputeInterval,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.recomputeLoop(ctx)
	}()
	defer wg.Wait()

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during Kafka outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-store-recompute cycle. Returns false if the
// pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.IngestBatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	touched := p.ingestBatch(ctx, rawBatch)
	if len(touched) == 0 {
		return true
	}

	p.ready.Store(true)
	p.markDirty(touched)

	if p.limiter.Allow() {
		p.recomputeStations(ctx, p.drainDirty())
	}
	return true
}

// ingestBatch parses and stores a batch of raw readings, committing offsets as
// it goes. Malformed payloads are logged, counted, and still committed so they
// are not redelivered. Returns the stations that received new readings.
func (p *Pipeline) ingestBatch(ctx context.Context, rawBatch []domain.RawReading) []string {
	touched := make(map[string]struct{})

	for _, raw := range rawBatch {
		stationID, reading, err := domain.ParseRawReading(raw)
		if err != nil {
			p.logger.Warn("dropping unparseable reading",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.IngestErrors.Inc()
			p.commitOffset(ctx, raw)
			continue
		}

		p.store.Append(stationID, reading)
		p.metrics.ReadingsIngested.Inc()
		p.commitOffset(ctx, raw)
		touched[stationID] = struct{}{}
	}

	// New data invalidates whatever forecasts were cached for these stations.
	ids := make([]string, 0, len(touched))
	for id := range touched {
		p.cache.InvalidateStation(id)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// recomputeLoop forces a full recompute of every known station at the
// configured interval.
func (p *Pipeline) recomputeLoop(ctx context.Context) {
	ticker := p.clock.NewTicker(p.recomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.drainDirty()
			p.recomputeStations(ctx, p.store.Stations())
		}
	}
}

// recomputeStations retrains and republishes forecasts for the given stations.
// Stations without enough history are skipped quietly; they will produce a
// forecast once more readings arrive.
func (p *Pipeline) recomputeStations(ctx context.Context, stationIDs []string) {
	if len(stationIDs) == 0 {
		return
	}

	snaps := make([]domain.ForecastSnapshot, 0, len(stationIDs))
	for _, id := range stationIDs {
		if ctx.Err() != nil {
			return
		}
		snap, err := p.computeSnapshot(id, p.horizon)
		if err != nil {
			if errors.Is(err, forecast.ErrNoData) || errors.Is(err, forecast.ErrInsufficientData) {
				p.metrics.ForecastsComputed.WithLabelValues("insufficient_data").Inc()
				p.logger.Debug("skipping forecast", "station", id, "reason", err)
			} else {
				p.metrics.ForecastsComputed.WithLabelValues("error").Inc()
				p.logger.Warn("forecast failed", "station", id, "error", err)
			}
			continue
		}
		snaps = append(snaps, snap)
	}

	if len(snaps) == 0 {
		return
	}

	if err := p.publisher.PublishBatch(ctx, snaps); err != nil {
		p.logger.Error("publish snapshots failed", "error", err, "count", len(snaps))
	} else {
		p.metrics.SnapshotsPublished.Add(float64(len(snaps)))
	}

	for _, snap := range snaps {
		p.broadcaster.Broadcast(snap)
	}
}

// Snapshot returns the station's forecast for the horizon, serving from the
// snapshot cache when the entry is fresh and training on demand otherwise.
// The HTTP API calls this for horizons the pipeline does not push.
func (p *Pipeline) Snapshot(stationID string, horizon domain.Horizon) (domain.ForecastSnapshot, error) {
	if snap, ok := p.cache.Get(stationID, horizon); ok {
		p.metrics.SnapshotCache.WithLabelValues("hit").Inc()
		return snap, nil
	}
	p.metrics.SnapshotCache.WithLabelValues("miss").Inc()
	return p.computeSnapshot(stationID, horizon)
}

// computeSnapshot trains on the station's stored history, records fit metrics,
// and caches the result.
func (p *Pipeline) computeSnapshot(stationID string, horizon domain.Horizon) (domain.ForecastSnapshot, error) {
	readings := p.store.All(stationID)

	start := time.Now()
	res, err := forecast.Run(forecast.Request{Readings: readings, Horizon: horizon})
	if err != nil {
		return domain.ForecastSnapshot{}, err
	}

	p.metrics.ForecastDuration.Observe(time.Since(start).Seconds())
	p.metrics.ForecastsComputed.WithLabelValues("ok").Inc()
	p.metrics.FitQuality.WithLabelValues(stationID).Set(res.FitQuality)
	p.countFallbacks(res)

	snap := forecast.Snapshot(stationID, horizon, res)
	p.cache.Put(snap)
	return snap, nil
}

// countFallbacks bumps the fallback counter for each per-metric model that
// could not be fitted.
func (p *Pipeline) countFallbacks(res forecast.Result) {
	for _, k := range domain.MetricKeys {
		status := res.Models.ByKey(k).Status
		switch status {
		case forecast.FitInsufficientData, forecast.FitSolveFailed:
			p.metrics.TrainFallbacks.WithLabelValues(string(status)).Inc()
		}
	}
}

func (p *Pipeline) markDirty(stationIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range stationIDs {
		p.dirty[id] = struct{}{}
	}
}

func (p *Pipeline) drainDirty() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	clear(p.dirty)
	sort.Strings(ids)
	return ids
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawReading) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
