// Package ingest loads external inputs into the store: the append-only
// event log and the daily prediction-quality series. Writes go through in
// rate-limited batches so a large backfill cannot starve the database of
// connections the live check path needs.
package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/driftwatch/internal/model"
)

// EventSink accepts event-log batches. Satisfied by store.Store.
type EventSink interface {
	AppendEvents(ctx context.Context, events []model.EventRecord) (int64, error)
}

// MetricSink accepts metric-series batches. Satisfied by store.Store.
type MetricSink interface {
	UpsertMetricPoints(ctx context.Context, metric string, points []model.MetricPoint) (int64, error)
}

// Config tunes batch sizing and write throughput.
type Config struct {
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
	BatchesPerSec  float64 `yaml:"batches_per_sec" mapstructure:"batches_per_sec"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
}

// DefaultConfig returns the ingest defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 500, BatchesPerSec: 10, Burst: 2}
}

// Validate fills zero values with defaults and rejects nonsense.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.BatchesPerSec == 0 {
		c.BatchesPerSec = def.BatchesPerSec
	}
	if c.Burst == 0 {
		c.Burst = def.Burst
	}
	if c.BatchSize < 0 {
		return eris.Errorf("ingest: batch size must be positive, got %d", c.BatchSize)
	}
	if c.BatchesPerSec < 0 {
		return eris.Errorf("ingest: batches per second must be positive, got %g", c.BatchesPerSec)
	}
	return nil
}

// Loader writes parsed inputs to the store in batches.
type Loader struct {
	cfg     Config
	limiter *rate.Limiter
}

// NewLoader builds a Loader from a validated config.
func NewLoader(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.BatchesPerSec), cfg.Burst),
	}, nil
}

// LoadEvents appends events to the log in batches, preserving input order.
// Returns the total number of rows written.
func (l *Loader) LoadEvents(ctx context.Context, sink EventSink, events []model.EventRecord) (int64, error) {
	var total int64
	for start := 0; start < len(events); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(events))

		if err := l.limiter.Wait(ctx); err != nil {
			return total, eris.Wrap(err, "ingest: rate limit wait")
		}
		n, err := sink.AppendEvents(ctx, events[start:end])
		if err != nil {
			return total, eris.Wrapf(err, "ingest: append events batch at %d", start)
		}
		total += n

		zap.L().Debug("ingested event batch",
			zap.Int("offset", start),
			zap.Int64("rows", n))
	}
	zap.L().Info("event ingest complete", zap.Int64("rows", total))
	return total, nil
}

// LoadMetric upserts one metric's daily points in batches.
func (l *Loader) LoadMetric(ctx context.Context, sink MetricSink, metric string, points []model.MetricPoint) (int64, error) {
	if metric == "" {
		return 0, eris.New("ingest: metric name is required")
	}

	var total int64
	for start := 0; start < len(points); start += l.cfg.BatchSize {
		end := min(start+l.cfg.BatchSize, len(points))

		if err := l.limiter.Wait(ctx); err != nil {
			return total, eris.Wrap(err, "ingest: rate limit wait")
		}
		n, err := sink.UpsertMetricPoints(ctx, metric, points[start:end])
		if err != nil {
			return total, eris.Wrapf(err, "ingest: upsert metric batch at %d", start)
		}
		total += n
	}
	zap.L().Info("metric ingest complete",
		zap.String("metric", metric),
		zap.Int64("rows", total))
	return total, nil
}
