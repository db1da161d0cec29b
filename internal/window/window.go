// Package window builds leakage-safe labeled observation windows from a
// per-entity event log. Each event anchors one window: features are computed
// from the observation interval starting at the event, the label from the
// disjoint prediction interval that follows it.
package window

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/driftwatch/internal/model"
)

// Config holds the window spans and labeling options.
type Config struct {
	// ObservationDays is the feature window span in days.
	ObservationDays int `yaml:"observation_days" mapstructure:"observation_days"`
	// PredictionDays is the label window span in days.
	PredictionDays int `yaml:"prediction_days" mapstructure:"prediction_days"`
	// TargetEvent is the event type that makes a label positive.
	TargetEvent string `yaml:"target_event" mapstructure:"target_event"`
	// DropPartial excludes windows whose prediction window extends past the
	// last event in the log. Default is to keep them, flagged PartialLabel,
	// with whatever label evidence exists.
	DropPartial bool `yaml:"drop_partial" mapstructure:"drop_partial"`
	// SkipEmpty makes an empty entity log a no-op instead of an error.
	SkipEmpty bool `yaml:"skip_empty" mapstructure:"skip_empty"`
}

// DefaultConfig returns the production spans: 10 observation days, 3
// prediction days, purchase as the target event.
func DefaultConfig() Config {
	return Config{ObservationDays: 10, PredictionDays: 3, TargetEvent: "purchase"}
}

// Validate rejects malformed spans. Span errors are configuration errors and
// abort the run; they are never degraded.
func (c *Config) Validate() error {
	if c.ObservationDays <= 0 {
		return eris.Errorf("window: observation span must be positive, got %d", c.ObservationDays)
	}
	if c.PredictionDays <= 0 {
		return eris.Errorf("window: prediction span must be positive, got %d", c.PredictionDays)
	}
	if c.TargetEvent == "" {
		c.TargetEvent = "purchase"
	}
	return nil
}

// ErrEmptyLog means the entity group has zero events. Callers may opt out
// via Config.SkipEmpty.
var ErrEmptyLog = eris.New("window: entity has no events")

// Builder converts event logs into observation windows. Stateless after
// construction; safe for concurrent use.
type Builder struct {
	cfg Config
}

// New validates the config and returns a Builder.
func New(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg}, nil
}

// ForEntity returns a lazy sequence of windows for a single entity's events,
// one per event. The sequence is restartable: iterating it twice yields
// identical output. The log horizon is the entity's last event timestamp.
func (b *Builder) ForEntity(events []model.EventRecord) (iter.Seq[model.ObservationWindow], error) {
	if len(events) == 0 {
		if b.cfg.SkipEmpty {
			return func(yield func(model.ObservationWindow) bool) {}, nil
		}
		return nil, ErrEmptyLog
	}
	sorted := sortByTime(events)
	return b.windows(sorted, horizon(sorted)), nil
}

// Build groups a mixed log by entity and returns every window, entities in
// lexicographic order. The log horizon is global: the latest event timestamp
// anywhere in the log.
func (b *Builder) Build(log []model.EventRecord) ([]model.ObservationWindow, error) {
	if len(log) == 0 {
		if b.cfg.SkipEmpty {
			return nil, nil
		}
		return nil, ErrEmptyLog
	}

	groups := make(map[string][]model.EventRecord)
	for _, ev := range log {
		groups[ev.EntityID] = append(groups[ev.EntityID], ev)
	}

	entities := make([]string, 0, len(groups))
	for id := range groups {
		entities = append(entities, id)
	}
	sort.Strings(entities)

	end := horizon(log)

	var out []model.ObservationWindow
	for _, id := range entities {
		for w := range b.windows(sortByTime(groups[id]), end) {
			out = append(out, w)
		}
	}
	return out, nil
}

// windows yields one window per event over an already sorted entity log.
func (b *Builder) windows(sorted []model.EventRecord, logEnd time.Time) iter.Seq[model.ObservationWindow] {
	obsSpan := days(b.cfg.ObservationDays)
	predSpan := days(b.cfg.PredictionDays)

	return func(yield func(model.ObservationWindow) bool) {
		for _, anchor := range sorted {
			obsStart := anchor.Timestamp
			obsEnd := obsStart.Add(obsSpan)
			predEnd := obsEnd.Add(predSpan)

			w := model.ObservationWindow{
				EntityID:         anchor.EntityID,
				ObservationStart: obsStart,
				ObservationEnd:   obsEnd,
				PredictionEnd:    predEnd,
				Features:         snapshot(sorted, obsStart, obsEnd),
				PartialLabel:     predEnd.After(logEnd),
			}
			if b.cfg.DropPartial && w.PartialLabel {
				continue
			}

			for _, ev := range sorted {
				if ev.Type == b.cfg.TargetEvent && inWindow(ev.Timestamp, obsEnd, predEnd) {
					w.Label = 1
					break
				}
			}

			if !yield(w) {
				return
			}
		}
	}
}

// snapshot aggregates observation-window events into the feature mapping:
// a count per event type plus the total event count.
func snapshot(events []model.EventRecord, start, end time.Time) map[string]float64 {
	features := map[string]float64{"total_events": 0}
	for _, ev := range events {
		if !inWindow(ev.Timestamp, start, end) {
			continue
		}
		features[fmt.Sprintf("%s_count", ev.Type)]++
		features["total_events"]++
	}
	return features
}

// inWindow reports whether ts falls in the half-open interval [start, end).
func inWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && ts.Before(end)
}

// sortByTime returns a copy ordered by timestamp, preserving original log
// order on ties so recomputation is deterministic.
func sortByTime(events []model.EventRecord) []model.EventRecord {
	sorted := append([]model.EventRecord(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func horizon(events []model.EventRecord) time.Time {
	var end time.Time
	for _, ev := range events {
		if ev.Timestamp.After(end) {
			end = ev.Timestamp
		}
	}
	return end
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
