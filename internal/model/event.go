package model

import "time"

// EventRecord is one row of the external event log. The log is the source of
// truth and is never mutated; the window builder groups records per entity
// and orders them by timestamp, preserving log order on ties.
type EventRecord struct {
	EntityID  string            `json:"entity_id"`
	Type      string            `json:"event_type"`
	Timestamp time.Time         `json:"event_timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// ObservationWindow is a leakage-safe labeled sample derived from the event
// log. Features come from [ObservationStart, ObservationEnd); the label from
// [ObservationEnd, PredictionEnd). The two intervals never overlap, so the
// label can never leak into the feature snapshot.
type ObservationWindow struct {
	EntityID         string             `json:"entity_id"`
	ObservationStart time.Time          `json:"observation_start"`
	ObservationEnd   time.Time          `json:"observation_end"`
	PredictionEnd    time.Time          `json:"prediction_end"`
	Features         map[string]float64 `json:"features"`
	Label            int                `json:"label"`

	// PartialLabel marks windows whose prediction window extends past the
	// last event in the log. The label reflects whatever evidence exists;
	// callers decide whether to keep or drop these.
	PartialLabel bool `json:"partial_label,omitempty"`
}

// ScoredEntity pairs an entity with a model prediction score.
type ScoredEntity struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// MetricPoint is one day of the externally persisted prediction-quality
// series (e.g. recall@K per day). Value is nil on days with no evaluation.
type MetricPoint struct {
	Date  time.Time `json:"date"`
	Value *float64  `json:"value"`
}
