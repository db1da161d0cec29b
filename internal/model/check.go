package model

import "time"

// CheckStatus represents the state of a drift check run.
type CheckStatus string

const (
	CheckStatusQueued   CheckStatus = "queued"
	CheckStatusRunning  CheckStatus = "running"
	CheckStatusComplete CheckStatus = "complete"
	CheckStatusFailed   CheckStatus = "failed"
)

// CheckRun is one scheduled drift check: the anchor date it ran against and
// everything it produced. Scores, Concept, and Verdict are filled in as the
// check progresses and are read-only afterward.
type CheckRun struct {
	ID         string              `json:"id"`
	AnchorDate time.Time           `json:"anchor_date"`
	Status     CheckStatus         `json:"status"`
	Scores     []DriftScore        `json:"scores,omitempty"`
	Concept    *ConceptDriftRecord `json:"concept,omitempty"`
	Verdict    *DriftVerdict       `json:"verdict,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}
