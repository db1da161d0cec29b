package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/driftwatch/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateCheck(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	anchor := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO checks`).
		WithArgs(pgxmock.AnyArg(), anchor, "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	check, err := s.CreateCheck(context.Background(), anchor)
	require.NoError(t, err)
	assert.NotEmpty(t, check.ID)
	assert.Equal(t, model.CheckStatusQueued, check.Status)
	assert.Equal(t, anchor, check.AnchorDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCheckStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE checks SET status`).
		WithArgs("running", pgxmock.AnyArg(), "missing-check").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateCheckStatus(context.Background(), "missing-check", model.CheckStatusRunning)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteCheck(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE checks SET status = \$1, scores = \$2`).
		WithArgs("complete", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "check-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	check := &model.CheckRun{
		ID:     "check-1",
		Scores: []model.DriftScore{{Feature: "purchase_count", StabilityIndex: 0.31, Buckets: 10}},
		Verdict: &model.DriftVerdict{
			Severity: model.SeverityStrong,
			Decision: model.DecisionRetrain,
		},
	}
	require.NoError(t, s.CompleteCheck(context.Background(), check))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCheck(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	anchor := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "anchor_date", "status", "scores", "concept", "verdict", "error", "created_at", "updated_at"}).
		AddRow("check-1", anchor, "complete",
			[]byte(`[{"feature":"total_events","stability_index":0.05,"buckets":10}]`),
			[]byte(`null`),
			[]byte(`{"severity":"NONE","decision":"SKIP"}`),
			nil, now, now)

	mock.ExpectQuery(`SELECT id, anchor_date, status, scores, concept, verdict, error, created_at, updated_at FROM checks WHERE id = \$1`).
		WithArgs("check-1").
		WillReturnRows(rows)

	check, err := s.GetCheck(context.Background(), "check-1")
	require.NoError(t, err)
	assert.Equal(t, model.CheckStatusComplete, check.Status)
	require.Len(t, check.Scores, 1)
	assert.Equal(t, "total_events", check.Scores[0].Feature)
	assert.Nil(t, check.Concept)
	require.NotNil(t, check.Verdict)
	assert.Equal(t, model.DecisionSkip, check.Verdict.Decision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCheck_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, anchor_date, status`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetCheck(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get check")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MetricAt_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT date, value FROM metric_series WHERE metric = \$1 AND date = \$2`).
		WithArgs("recall_at_k", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	p, err := s.MetricAt(context.Background(), "recall_at_k", time.Now())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MetricBefore(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	anchor := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	v := 0.62
	rows := pgxmock.NewRows([]string{"date", "value"}).
		AddRow(anchor.AddDate(0, 0, -1), &v).
		AddRow(anchor.AddDate(0, 0, -2), (*float64)(nil))

	mock.ExpectQuery(`SELECT date, value FROM metric_series WHERE metric = \$1 AND date < \$2`).
		WithArgs("recall_at_k", anchor, 30).
		WillReturnRows(rows)

	points, err := s.MetricBefore(context.Background(), "recall_at_k", anchor, 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.NotNil(t, points[0].Value)
	assert.InDelta(t, 0.62, *points[0].Value, 1e-12)
	assert.Nil(t, points[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendEvents_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"events"},
		[]string{"entity_id", "event_type", "event_timestamp", "payload"}).
		WillReturnResult(2)

	events := []model.EventRecord{
		{EntityID: "u1", Type: "view_item", Timestamp: time.Now()},
		{EntityID: "u1", Type: "purchase", Timestamp: time.Now(), Payload: map[string]string{"sku": "A-1"}},
	}
	n, err := s.AppendEvents(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestImportance(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"feature", "importance"}).
		AddRow("purchase_count", 0.8).
		AddRow("total_events", 0.4)

	mock.ExpectQuery(`SELECT feature, importance FROM feature_importance`).
		WillReturnRows(rows)

	features, err := s.LatestImportance(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "purchase_count", features[0].Feature)
	assert.NoError(t, mock.ExpectationsWereMet())
}
