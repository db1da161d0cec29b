package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/driftwatch/internal/db"
	"github.com/sells-group/driftwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations (the per-check path).
var preparedStatements = map[string]string{
	"insert_check":        `INSERT INTO checks (id, anchor_date, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_check_status": `UPDATE checks SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_check":           `SELECT id, anchor_date, status, scores, concept, verdict, error, created_at, updated_at FROM checks WHERE id = $1`,
	"metric_at":           `SELECT date, value FROM metric_series WHERE metric = $1 AND date = $2`,
	"metric_before":       `SELECT date, value FROM metric_series WHERE metric = $1 AND date < $2 ORDER BY date DESC LIMIT $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g. ad-hoc backfills).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checks (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	anchor_date TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	scores      JSONB,
	concept     JSONB,
	verdict     JSONB,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	seq             BIGSERIAL PRIMARY KEY,
	entity_id       TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	event_timestamp TIMESTAMPTZ NOT NULL,
	payload         JSONB
);

CREATE TABLE IF NOT EXISTS metric_series (
	metric TEXT NOT NULL,
	date   DATE NOT NULL,
	value  DOUBLE PRECISION,
	PRIMARY KEY (metric, date)
);

CREATE TABLE IF NOT EXISTS feature_importance (
	model_version TEXT NOT NULL,
	feature       TEXT NOT NULL,
	importance    DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (model_version, feature)
);

CREATE TABLE IF NOT EXISTS feature_snapshots (
	tag        TEXT NOT NULL,
	feature    TEXT NOT NULL,
	sample     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tag, feature)
);

CREATE INDEX IF NOT EXISTS idx_checks_status ON checks(status);
CREATE INDEX IF NOT EXISTS idx_checks_anchor ON checks(anchor_date DESC);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(event_timestamp);
CREATE INDEX IF NOT EXISTS idx_importance_created ON feature_importance(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateCheck(ctx context.Context, anchor time.Time) (*model.CheckRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO checks (id, anchor_date, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, anchor.UTC(), string(model.CheckStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert check")
	}

	return &model.CheckRun{
		ID:         id,
		AnchorDate: anchor.UTC(),
		Status:     model.CheckStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateCheckStatus(ctx context.Context, checkID string, status model.CheckStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE checks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), checkID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update check status %s", checkID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("check not found: %s", checkID)
	}
	return nil
}

func (s *PostgresStore) CompleteCheck(ctx context.Context, check *model.CheckRun) error {
	scoresJSON, err := json.Marshal(check.Scores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scores")
	}
	conceptJSON, err := json.Marshal(check.Concept)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal concept record")
	}
	verdictJSON, err := json.Marshal(check.Verdict)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verdict")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE checks SET status = $1, scores = $2, concept = $3, verdict = $4, updated_at = $5 WHERE id = $6`,
		string(model.CheckStatusComplete), scoresJSON, conceptJSON, verdictJSON, time.Now().UTC(), check.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete check %s", check.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("check not found: %s", check.ID)
	}
	return nil
}

func (s *PostgresStore) FailCheck(ctx context.Context, checkID string, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE checks SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.CheckStatusFailed), cause, time.Now().UTC(), checkID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail check %s", checkID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("check not found: %s", checkID)
	}
	return nil
}

func (s *PostgresStore) GetCheck(ctx context.Context, checkID string) (*model.CheckRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, anchor_date, status, scores, concept, verdict, error, created_at, updated_at FROM checks WHERE id = $1`,
		checkID,
	)
	c, err := scanCheck(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get check %s", checkID)
	}
	return c, nil
}

func (s *PostgresStore) ListChecks(ctx context.Context, filter CheckFilter) ([]model.CheckRun, error) {
	query := `SELECT id, anchor_date, status, scores, concept, verdict, error, created_at, updated_at FROM checks WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND anchor_date >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY anchor_date DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checks")
	}
	defer rows.Close()

	var checks []model.CheckRun
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan check")
		}
		checks = append(checks, *c)
	}
	return checks, eris.Wrap(rows.Err(), "postgres: list checks iterate")
}

func (s *PostgresStore) AppendEvents(ctx context.Context, events []model.EventRecord) (int64, error) {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		var payload []byte
		if e.Payload != nil {
			var err error
			payload, err = json.Marshal(e.Payload)
			if err != nil {
				return 0, eris.Wrap(err, "postgres: marshal event payload")
			}
		}
		rows = append(rows, []any{e.EntityID, e.Type, e.Timestamp.UTC(), payload})
	}
	return db.CopyFrom(ctx, s.pool, "events",
		[]string{"entity_id", "event_type", "event_timestamp", "payload"}, rows)
}

func (s *PostgresStore) EventLog(ctx context.Context, from, to time.Time) ([]model.EventRecord, error) {
	query := `SELECT entity_id, event_type, event_timestamp, payload FROM events WHERE true`
	args := []any{}
	argIdx := 1

	if !from.IsZero() {
		query += fmt.Sprintf(` AND event_timestamp >= $%d`, argIdx)
		args = append(args, from.UTC())
		argIdx++
	}
	if !to.IsZero() {
		query += fmt.Sprintf(` AND event_timestamp < $%d`, argIdx)
		args = append(args, to.UTC())
		argIdx++
	}
	// seq breaks timestamp ties in insertion order.
	query += ` ORDER BY event_timestamp ASC, seq ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: event log")
	}
	defer rows.Close()

	var events []model.EventRecord
	for rows.Next() {
		var e model.EventRecord
		var payloadJSON []byte
		if err := rows.Scan(&e.EntityID, &e.Type, &e.Timestamp, &payloadJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal event payload")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: event log iterate")
}

func (s *PostgresStore) UpsertMetricPoints(ctx context.Context, metric string, points []model.MetricPoint) (int64, error) {
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{metric, p.Date.UTC(), p.Value})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "metric_series",
		Columns:      []string{"metric", "date", "value"},
		ConflictKeys: []string{"metric", "date"},
	}, rows)
}

func (s *PostgresStore) MetricBefore(ctx context.Context, metric string, anchor time.Time, limit int) ([]model.MetricPoint, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT date, value FROM metric_series WHERE metric = $1 AND date < $2 ORDER BY date DESC LIMIT $3`,
		metric, anchor.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: metric before %s", metric)
	}
	defer rows.Close()

	var points []model.MetricPoint
	for rows.Next() {
		var p model.MetricPoint
		if err := rows.Scan(&p.Date, &p.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric point")
		}
		points = append(points, p)
	}
	return points, eris.Wrapf(rows.Err(), "postgres: metric before %s iterate", metric)
}

func (s *PostgresStore) MetricAt(ctx context.Context, metric string, date time.Time) (*model.MetricPoint, error) {
	var p model.MetricPoint
	err := s.pool.QueryRow(ctx,
		`SELECT date, value FROM metric_series WHERE metric = $1 AND date = $2`,
		metric, date.UTC(),
	).Scan(&p.Date, &p.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: metric at %s", metric)
	}
	return &p, nil
}

func (s *PostgresStore) SaveImportance(ctx context.Context, modelVersion string, features []model.FeatureImportance) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(features))
	for _, f := range features {
		rows = append(rows, []any{modelVersion, f.Feature, f.Importance, now})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "feature_importance",
		Columns:      []string{"model_version", "feature", "importance", "created_at"},
		ConflictKeys: []string{"model_version", "feature"},
	}, rows)
	return eris.Wrapf(err, "postgres: save importance %s", modelVersion)
}

func (s *PostgresStore) LatestImportance(ctx context.Context) ([]model.FeatureImportance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT feature, importance FROM feature_importance
		 WHERE model_version = (
		   SELECT model_version FROM feature_importance ORDER BY created_at DESC LIMIT 1
		 )
		 ORDER BY importance DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest importance")
	}
	defer rows.Close()

	var features []model.FeatureImportance
	for rows.Next() {
		var f model.FeatureImportance
		if err := rows.Scan(&f.Feature, &f.Importance); err != nil {
			return nil, eris.Wrap(err, "postgres: scan importance")
		}
		features = append(features, f)
	}
	return features, eris.Wrap(rows.Err(), "postgres: latest importance iterate")
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, tag string, dists []model.FeatureDistribution) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(dists))
	for _, d := range dists {
		sampleJSON, err := json.Marshal(d.Sample)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal snapshot sample %s", d.Feature)
		}
		rows = append(rows, []any{tag, d.Feature, sampleJSON, now})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "feature_snapshots",
		Columns:      []string{"tag", "feature", "sample", "created_at"},
		ConflictKeys: []string{"tag", "feature"},
	}, rows)
	return eris.Wrapf(err, "postgres: save snapshot %s", tag)
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, tag string) ([]model.FeatureDistribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT feature, sample FROM feature_snapshots WHERE tag = $1 ORDER BY feature ASC`,
		tag,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", tag)
	}
	defer rows.Close()

	var dists []model.FeatureDistribution
	for rows.Next() {
		var d model.FeatureDistribution
		var sampleJSON []byte
		if err := rows.Scan(&d.Feature, &sampleJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		if err := json.Unmarshal(sampleJSON, &d.Sample); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal snapshot sample %s", d.Feature)
		}
		dists = append(dists, d)
	}
	return dists, eris.Wrapf(rows.Err(), "postgres: get snapshot %s iterate", tag)
}

// scanCheck reads one checks row from either a pgx.Row or pgx.Rows.
func scanCheck(row pgx.Row) (*model.CheckRun, error) {
	var c model.CheckRun
	var scoresJSON, conceptJSON, verdictJSON []byte
	var errMsg *string

	err := row.Scan(&c.ID, &c.AnchorDate, &c.Status, &scoresJSON, &conceptJSON, &verdictJSON, &errMsg, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(scoresJSON) > 0 {
		if err := json.Unmarshal(scoresJSON, &c.Scores); err != nil {
			return nil, eris.Wrap(err, "unmarshal scores")
		}
	}
	if len(conceptJSON) > 0 {
		if err := json.Unmarshal(conceptJSON, &c.Concept); err != nil {
			return nil, eris.Wrap(err, "unmarshal concept record")
		}
	}
	if len(verdictJSON) > 0 {
		if err := json.Unmarshal(verdictJSON, &c.Verdict); err != nil {
			return nil, eris.Wrap(err, "unmarshal verdict")
		}
	}
	if errMsg != nil {
		c.Error = *errMsg
	}
	return &c, nil
}
