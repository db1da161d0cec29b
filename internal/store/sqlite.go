package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/driftwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and single-node deployments; postgres is the production path.
type SQLiteStore struct {
	db *sql.DB
}

// dateLayout is the canonical form for metric-series dates. Lexicographic
// order matches chronological order, so date range scans work on TEXT.
const dateLayout = "2006-01-02"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checks (
	id          TEXT PRIMARY KEY,
	anchor_date DATETIME NOT NULL,
	status      TEXT NOT NULL DEFAULT 'queued',
	scores      TEXT,
	concept     TEXT,
	verdict     TEXT,
	error       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS events (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id       TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	event_timestamp DATETIME NOT NULL,
	payload         TEXT
);

CREATE TABLE IF NOT EXISTS metric_series (
	metric TEXT NOT NULL,
	date   TEXT NOT NULL,
	value  REAL,
	PRIMARY KEY (metric, date)
);

CREATE TABLE IF NOT EXISTS feature_importance (
	model_version TEXT NOT NULL,
	feature       TEXT NOT NULL,
	importance    REAL NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (model_version, feature)
);

CREATE TABLE IF NOT EXISTS feature_snapshots (
	tag        TEXT NOT NULL,
	feature    TEXT NOT NULL,
	sample     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (tag, feature)
);

CREATE INDEX IF NOT EXISTS idx_checks_status ON checks(status);
CREATE INDEX IF NOT EXISTS idx_checks_anchor ON checks(anchor_date);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(event_timestamp);
CREATE INDEX IF NOT EXISTS idx_importance_created ON feature_importance(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCheck(ctx context.Context, anchor time.Time) (*model.CheckRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checks (id, anchor_date, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, anchor.UTC(), string(model.CheckStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert check")
	}

	return &model.CheckRun{
		ID:         id,
		AnchorDate: anchor.UTC(),
		Status:     model.CheckStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateCheckStatus(ctx context.Context, checkID string, status model.CheckStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), checkID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update check status %s", checkID)
	}
	return checkRowsAffected(res, "check", checkID)
}

func (s *SQLiteStore) CompleteCheck(ctx context.Context, check *model.CheckRun) error {
	scoresJSON, err := json.Marshal(check.Scores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scores")
	}
	conceptJSON, err := json.Marshal(check.Concept)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal concept record")
	}
	verdictJSON, err := json.Marshal(check.Verdict)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verdict")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE checks SET status = ?, scores = ?, concept = ?, verdict = ?, updated_at = ? WHERE id = ?`,
		string(model.CheckStatusComplete), string(scoresJSON), string(conceptJSON), string(verdictJSON), time.Now().UTC(), check.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete check %s", check.ID)
	}
	return checkRowsAffected(res, "check", check.ID)
}

func (s *SQLiteStore) FailCheck(ctx context.Context, checkID string, cause string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checks SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.CheckStatusFailed), cause, time.Now().UTC(), checkID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail check %s", checkID)
	}
	return checkRowsAffected(res, "check", checkID)
}

func (s *SQLiteStore) GetCheck(ctx context.Context, checkID string) (*model.CheckRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, anchor_date, status, scores, concept, verdict, error, created_at, updated_at FROM checks WHERE id = ?`,
		checkID,
	)
	return scanSQLiteCheck(row)
}

func (s *SQLiteStore) ListChecks(ctx context.Context, filter CheckFilter) ([]model.CheckRun, error) {
	query := `SELECT id, anchor_date, status, scores, concept, verdict, error, created_at, updated_at FROM checks WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND anchor_date >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY anchor_date DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checks")
	}
	defer rows.Close()

	var checks []model.CheckRun
	for rows.Next() {
		c, err := scanSQLiteCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, *c)
	}
	return checks, eris.Wrap(rows.Err(), "sqlite: list checks iterate")
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.EventRecord) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin append events")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (entity_id, event_type, event_timestamp, payload) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare append events")
	}
	defer stmt.Close()

	for _, e := range events {
		var payload any
		if e.Payload != nil {
			payloadJSON, err := json.Marshal(e.Payload)
			if err != nil {
				return 0, eris.Wrap(err, "sqlite: marshal event payload")
			}
			payload = string(payloadJSON)
		}
		if _, err := stmt.ExecContext(ctx, e.EntityID, e.Type, e.Timestamp.UTC(), payload); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert event")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit append events")
	}
	return int64(len(events)), nil
}

func (s *SQLiteStore) EventLog(ctx context.Context, from, to time.Time) ([]model.EventRecord, error) {
	query := `SELECT entity_id, event_type, event_timestamp, payload FROM events WHERE 1=1`
	var args []any

	if !from.IsZero() {
		query += ` AND event_timestamp >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND event_timestamp < ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY event_timestamp ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: event log")
	}
	defer rows.Close()

	var events []model.EventRecord
	for rows.Next() {
		var e model.EventRecord
		var payloadJSON sql.NullString
		if err := rows.Scan(&e.EntityID, &e.Type, &e.Timestamp, &payloadJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.Timestamp = e.Timestamp.UTC()
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event payload")
			}
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: event log iterate")
}

func (s *SQLiteStore) UpsertMetricPoints(ctx context.Context, metric string, points []model.MetricPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert metric")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metric_series (metric, date, value) VALUES (?, ?, ?)
		 ON CONFLICT (metric, date) DO UPDATE SET value = excluded.value`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert metric")
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, metric, p.Date.UTC().Format(dateLayout), p.Value); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert metric %s", metric)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert metric")
	}
	return int64(len(points)), nil
}

func (s *SQLiteStore) MetricBefore(ctx context.Context, metric string, anchor time.Time, limit int) ([]model.MetricPoint, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value FROM metric_series WHERE metric = ? AND date < ? ORDER BY date DESC LIMIT ?`,
		metric, anchor.UTC().Format(dateLayout), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: metric before %s", metric)
	}
	defer rows.Close()

	var points []model.MetricPoint
	for rows.Next() {
		p, err := scanMetricPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, eris.Wrapf(rows.Err(), "sqlite: metric before %s iterate", metric)
}

func (s *SQLiteStore) MetricAt(ctx context.Context, metric string, date time.Time) (*model.MetricPoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT date, value FROM metric_series WHERE metric = ? AND date = ?`,
		metric, date.UTC().Format(dateLayout),
	)
	p, err := scanMetricPoint(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: metric at %s", metric)
	}
	return p, nil
}

func (s *SQLiteStore) SaveImportance(ctx context.Context, modelVersion string, features []model.FeatureImportance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save importance")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, f := range features {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO feature_importance (model_version, feature, importance, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (model_version, feature) DO UPDATE SET importance = excluded.importance, created_at = excluded.created_at`,
			modelVersion, f.Feature, f.Importance, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save importance %s", modelVersion)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save importance")
}

func (s *SQLiteStore) LatestImportance(ctx context.Context) ([]model.FeatureImportance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feature, importance FROM feature_importance
		 WHERE model_version = (
		   SELECT model_version FROM feature_importance ORDER BY created_at DESC LIMIT 1
		 )
		 ORDER BY importance DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest importance")
	}
	defer rows.Close()

	var features []model.FeatureImportance
	for rows.Next() {
		var f model.FeatureImportance
		if err := rows.Scan(&f.Feature, &f.Importance); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan importance")
		}
		features = append(features, f)
	}
	return features, eris.Wrap(rows.Err(), "sqlite: latest importance iterate")
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, tag string, dists []model.FeatureDistribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save snapshot")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, d := range dists {
		sampleJSON, err := json.Marshal(d.Sample)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal snapshot sample %s", d.Feature)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO feature_snapshots (tag, feature, sample, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (tag, feature) DO UPDATE SET sample = excluded.sample, created_at = excluded.created_at`,
			tag, d.Feature, string(sampleJSON), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save snapshot %s", tag)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save snapshot")
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, tag string) ([]model.FeatureDistribution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feature, sample FROM feature_snapshots WHERE tag = ? ORDER BY feature ASC`,
		tag,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", tag)
	}
	defer rows.Close()

	var dists []model.FeatureDistribution
	for rows.Next() {
		var d model.FeatureDistribution
		var sampleJSON string
		if err := rows.Scan(&d.Feature, &sampleJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		if err := json.Unmarshal([]byte(sampleJSON), &d.Sample); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal snapshot sample %s", d.Feature)
		}
		dists = append(dists, d)
	}
	return dists, eris.Wrapf(rows.Err(), "sqlite: get snapshot %s iterate", tag)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteCheck(row scannable) (*model.CheckRun, error) {
	var c model.CheckRun
	var scoresJSON, conceptJSON, verdictJSON, errMsg sql.NullString

	err := row.Scan(&c.ID, &c.AnchorDate, &c.Status, &scoresJSON, &conceptJSON, &verdictJSON, &errMsg, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("check not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan check")
	}
	c.AnchorDate = c.AnchorDate.UTC()

	if scoresJSON.Valid && scoresJSON.String != "" {
		if err := json.Unmarshal([]byte(scoresJSON.String), &c.Scores); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scores")
		}
	}
	if conceptJSON.Valid && conceptJSON.String != "" {
		if err := json.Unmarshal([]byte(conceptJSON.String), &c.Concept); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal concept record")
		}
	}
	if verdictJSON.Valid && verdictJSON.String != "" {
		if err := json.Unmarshal([]byte(verdictJSON.String), &c.Verdict); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal verdict")
		}
	}
	if errMsg.Valid {
		c.Error = errMsg.String
	}
	return &c, nil
}

func scanMetricPoint(row scannable) (*model.MetricPoint, error) {
	var dateStr string
	var value sql.NullFloat64

	if err := row.Scan(&dateStr, &value); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan metric point")
	}

	date, err := time.ParseInLocation(dateLayout, dateStr, time.UTC)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse metric date %q", dateStr)
	}

	p := &model.MetricPoint{Date: date}
	if value.Valid {
		v := value.Float64
		p.Value = &v
	}
	return p, nil
}
