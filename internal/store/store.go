// Package store persists projects, sessions, raw telemetry, and derived
// results in SQLite. Raw readings and chunk records are append-only audit
// data; fused rows, verdicts, and scores are derived and overwritten
// wholesale on every recompute.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"playtest-telemetry-service/internal/models"
)

// ErrNotFound is returned when a project or session does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	project_id  TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	game_name   TEXT,
	specs_json  TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	session_id    TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL,
	tester_name   TEXT,
	status        TEXT NOT NULL,
	duration_sec  INTEGER NOT NULL DEFAULT 0,
	score         REAL,
	specs_json    TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (project_id) REFERENCES projects(project_id)
);

CREATE TABLE IF NOT EXISTS readings (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	stream        TEXT NOT NULL,
	timestamp_sec REAL NOT NULL,
	values_json   TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
CREATE INDEX IF NOT EXISTS idx_readings_session
	ON readings(session_id, stream, timestamp_sec);

CREATE TABLE IF NOT EXISTS chunks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	window_index INTEGER NOT NULL,
	payload_json TEXT NOT NULL,
	UNIQUE (session_id, window_index) ON CONFLICT REPLACE,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS fused_rows (
	session_id TEXT NOT NULL,
	t          INTEGER NOT NULL,
	row_json   TEXT NOT NULL,
	PRIMARY KEY (session_id, t),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS verdicts (
	session_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	verdict_json TEXT NOT NULL,
	PRIMARY KEY (session_id, position),
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS timeline_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	label         TEXT NOT NULL,
	severity      TEXT NOT NULL,
	timestamp_sec REAL NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE TABLE IF NOT EXISTS scores (
	session_id TEXT PRIMARY KEY,
	score      REAL NOT NULL,
	pass_count INTEGER NOT NULL,
	warn_count INTEGER NOT NULL,
	fail_count INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);
`

// Store manages service state in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateProject validates the segment specs and inserts a new project.
func (s *Store) CreateProject(name, gameName string, specs []models.SegmentSpec) (models.Project, error) {
	if name == "" {
		return models.Project{}, &models.ValidationError{Field: "name", Msg: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(specs))
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return models.Project{}, fmt.Errorf("specs[%d]: %w", i, err)
		}
		if _, dup := seen[specs[i].Name]; dup {
			return models.Project{}, &models.ValidationError{
				Field: fmt.Sprintf("specs[%d].name", i),
				Msg:   fmt.Sprintf("duplicate segment %q", specs[i].Name),
			}
		}
		seen[specs[i].Name] = struct{}{}
	}

	p := models.Project{
		ID:        uuid.New().String(),
		Name:      name,
		GameName:  gameName,
		Specs:     specs,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	specsJSON, err := json.Marshal(specs)
	if err != nil {
		return models.Project{}, fmt.Errorf("marshal specs: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO projects (project_id, name, game_name, specs_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.GameName, string(specsJSON), p.CreatedAt,
	)
	if err != nil {
		return models.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (models.Project, error) {
	var p models.Project
	var specsJSON string
	err := s.db.QueryRow(
		`SELECT project_id, name, game_name, specs_json, created_at
		 FROM projects WHERE project_id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.GameName, &specsJSON, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(specsJSON), &p.Specs); err != nil {
		return models.Project{}, fmt.Errorf("unmarshal specs: %w", err)
	}
	return p, nil
}

// UpdateProjectSpecs replaces a project's segment specs. Historical sessions
// keep the snapshot they were finalized against.
func (s *Store) UpdateProjectSpecs(id string, specs []models.SegmentSpec) error {
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return fmt.Errorf("specs[%d]: %w", i, err)
		}
	}
	specsJSON, err := json.Marshal(specs)
	if err != nil {
		return fmt.Errorf("marshal specs: %w", err)
	}
	res, err := s.db.Exec(`UPDATE projects SET specs_json = ? WHERE project_id = ?`, string(specsJSON), id)
	if err != nil {
		return fmt.Errorf("update specs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateSession inserts a new session in the created state.
func (s *Store) CreateSession(projectID, testerName string) (models.Session, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return models.Session{}, err
	}
	sess := models.Session{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		TesterName: testerName,
		Status:     models.SessionCreated,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, project_id, tester_name, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.TesterName, sess.Status, sess.CreatedAt,
	)
	if err != nil {
		return models.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (models.Session, error) {
	var sess models.Session
	var tester sql.NullString
	var score sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT session_id, project_id, tester_name, status, duration_sec, score, created_at
		 FROM sessions WHERE session_id = ?`, id,
	).Scan(&sess.ID, &sess.ProjectID, &tester, &sess.Status, &sess.DurationSec, &score, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	if tester.Valid {
		sess.TesterName = tester.String
	}
	if score.Valid {
		sess.Score = score.Float64
	}
	return sess, nil
}

// SetSessionStatus updates a session's lifecycle state.
func (s *Store) SetSessionStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE sessions SET status = ? WHERE session_id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendReadings validates and appends a batch of readings to one stream.
// The per-stream sequence is append-only and timestamp-ordered: a batch that
// is internally unsorted or starts before the stream's latest timestamp is
// rejected whole.
func (s *Store) AppendReadings(sessionID, stream string, readings []models.SensorReading) error {
	if stream != models.StreamAffect && stream != models.StreamPhysio {
		return &models.ValidationError{Field: "stream", Msg: fmt.Sprintf("unknown stream %q", stream)}
	}
	var last float64
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(timestamp_sec), -1) FROM readings WHERE session_id = ? AND stream = ?`,
		sessionID, stream,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("query last timestamp: %w", err)
	}

	prev := last
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return fmt.Errorf("readings[%d]: %w", i, err)
		}
		if readings[i].TimestampSec < prev {
			return &models.ValidationError{
				Field: fmt.Sprintf("readings[%d].timestamp_sec", i),
				Msg:   fmt.Sprintf("%.3f not monotonic (previous %.3f)", readings[i].TimestampSec, prev),
			}
		}
		prev = readings[i].TimestampSec
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO readings (session_id, stream, timestamp_sec, values_json) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range readings {
		valuesJSON, err := json.Marshal(readings[i].Values)
		if err != nil {
			return fmt.Errorf("marshal values: %w", err)
		}
		if _, err := stmt.Exec(sessionID, stream, readings[i].TimestampSec, string(valuesJSON)); err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
	}
	return tx.Commit()
}

// Readings returns one stream's readings in timestamp order.
func (s *Store) Readings(sessionID, stream string) ([]models.SensorReading, error) {
	rows, err := s.db.Query(
		`SELECT timestamp_sec, values_json FROM readings
		 WHERE session_id = ? AND stream = ?
		 ORDER BY timestamp_sec, id`, sessionID, stream,
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.SensorReading
	for rows.Next() {
		r := models.SensorReading{SessionID: sessionID}
		var valuesJSON string
		if err := rows.Scan(&r.TimestampSec, &valuesJSON); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if err := json.Unmarshal([]byte(valuesJSON), &r.Values); err != nil {
			return nil, fmt.Errorf("unmarshal values: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// AppendChunk validates and stores one chunk observation. (session_id,
// window_index) is authoritative: a re-delivered window replaces the earlier
// record.
func (s *Store) AppendChunk(chunk models.ChunkObservation) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO chunks (session_id, window_index, payload_json) VALUES (?, ?, ?)`,
		chunk.SessionID, chunk.WindowIndex, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// Chunks returns a session's chunk observations in arrival order, which the
// stitcher's event dedup tie-break depends on.
func (s *Store) Chunks(sessionID string) ([]models.ChunkObservation, error) {
	rows, err := s.db.Query(
		`SELECT payload_json FROM chunks WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkObservation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		var chunk models.ChunkObservation
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, fmt.Errorf("unmarshal chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// FinalizeResult is everything a completed finalize produces for one
// session.
type FinalizeResult struct {
	Session  models.Session
	Specs    []models.SegmentSpec
	Rows     []models.FusedRow
	Events   []models.PointEvent
	Verdicts []models.Verdict
	Score    models.SessionScore
}

// SaveFinalizeResult atomically replaces a session's derived records and
// marks it complete. Re-finalizing recomputes wholesale; the previous
// derived rows are discarded in the same transaction.
func (s *Store) SaveFinalizeResult(res FinalizeResult) error {
	specsJSON, err := json.Marshal(res.Specs)
	if err != nil {
		return fmt.Errorf("marshal spec snapshot: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"fused_rows", "verdicts", "timeline_events", "scores"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE session_id = ?`, res.Session.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, row := range res.Rows {
		rowJSON, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal fused row: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO fused_rows (session_id, t, row_json) VALUES (?, ?, ?)`,
			res.Session.ID, row.T, string(rowJSON),
		); err != nil {
			return fmt.Errorf("insert fused row: %w", err)
		}
	}

	for i, v := range res.Verdicts {
		verdictJSON, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal verdict: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO verdicts (session_id, position, verdict_json) VALUES (?, ?, ?)`,
			res.Session.ID, i, string(verdictJSON),
		); err != nil {
			return fmt.Errorf("insert verdict: %w", err)
		}
	}

	for _, ev := range res.Events {
		if _, err := tx.Exec(
			`INSERT INTO timeline_events (session_id, label, severity, timestamp_sec) VALUES (?, ?, ?, ?)`,
			res.Session.ID, ev.Label, ev.Severity, ev.TimestampSec,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO scores (session_id, score, pass_count, warn_count, fail_count)
		 VALUES (?, ?, ?, ?, ?)`,
		res.Session.ID, res.Score.Score, res.Score.PassCount, res.Score.WarnCount, res.Score.FailCount,
	); err != nil {
		return fmt.Errorf("insert score: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE sessions SET status = ?, duration_sec = ?, score = ?, specs_json = ?
		 WHERE session_id = ?`,
		models.SessionComplete, res.Session.DurationSec, res.Score.Score, string(specsJSON), res.Session.ID,
	); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return tx.Commit()
}

// FusedRows returns a session's fused timeline in t order.
func (s *Store) FusedRows(sessionID string) ([]models.FusedRow, error) {
	rows, err := s.db.Query(
		`SELECT row_json FROM fused_rows WHERE session_id = ? ORDER BY t`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fused rows: %w", err)
	}
	defer rows.Close()

	var fused []models.FusedRow
	for rows.Next() {
		var rowJSON string
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, fmt.Errorf("scan fused row: %w", err)
		}
		var row models.FusedRow
		if err := json.Unmarshal([]byte(rowJSON), &row); err != nil {
			return nil, fmt.Errorf("unmarshal fused row: %w", err)
		}
		fused = append(fused, row)
	}
	return fused, rows.Err()
}

// Verdicts returns a session's verdicts in timeline order.
func (s *Store) Verdicts(sessionID string) ([]models.Verdict, error) {
	rows, err := s.db.Query(
		`SELECT verdict_json FROM verdicts WHERE session_id = ? ORDER BY position`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []models.Verdict
	for rows.Next() {
		var verdictJSON string
		if err := rows.Scan(&verdictJSON); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		var v models.Verdict
		if err := json.Unmarshal([]byte(verdictJSON), &v); err != nil {
			return nil, fmt.Errorf("unmarshal verdict: %w", err)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

// TimelineEvents returns a session's deduplicated point events in time
// order.
func (s *Store) TimelineEvents(sessionID string) ([]models.PointEvent, error) {
	rows, err := s.db.Query(
		`SELECT label, severity, timestamp_sec FROM timeline_events
		 WHERE session_id = ? ORDER BY timestamp_sec, id`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.PointEvent
	for rows.Next() {
		var ev models.PointEvent
		if err := rows.Scan(&ev.Label, &ev.Severity, &ev.TimestampSec); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Score returns a session's headline score.
func (s *Store) Score(sessionID string) (models.SessionScore, error) {
	score := models.SessionScore{SessionID: sessionID}
	err := s.db.QueryRow(
		`SELECT score, pass_count, warn_count, fail_count FROM scores WHERE session_id = ?`,
		sessionID,
	).Scan(&score.Score, &score.PassCount, &score.WarnCount, &score.FailCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SessionScore{}, fmt.Errorf("score for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return models.SessionScore{}, fmt.Errorf("get score: %w", err)
	}
	return score, nil
}

// SessionVerdictSet is one finalized session's verdicts with the spec
// snapshot it was scored against.
type SessionVerdictSet struct {
	SessionID string
	Specs     []models.SegmentSpec
	Verdicts  []models.Verdict
}

// VerdictsByProject returns every finalized session's verdicts for a
// project, each with its finalize-time spec snapshot. Sessions finalized
// concurrently with this read are simply absent, a stale read callers
// accept.
func (s *Store) VerdictsByProject(projectID string) ([]SessionVerdictSet, error) {
	rows, err := s.db.Query(
		`SELECT session_id, specs_json FROM sessions
		 WHERE project_id = ? AND status = ? ORDER BY created_at, session_id`,
		projectID, models.SessionComplete,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sets []SessionVerdictSet
	for rows.Next() {
		var set SessionVerdictSet
		var specsJSON sql.NullString
		if err := rows.Scan(&set.SessionID, &specsJSON); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if specsJSON.Valid {
			if err := json.Unmarshal([]byte(specsJSON.String), &set.Specs); err != nil {
				return nil, fmt.Errorf("unmarshal spec snapshot: %w", err)
			}
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sets {
		verdicts, err := s.Verdicts(sets[i].SessionID)
		if err != nil {
			return nil, err
		}
		sets[i].Verdicts = verdicts
	}
	return sets, nil
}
