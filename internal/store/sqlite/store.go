package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agent_society/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	seed INTEGER NOT NULL,
	rounds INTEGER NOT NULL,
	agents TEXT NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	id TEXT NOT NULL,
	round INTEGER NOT NULL,
	author_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	priority TEXT NOT NULL,
	confidence REAL NOT NULL,
	ref_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, id),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id, seq);

CREATE TABLE IF NOT EXISTS rounds (
	run_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	appended INTEGER NOT NULL,
	proposals INTEGER NOT NULL,
	verifications INTEGER NOT NULL,
	syntheses INTEGER NOT NULL,
	updates INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	PRIMARY KEY(run_id, round),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS q_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	agent_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	verify_id TEXT NOT NULL,
	state INTEGER NOT NULL,
	action TEXT NOT NULL,
	reward REAL NOT NULL,
	before_value REAL NOT NULL,
	max_future REAL NOT NULL,
	after_value REAL NOT NULL,
	UNIQUE(run_id, agent_id, message_id),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_decision_log_run ON decision_log(run_id, id);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps ":memory:" databases coherent across calls
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	agents, err := json.Marshal(run.Agents)
	if err != nil {
		return fmt.Errorf("encode run agents: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO runs(id, seed, rounds, agents, status, last_error, started_at, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, int64(run.Seed), run.Rounds, string(agents), string(run.Status), run.LastError,
		run.StartedAt.UnixNano(), nullableUnixNano(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, seed, rounds, agents, status, last_error, started_at, finished_at
		FROM runs WHERE id = ?`,
		runID,
	)
	var r domain.Run
	var seed int64
	var agents, status string
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&r.ID, &seed, &r.Rounds, &agents, &status, &r.LastError, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return domain.Run{}, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal([]byte(agents), &r.Agents); err != nil {
		return domain.Run{}, fmt.Errorf("decode run agents: %w", err)
	}
	r.Seed = uint64(seed)
	r.Status = domain.RunStatus(status)
	r.StartedAt = unixNanoToTime(started)
	r.FinishedAt = int64ToTimePtr(finished)
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, seed, rounds, agents, status, last_error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Run, 0)
	for rows.Next() {
		var r domain.Run
		var seed, started int64
		var agents, status string
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &seed, &r.Rounds, &agents, &status, &r.LastError, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(agents), &r.Agents); err != nil {
			return nil, fmt.Errorf("decode run agents: %w", err)
		}
		r.Seed = uint64(seed)
		r.Status = domain.RunStatus(status)
		r.StartedAt = unixNanoToTime(started)
		r.FinishedAt = int64ToTimePtr(finished)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status domain.RunStatus, lastError string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, last_error = ?, finished_at = ? WHERE id = ?`,
		string(status), lastError, time.Now().UTC().UnixNano(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// RecordMessages skips messages already journaled for the run.
func (s *Store) RecordMessages(ctx context.Context, runID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx record messages: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT OR IGNORE INTO messages(
			run_id, id, round, author_id, kind, content, priority, confidence, ref_id, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare record message: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(
			ctx,
			runID, m.ID, m.Round, m.AuthorID, string(m.Kind), m.Content, string(m.Priority),
			m.Confidence, m.RefID, m.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("record message %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record messages: %w", err)
	}
	return nil
}

func (s *Store) RecordRound(ctx context.Context, rec domain.RoundRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO rounds(run_id, round, appended, proposals, verifications, syntheses, updates, duration_us)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Round, rec.Appended, rec.Counts.Proposals, rec.Counts.Verifications,
		rec.Counts.Syntheses, rec.Updates, rec.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("record round: %w", err)
	}
	return nil
}

func (s *Store) RecordQUpdates(ctx context.Context, runID string, round int, updates []domain.QUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx record q updates: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, u := range updates {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO q_updates(
				run_id, round, agent_id, message_id, verify_id, state, action, reward,
				before_value, max_future, after_value
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, round, u.AgentID, u.MessageID, u.VerifyID, u.State, u.Action, u.Reward,
			u.Before, u.MaxFuture, u.After,
		); err != nil {
			return fmt.Errorf("record q update %s: %w", u.MessageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit q updates: %w", err)
	}
	return nil
}

func (s *Store) LogDecision(ctx context.Context, entry domain.DecisionLog) error {
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO decision_log(run_id, round, actor, action, reason, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Round, entry.Actor, entry.Action, entry.Reason, payload, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

func (s *Store) ListRunMessages(ctx context.Context, runID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, round, author_id, kind, content, priority, confidence, ref_id, created_at
		FROM messages
		WHERE run_id = ?
		ORDER BY seq ASC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list run messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var kind, priority string
		var created int64
		if err := rows.Scan(
			&m.ID, &m.Round, &m.AuthorID, &kind, &m.Content, &priority, &m.Confidence, &m.RefID, &created,
		); err != nil {
			return nil, fmt.Errorf("scan run message: %w", err)
		}
		m.Kind = domain.MessageKind(kind)
		m.Priority = domain.Priority(priority)
		m.CreatedAt = unixNanoToTime(created)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run messages: %w", err)
	}
	return result, nil
}

func (s *Store) ListRounds(ctx context.Context, runID string) ([]domain.RoundRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT round, appended, proposals, verifications, syntheses, updates, duration_us
		FROM rounds
		WHERE run_id = ?
		ORDER BY round ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RoundRecord, 0)
	for rows.Next() {
		rec := domain.RoundRecord{RunID: runID}
		var durationUS int64
		if err := rows.Scan(
			&rec.Round, &rec.Appended, &rec.Counts.Proposals, &rec.Counts.Verifications,
			&rec.Counts.Syntheses, &rec.Updates, &durationUS,
		); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rec.Duration = time.Duration(durationUS) * time.Microsecond
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return result, nil
}

func (s *Store) ListQUpdates(ctx context.Context, runID string) ([]domain.QUpdate, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT agent_id, message_id, verify_id, state, action, reward, before_value, max_future, after_value
		FROM q_updates
		WHERE run_id = ?
		ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list q updates: %w", err)
	}
	defer rows.Close()

	result := make([]domain.QUpdate, 0)
	for rows.Next() {
		var u domain.QUpdate
		if err := rows.Scan(
			&u.AgentID, &u.MessageID, &u.VerifyID, &u.State, &u.Action, &u.Reward, &u.Before, &u.MaxFuture, &u.After,
		); err != nil {
			return nil, fmt.Errorf("scan q update: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate q updates: %w", err)
	}
	return result, nil
}

func (s *Store) ListRunDecisions(ctx context.Context, runID string, limit int) ([]domain.DecisionLog, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, round, actor, action, reason, payload, created_at
		FROM decision_log
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list run decisions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DecisionLog, 0)
	for rows.Next() {
		var item domain.DecisionLog
		var payload string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.RunID, &item.Round, &item.Actor, &item.Action, &item.Reason, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		item.Payload = []byte(payload)
		item.CreatedAt = unixNanoToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

func int64ToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return nil
	}
	t := unixNanoToTime(v.Int64)
	return &t
}

func unixNanoToTime(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func nullableUnixNano(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}
