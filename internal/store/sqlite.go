package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/insight-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

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
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'pending',
	progress         INTEGER NOT NULL DEFAULT 0,
	phase_detail     TEXT NOT NULL DEFAULT '',
	max_insights     INTEGER NOT NULL,
	deep_dive_size   INTEGER NOT NULL,
	result           TEXT,
	error            TEXT,
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	started_at       DATETIME,
	completed_at     DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	detail       TEXT,
	error        TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	duration_ms  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS insights (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	type           TEXT NOT NULL,
	action         TEXT NOT NULL,
	title          TEXT NOT NULL,
	primary_symbol TEXT,
	confidence     REAL NOT NULL,
	time_horizon   TEXT NOT NULL,
	payload        TEXT NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_insights_run_id ON insights(run_id);
CREATE INDEX IF NOT EXISTS idx_insights_symbol ON insights(primary_symbol);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, maxInsights, deepDiveSize int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, progress, phase_detail, max_insights, deep_dive_size, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?, ?, ?, ?)`,
		id, string(model.RunStatusPending), model.PhaseNames[model.RunStatusPending],
		maxInsights, deepDiveSize, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:           id,
		Status:       model.RunStatusPending,
		PhaseDetail:  model.PhaseNames[model.RunStatusPending],
		MaxInsights:  maxInsights,
		DeepDiveSize: deepDiveSize,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, status model.RunStatus) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, progress = ?, phase_detail = ?,
		 started_at = COALESCE(started_at, ?), updated_at = ? WHERE id = ?`,
		string(status), model.PhaseProgress[status], model.PhaseNames[status], now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, progress = 100, phase_detail = ?,
		 completed_at = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusCompleted),
		model.PhaseNames[model.RunStatusCompleted], now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, status model.RunStatus, message string) error {
	if status != model.RunStatusFailed && status != model.RunStatusCancelled {
		return eris.Errorf("sqlite: %s is not a terminal failure status", status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, progress = ?, phase_detail = ?, error = ?,
		 completed_at = ?, updated_at = ? WHERE id = ?`,
		string(status), model.PhaseProgress[status], model.PhaseNames[status],
		message, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

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
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ActiveRun(ctx context.Context) (*model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE status IN (` +
		statusPlaceholders(len(model.ActiveStatuses)) + `) ORDER BY created_at DESC LIMIT 1`

	args := make([]any, len(model.ActiveStatuses))
	for i, st := range model.ActiveStatuses {
		args[i] = string(st)
	}

	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, errRunNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: request cancel %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) IsCancelRequested(ctx context.Context, runID string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM runs WHERE id = ?`, runID,
	).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, errRunNotFound
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: cancel flag %s", runID)
	}
	return flag != 0, nil
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID, name string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}
	return id, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, rec model.PhaseRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, detail = ?, error = ?, completed_at = ?, duration_ms = ? WHERE id = ?`,
		string(rec.Status), rec.Detail, rec.Error, rec.CompletedAt.UTC(), rec.DurationMs, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) SaveInsights(ctx context.Context, runID string, insights []model.Insight) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insights tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range insights {
		ins := &insights[i]
		if ins.ID == "" {
			ins.ID = uuid.New().String()
		}
		ins.RunID = runID
		ins.CreatedAt = now

		payload, err := json.Marshal(ins)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal insight")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO insights (id, run_id, type, action, title, primary_symbol, confidence, time_horizon, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ins.ID, runID, string(ins.Type), string(ins.Action), ins.Title,
			ins.PrimarySymbol, ins.Confidence, ins.TimeHorizon, string(payload), now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert insight")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insights")
}

func (s *SQLiteStore) ListInsights(ctx context.Context, filter InsightFilter) ([]model.Insight, error) {
	query := `SELECT payload FROM insights WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if filter.Symbol != "" {
		query += ` AND primary_symbol = ?`
		args = append(args, filter.Symbol)
	}
	if filter.MinConfidence > 0 {
		query += ` AND confidence >= ?`
		args = append(args, filter.MinConfidence)
	}
	query += ` ORDER BY created_at DESC, confidence DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list insights")
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan insight")
		}
		var ins model.Insight
		if err := json.Unmarshal([]byte(payload), &ins); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal insight")
		}
		insights = append(insights, ins)
	}
	return insights, eris.Wrap(rows.Err(), "sqlite: list insights iterate")
}

// helpers

const runColumns = `id, status, progress, phase_detail, max_insights, deep_dive_size,
	result, error, started_at, completed_at, created_at, updated_at`

var errRunNotFound = eris.New("run not found")

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

func statusPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Status, &r.Progress, &r.PhaseDetail,
		&r.MaxInsights, &r.DeepDiveSize, &resultJSON, &errMsg,
		&startedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}

	if errMsg.Valid {
		r.ErrorMessage = errMsg.String
	}
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal result")
		}
	}
	return &r, nil
}
