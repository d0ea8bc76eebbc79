package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-engine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, also satisfied by
// pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"update_run_progress": `UPDATE runs SET status = $1, progress = $2, phase_detail = $3, started_at = COALESCE(started_at, $4), updated_at = $5 WHERE id = $6`,
	"get_run":             `SELECT ` + runColumns + ` FROM runs WHERE id = $1`,
	"cancel_flag":         `SELECT cancel_requested FROM runs WHERE id = $1`,
	"insert_phase":        `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":      `UPDATE run_phases SET status = $1, detail = $2, error = $3, completed_at = $4, duration_ms = $5 WHERE id = $6`,
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
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status           TEXT NOT NULL DEFAULT 'pending',
	progress         INTEGER NOT NULL DEFAULT 0,
	phase_detail     TEXT NOT NULL DEFAULT '',
	max_insights     INTEGER NOT NULL,
	deep_dive_size   INTEGER NOT NULL,
	result           JSONB,
	error            TEXT,
	cancel_requested BOOLEAN NOT NULL DEFAULT false,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	detail       TEXT,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	duration_ms  BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS insights (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id         TEXT NOT NULL REFERENCES runs(id),
	type           TEXT NOT NULL,
	action         TEXT NOT NULL,
	title          TEXT NOT NULL,
	primary_symbol TEXT,
	confidence     DOUBLE PRECISION NOT NULL,
	time_horizon   TEXT NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_insights_run_id ON insights(run_id);
CREATE INDEX IF NOT EXISTS idx_insights_symbol ON insights(primary_symbol);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, maxInsights, deepDiveSize int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, progress, phase_detail, max_insights, deep_dive_size, created_at, updated_at)
		 VALUES ($1, $2, 0, $3, $4, $5, $6, $7)`,
		id, string(model.RunStatusPending), model.PhaseNames[model.RunStatusPending],
		maxInsights, deepDiveSize, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID string, status model.RunStatus) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, progress = $2, phase_detail = $3,
		 started_at = COALESCE(started_at, $4), updated_at = $5 WHERE id = $6`,
		string(status), model.PhaseProgress[status], model.PhaseNames[status], now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, progress = 100, phase_detail = $3,
		 completed_at = $4, updated_at = $5 WHERE id = $6`,
		resultJSON, string(model.RunStatusCompleted),
		model.PhaseNames[model.RunStatusCompleted], now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, status model.RunStatus, message string) error {
	if status != model.RunStatusFailed && status != model.RunStatusCancelled {
		return eris.Errorf("postgres: %s is not a terminal failure status", status)
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, progress = $2, phase_detail = $3, error = $4,
		 completed_at = $5, updated_at = $6 WHERE id = $7`,
		string(status), model.PhaseProgress[status], model.PhaseNames[status],
		message, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ActiveRun(ctx context.Context) (*model.Run, error) {
	placeholders := make([]string, len(model.ActiveStatuses))
	args := make([]any, len(model.ActiveStatuses))
	for i, st := range model.ActiveStatuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}
	query := `SELECT ` + runColumns + ` FROM runs WHERE status IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at DESC LIMIT 1`

	r, err := scanPgRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, errRunNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active run")
	}
	return r, nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET cancel_requested = true, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: request cancel %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) IsCancelRequested(ctx context.Context, runID string) (bool, error) {
	var flag bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM runs WHERE id = $1`, runID,
	).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errRunNotFound
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: cancel flag %s", runID)
	}
	return flag, nil
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID, name string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}
	return id, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, rec model.PhaseRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_phases SET status = $1, detail = $2, error = $3, completed_at = $4, duration_ms = $5 WHERE id = $6`,
		string(rec.Status), rec.Detail, rec.Error, rec.CompletedAt.UTC(), rec.DurationMs, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	return checkTag(tag, "phase", phaseID)
}

func (s *PostgresStore) SaveInsights(ctx context.Context, runID string, insights []model.Insight) error {
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
			return eris.Wrap(err, "postgres: marshal insight")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO insights (id, run_id, type, action, title, primary_symbol, confidence, time_horizon, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			ins.ID, runID, string(ins.Type), string(ins.Action), ins.Title,
			ins.PrimarySymbol, ins.Confidence, ins.TimeHorizon, payload, now,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert insight")
		}
	}
	return nil
}

func (s *PostgresStore) ListInsights(ctx context.Context, filter InsightFilter) ([]model.Insight, error) {
	query := `SELECT payload FROM insights WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		args = append(args, filter.RunID)
		query += fmt.Sprintf(` AND run_id = $%d`, len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(` AND action = $%d`, len(args))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		query += fmt.Sprintf(` AND primary_symbol = $%d`, len(args))
	}
	if filter.MinConfidence > 0 {
		args = append(args, filter.MinConfidence)
		query += fmt.Sprintf(` AND confidence >= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, confidence DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list insights")
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan insight")
		}
		var ins model.Insight
		if err := json.Unmarshal(payload, &ins); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal insight")
		}
		insights = append(insights, ins)
	}
	return insights, eris.Wrap(rows.Err(), "postgres: list insights iterate")
}

// helpers

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var resultJSON []byte
	var errMsg *string
	var startedAt, completedAt *time.Time

	err := row.Scan(&r.ID, &r.Status, &r.Progress, &r.PhaseDetail,
		&r.MaxInsights, &r.DeepDiveSize, &resultJSON, &errMsg,
		&startedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan run")
	}

	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	r.StartedAt = startedAt
	r.CompletedAt = completedAt
	if len(resultJSON) > 0 {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "unmarshal result")
		}
	}
	return &r, nil
}
