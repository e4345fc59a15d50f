package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/infernarium/zip-verifyer/internal/data/pgxutil"
	"github.com/infernarium/zip-verifyer/internal/domain/model"
)

// taskNotifyChannel is the LISTEN/NOTIFY channel announcing new runnable tasks.
const taskNotifyChannel = "task_submitted"

// defaultMaxRetries bounds attempts per task when the config leaves it unset.
const defaultMaxRetries = 3

// TaskRepoConfig holds configuration options for the task repository.
type TaskRepoConfig struct {
	MaxRetries   int
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// TaskRepo provides Postgres-backed task record and queue operations.
type TaskRepo struct {
	DB           *sql.DB
	cfg          TaskRepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTaskRepo creates a TaskRepo with the given database connection and configuration.
func NewTaskRepo(db *sql.DB, cfg TaskRepoConfig) *TaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &TaskRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const taskColumns = `
  id,
  status,
  result,
  retry_count,
  max_retries,
  last_error,
  scheduled_at,
  started_at,
  completed_at,
  lease_expires_at,
  created_at,
  updated_at
`

// SQL used by ReserveNext to atomically claim the next runnable task. A FAILED
// row is runnable again once its backoff has elapsed and retries remain.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM tasks
    WHERE (status = 'PENDING'
       OR (status = 'FAILED' AND retry_count < max_retries))
      AND scheduled_at <= $1
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE tasks t
  SET
    status = 'IN_PROGRESS',
    started_at = COALESCE(t.started_at, $2),
    lease_expires_at = $3,
    updated_at = $4
  FROM cte
  WHERE t.id = cte.id
  RETURNING t.id, t.status, t.result, t.retry_count, t.max_retries, t.last_error, t.scheduled_at, t.started_at, t.completed_at, t.lease_expires_at, t.created_at, t.updated_at`

// Insert creates a PENDING task row for the given content hash and notifies
// listening workers. The primary-key constraint on id enforces dedup; a
// conflict maps to ErrTaskAlreadyExists.
func (r *TaskRepo) Insert(ctx context.Context, id string) (*model.Task, error) {
	if !model.ValidTaskID(id) {
		return nil, fmt.Errorf("invalid task id: %q", id)
	}

	now := r.timeProvider.Now().UTC()
	var task *model.Task
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				INSERT INTO tasks (id, status, scheduled_at, max_retries)
				VALUES ($1, 'PENDING', $2, $3)
				RETURNING `+taskColumns,
				id, now, r.cfg.MaxRetries,
			)
			if err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
			t, collectErr := collectTaskFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect task: %w", collectErr)
			}

			if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, taskNotifyChannel, t.ID); execErr != nil {
				return fmt.Errorf("send task notification: %w", execErr)
			}

			task = t
			return nil
		},
	})
	if txErr != nil {
		if isUniqueViolation(txErr) {
			return nil, ErrTaskAlreadyExists
		}
		return nil, txErr
	}
	return task, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// GetByID retrieves a task by its content hash.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var task *model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		task, qerr = collectTaskFromRows(rows)
		return qerr
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Advisory lock key for RequeueExpired so concurrent runners do not contend.
const advisoryLockRequeue int64 = 2101

// RequeueExpired returns IN_PROGRESS tasks with expired leases to PENDING.
// The reclaimed attempt does not count against the retry budget.
func (r *TaskRepo) RequeueExpired(ctx context.Context) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", advisoryLockRequeue).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			now := r.timeProvider.Now().UTC()
			res, err := tx.ExecContext(ctx, `
				UPDATE tasks
				SET status = 'PENDING', lease_expires_at = NULL, updated_at = $1
				WHERE status = 'IN_PROGRESS'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $1
			`, now)
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ReserveNext claims the next runnable task for processing under a lease.
func (r *TaskRepo) ReserveNext(ctx context.Context, leaseSeconds int) (*model.Task, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	if _, err := r.RequeueExpired(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired tasks: %w", err)
	}

	var task *model.Task
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now()
			leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(ctx, reserveNextUpdateSQL,
				now.UTC(), now.UTC(), leaseExpiresAt.UTC(), now.UTC())
			if qerr != nil {
				return fmt.Errorf("reserve task: %w", qerr)
			}
			defer rows.Close()

			t, cerr := collectTaskFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoTasksAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve task: %w", cerr)
			}
			task = t
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoTasksAvailable) {
			return nil, model.ErrNoTasksAvailable
		}
		return nil, err
	}
	return task, nil
}

// Heartbeat refreshes the lease on a claimed task.
func (r *TaskRepo) Heartbeat(ctx context.Context, id string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	now := r.timeProvider.Now().UTC()
	leaseExpiresAt := now.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`, id, leaseExpiresAt, now)
	if err != nil {
		return false, fmt.Errorf("heartbeat task: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkSuccess persists the report and the SUCCESS transition in one statement.
// Only the IN_PROGRESS row held by the claiming worker matches, so the result
// is set exactly once and a SUCCESS task never regresses.
func (r *TaskRepo) MarkSuccess(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	if len(result) == 0 {
		return false, errors.New("result is required")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'SUCCESS',
		    result = $2,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`, id, []byte(result), now)
	if err != nil {
		return false, fmt.Errorf("mark task success: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark success rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkFailed records a failed attempt. The row stays FAILED; scheduled_at
// carries the worker-computed backoff so reservation skips the task until the
// next attempt is due. Once retries are exhausted completed_at is set and the
// task is terminal.
func (r *TaskRepo) MarkFailed(ctx context.Context, id, errMsg string, retryAt time.Time) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'FAILED',
		    result = NULL,
		    last_error = $2,
		    retry_count = retry_count + 1,
		    completed_at = CASE WHEN retry_count + 1 >= max_retries THEN $3::timestamptz ELSE NULL END,
		    scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at ELSE $4::timestamptz END,
		    lease_expires_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'IN_PROGRESS'
	`, id, errMsg, now, retryAt.UTC())
	if err != nil {
		return false, fmt.Errorf("mark task failed: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark failed rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListIDs returns the ids of all task records.
func (r *TaskRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("scan task id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate task ids: %w", rowsErr)
	}
	return ids, nil
}

// PurgeAll wipes every task record. TRUNCATE resets identifier-generation
// state, and the operation is safe to re-run.
func (r *TaskRepo) PurgeAll(ctx context.Context) (int64, error) {
	var count int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if scanErr := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks`).Scan(&count); scanErr != nil {
				return fmt.Errorf("count tasks: %w", scanErr)
			}
			if _, execErr := tx.ExecContext(ctx, `TRUNCATE TABLE tasks RESTART IDENTITY CASCADE`); execErr != nil {
				return fmt.Errorf("truncate tasks: %w", execErr)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Stats returns task counts per status.
func (r *TaskRepo) Stats(ctx context.Context) (*model.TaskStats, error) {
	var s model.TaskStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'PENDING')     AS pending,
    count(*) FILTER (WHERE status = 'IN_PROGRESS') AS in_progress,
    count(*) FILTER (WHERE status = 'SUCCESS')     AS success,
    count(*) FILTER (WHERE status = 'FAILED')      AS failed
  FROM tasks
  `).Scan(
		&s.Pending,
		&s.InProgress,
		&s.Success,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get task stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification announcing new tasks.
func (r *TaskRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{taskNotifyChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", taskNotifyChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// collectTaskFromRows collects a single task from pgx rows.
func collectTaskFromRows(rows pgx.Rows) (*model.Task, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	task, err := scanTaskFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return task, nil
}

type taskRowScanner interface {
	Scan(dest ...any) error
}

func scanTaskFromRow(scanner taskRowScanner) (*model.Task, error) {
	task := &model.Task{}
	var (
		result                                 []byte
		lastError                              sql.NullString
		startedAt, completedAt, leaseExpiresAt sql.NullTime
	)

	if err := scanner.Scan(
		&task.ID,
		&task.Status,
		&result,
		&task.RetryCount,
		&task.MaxRetries,
		&lastError,
		&task.ScheduledAt,
		&startedAt,
		&completedAt,
		&leaseExpiresAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(result) > 0 {
		task.Result = append(json.RawMessage(nil), result...)
	}
	task.LastError = cloneNullableString(lastError)
	task.StartedAt = cloneNullableTime(startedAt)
	task.CompletedAt = cloneNullableTime(completedAt)
	task.LeaseExpiresAt = cloneNullableTime(leaseExpiresAt)
	return task, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
