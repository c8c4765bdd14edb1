package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const insertAuditEvent = `-- name: InsertAuditEvent :exec
INSERT INTO audit_events (
  actor,
  actor_role,
  action,
  target_type,
  target_id,
  details
)
VALUES ($1, $2, $3, $4, $5::uuid, COALESCE($6, '{}'::jsonb))
`

type InsertAuditEventParams struct {
	Actor      string
	ActorRole  *string
	Action     string
	TargetType *string
	TargetID   *string
	Details    map[string]any
}

func (q *Queries) InsertAuditEvent(ctx context.Context, arg InsertAuditEventParams) error {
	_, err := q.db.Exec(ctx, insertAuditEvent, arg.Actor, arg.ActorRole, arg.Action, arg.TargetType, arg.TargetID, arg.Details)
	return err
}

func scanRepairRun(row pgx.Row) (RepairRun, error) {
	var i RepairRun
	err := row.Scan(
		&i.ID,
		&i.Defect,
		&i.Status,
		&i.Requester,
		&i.Stats,
		&i.StartedAt,
		&i.CompletedAt,
		&i.LastError,
	)
	return i, err
}

const insertRepairRun = `-- name: InsertRepairRun :one
INSERT INTO repair_runs (defect, status, requester, stats)
VALUES ($1, $2, $3, COALESCE($4, '{}'::jsonb))
RETURNING id, defect, status, requester, stats, started_at, completed_at, last_error
`

type InsertRepairRunParams struct {
	Defect    string
	Status    string
	Requester *string
	Stats     map[string]any
}

func (q *Queries) InsertRepairRun(ctx context.Context, arg InsertRepairRunParams) (RepairRun, error) {
	row := q.db.QueryRow(ctx, insertRepairRun, arg.Defect, arg.Status, arg.Requester, arg.Stats)
	return scanRepairRun(row)
}

const claimNextRepairRun = `-- name: ClaimNextRepairRun :one
WITH next AS (
  SELECT id
  FROM repair_runs
  WHERE status = 'queued'
  ORDER BY started_at ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE repair_runs rr
SET status = 'running',
    stats = COALESCE($1, rr.stats),
    completed_at = NULL,
    last_error = NULL
FROM next
WHERE rr.id = next.id
RETURNING rr.id, rr.defect, rr.status, rr.requester, rr.stats, rr.started_at, rr.completed_at, rr.last_error
`

func (q *Queries) ClaimNextRepairRun(ctx context.Context, stats map[string]any) (RepairRun, error) {
	row := q.db.QueryRow(ctx, claimNextRepairRun, stats)
	return scanRepairRun(row)
}

const updateRepairRun = `-- name: UpdateRepairRun :one
UPDATE repair_runs
SET status = $2,
    stats = COALESCE($3, stats),
    completed_at = $4,
    last_error = $5
WHERE id = $1
RETURNING id, defect, status, requester, stats, started_at, completed_at, last_error
`

type UpdateRepairRunParams struct {
	ID          string
	Status      string
	Stats       map[string]any
	CompletedAt *time.Time
	LastError   *string
}

func (q *Queries) UpdateRepairRun(ctx context.Context, arg UpdateRepairRunParams) (RepairRun, error) {
	row := q.db.QueryRow(ctx, updateRepairRun, arg.ID, arg.Status, arg.Stats, arg.CompletedAt, arg.LastError)
	return scanRepairRun(row)
}

const getLatestRepairRun = `-- name: GetLatestRepairRun :one
SELECT id, defect, status, requester, stats, started_at, completed_at, last_error
FROM repair_runs
ORDER BY started_at DESC
LIMIT 1
`

func (q *Queries) GetLatestRepairRun(ctx context.Context) (RepairRun, error) {
	row := q.db.QueryRow(ctx, getLatestRepairRun)
	return scanRepairRun(row)
}

const getRepairRun = `-- name: GetRepairRun :one
SELECT id, defect, status, requester, stats, started_at, completed_at, last_error
FROM repair_runs
WHERE id = $1
`

func (q *Queries) GetRepairRun(ctx context.Context, id string) (RepairRun, error) {
	row := q.db.QueryRow(ctx, getRepairRun, id)
	return scanRepairRun(row)
}

const listRepairRuns = `-- name: ListRepairRuns :many
SELECT id, defect, status, requester, stats, started_at, completed_at, last_error
FROM repair_runs
WHERE
	($1::text IS NULL OR defect = $1)
	AND ($2::timestamptz IS NULL OR (started_at < $2 OR (started_at = $2 AND id < $3)))
ORDER BY started_at DESC, id DESC
LIMIT $4
`

type ListRepairRunsParams struct {
	Defect          *string
	BeforeStartedAt *time.Time
	BeforeID        *string
	Limit           int32
}

func (q *Queries) ListRepairRuns(ctx context.Context, arg ListRepairRunsParams) ([]RepairRun, error) {
	rows, err := q.db.Query(ctx, listRepairRuns, arg.Defect, arg.BeforeStartedAt, arg.BeforeID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RepairRun
	for rows.Next() {
		i, err := scanRepairRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertRepairRunLog = `-- name: InsertRepairRunLog :exec
INSERT INTO repair_run_logs (run_id, level, message)
VALUES ($1, $2, $3)
`

type InsertRepairRunLogParams struct {
	RunID   string
	Level   string
	Message string
}

func (q *Queries) InsertRepairRunLog(ctx context.Context, arg InsertRepairRunLogParams) error {
	_, err := q.db.Exec(ctx, insertRepairRunLog, arg.RunID, arg.Level, arg.Message)
	return err
}

const listRepairRunLogs = `-- name: ListRepairRunLogs :many
SELECT id, run_id, level, message, created_at
FROM repair_run_logs
WHERE
	run_id = $1
	AND ($2::timestamptz IS NULL OR (created_at < $2 OR (created_at = $2 AND id < $3)))
ORDER BY created_at DESC, id DESC
LIMIT $4
`

type ListRepairRunLogsParams struct {
	RunID           string
	BeforeCreatedAt *time.Time
	BeforeID        *int64
	Limit           int32
}

func (q *Queries) ListRepairRunLogs(ctx context.Context, arg ListRepairRunLogsParams) ([]RepairRunLog, error) {
	rows, err := q.db.Query(ctx, listRepairRunLogs, arg.RunID, arg.BeforeCreatedAt, arg.BeforeID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RepairRunLog
	for rows.Next() {
		var i RepairRunLog
		if err := rows.Scan(&i.ID, &i.RunID, &i.Level, &i.Message, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
