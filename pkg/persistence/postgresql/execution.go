package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// ExecutionRepository handles execution and action log database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const selectExecutionColumns = `
		SELECT
			id
		  , owner_id
		  , flow_id
		  , flow_name
		  , contact_id
		  , event_type
		  , event_data
		  , status
		  , is_test_run
		  , actions
		  , failure_policy
		  , next_action_order
		  , resume_at
		  , started_at
		  , ended_at
		FROM executions
`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	eventDataJSON, err := json.Marshal(execution.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	actionsJSON, err := json.Marshal(execution.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO executions (id, owner_id, flow_id, flow_name, contact_id, event_type, event_data,
			status, is_test_run, actions, failure_policy, next_action_order, resume_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.OwnerID,
		execution.FlowID,
		execution.FlowName,
		execution.ContactID,
		execution.EventType,
		eventDataJSON,
		execution.Status,
		execution.IsTestRun,
		actionsJSON,
		execution.FailurePolicy,
		execution.NextActionOrder,
		execution.ResumeAt,
		execution.StartedAt,
		execution.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) Get(ctx context.Context, ownerID, id string) (*models.Execution, error) {
	query := selectExecutionColumns + ` WHERE id = $1 AND owner_id = $2`

	return r.getWithLogs(ctx, r.db.QueryRowContext(ctx, query, id, ownerID))
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.Execution, error) {
	query := selectExecutionColumns + ` WHERE id = $1`

	return r.getWithLogs(ctx, r.db.QueryRowContext(ctx, query, id))
}

func (r *ExecutionRepository) getWithLogs(ctx context.Context, row *sql.Row) (*models.Execution, error) {
	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	logs, err := r.logs(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	execution.Logs = logs

	return execution, nil
}

func (r *ExecutionRepository) logs(ctx context.Context, executionID string) ([]models.ActionLog, error) {
	query := `
		SELECT
			id
		  , execution_id
		  , action_order
		  , action_type
		  , outcome
		  , detail
		  , created_at
		FROM action_logs
		WHERE execution_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action logs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]models.ActionLog, 0)

	for rows.Next() {
		var (
			log        models.ActionLog
			detailJSON []byte
		)

		err := rows.Scan(&log.ID, &log.ExecutionID, &log.ActionOrder, &log.ActionType, &log.Outcome, &detailJSON, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &log.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal action log detail: %w", err)
			}
		}

		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action logs: %w", err)
	}

	return logs, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.Execution, error) {
	query, args := buildListQuery(opts.Normalize())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func buildListQuery(opts persistence.ListExecutionsOptions) (string, []any) {
	conditions := []string{"owner_id = $1"}
	args := []any{opts.OwnerID}

	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, clause+" = $"+strconv.Itoa(len(args)))
	}

	if opts.FlowID != "" {
		add("flow_id", opts.FlowID)
	}

	if opts.Status != "" {
		add("status", opts.Status)
	}

	if opts.IsTestRun != nil {
		add("is_test_run", *opts.IsTestRun)
	}

	args = append(args, opts.Limit, opts.Offset)

	query := selectExecutionColumns +
		" WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY started_at DESC, id DESC" +
		" LIMIT $" + strconv.Itoa(len(args)-1) +
		" OFFSET $" + strconv.Itoa(len(args))

	return query, args
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, log *models.ActionLog) (err error) {
	var detailJSON []byte

	if log.Detail != nil {
		detailJSON, err = json.Marshal(log.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal action log detail: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status models.ExecutionStatus

	err = tx.QueryRowContext(ctx, "SELECT status FROM executions WHERE id = $1 FOR SHARE", log.ExecutionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		err = persistence.ErrExecutionNotFound

		return err
	}

	if err != nil {
		return fmt.Errorf("failed to lock execution: %w", err)
	}

	if status != models.ExecutionStatusRunning {
		err = persistence.ErrExecutionNotRunning

		return err
	}

	query := `
		INSERT INTO action_logs (id, execution_id, action_order, action_type, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = tx.ExecContext(ctx, query,
		log.ID,
		log.ExecutionID,
		log.ActionOrder,
		log.ActionType,
		log.Outcome,
		detailJSON,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert action log: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) Park(ctx context.Context, id string, order int, resumeAt time.Time) error {
	query := `
		UPDATE executions
		SET next_action_order = $2, resume_at = $3
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, id, order, resumeAt)
	if err != nil {
		return fmt.Errorf("failed to park execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected > 0 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}

	if !exists {
		return persistence.ErrExecutionNotFound
	}

	return persistence.ErrExecutionNotRunning
}

func (r *ExecutionRepository) ClaimResume(ctx context.Context, id string, order int, now time.Time) (bool, error) {
	query := `
		UPDATE executions
		SET resume_at = NULL
		WHERE id = $1 AND status = 'running' AND next_action_order = $2
			AND resume_at IS NOT NULL AND resume_at <= $3
	`

	return r.execConditional(ctx, "claim resumption", query, id, order, now)
}

func (r *ExecutionRepository) DueResumptions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	query := selectExecutionColumns + `
		WHERE status = 'running' AND resume_at IS NOT NULL AND resume_at <= $1
		ORDER BY resume_at ASC
	`

	args := []any{now}

	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due resumptions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	due := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		due = append(due, execution)
	}

	return due, rows.Err()
}

func (r *ExecutionRepository) Finish(ctx context.Context, id string, status models.ExecutionStatus, endedAt time.Time) (bool, error) {
	query := `
		UPDATE executions
		SET status = $2, ended_at = $3, resume_at = NULL
		WHERE id = $1 AND status = 'running'
	`

	return r.execConditional(ctx, "finish execution", query, id, status, endedAt)
}

func (r *ExecutionRepository) execConditional(ctx context.Context, what, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", what, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *ExecutionRepository) ExecutionStatistics(ctx context.Context, ownerID, flowID string) (*models.ExecutionStatistics, error) {
	query := `
		SELECT
			status
		  , is_test_run
		  , COUNT(*)
		FROM executions
		WHERE owner_id = $1 AND ($2 = '' OR flow_id = $2)
		GROUP BY status, is_test_run
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution statistics: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	stats := models.NewExecutionStatistics()

	for rows.Next() {
		var (
			status    models.ExecutionStatus
			isTestRun bool
			count     int
		)

		if err := rows.Scan(&status, &isTestRun, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution statistics: %w", err)
		}

		stats.Total += count
		stats.ByStatus[status] += count

		if isTestRun {
			stats.TestRuns += count
		}
	}

	return stats, rows.Err()
}

func (r *ExecutionRepository) ActionStatistics(ctx context.Context, ownerID, flowID string) (*models.ActionStatistics, error) {
	query := `
		SELECT
			l.action_type
		  , l.outcome
		  , COUNT(*)
		FROM action_logs l
		JOIN executions e ON e.id = l.execution_id
		WHERE e.owner_id = $1 AND e.flow_id = $2
		GROUP BY l.action_type, l.outcome
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query action statistics: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	stats := models.NewActionStatistics(flowID)

	for rows.Next() {
		var (
			actionType models.ActionType
			outcome    models.ActionOutcome
			count      int
		)

		if err := rows.Scan(&actionType, &outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action statistics: %w", err)
		}

		counts := stats.ByType[actionType]
		counts.Add(outcome, count)
		stats.ByType[actionType] = counts
	}

	return stats, rows.Err()
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution     models.Execution
		eventDataJSON []byte
		actionsJSON   []byte
		resumeAt      sql.NullTime
		endedAt       sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.OwnerID,
		&execution.FlowID,
		&execution.FlowName,
		&execution.ContactID,
		&execution.EventType,
		&eventDataJSON,
		&execution.Status,
		&execution.IsTestRun,
		&actionsJSON,
		&execution.FailurePolicy,
		&execution.NextActionOrder,
		&resumeAt,
		&execution.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if eventDataJSON != nil {
		if err := json.Unmarshal(eventDataJSON, &execution.EventData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}

	if err := json.Unmarshal(actionsJSON, &execution.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	if resumeAt.Valid {
		execution.ResumeAt = &resumeAt.Time
	}

	if endedAt.Valid {
		execution.EndedAt = &endedAt.Time
	}

	return &execution, nil
}
