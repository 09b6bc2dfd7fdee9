package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/lib/pq"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const selectFlowColumns = `
		SELECT
			id
		  , owner_id
		  , name
		  , description
		  , enabled
		  , priority
		  , business_hours
		  , failure_policy
		  , created_at
		  , updated_at
		FROM flows
`

func (r *FlowRepository) Create(ctx context.Context, flow *models.Flow) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockOwner(ctx, tx, flow.OwnerID); err != nil {
		return err
	}

	if flow.Priority == nil {
		var next int

		err = tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(priority), 0) + 1 FROM flows WHERE owner_id = $1", flow.OwnerID).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to compute next priority: %w", err)
		}

		flow.Priority = models.IntPtr(next)
	} else {
		holder, taken, holderErr := priorityHolder(ctx, tx, flow.OwnerID, *flow.Priority)
		if holderErr != nil {
			err = holderErr

			return err
		}

		if taken {
			err = persistence.NewFlowError("Create", flow.OwnerID, flow.ID,
				&persistence.PriorityConflictError{Priority: *flow.Priority, HolderID: holder})

			return err
		}
	}

	businessHoursJSON, err := marshalNullable(flow.BusinessHours)
	if err != nil {
		return fmt.Errorf("failed to marshal business hours: %w", err)
	}

	query := `
		INSERT INTO flows (id, owner_id, name, description, enabled, priority,
			business_hours, failure_policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = tx.ExecContext(ctx, query,
		flow.ID,
		flow.OwnerID,
		flow.Name,
		flow.Description,
		flow.Enabled,
		flow.Priority,
		businessHoursJSON,
		flow.FailurePolicy,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert flow: %w", err)
	}

	if err = insertConditions(ctx, tx, flow.ID, flow.Conditions); err != nil {
		return err
	}

	if err = insertActions(ctx, tx, flow.ID, flow.Actions); err != nil {
		return err
	}

	return commit(tx, "Create", flow.OwnerID, flow.ID)
}

func (r *FlowRepository) Get(ctx context.Context, ownerID, id string) (*models.Flow, error) {
	query := selectFlowColumns + ` WHERE id = $1 AND owner_id = $2`

	flow, err := r.scanFlowBase(r.db.QueryRowContext(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError("Get", ownerID, id, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	if err := r.loadConditionsAndActions(ctx, []*models.Flow{flow}); err != nil {
		return nil, err
	}

	return flow, nil
}

func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) ([]*models.Flow, error) {
	query := selectFlowColumns + `
		WHERE owner_id = $1 AND (NOT $2 OR enabled)
		ORDER BY priority ASC NULLS LAST, created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, opts.OwnerID, opts.EnabledOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := r.scanFlowBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	if err := r.loadConditionsAndActions(ctx, flows); err != nil {
		return nil, err
	}

	return flows, nil
}

func (r *FlowRepository) Update(ctx context.Context, flow *models.Flow) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockOwner(ctx, tx, flow.OwnerID); err != nil {
		return err
	}

	if flow.Priority != nil {
		holder, taken, holderErr := priorityHolder(ctx, tx, flow.OwnerID, *flow.Priority)
		if holderErr != nil {
			err = holderErr

			return err
		}

		if taken && holder != flow.ID {
			err = persistence.NewFlowError("Update", flow.OwnerID, flow.ID,
				&persistence.PriorityConflictError{Priority: *flow.Priority, HolderID: holder})

			return err
		}
	}

	businessHoursJSON, err := marshalNullable(flow.BusinessHours)
	if err != nil {
		return fmt.Errorf("failed to marshal business hours: %w", err)
	}

	query := `
		UPDATE flows SET
			name = $3
		  , description = $4
		  , enabled = $5
		  , priority = $6
		  , business_hours = $7
		  , failure_policy = $8
		  , updated_at = $9
		WHERE id = $1 AND owner_id = $2
	`

	result, err := tx.ExecContext(ctx, query,
		flow.ID,
		flow.OwnerID,
		flow.Name,
		flow.Description,
		flow.Enabled,
		flow.Priority,
		businessHoursJSON,
		flow.FailurePolicy,
		flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}

	if err = expectRow(result, "Update", flow.OwnerID, flow.ID); err != nil {
		return err
	}

	return commit(tx, "Update", flow.OwnerID, flow.ID)
}

func (r *FlowRepository) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM flows WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete flow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *FlowRepository) ReplaceConditions(ctx context.Context, ownerID, id string, conditions []models.TriggerCondition, updatedAt time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = touchFlow(ctx, tx, "ReplaceConditions", ownerID, id, updatedAt); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM flow_conditions WHERE flow_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete existing conditions: %w", err)
	}

	if err = insertConditions(ctx, tx, id, conditions); err != nil {
		return err
	}

	return commit(tx, "ReplaceConditions", ownerID, id)
}

func (r *FlowRepository) ReplaceActions(ctx context.Context, ownerID, id string, actions []models.Action, updatedAt time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = touchFlow(ctx, tx, "ReplaceActions", ownerID, id, updatedAt); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM flow_actions WHERE flow_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete existing actions: %w", err)
	}

	if err = insertActions(ctx, tx, id, actions); err != nil {
		return err
	}

	return commit(tx, "ReplaceActions", ownerID, id)
}

func (r *FlowRepository) NextPriority(ctx context.Context, ownerID string) (int, error) {
	var next int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(priority), 0) + 1 FROM flows WHERE owner_id = $1", ownerID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next priority: %w", err)
	}

	return next, nil
}

func (r *FlowRepository) PriorityHolder(ctx context.Context, ownerID string, priority int) (string, bool, error) {
	return priorityHolder(ctx, r.db, ownerID, priority)
}

func (r *FlowRepository) ReassignPriorities(ctx context.Context, ownerID string, assignments []models.PriorityAssignment, updatedAt time.Time) (err error) {
	flowIDs := make([]string, len(assignments))
	values := make([]int64, len(assignments))

	for i, assignment := range assignments {
		flowIDs[i] = assignment.FlowID
		values[i] = int64(assignment.Priority)
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

	if err = lockOwner(ctx, tx, ownerID); err != nil {
		return err
	}

	owned, err := r.ownedIDs(ctx, tx, ownerID, flowIDs)
	if err != nil {
		return err
	}

	missing := make([]string, 0)

	for _, id := range flowIDs {
		if !owned[id] {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		err = &persistence.MissingFlowsError{FlowIDs: missing}

		return err
	}

	query := `
		SELECT id, priority
		FROM flows
		WHERE owner_id = $1 AND priority = ANY($2) AND NOT (id = ANY($3))
		LIMIT 1
	`

	var (
		holder   string
		priority int
	)

	err = tx.QueryRowContext(ctx, query, ownerID, pq.Array(values), pq.Array(flowIDs)).Scan(&holder, &priority)

	switch {
	case err == nil:
		err = persistence.NewFlowError("ReassignPriorities", ownerID, holder,
			&persistence.PriorityConflictError{Priority: priority, HolderID: holder})

		return err
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check priority conflicts: %w", err)
	}

	for _, assignment := range assignments {
		_, err = tx.ExecContext(ctx,
			"UPDATE flows SET priority = $3, updated_at = $4 WHERE id = $1 AND owner_id = $2",
			assignment.FlowID, ownerID, assignment.Priority, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to update priority of flow %s: %w", assignment.FlowID, err)
		}
	}

	return commit(tx, "ReassignPriorities", ownerID, "")
}

func (r *FlowRepository) ownedIDs(ctx context.Context, tx *sql.Tx, ownerID string, ids []string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM flows WHERE owner_id = $1 AND id = ANY($2)", ownerID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to look up flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	owned := make(map[string]bool, len(ids))

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan flow id: %w", err)
		}

		owned[id] = true
	}

	return owned, rows.Err()
}

func (r *FlowRepository) loadConditionsAndActions(ctx context.Context, flows []*models.Flow) error {
	if len(flows) == 0 {
		return nil
	}

	byID := make(map[string]*models.Flow, len(flows))
	ids := make([]string, len(flows))

	for i, flow := range flows {
		flow.Conditions = []models.TriggerCondition{}
		flow.Actions = []models.Action{}
		byID[flow.ID] = flow
		ids[i] = flow.ID
	}

	if err := r.loadConditions(ctx, ids, byID); err != nil {
		return err
	}

	return r.loadActions(ctx, ids, byID)
}

func (r *FlowRepository) loadConditions(ctx context.Context, ids []string, byID map[string]*models.Flow) error {
	query := `
		SELECT
			flow_id
		  , condition
		FROM flow_conditions
		WHERE flow_id = ANY($1)
		ORDER BY flow_id, position
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query conditions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			flowID        string
			conditionJSON []byte
			condition     models.TriggerCondition
		)

		if err := rows.Scan(&flowID, &conditionJSON); err != nil {
			return fmt.Errorf("failed to scan condition: %w", err)
		}

		if err := json.Unmarshal(conditionJSON, &condition); err != nil {
			return fmt.Errorf("failed to unmarshal condition of flow %s: %w", flowID, err)
		}

		byID[flowID].Conditions = append(byID[flowID].Conditions, condition)
	}

	return rows.Err()
}

func (r *FlowRepository) loadActions(ctx context.Context, ids []string, byID map[string]*models.Flow) error {
	query := `
		SELECT
			flow_id
		  , action_order
		  , action_type
		  , config
		  , condition
		FROM flow_actions
		WHERE flow_id = ANY($1)
		ORDER BY flow_id, action_order
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query actions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			flowID        string
			action        models.Action
			configJSON    []byte
			conditionJSON []byte
		)

		if err := rows.Scan(&flowID, &action.Order, &action.Type, &configJSON, &conditionJSON); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}

		config, err := models.DecodeActionConfig(action.Type, configJSON)
		if err != nil {
			return fmt.Errorf("failed to decode config of action %d in flow %s: %w", action.Order, flowID, err)
		}

		action.Config = config

		if conditionJSON != nil {
			action.Condition = &models.TriggerCondition{}
			if err := json.Unmarshal(conditionJSON, action.Condition); err != nil {
				return fmt.Errorf("failed to unmarshal gating condition: %w", err)
			}
		}

		byID[flowID].Actions = append(byID[flowID].Actions, action)
	}

	return rows.Err()
}

func (r *FlowRepository) scanFlowBase(row scanner) (*models.Flow, error) {
	var (
		flow              models.Flow
		priority          sql.NullInt64
		businessHoursJSON []byte
	)

	err := row.Scan(
		&flow.ID,
		&flow.OwnerID,
		&flow.Name,
		&flow.Description,
		&flow.Enabled,
		&priority,
		&businessHoursJSON,
		&flow.FailurePolicy,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if priority.Valid {
		flow.Priority = models.IntPtr(int(priority.Int64))
	}

	if businessHoursJSON != nil {
		flow.BusinessHours = &models.BusinessHours{}
		if err := json.Unmarshal(businessHoursJSON, flow.BusinessHours); err != nil {
			return nil, fmt.Errorf("failed to unmarshal business hours: %w", err)
		}
	}

	return &flow, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func priorityHolder(ctx context.Context, db queryRower, ownerID string, priority int) (string, bool, error) {
	var holder string

	err := db.QueryRowContext(ctx, "SELECT id FROM flows WHERE owner_id = $1 AND priority = $2", ownerID, priority).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to look up priority holder: %w", err)
	}

	return holder, true, nil
}

func touchFlow(ctx context.Context, tx *sql.Tx, op, ownerID, id string, updatedAt time.Time) error {
	result, err := tx.ExecContext(ctx, "UPDATE flows SET updated_at = $3 WHERE id = $1 AND owner_id = $2", id, ownerID, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to touch flow: %w", err)
	}

	return expectRow(result, op, ownerID, id)
}

func expectRow(result sql.Result, op, ownerID, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewFlowError(op, ownerID, id, persistence.ErrFlowNotFound)
	}

	return nil
}

func insertConditions(ctx context.Context, tx *sql.Tx, flowID string, conditions []models.TriggerCondition) error {
	for position, condition := range conditions {
		conditionJSON, err := json.Marshal(condition)
		if err != nil {
			return fmt.Errorf("failed to marshal condition %d: %w", position+1, err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO flow_conditions (flow_id, position, condition) VALUES ($1, $2, $3)",
			flowID, position, conditionJSON)
		if err != nil {
			return fmt.Errorf("failed to insert condition %d: %w", position+1, err)
		}
	}

	return nil
}

func insertActions(ctx context.Context, tx *sql.Tx, flowID string, actions []models.Action) error {
	sorted := slices.Clone(actions)
	models.SortActions(sorted)

	for _, action := range sorted {
		configJSON, err := json.Marshal(action.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config of action %d: %w", action.Order, err)
		}

		conditionJSON, err := marshalNullable(action.Condition)
		if err != nil {
			return fmt.Errorf("failed to marshal gating condition of action %d: %w", action.Order, err)
		}

		query := `
			INSERT INTO flow_actions (flow_id, action_order, action_type, config, condition)
			VALUES ($1, $2, $3, $4, $5)
		`

		_, err = tx.ExecContext(ctx, query, flowID, action.Order, action.Type, configJSON, conditionJSON)
		if err != nil {
			return fmt.Errorf("failed to insert action %d: %w", action.Order, err)
		}
	}

	return nil
}

// commit maps a deferred unique violation on the priority constraint to ErrPriorityTaken.
func commit(tx *sql.Tx, op, ownerID, id string) error {
	err := tx.Commit()
	if err == nil {
		return nil
	}

	if isUniqueViolation(err) {
		return persistence.NewFlowError(op, ownerID, id, persistence.ErrPriorityTaken)
	}

	return fmt.Errorf("failed to commit transaction: %w", err)
}

func marshalNullable[T any](value *T) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	return json.Marshal(value)
}
