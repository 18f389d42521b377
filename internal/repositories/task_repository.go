package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"clientray/internal/models"
)

type TaskRepository interface {
	Store(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id int64) (*models.Task, error)
	FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, id int64) error

	ReplaceExtraAssignees(ctx context.Context, taskID int64, userIDs []int64, assignedBy int64) error
	StopRecurrence(ctx context.Context, id int64) error

	// Recurrence store consumed by the materializer.
	FindDueRecurring(ctx context.Context, now time.Time) ([]models.Task, error)
	Materialize(ctx context.Context, fn func(tx MaterializeTx) error) error
}

// MaterializeTx exposes the per-template operations available inside one
// generation transaction. LockTemplate takes a row lock on the template for
// the remainder of the transaction, so overlapping runs serialize on the
// template and the loser re-reads the already-advanced pointer.
type MaterializeTx interface {
	LockTemplate(ctx context.Context, id int64) (*models.Task, error)
	ExtraAssignees(ctx context.Context, taskID int64) ([]int64, error)
	InsertInstance(ctx context.Context, task *models.Task) error
	InsertAssigneeLink(ctx context.Context, taskID, userID, assignedBy int64) error
	SetNextOccurrence(ctx context.Context, id int64, next *time.Time) error
}

type taskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, creator_id, assignee_id, lead_id, account_id, project_id,
       title, description, due_date, priority, status,
       is_recurring, recurrence_pattern, recurrence_interval, recurrence_end_date,
       next_occurrence, parent_recurring_task_id, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var pattern sql.NullString
	var interval sql.NullInt64
	err := row.Scan(
		&t.ID, &t.CreatorID, &t.AssigneeID, &t.LeadID, &t.AccountID, &t.ProjectID,
		&t.Title, &t.Description, &t.DueDate, &t.Priority, &t.Status,
		&t.IsRecurring, &pattern, &interval, &t.RecurrenceEndDate,
		&t.NextOccurrence, &t.ParentRecurringTaskID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.RecurrencePattern = pattern.String
	t.RecurrenceInterval = int(interval.Int64)
	return t, nil
}

func (r *taskRepository) Store(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (
			creator_id, assignee_id, lead_id, account_id, project_id,
			title, description, due_date, priority, status,
			is_recurring, recurrence_pattern, recurrence_interval, recurrence_end_date,
			next_occurrence, parent_recurring_task_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		task.CreatorID, task.AssigneeID, task.LeadID, task.AccountID, task.ProjectID,
		task.Title, task.Description, task.DueDate, task.Priority, task.Status,
		task.IsRecurring, nullString(task.RecurrencePattern), nullInt(task.RecurrenceInterval),
		task.RecurrenceEndDate, task.NextOccurrence, task.ParentRecurringTaskID,
		task.CreatedAt, task.UpdatedAt,
	).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
}

func (r *taskRepository) FindByID(ctx context.Context, id int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task not found")
		}
		return nil, err
	}
	extras, err := r.extraAssignees(ctx, id)
	if err != nil {
		return nil, err
	}
	task.ExtraAssigneeIDs = extras
	return task, nil
}

func (r *taskRepository) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`

	conditions := []string{}
	args := []interface{}{}
	argID := 1

	if filter.AssigneeID != nil {
		conditions = append(conditions, fmt.Sprintf("assignee_id = $%d", argID))
		args = append(args, *filter.AssigneeID)
		argID++
	}
	if filter.CreatorID != nil {
		conditions = append(conditions, fmt.Sprintf("creator_id = $%d", argID))
		args = append(args, *filter.CreatorID)
		argID++
	}
	if filter.LeadID != nil {
		conditions = append(conditions, fmt.Sprintf("lead_id = $%d", argID))
		args = append(args, *filter.LeadID)
		argID++
	}
	if filter.AccountID != nil {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", argID))
		args = append(args, *filter.AccountID)
		argID++
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argID))
		args = append(args, *filter.Status)
		argID++
	}
	if filter.IsRecurring != nil {
		conditions = append(conditions, fmt.Sprintf("is_recurring = $%d", argID))
		args = append(args, *filter.IsRecurring)
		argID++
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}
	baseQuery += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	query := `
		UPDATE tasks SET
			assignee_id=$1, title=$2, description=$3, due_date=$4,
			priority=$5, status=$6, recurrence_end_date=$7, updated_at=$8
		WHERE id=$9`
	_, err := r.db.ExecContext(ctx, query,
		task.AssigneeID, task.Title, task.Description, task.DueDate,
		task.Priority, task.Status, task.RecurrenceEndDate, task.UpdatedAt, task.ID,
	)
	return err
}

func (r *taskRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

func (r *taskRepository) ReplaceExtraAssignees(ctx context.Context, taskID int64, userIDs []int64, assignedBy int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=$1`, taskID); err != nil {
		return err
	}
	for _, uid := range userIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_assignees (task_id, user_id, assigned_by) VALUES ($1,$2,$3)`,
			taskID, uid, assignedBy)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StopRecurrence is the administrative stop: the template stays recurring on
// paper but the materializer no longer sees it as due.
func (r *taskRepository) StopRecurrence(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET next_occurrence = NULL, updated_at = NOW() WHERE id=$1`, id)
	return err
}

func (r *taskRepository) FindDueRecurring(ctx context.Context, now time.Time) ([]models.Task, error) {
	q := `
SELECT ` + taskColumns + `
FROM tasks
WHERE is_recurring = TRUE
  AND status != 'cancelled'
  AND next_occurrence IS NOT NULL
  AND next_occurrence <= $1
  AND (recurrence_end_date IS NULL OR recurrence_end_date > $1)
ORDER BY next_occurrence ASC`
	rows, err := r.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *taskRepository) Materialize(ctx context.Context, fn func(tx MaterializeTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&materializeTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type materializeTx struct {
	tx *sql.Tx
}

func (m *materializeTx) LockTemplate(ctx context.Context, id int64) (*models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 FOR UPDATE`
	task, err := scanTask(m.tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

func (m *materializeTx) ExtraAssignees(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := m.tx.QueryContext(ctx,
		`SELECT user_id FROM task_assignees WHERE task_id=$1 ORDER BY user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (m *materializeTx) InsertInstance(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (
			creator_id, assignee_id, lead_id, account_id, project_id,
			title, description, due_date, priority, status,
			is_recurring, recurrence_pattern, recurrence_interval, recurrence_end_date,
			next_occurrence, parent_recurring_task_id, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE,NULL,NULL,NULL,NULL,$11,$12,$13)
		RETURNING id`
	return m.tx.QueryRowContext(ctx, query,
		task.CreatorID, task.AssigneeID, task.LeadID, task.AccountID, task.ProjectID,
		task.Title, task.Description, task.DueDate, task.Priority, task.Status,
		task.ParentRecurringTaskID, task.CreatedAt, task.UpdatedAt,
	).Scan(&task.ID)
}

func (m *materializeTx) InsertAssigneeLink(ctx context.Context, taskID, userID, assignedBy int64) error {
	_, err := m.tx.ExecContext(ctx,
		`INSERT INTO task_assignees (task_id, user_id, assigned_by) VALUES ($1,$2,$3)`,
		taskID, userID, assignedBy)
	return err
}

func (m *materializeTx) SetNextOccurrence(ctx context.Context, id int64, next *time.Time) error {
	_, err := m.tx.ExecContext(ctx,
		`UPDATE tasks SET next_occurrence=$1, updated_at=NOW() WHERE id=$2`, next, id)
	return err
}

func (r *taskRepository) extraAssignees(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM task_assignees WHERE task_id=$1 ORDER BY user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
