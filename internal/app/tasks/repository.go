package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTaskNotFound = errors.New("task not found")

// Stats are the six role-scoped counts over active tasks. All six come from
// one query against one snapshot so they stay mutually comparable.
type Stats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Completed    int `json:"completed"`
	Overdue      int `json:"overdue"`
	HighPriority int `json:"high_priority"`
	DueThisWeek  int `json:"due_this_week"`
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	// Mutate applies fn to the current row inside a single transaction
	// holding a row lock, so concurrent mutations of the same task cannot
	// clobber one another's history appends.
	Mutate(ctx context.Context, id string, fn func(*Task) error) (Task, error)
	List(ctx context.Context, scope Scope, filter Filter) ([]Task, error)
	Stats(ctx context.Context, scope Scope, now time.Time) (Stats, error)
	Recent(ctx context.Context, scope Scope, limit int) ([]Task, error)
	UpcomingDeadlines(ctx context.Context, scope Scope, now time.Time, within time.Duration, limit int) ([]Task, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  id text PRIMARY KEY,
  title text NOT NULL,
  description text NOT NULL,
  status text NOT NULL,
  priority text NOT NULL,
  category text NOT NULL DEFAULT '',
  department_id text NOT NULL,
  created_by text NOT NULL,
  last_modified_by text NOT NULL,
  assigned_to text[] NOT NULL DEFAULT '{}',
  tags text[] NOT NULL DEFAULT '{}',
  dependencies text[] NOT NULL DEFAULT '{}',
  parent_task_id text,
  due_date timestamptz NOT NULL,
  start_date timestamptz,
  estimated_hours double precision,
  actual_hours double precision NOT NULL DEFAULT 0,
  is_active boolean NOT NULL DEFAULT true,
  comments jsonb NOT NULL DEFAULT '[]',
  time_entries jsonb NOT NULL DEFAULT '[]',
  assignment_history jsonb NOT NULL DEFAULT '[]',
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createTasksDeptIndexSQL = `
CREATE INDEX IF NOT EXISTS tasks_department_idx ON tasks (department_id) WHERE is_active`

const createTasksDueIndexSQL = `
CREATE INDEX IF NOT EXISTS tasks_due_date_idx ON tasks (due_date) WHERE is_active`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createTasksSQL, createTasksDeptIndexSQL, createTasksDueIndexSQL} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const taskColumns = `id, title, description, status, priority, category,
  department_id, created_by, last_modified_by, assigned_to, tags, dependencies,
  parent_task_id, due_date, start_date, estimated_hours, actual_hours, is_active,
  comments, time_entries, assignment_history, created_at, updated_at`

func (r *PostgresRepository) Insert(ctx context.Context, t Task) error {
	comments, timeEntries, history, err := marshalEmbedded(t)
	if err != nil {
		return err
	}
	_, err = r.Pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		t.ID, t.Title, t.Description, t.Status, string(t.Priority), t.Category,
		t.DepartmentID, t.CreatedBy, t.LastModifiedBy,
		embeddedOrEmpty(t.AssignedTo), embeddedOrEmpty(t.Tags), embeddedOrEmpty(t.Dependencies),
		nullableText(t.ParentTaskID), t.DueDate, t.StartDate, t.EstimatedHours, t.ActualHours, t.IsActive,
		comments, timeEntries, history, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Task, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (r *PostgresRepository) Mutate(ctx context.Context, id string, fn func(*Task) error) (Task, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTask(row)
	if err != nil {
		return Task{}, err
	}
	if err := fn(&t); err != nil {
		return Task{}, err
	}

	comments, timeEntries, history, err := marshalEmbedded(t)
	if err != nil {
		return Task{}, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET
		   title = $2, description = $3, status = $4, priority = $5, category = $6,
		   department_id = $7, last_modified_by = $8, assigned_to = $9, tags = $10,
		   dependencies = $11, parent_task_id = $12, due_date = $13, start_date = $14,
		   estimated_hours = $15, actual_hours = $16, is_active = $17,
		   comments = $18, time_entries = $19, assignment_history = $20, updated_at = $21
		 WHERE id = $1`,
		t.ID, t.Title, t.Description, t.Status, string(t.Priority), t.Category,
		t.DepartmentID, t.LastModifiedBy, embeddedOrEmpty(t.AssignedTo), embeddedOrEmpty(t.Tags),
		embeddedOrEmpty(t.Dependencies), nullableText(t.ParentTaskID), t.DueDate, t.StartDate,
		t.EstimatedHours, t.ActualHours, t.IsActive,
		comments, timeEntries, history, t.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (r *PostgresRepository) List(ctx context.Context, scope Scope, filter Filter) ([]Task, error) {
	args := []any{}
	conds := []string{"is_active"}
	if c := scopeCondition(scope, &args); c != "" {
		conds = append(conds, c)
	}
	conds = append(conds, filterConditions(filter, &args)...)

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit)
	limitArg := len(args)
	args = append(args, offset)
	offsetArg := len(args)

	sql := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s %s LIMIT $%d OFFSET $%d`,
		taskColumns, strings.Join(conds, " AND "), orderClause(filter), limitArg, offsetArg)
	rows, err := r.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Stats(ctx context.Context, scope Scope, now time.Time) (Stats, error) {
	args := []any{}
	where := "is_active"
	if c := scopeCondition(scope, &args); c != "" {
		where += " AND " + c
	}

	weekStart, weekEnd := calendarWeek(now)
	args = append(args, now)
	nowArg := len(args)
	args = append(args, weekStart)
	weekStartArg := len(args)
	args = append(args, weekEnd)
	weekEndArg := len(args)

	sql := fmt.Sprintf(`SELECT
	  COUNT(*),
	  COUNT(*) FILTER (WHERE status <> 'completed'),
	  COUNT(*) FILTER (WHERE status = 'completed'),
	  COUNT(*) FILTER (WHERE status <> 'completed' AND due_date < $%d),
	  COUNT(*) FILTER (WHERE priority IN ('high', 'critical')),
	  COUNT(*) FILTER (WHERE due_date >= $%d AND due_date < $%d)
	FROM tasks WHERE %s`, nowArg, weekStartArg, weekEndArg, where)

	var s Stats
	err := r.Pool.QueryRow(ctx, sql, args...).Scan(
		&s.Total, &s.Active, &s.Completed, &s.Overdue, &s.HighPriority, &s.DueThisWeek,
	)
	return s, err
}

func (r *PostgresRepository) Recent(ctx context.Context, scope Scope, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 5
	}
	return r.List(ctx, scope, Filter{SortBy: "updated_at", SortDesc: true, Limit: limit})
}

func (r *PostgresRepository) UpcomingDeadlines(ctx context.Context, scope Scope, now time.Time, within time.Duration, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 5
	}
	args := []any{}
	conds := []string{"is_active", "status <> 'completed'"}
	if c := scopeCondition(scope, &args); c != "" {
		conds = append(conds, c)
	}
	args = append(args, now)
	fromArg := len(args)
	args = append(args, now.Add(within))
	toArg := len(args)
	conds = append(conds, fmt.Sprintf("due_date >= $%d AND due_date <= $%d", fromArg, toArg))
	args = append(args, limit)
	limitArg := len(args)

	sql := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY due_date ASC LIMIT $%d`,
		taskColumns, strings.Join(conds, " AND "), limitArg)
	rows, err := r.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// calendarWeek returns the Sunday 00:00 UTC opening the calendar week that
// contains now, and the following Sunday.
func calendarWeek(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	day := now.Truncate(24 * time.Hour)
	start := day.AddDate(0, 0, -int(day.Weekday()))
	return start, start.AddDate(0, 0, 7)
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var priority string
	var parentTask *string
	var comments, timeEntries, history []byte
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &priority, &t.Category,
		&t.DepartmentID, &t.CreatedBy, &t.LastModifiedBy, &t.AssignedTo, &t.Tags, &t.Dependencies,
		&parentTask, &t.DueDate, &t.StartDate, &t.EstimatedHours, &t.ActualHours, &t.IsActive,
		&comments, &timeEntries, &history, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	t.Priority = Priority(priority)
	if parentTask != nil {
		t.ParentTaskID = *parentTask
	}
	if err := json.Unmarshal(comments, &t.Comments); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal(timeEntries, &t.TimeEntries); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal(history, &t.AssignmentHistory); err != nil {
		return Task{}, err
	}
	return t, nil
}

func marshalEmbedded(t Task) (comments, timeEntries, history []byte, err error) {
	if comments, err = json.Marshal(embeddedOrEmpty(t.Comments)); err != nil {
		return nil, nil, nil, err
	}
	if timeEntries, err = json.Marshal(embeddedOrEmpty(t.TimeEntries)); err != nil {
		return nil, nil, nil, err
	}
	if history, err = json.Marshal(embeddedOrEmpty(t.AssignmentHistory)); err != nil {
		return nil, nil, nil, err
	}
	return comments, timeEntries, history, nil
}

// embeddedOrEmpty keeps array-valued columns empty instead of NULL: pgx
// encodes a nil slice as SQL NULL, which the NOT NULL text[] and jsonb
// columns reject.
func embeddedOrEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
