package activity

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/staffhub/taskcore/internal/contracts"
)

const createActivitySQL = `
CREATE TABLE IF NOT EXISTS task_activity (
  entry_id text PRIMARY KEY,
  task_id text NOT NULL,
  actor_user_id text NOT NULL,
  actor_email text NOT NULL DEFAULT '',
  department_id text NOT NULL,
  activity_type text NOT NULL,
  description text NOT NULL,
  previous_value text NOT NULL DEFAULT '',
  new_value text NOT NULL DEFAULT '',
  metadata jsonb NOT NULL DEFAULT '{}',
  shard_id integer NOT NULL,
  occurred_at timestamptz NOT NULL,
  inserted_at timestamptz NOT NULL DEFAULT now()
)`

const createActivityTaskIndexSQL = `
CREATE INDEX IF NOT EXISTS task_activity_task_idx ON task_activity (task_id, occurred_at DESC)`

// Entries are insert-only. ON CONFLICT DO NOTHING absorbs JetStream
// redeliveries; nothing ever updates or deletes a row.
const insertActivitySQL = `
INSERT INTO task_activity (
  entry_id, task_id, actor_user_id, actor_email, department_id,
  activity_type, description, previous_value, new_value, metadata,
  shard_id, occurred_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (entry_id) DO NOTHING
`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createActivitySQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createActivityTaskIndexSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, msg contracts.ActivityMessage) error {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = r.Pool.Exec(ctx, insertActivitySQL,
		msg.EntryID,
		msg.TaskID,
		msg.ActorUserID,
		msg.ActorEmail,
		msg.DepartmentID,
		msg.Type,
		msg.Description,
		msg.PreviousValue,
		msg.NewValue,
		metadataJSON,
		msg.ShardID,
		msg.OccurredAt,
	)
	return err
}

func (r *PostgresRepository) ListByTask(ctx context.Context, taskID string, limit int) ([]contracts.ActivityMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.Pool.Query(ctx,
		`SELECT entry_id, task_id, actor_user_id, actor_email, department_id,
		        activity_type, description, previous_value, new_value, metadata,
		        shard_id, occurred_at
		 FROM task_activity
		 WHERE task_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		taskID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]contracts.ActivityMessage, 0, limit)
	for rows.Next() {
		var m contracts.ActivityMessage
		var metadata []byte
		if err := rows.Scan(
			&m.EntryID, &m.TaskID, &m.ActorUserID, &m.ActorEmail, &m.DepartmentID,
			&m.Type, &m.Description, &m.PreviousValue, &m.NewValue, &metadata,
			&m.ShardID, &m.OccurredAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
