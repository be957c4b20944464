package contracts

import "time"

// Activity types written to the audit trail. Closed set; the sink rejects
// anything else.
const (
	ActivityCreated       = "created"
	ActivityUpdated       = "updated"
	ActivityStatusChanged = "status_changed"
	ActivityCommented     = "commented"
	ActivityTimeLogged    = "time_logged"
	ActivityAssigned      = "assigned"
	ActivityDelegated     = "delegated"
)

func IsValidActivityType(t string) bool {
	switch t {
	case ActivityCreated, ActivityUpdated, ActivityStatusChanged,
		ActivityCommented, ActivityTimeLogged, ActivityAssigned, ActivityDelegated:
		return true
	default:
		return false
	}
}

// ActivityRecord is what an operation asks the recorder to write. The actor
// is still an email here; the recorder resolves it before publishing.
type ActivityRecord struct {
	TaskID        string
	ActorEmail    string
	Type          string
	Description   string
	PreviousValue string
	NewValue      string
	Metadata      map[string]string
}

// ActivityMessage is the resolved entry published by the recorder and
// consumed by activity-sink. The department is snapshotted from the task at
// write time so old entries stay attributable if the task later moves.
type ActivityMessage struct {
	EntryID       string            `json:"entry_id"`
	TaskID        string            `json:"task_id"`
	ActorUserID   string            `json:"actor_user_id"`
	ActorEmail    string            `json:"actor_email"`
	DepartmentID  string            `json:"department_id"`
	Type          string            `json:"type"`
	Description   string            `json:"description"`
	PreviousValue string            `json:"previous_value,omitempty"`
	NewValue      string            `json:"new_value,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	ShardID       int               `json:"shard_id"`
}
