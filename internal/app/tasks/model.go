package tasks

import (
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func ParsePriority(raw string) (Priority, bool) {
	switch Priority(strings.TrimSpace(strings.ToLower(raw))) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(strings.TrimSpace(strings.ToLower(raw))), true
	default:
		return "", false
	}
}

// Status stays a plain string; these are the values the stock clients send.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusOnHold     = "on_hold"
)

type AssignmentLevel string

const (
	LevelInitial    AssignmentLevel = "initial"
	LevelDelegation AssignmentLevel = "delegation"
)

// Comment supports exactly one level of threading: a top-level comment holds
// replies, and a reply never holds replies of its own.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Message   string    `json:"message"`
	Mentions  []string  `json:"mentions,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Replies   []Comment `json:"replies,omitempty"`
}

type TimeEntry struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	Hours       float64   `json:"hours"`
	Date        time.Time `json:"date"`
	Description string    `json:"description,omitempty"`
}

// AssignmentEntry records one link of the delegation chain. Entries are
// append-only and never edited after being written.
type AssignmentEntry struct {
	AssignedBy   string          `json:"assigned_by"`
	AssignedTo   string          `json:"assigned_to"`
	AssignedAt   time.Time       `json:"assigned_at"`
	Level        AssignmentLevel `json:"level"`
	Instructions string          `json:"instructions,omitempty"`
}

type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	Priority       Priority   `json:"priority"`
	Category       string     `json:"category,omitempty"`
	DepartmentID   string     `json:"department_id"`
	CreatedBy      string     `json:"created_by"`
	LastModifiedBy string     `json:"last_modified_by"`
	AssignedTo     []string   `json:"assigned_to"`
	Tags           []string   `json:"tags,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	ParentTaskID   string     `json:"parent_task_id,omitempty"`
	DueDate        time.Time  `json:"due_date"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	ActualHours    float64    `json:"actual_hours"`
	IsActive       bool       `json:"is_active"`

	Comments          []Comment         `json:"comments,omitempty"`
	TimeEntries       []TimeEntry       `json:"time_entries,omitempty"`
	AssignmentHistory []AssignmentEntry `json:"assignment_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Task) isAssignee(userID string) bool {
	for _, id := range t.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// addAssignee keeps assigned_to a duplicate-free ordered set.
func (t *Task) addAssignee(userID string) {
	if !t.isAssignee(userID) {
		t.AssignedTo = append(t.AssignedTo, userID)
	}
}

func (t *Task) findComment(commentID string) *Comment {
	for i := range t.Comments {
		if t.Comments[i].ID == commentID {
			return &t.Comments[i]
		}
	}
	return nil
}
