package tasks

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/staffhub/taskcore/internal/app/directory"
	"github.com/staffhub/taskcore/internal/contracts"
	"github.com/staffhub/taskcore/internal/platform/metrics"
)

var mutations = metrics.NewCounterVec(metrics.Opts{
	Name: "taskcore_task_mutations_total",
	Help: "Completed task mutations by operation.",
}, []string{"op"})

func init() {
	metrics.Default.MustRegister(mutations)
}

var (
	ErrForbidden           = errors.New("insufficient permissions for this action")
	ErrTitleRequired       = errors.New("title is required")
	ErrDescriptionRequired = errors.New("description is required")
	ErrDueDateRequired     = errors.New("due_date is required")
	ErrInvalidPriority     = errors.New("invalid priority")
	ErrInvalidHours        = errors.New("hours must be greater than zero")
	ErrMessageRequired     = errors.New("comment message is required")
	ErrCommentNotFound     = errors.New("comment not found")
	ErrAssigneeRequired    = errors.New("assignee_id is required")
)

// Directory is the slice of the directory service the task core consumes.
type Directory interface {
	Resolve(ctx context.Context, email string) (directory.User, error)
	ResolveByID(ctx context.Context, userID string) (directory.User, error)
	ResolveEmails(ctx context.Context, emails []string) ([]directory.User, error)
}

// Recorder appends to the activity trail. It never returns an error: audit
// failures must not block the operation that triggered them.
type Recorder interface {
	Record(ctx context.Context, rec contracts.ActivityRecord)
}

type Service struct {
	Tasks     Repository
	Directory Directory
	Activity  Recorder
	Now       func() time.Time
	NewID     func() string
}

func NewService(repo Repository, dir Directory, recorder Recorder) *Service {
	return &Service{
		Tasks:     repo,
		Directory: dir,
		Activity:  recorder,
		Now:       func() time.Time { return time.Now().UTC() },
		NewID:     nuid.Next,
	}
}

func actorOf(u directory.User) Actor {
	return Actor{UserID: u.ID, Role: u.Role, DepartmentID: u.DepartmentID}
}

type CreateInput struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	DueDate        time.Time  `json:"due_date"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	Category       string     `json:"category,omitempty"`
	Status         string     `json:"status,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	DepartmentID   string     `json:"department_id,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	ParentTaskID   string     `json:"parent_task_id,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
}

// Create persists a new task on behalf of creatorEmail. Role gating for
// creation happens at the route boundary (admin, manager or department head);
// the service only validates and defaults.
func (s *Service) Create(ctx context.Context, in CreateInput, creatorEmail string) (Task, error) {
	creator, err := s.Directory.Resolve(ctx, creatorEmail)
	if err != nil {
		return Task{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return Task{}, ErrTitleRequired
	}
	if strings.TrimSpace(in.Description) == "" {
		return Task{}, ErrDescriptionRequired
	}
	if in.DueDate.IsZero() {
		return Task{}, ErrDueDateRequired
	}

	priority := PriorityMedium
	if strings.TrimSpace(in.Priority) != "" {
		parsed, ok := ParsePriority(in.Priority)
		if !ok {
			return Task{}, ErrInvalidPriority
		}
		priority = parsed
	}
	status := strings.TrimSpace(in.Status)
	if status == "" {
		status = StatusNotStarted
	}
	departmentID := strings.TrimSpace(in.DepartmentID)
	if departmentID == "" {
		departmentID = creator.DepartmentID
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	dependencies := in.Dependencies
	if dependencies == nil {
		dependencies = []string{}
	}

	now := s.Now()
	t := Task{
		ID:             s.NewID(),
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Status:         status,
		Priority:       priority,
		Category:       strings.TrimSpace(in.Category),
		DepartmentID:   departmentID,
		CreatedBy:      creator.ID,
		LastModifiedBy: creator.ID,
		AssignedTo:     []string{},
		Tags:           tags,
		Dependencies:   dependencies,
		ParentTaskID:   strings.TrimSpace(in.ParentTaskID),
		DueDate:        in.DueDate,
		StartDate:      in.StartDate,
		EstimatedHours: in.EstimatedHours,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Tasks.Insert(ctx, t); err != nil {
		return Task{}, err
	}

	mutations.WithLabelValues("create").Inc()
	s.Activity.Record(ctx, contracts.ActivityRecord{
		TaskID:      t.ID,
		ActorEmail:  creator.Email,
		Type:        contracts.ActivityCreated,
		Description: "created task \"" + t.Title + "\"",
	})
	return t, nil
}

type Page struct {
	Tasks []Task `json:"tasks"`
	Stats Stats  `json:"stats"`
}

// List returns a filtered page of tasks together with statistics over the
// actor's whole accessible set. The stats deliberately ignore the page
// filters; only the role scope applies to them.
func (s *Service) List(ctx context.Context, actorEmail string, filter Filter) (Page, error) {
	actor, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Page{}, err
	}
	scope := ScopeFor(actor)

	items, err := s.Tasks.List(ctx, scope, filter)
	if err != nil {
		return Page{}, err
	}
	stats, err := s.Tasks.Stats(ctx, scope, s.Now())
	if err != nil {
		return Page{}, err
	}
	return Page{Tasks: items, Stats: stats}, nil
}

func (s *Service) StatsFor(ctx context.Context, actorEmail string) (Stats, error) {
	actor, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Stats{}, err
	}
	return s.Tasks.Stats(ctx, ScopeFor(actor), s.Now())
}

// GetByID loads a task and, when an actor is given, applies the view
// predicate. Both "does not exist" and "exists but forbidden" come back as
// (nil, nil) so callers cannot tell the two apart.
func (s *Service) GetByID(ctx context.Context, id, actorEmail string) (*Task, error) {
	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if actorEmail == "" {
		return &t, nil
	}
	actor, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !CanView(t, actorOf(actor)) {
		return nil, nil
	}
	return &t, nil
}

type Patch struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Priority       *string    `json:"priority,omitempty"`
	Category       *string    `json:"category,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	Tags           *[]string  `json:"tags,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	Dependencies   *[]string  `json:"dependencies,omitempty"`
}

// Update merges patch into the task after the edit predicate passes; a patch
// that moves status additionally needs the status-change predicate. The
// activity description names the fields that actually changed; a status
// change is logged as status_changed with before/after values.
func (s *Service) Update(ctx context.Context, id string, patch Patch, actorEmail string) (Task, error) {
	user, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Task{}, err
	}
	actor := actorOf(user)

	var newPriority Priority
	if patch.Priority != nil {
		parsed, ok := ParsePriority(*patch.Priority)
		if !ok {
			return Task{}, ErrInvalidPriority
		}
		newPriority = parsed
	}
	// Trim once so padded input cannot differ from the stored value.
	var trimmedStatus string
	if patch.Status != nil {
		trimmedStatus = strings.TrimSpace(*patch.Status)
	}

	var changed []string
	var prevStatus, newStatus string
	updated, err := s.Tasks.Mutate(ctx, id, func(t *Task) error {
		if !CanEdit(*t, actor) {
			return ErrForbidden
		}
		if trimmedStatus != "" && trimmedStatus != t.Status && !CanChangeStatus(*t, actor) {
			return ErrForbidden
		}
		changed = changed[:0]
		if patch.Title != nil && *patch.Title != t.Title {
			if strings.TrimSpace(*patch.Title) == "" {
				return ErrTitleRequired
			}
			t.Title = strings.TrimSpace(*patch.Title)
			changed = append(changed, "title")
		}
		if patch.Description != nil && *patch.Description != t.Description {
			t.Description = *patch.Description
			changed = append(changed, "description")
		}
		if patch.Priority != nil && newPriority != t.Priority {
			t.Priority = newPriority
			changed = append(changed, "priority")
		}
		if patch.DueDate != nil && !patch.DueDate.Equal(t.DueDate) {
			t.DueDate = *patch.DueDate
			changed = append(changed, "due date")
		}
		if trimmedStatus != "" && trimmedStatus != t.Status {
			prevStatus, newStatus = t.Status, trimmedStatus
			t.Status = newStatus
			changed = append(changed, "status")
		}
		if patch.Category != nil {
			t.Category = strings.TrimSpace(*patch.Category)
		}
		if patch.StartDate != nil {
			t.StartDate = patch.StartDate
		}
		if patch.Tags != nil {
			t.Tags = *patch.Tags
		}
		if patch.EstimatedHours != nil {
			t.EstimatedHours = patch.EstimatedHours
		}
		if patch.Dependencies != nil {
			t.Dependencies = *patch.Dependencies
		}
		t.LastModifiedBy = actor.UserID
		t.UpdatedAt = s.Now()
		return nil
	})
	if err != nil {
		return Task{}, err
	}

	mutations.WithLabelValues("update").Inc()
	rec := contracts.ActivityRecord{
		TaskID:      updated.ID,
		ActorEmail:  user.Email,
		Type:        contracts.ActivityUpdated,
		Description: "updated task",
	}
	if len(changed) > 0 {
		rec.Description = "updated " + strings.Join(changed, ", ")
	}
	if newStatus != "" {
		rec.Type = contracts.ActivityStatusChanged
		rec.Description = "changed status from " + prevStatus + " to " + newStatus
		rec.PreviousValue = prevStatus
		rec.NewValue = newStatus
	}
	s.Activity.Record(ctx, rec)
	return updated, nil
}

// Delete marks a task inactive. Archived tasks drop out of every listing and
// statistic but stay addressable by id. Admin/manager only.
func (s *Service) Delete(ctx context.Context, id, actorEmail string) error {
	user, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return err
	}
	if user.Role != directory.RoleAdmin && user.Role != directory.RoleManager {
		return ErrForbidden
	}

	_, err = s.Tasks.Mutate(ctx, id, func(t *Task) error {
		t.IsActive = false
		t.LastModifiedBy = user.ID
		t.UpdatedAt = s.Now()
		return nil
	})
	if err != nil {
		return err
	}

	mutations.WithLabelValues("delete").Inc()
	s.Activity.Record(ctx, contracts.ActivityRecord{
		TaskID:      id,
		ActorEmail:  user.Email,
		Type:        contracts.ActivityUpdated,
		Description: "archived task",
		Metadata:    map[string]string{"is_active": "false"},
	})
	return nil
}

// AddComment appends a comment, or a reply when parentCommentID is set.
// Threading is one level deep: replies always attach to a top-level comment.
func (s *Service) AddComment(ctx context.Context, taskID, message, actorEmail string, mentions []string, parentCommentID string) (Comment, error) {
	user, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Comment{}, err
	}
	actor := actorOf(user)
	if strings.TrimSpace(message) == "" {
		return Comment{}, ErrMessageRequired
	}

	mentionIDs := []string{}
	if len(mentions) > 0 {
		users, err := s.Directory.ResolveEmails(ctx, mentions)
		if err != nil {
			return Comment{}, err
		}
		for _, u := range users {
			mentionIDs = append(mentionIDs, u.ID)
		}
	}

	comment := Comment{
		ID:        s.NewID(),
		AuthorID:  actor.UserID,
		Message:   strings.TrimSpace(message),
		Mentions:  mentionIDs,
		CreatedAt: s.Now(),
	}
	_, err = s.Tasks.Mutate(ctx, taskID, func(t *Task) error {
		if !CanComment(*t, actor) {
			return ErrForbidden
		}
		if parentCommentID != "" {
			parent := t.findComment(parentCommentID)
			if parent == nil {
				return ErrCommentNotFound
			}
			comment.ParentID = parent.ID
			parent.Replies = append(parent.Replies, comment)
		} else {
			t.Comments = append(t.Comments, comment)
		}
		t.LastModifiedBy = actor.UserID
		t.UpdatedAt = s.Now()
		return nil
	})
	if err != nil {
		return Comment{}, err
	}

	mutations.WithLabelValues("comment").Inc()
	s.Activity.Record(ctx, contracts.ActivityRecord{
		TaskID:      taskID,
		ActorEmail:  user.Email,
		Type:        contracts.ActivityCommented,
		Description: "commented on task",
	})
	return comment, nil
}

// AddTimeEntry logs hours against a task. Any resolved actor may log time;
// actual hours accumulate by exactly the sum of entry hours.
func (s *Service) AddTimeEntry(ctx context.Context, taskID string, hours float64, description, actorEmail string, date *time.Time) (Task, error) {
	user, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Task{}, err
	}
	if hours <= 0 {
		return Task{}, ErrInvalidHours
	}

	entryDate := s.Now()
	if date != nil {
		entryDate = *date
	}
	entry := TimeEntry{
		ID:          s.NewID(),
		AuthorID:    user.ID,
		Hours:       hours,
		Date:        entryDate,
		Description: strings.TrimSpace(description),
	}
	updated, err := s.Tasks.Mutate(ctx, taskID, func(t *Task) error {
		t.TimeEntries = append(t.TimeEntries, entry)
		t.ActualHours += hours
		t.LastModifiedBy = user.ID
		t.UpdatedAt = s.Now()
		return nil
	})
	if err != nil {
		return Task{}, err
	}

	mutations.WithLabelValues("time_entry").Inc()
	s.Activity.Record(ctx, contracts.ActivityRecord{
		TaskID:      taskID,
		ActorEmail:  user.Email,
		Type:        contracts.ActivityTimeLogged,
		Description: "logged " + strconv.FormatFloat(hours, 'f', -1, 64) + " hours",
		Metadata:    map[string]string{"hours": strconv.FormatFloat(hours, 'f', -1, 64)},
	})
	return updated, nil
}

type Dashboard struct {
	Stats             Stats  `json:"stats"`
	RecentTasks       []Task `json:"recent_tasks"`
	UpcomingDeadlines []Task `json:"upcoming_deadlines"`
}

func (s *Service) DashboardFor(ctx context.Context, actorEmail string) (Dashboard, error) {
	actor, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Dashboard{}, err
	}
	scope := ScopeFor(actor)
	now := s.Now()

	stats, err := s.Tasks.Stats(ctx, scope, now)
	if err != nil {
		return Dashboard{}, err
	}
	recent, err := s.Tasks.Recent(ctx, scope, 5)
	if err != nil {
		return Dashboard{}, err
	}
	upcoming, err := s.Tasks.UpcomingDeadlines(ctx, scope, now, 7*24*time.Hour, 5)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Stats: stats, RecentTasks: recent, UpcomingDeadlines: upcoming}, nil
}

// CapabilitiesFor answers the five permission predicates for one task and
// actor, for the presentation layer to decide which controls to render.
func (s *Service) CapabilitiesFor(ctx context.Context, taskID, actorEmail string) (Capabilities, error) {
	user, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Capabilities{}, err
	}
	t, err := s.Tasks.Get(ctx, taskID)
	if err != nil {
		return Capabilities{}, err
	}
	return CapabilitiesFor(t, actorOf(user)), nil
}
