package tasks

import (
	"context"
	"strings"

	"github.com/staffhub/taskcore/internal/app/directory"
	"github.com/staffhub/taskcore/internal/contracts"
)

// Assign performs a hierarchical (re)assignment.
//
// An admin or manager assignment is "initial": it represents a fresh
// top-down dispatch and replaces the assignee set outright. Anyone else who
// may assign produces a "delegation": the delegator joins (and stays in) the
// assignee set alongside the new assignee, so a department head remains
// accountable for work they hand to a member. Every call appends an
// immutable history entry regardless of whether the set changed.
//
// The set mutation and the history append happen in one atomic
// read-modify-write against the store; two concurrent delegations cannot
// lose each other's history entries.
func (s *Service) Assign(ctx context.Context, taskID, assigneeID, actorEmail, instructions string) (Task, error) {
	user, err := s.Directory.Resolve(ctx, actorEmail)
	if err != nil {
		return Task{}, err
	}
	actor := actorOf(user)

	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return Task{}, ErrAssigneeRequired
	}
	assignee, err := s.Directory.ResolveByID(ctx, assigneeID)
	if err != nil {
		return Task{}, err
	}

	level := LevelDelegation
	if actor.Role == directory.RoleAdmin || actor.Role == directory.RoleManager {
		level = LevelInitial
	}

	entry := AssignmentEntry{
		AssignedBy:   actor.UserID,
		AssignedTo:   assignee.ID,
		AssignedAt:   s.Now(),
		Level:        level,
		Instructions: strings.TrimSpace(instructions),
	}
	updated, err := s.Tasks.Mutate(ctx, taskID, func(t *Task) error {
		if !CanAssign(*t, actor) {
			return ErrForbidden
		}
		if level == LevelInitial {
			t.AssignedTo = []string{assignee.ID}
		} else {
			t.addAssignee(actor.UserID)
			t.addAssignee(assignee.ID)
		}
		t.AssignmentHistory = append(t.AssignmentHistory, entry)
		t.LastModifiedBy = actor.UserID
		t.UpdatedAt = entry.AssignedAt
		return nil
	})
	if err != nil {
		return Task{}, err
	}

	mutations.WithLabelValues("assign").Inc()
	activityType := contracts.ActivityAssigned
	description := "assigned task to " + assignee.Email
	if level == LevelDelegation {
		activityType = contracts.ActivityDelegated
		description = "delegated task to " + assignee.Email
	}
	s.Activity.Record(ctx, contracts.ActivityRecord{
		TaskID:      taskID,
		ActorEmail:  user.Email,
		Type:        activityType,
		Description: description,
		Metadata: map[string]string{
			"assignee_id": assignee.ID,
			"level":       string(level),
		},
	})
	return updated, nil
}
