package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/staffhub/taskcore/internal/app/directory"
	"github.com/staffhub/taskcore/internal/contracts"
)

func assigneesEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAssign_InitialReplacesAssigneeSet(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")
	stored := repo.tasks[created.ID]
	stored.AssignedTo = []string{"u-old-1", "u-old-2"}
	repo.tasks[created.ID] = stored

	updated, err := svc.Assign(ctx, created.ID, "u-staff1", "manager@corp.test", "take it from here")
	if err != nil {
		t.Fatalf("Assign error: %v", err)
	}
	if !assigneesEqual(updated.AssignedTo, []string{"u-staff1"}) {
		t.Fatalf("initial assignment must replace the set, got %v", updated.AssignedTo)
	}
	if len(updated.AssignmentHistory) != 1 {
		t.Fatalf("expected one history entry, got %d", len(updated.AssignmentHistory))
	}
	entry := updated.AssignmentHistory[0]
	if entry.Level != LevelInitial || entry.AssignedBy != "u-manager" || entry.AssignedTo != "u-staff1" {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
	if entry.Instructions != "take it from here" {
		t.Fatalf("instructions not kept: %q", entry.Instructions)
	}
	rec := recorder.last(t)
	if rec.Type != contracts.ActivityAssigned {
		t.Fatalf("expected assigned activity, got %q", rec.Type)
	}
	if rec.Metadata["assignee_id"] != "u-staff1" || rec.Metadata["level"] != string(LevelInitial) {
		t.Fatalf("unexpected activity metadata: %+v", rec.Metadata)
	}
}

func TestAssign_DelegationKeepsDelegator(t *testing.T) {
	svc, _, recorder := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")
	if _, err := svc.Assign(ctx, created.ID, "u-hod1", "admin@corp.test", ""); err != nil {
		t.Fatalf("Assign error: %v", err)
	}

	updated, err := svc.Assign(ctx, created.ID, "u-staff1", "hod1@corp.test", "handle the fieldwork")
	if err != nil {
		t.Fatalf("Assign error: %v", err)
	}
	if !assigneesEqual(updated.AssignedTo, []string{"u-hod1", "u-staff1"}) {
		t.Fatalf("delegation must keep the delegator, got %v", updated.AssignedTo)
	}
	if len(updated.AssignmentHistory) != 2 {
		t.Fatalf("expected two history entries, got %d", len(updated.AssignmentHistory))
	}
	entry := updated.AssignmentHistory[1]
	if entry.Level != LevelDelegation || entry.AssignedBy != "u-hod1" || entry.AssignedTo != "u-staff1" {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
	if rec := recorder.last(t); rec.Type != contracts.ActivityDelegated {
		t.Fatalf("expected delegated activity, got %q", rec.Type)
	}
}

func TestAssign_RepeatDeduplicatesSetButNotHistory(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")
	if _, err := svc.Assign(ctx, created.ID, "u-hod1", "admin@corp.test", ""); err != nil {
		t.Fatalf("Assign error: %v", err)
	}
	if _, err := svc.Assign(ctx, created.ID, "u-staff1", "hod1@corp.test", ""); err != nil {
		t.Fatalf("Assign error: %v", err)
	}
	updated, err := svc.Assign(ctx, created.ID, "u-staff1", "hod1@corp.test", "reminder")
	if err != nil {
		t.Fatalf("Assign error: %v", err)
	}

	if !assigneesEqual(updated.AssignedTo, []string{"u-hod1", "u-staff1"}) {
		t.Fatalf("repeated delegation must not duplicate assignees, got %v", updated.AssignedTo)
	}
	if len(updated.AssignmentHistory) != 3 {
		t.Fatalf("history is append-only, expected 3 entries, got %d", len(updated.AssignmentHistory))
	}
}

func TestAssign_Validation(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")

	if _, err := svc.Assign(ctx, created.ID, "  ", "admin@corp.test", ""); !errors.Is(err, ErrAssigneeRequired) {
		t.Fatalf("expected ErrAssigneeRequired, got %v", err)
	}
	if _, err := svc.Assign(ctx, created.ID, "u-nobody", "admin@corp.test", ""); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected directory.ErrNotFound for unknown assignee, got %v", err)
	}
	if _, err := svc.Assign(ctx, created.ID, "u-staff1", "ghost@corp.test", ""); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected directory.ErrNotFound for unknown actor, got %v", err)
	}
	if _, err := svc.Assign(ctx, "no-such-task", "u-staff1", "admin@corp.test", ""); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	// Staff never assign, even on their own tasks.
	stored := repo.tasks[created.ID]
	stored.AssignedTo = []string{"u-staff1"}
	repo.tasks[created.ID] = stored
	if _, err := svc.Assign(ctx, created.ID, "u-staff2", "staff1@corp.test", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}

	// Failed attempts leave no history and no activity.
	if got := repo.tasks[created.ID]; len(got.AssignmentHistory) != 0 {
		t.Fatalf("failed assignments must not write history: %+v", got.AssignmentHistory)
	}
	for _, rec := range recorder.records {
		if rec.Type == contracts.ActivityAssigned || rec.Type == contracts.ActivityDelegated {
			t.Fatalf("failed assignment recorded activity: %+v", rec)
		}
	}
}
