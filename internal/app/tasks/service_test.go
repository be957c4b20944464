package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/staffhub/taskcore/internal/app/directory"
	"github.com/staffhub/taskcore/internal/contracts"
)

type fakeTaskRepo struct {
	tasks     map[string]Task
	insertErr error
	mutateErr error
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]Task{}}
}

func (f *fakeTaskRepo) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeTaskRepo) Insert(ctx context.Context, t Task) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTaskRepo) Get(ctx context.Context, id string) (Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeTaskRepo) Mutate(ctx context.Context, id string, fn func(*Task) error) (Task, error) {
	if f.mutateErr != nil {
		return Task{}, f.mutateErr
	}
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if err := fn(&t); err != nil {
		return Task{}, err
	}
	f.tasks[id] = t
	return t, nil
}

func matchesFilter(t Task, filter Filter) bool {
	if filter.Status != "" && t.Status != filter.Status {
		return false
	}
	if filter.Priority != "" && string(t.Priority) != filter.Priority {
		return false
	}
	if filter.Category != "" && t.Category != filter.Category {
		return false
	}
	if filter.DepartmentID != "" && t.DepartmentID != filter.DepartmentID {
		return false
	}
	if filter.CreatedBy != "" && t.CreatedBy != filter.CreatedBy {
		return false
	}
	if filter.AssignedTo != "" && !t.isAssignee(filter.AssignedTo) {
		return false
	}
	if filter.DueAfter != nil && t.DueDate.Before(*filter.DueAfter) {
		return false
	}
	if filter.DueBefore != nil && t.DueDate.After(*filter.DueBefore) {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		hit := strings.Contains(strings.ToLower(t.Title), needle) ||
			strings.Contains(strings.ToLower(t.Description), needle) ||
			strings.Contains(strings.ToLower(t.Category), needle)
		for _, tag := range t.Tags {
			hit = hit || strings.Contains(strings.ToLower(tag), needle)
		}
		if !hit {
			return false
		}
	}
	return true
}

func (f *fakeTaskRepo) scoped(scope Scope) []Task {
	result := []Task{}
	for _, t := range f.tasks {
		if t.IsActive && scope.Matches(t) {
			result = append(result, t)
		}
	}
	return result
}

func (f *fakeTaskRepo) List(ctx context.Context, scope Scope, filter Filter) ([]Task, error) {
	result := []Task{}
	for _, t := range f.scoped(scope) {
		if matchesFilter(t, filter) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		switch filter.SortBy {
		case "updated_at":
			if filter.SortDesc {
				return result[i].UpdatedAt.After(result[j].UpdatedAt)
			}
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		case "due_date":
			return result[i].DueDate.Before(result[j].DueDate)
		default:
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
	})
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset > len(result) {
		offset = len(result)
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeTaskRepo) Stats(ctx context.Context, scope Scope, now time.Time) (Stats, error) {
	var s Stats
	weekStart, weekEnd := calendarWeek(now)
	for _, t := range f.scoped(scope) {
		s.Total++
		if t.Status == StatusCompleted {
			s.Completed++
		} else {
			s.Active++
			if t.DueDate.Before(now) {
				s.Overdue++
			}
		}
		if t.Priority == PriorityHigh || t.Priority == PriorityCritical {
			s.HighPriority++
		}
		if !t.DueDate.Before(weekStart) && t.DueDate.Before(weekEnd) {
			s.DueThisWeek++
		}
	}
	return s, nil
}

func (f *fakeTaskRepo) Recent(ctx context.Context, scope Scope, limit int) ([]Task, error) {
	return f.List(ctx, scope, Filter{SortBy: "updated_at", SortDesc: true, Limit: limit})
}

func (f *fakeTaskRepo) UpcomingDeadlines(ctx context.Context, scope Scope, now time.Time, within time.Duration, limit int) ([]Task, error) {
	horizon := now.Add(within)
	result := []Task{}
	for _, t := range f.scoped(scope) {
		if t.Status == StatusCompleted {
			continue
		}
		if t.DueDate.Before(now) || t.DueDate.After(horizon) {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueDate.Before(result[j].DueDate) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type fakeDirectory struct {
	byEmail map[string]directory.User
}

func newFakeDirectory(users ...directory.User) *fakeDirectory {
	f := &fakeDirectory{byEmail: map[string]directory.User{}}
	for _, u := range users {
		f.byEmail[u.Email] = u
	}
	return f
}

func (f *fakeDirectory) Resolve(ctx context.Context, email string) (directory.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return directory.User{}, directory.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) ResolveByID(ctx context.Context, userID string) (directory.User, error) {
	for _, u := range f.byEmail {
		if u.ID == userID {
			return u, nil
		}
	}
	return directory.User{}, directory.ErrNotFound
}

func (f *fakeDirectory) ResolveEmails(ctx context.Context, emails []string) ([]directory.User, error) {
	result := []directory.User{}
	for _, email := range emails {
		if u, ok := f.byEmail[email]; ok {
			result = append(result, u)
		}
	}
	return result, nil
}

type fakeRecorder struct {
	records []contracts.ActivityRecord
}

func (f *fakeRecorder) Record(ctx context.Context, rec contracts.ActivityRecord) {
	f.records = append(f.records, rec)
}

func (f *fakeRecorder) last(t *testing.T) contracts.ActivityRecord {
	t.Helper()
	if len(f.records) == 0 {
		t.Fatal("no activity recorded")
	}
	return f.records[len(f.records)-1]
}

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) // a Monday

func seedUsers() []directory.User {
	return []directory.User{
		{ID: "u-admin", Email: "admin@corp.test", Role: directory.RoleAdmin, DepartmentID: "dept-0", Active: true},
		{ID: "u-manager", Email: "manager@corp.test", Role: directory.RoleManager, DepartmentID: "dept-0", Active: true},
		{ID: "u-hod1", Email: "hod1@corp.test", Role: directory.RoleDepartmentHead, DepartmentID: "dept-1", Active: true},
		{ID: "u-staff1", Email: "staff1@corp.test", Role: directory.RoleStaff, DepartmentID: "dept-1", Active: true},
		{ID: "u-staff2", Email: "staff2@corp.test", Role: directory.RoleStaff, DepartmentID: "dept-2", Active: true},
	}
}

func newTestService() (*Service, *fakeTaskRepo, *fakeRecorder) {
	repo := newFakeTaskRepo()
	recorder := &fakeRecorder{}
	svc := NewService(repo, newFakeDirectory(seedUsers()...), recorder)
	svc.Now = func() time.Time { return testNow }
	next := 0
	svc.NewID = func() string {
		next++
		return fmt.Sprintf("id-%d", next)
	}
	return svc, repo, recorder
}

func mustCreate(t *testing.T, svc *Service, in CreateInput, creator string) Task {
	t.Helper()
	created, err := svc.Create(context.Background(), in, creator)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return created
}

func TestCreate_ValidatesAndDefaults(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{Description: "d", DueDate: testNow}, "admin@corp.test"); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{Title: "t", DueDate: testNow}, "admin@corp.test"); !errors.Is(err, ErrDescriptionRequired) {
		t.Fatalf("expected ErrDescriptionRequired, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{Title: "t", Description: "d"}, "admin@corp.test"); !errors.Is(err, ErrDueDateRequired) {
		t.Fatalf("expected ErrDueDateRequired, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{Title: "t", Description: "d", DueDate: testNow, Priority: "urgent"}, "admin@corp.test"); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{Title: "t", Description: "d", DueDate: testNow}, "ghost@corp.test"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected directory.ErrNotFound, got %v", err)
	}

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "annual audit", DueDate: testNow.AddDate(0, 0, 5)}, "hod1@corp.test")
	if created.DepartmentID != "dept-1" {
		t.Fatalf("department should default to creator's, got %q", created.DepartmentID)
	}
	if created.Status != StatusNotStarted || created.Priority != PriorityMedium {
		t.Fatalf("unexpected defaults: %+v", created)
	}
	if created.CreatedBy != "u-hod1" || created.LastModifiedBy != "u-hod1" {
		t.Fatalf("unexpected provenance: %+v", created)
	}
	if _, ok := repo.tasks[created.ID]; !ok {
		t.Fatal("task not persisted")
	}
	// A nil slice would reach the store as SQL NULL, which the NOT NULL
	// array columns reject; omitted lists must come out as empty sets.
	if created.Tags == nil || created.Dependencies == nil || created.AssignedTo == nil {
		t.Fatalf("omitted lists must default to empty, got %+v", created)
	}
	rec := recorder.last(t)
	if rec.Type != contracts.ActivityCreated || rec.TaskID != created.ID {
		t.Fatalf("unexpected activity record: %+v", rec)
	}
}

func TestGetByID_CollapsesNotFoundAndForbidden(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")

	// Staff in another department: exists but hidden.
	got, err := svc.GetByID(ctx, created.ID, "staff2@corp.test")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for out-of-scope staff, got (%v, %v)", got, err)
	}

	// Same id resolves for an admin, proving the task exists.
	got, err = svc.GetByID(ctx, created.ID, "admin@corp.test")
	if err != nil || got == nil {
		t.Fatalf("admin lookup failed: (%v, %v)", got, err)
	}

	// Missing id is indistinguishable from forbidden.
	got, err = svc.GetByID(ctx, "no-such-task", "admin@corp.test")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for missing task, got (%v, %v)", got, err)
	}

	// Unknown actor gets the same answer as a forbidden one.
	got, err = svc.GetByID(ctx, created.ID, "ghost@corp.test")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for unknown actor, got (%v, %v)", got, err)
	}
}

func TestUpdate_PermissionAndDiff(t *testing.T) {
	svc, _, recorder := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")

	title := "Yearly audit"
	if _, err := svc.Update(ctx, created.ID, Patch{Title: &title}, "staff2@corp.test"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	priority := "high"
	updated, err := svc.Update(ctx, created.ID, Patch{Title: &title, Priority: &priority}, "hod1@corp.test")
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Title != title || updated.Priority != PriorityHigh {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.LastModifiedBy != "u-hod1" {
		t.Fatalf("lastModifiedBy not restamped: %q", updated.LastModifiedBy)
	}
	rec := recorder.last(t)
	if rec.Type != contracts.ActivityUpdated {
		t.Fatalf("expected updated activity, got %q", rec.Type)
	}
	if !strings.Contains(rec.Description, "title") || !strings.Contains(rec.Description, "priority") {
		t.Fatalf("diff description missing fields: %q", rec.Description)
	}

	status := StatusInProgress
	if _, err := svc.Update(ctx, created.ID, Patch{Status: &status}, "hod1@corp.test"); err != nil {
		t.Fatalf("status update error: %v", err)
	}
	rec = recorder.last(t)
	if rec.Type != contracts.ActivityStatusChanged {
		t.Fatalf("expected status_changed activity, got %q", rec.Type)
	}
	if rec.PreviousValue != StatusNotStarted || rec.NewValue != StatusInProgress {
		t.Fatalf("unexpected status snapshot: %+v", rec)
	}
}

func TestUpdate_PaddedStatusIsNoChange(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")
	status := StatusInProgress
	if _, err := svc.Update(ctx, created.ID, Patch{Status: &status}, "admin@corp.test"); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	padded := "  " + StatusInProgress + " "
	if _, err := svc.Update(ctx, created.ID, Patch{Status: &padded}, "admin@corp.test"); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got := repo.tasks[created.ID].Status; got != StatusInProgress {
		t.Fatalf("status corrupted by padded input: %q", got)
	}
	if rec := recorder.last(t); rec.Type == contracts.ActivityStatusChanged {
		t.Fatalf("padded same-value patch logged a spurious status change: %+v", rec)
	}

	// Blank status is a no-op, not a wipe.
	blank := "   "
	if _, err := svc.Update(ctx, created.ID, Patch{Status: &blank}, "admin@corp.test"); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got := repo.tasks[created.ID].Status; got != StatusInProgress {
		t.Fatalf("blank status patch must not clear status: %q", got)
	}
}

func TestUpdate_StatusNarrowerThanEdit(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	// A staff creator who is not an assignee may edit but not move status.
	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5)}, "staff1@corp.test")

	title := "Yearly audit"
	if _, err := svc.Update(ctx, created.ID, Patch{Title: &title}, "staff1@corp.test"); err != nil {
		t.Fatalf("creator edit should pass: %v", err)
	}

	status := StatusInProgress
	if _, err := svc.Update(ctx, created.ID, Patch{Status: &status}, "staff1@corp.test"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("creator status change should be forbidden, got %v", err)
	}

	// Once assigned, the same person may move status.
	if _, err := svc.Assign(ctx, created.ID, "u-staff1", "admin@corp.test", ""); err != nil {
		t.Fatalf("Assign error: %v", err)
	}
	if _, err := svc.Update(ctx, created.ID, Patch{Status: &status}, "staff1@corp.test"); err != nil {
		t.Fatalf("assignee status change should pass: %v", err)
	}
}

func TestAddComment_ThreadingOneLevel(t *testing.T) {
	svc, repo, recorder := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")

	if _, err := svc.AddComment(ctx, created.ID, "   ", "staff1@corp.test", nil, ""); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("expected ErrMessageRequired, got %v", err)
	}
	if _, err := svc.AddComment(ctx, created.ID, "hi", "staff2@corp.test", nil, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for out-of-scope staff, got %v", err)
	}

	top, err := svc.AddComment(ctx, created.ID, "please review", "staff1@corp.test", []string{"hod1@corp.test", "nobody@corp.test"}, "")
	if err != nil {
		t.Fatalf("AddComment error: %v", err)
	}
	if len(top.Mentions) != 1 || top.Mentions[0] != "u-hod1" {
		t.Fatalf("mentions not resolved: %+v", top.Mentions)
	}

	if _, err := svc.AddComment(ctx, created.ID, "re", "hod1@corp.test", nil, "missing-comment"); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound, got %v", err)
	}

	reply, err := svc.AddComment(ctx, created.ID, "done", "hod1@corp.test", nil, top.ID)
	if err != nil {
		t.Fatalf("reply error: %v", err)
	}
	if reply.ParentID != top.ID {
		t.Fatalf("reply parent not set: %+v", reply)
	}

	stored := repo.tasks[created.ID]
	if len(stored.Comments) != 1 {
		t.Fatalf("expected one top-level comment, got %d", len(stored.Comments))
	}
	if len(stored.Comments[0].Replies) != 1 || stored.Comments[0].Replies[0].ID != reply.ID {
		t.Fatalf("reply not attached: %+v", stored.Comments[0])
	}
	if len(stored.Comments[0].Replies[0].Replies) != 0 {
		t.Fatal("replies must not nest")
	}
	if rec := recorder.last(t); rec.Type != contracts.ActivityCommented {
		t.Fatalf("expected commented activity, got %q", rec.Type)
	}
}

func TestAddTimeEntry_AccumulatesExactly(t *testing.T) {
	svc, _, recorder := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")

	if _, err := svc.AddTimeEntry(ctx, created.ID, 0, "", "staff1@corp.test", nil); !errors.Is(err, ErrInvalidHours) {
		t.Fatalf("expected ErrInvalidHours, got %v", err)
	}
	if _, err := svc.AddTimeEntry(ctx, created.ID, -1, "", "staff1@corp.test", nil); !errors.Is(err, ErrInvalidHours) {
		t.Fatalf("expected ErrInvalidHours, got %v", err)
	}

	hours := []float64{2.5, 1.25, 0.75}
	var want float64
	var got Task
	for _, h := range hours {
		var err error
		got, err = svc.AddTimeEntry(ctx, created.ID, h, "work", "staff1@corp.test", nil)
		if err != nil {
			t.Fatalf("AddTimeEntry error: %v", err)
		}
		want += h
	}
	if got.ActualHours != want {
		t.Fatalf("actual hours %v, want %v", got.ActualHours, want)
	}
	if len(got.TimeEntries) != len(hours) {
		t.Fatalf("expected %d entries, got %d", len(hours), len(got.TimeEntries))
	}
	if rec := recorder.last(t); rec.Type != contracts.ActivityTimeLogged {
		t.Fatalf("expected time_logged activity, got %q", rec.Type)
	}
}

func TestList_RoleScopesAndStats(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	inDept1 := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 2), DepartmentID: "dept-1"}, "admin@corp.test")
	mustCreate(t, svc, CreateInput{Title: "Rollout", Description: "d", DueDate: testNow.AddDate(0, 0, 30), DepartmentID: "dept-2", Priority: "critical"}, "admin@corp.test")

	adminPage, err := svc.List(ctx, "admin@corp.test", Filter{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(adminPage.Tasks) != 2 || adminPage.Stats.Total != 2 {
		t.Fatalf("admin should see everything: %+v", adminPage.Stats)
	}

	hodPage, err := svc.List(ctx, "hod1@corp.test", Filter{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(hodPage.Tasks) != 1 || hodPage.Tasks[0].ID != inDept1.ID {
		t.Fatalf("department head should see own department only: %+v", hodPage.Tasks)
	}

	// Stats stay scoped to the role, not to the page filters.
	filtered, err := svc.List(ctx, "admin@corp.test", Filter{Priority: "critical"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(filtered.Tasks) != 1 {
		t.Fatalf("priority filter failed: %d tasks", len(filtered.Tasks))
	}
	if filtered.Stats.Total != 2 {
		t.Fatalf("stats must ignore page filters: %+v", filtered.Stats)
	}

	// Search is case-insensitive substring.
	searched, err := svc.List(ctx, "admin@corp.test", Filter{Search: "aud"})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(searched.Tasks) != 1 || searched.Tasks[0].ID != inDept1.ID {
		t.Fatalf("search failed: %+v", searched.Tasks)
	}
}

func TestStats_SelfConsistent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	mustCreate(t, svc, CreateInput{Title: "a", Description: "d", DueDate: testNow.AddDate(0, 0, -1), DepartmentID: "dept-1"}, "admin@corp.test")
	done := mustCreate(t, svc, CreateInput{Title: "b", Description: "d", DueDate: testNow.AddDate(0, 0, 3), DepartmentID: "dept-1"}, "admin@corp.test")
	mustCreate(t, svc, CreateInput{Title: "c", Description: "d", DueDate: testNow.AddDate(0, 0, 20), DepartmentID: "dept-2", Priority: "high"}, "admin@corp.test")

	status := StatusCompleted
	if _, err := svc.Update(ctx, done.ID, Patch{Status: &status}, "admin@corp.test"); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	stats, err := svc.StatsFor(ctx, "admin@corp.test")
	if err != nil {
		t.Fatalf("StatsFor error: %v", err)
	}
	if stats.Active+stats.Completed != stats.Total {
		t.Fatalf("active+completed != total: %+v", stats)
	}
	if stats.Total != 3 || stats.Completed != 1 || stats.Overdue != 1 || stats.HighPriority != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// testNow is Monday Aug 24 2026; the calendar week runs Sunday Aug 23
	// through Saturday Aug 29, so only the two near-term due dates count.
	if stats.DueThisWeek != 2 {
		t.Fatalf("unexpected due-this-week count: %+v", stats)
	}
}

func TestDelete_SoftDeleteHidesFromListings(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	created := mustCreate(t, svc, CreateInput{Title: "Audit", Description: "d", DueDate: testNow.AddDate(0, 0, 5), DepartmentID: "dept-1"}, "admin@corp.test")

	if err := svc.Delete(ctx, created.ID, "hod1@corp.test"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for department head, got %v", err)
	}
	if err := svc.Delete(ctx, created.ID, "admin@corp.test"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if repo.tasks[created.ID].IsActive {
		t.Fatal("task should be inactive")
	}

	page, err := svc.List(ctx, "admin@corp.test", Filter{})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(page.Tasks) != 0 || page.Stats.Total != 0 {
		t.Fatalf("archived task still visible: %+v", page)
	}

	// Still addressable by id.
	got, err := svc.GetByID(ctx, created.ID, "admin@corp.test")
	if err != nil || got == nil {
		t.Fatalf("archived task must stay addressable: (%v, %v)", got, err)
	}
}

func TestDashboard_RecentAndUpcoming(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	soon := mustCreate(t, svc, CreateInput{Title: "soon", Description: "d", DueDate: testNow.AddDate(0, 0, 2), DepartmentID: "dept-1"}, "admin@corp.test")
	mustCreate(t, svc, CreateInput{Title: "later", Description: "d", DueDate: testNow.AddDate(0, 0, 30), DepartmentID: "dept-1"}, "admin@corp.test")
	finished := mustCreate(t, svc, CreateInput{Title: "finished", Description: "d", DueDate: testNow.AddDate(0, 0, 3), DepartmentID: "dept-1"}, "admin@corp.test")
	status := StatusCompleted
	if _, err := svc.Update(ctx, finished.ID, Patch{Status: &status}, "admin@corp.test"); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	dash, err := svc.DashboardFor(ctx, "admin@corp.test")
	if err != nil {
		t.Fatalf("DashboardFor error: %v", err)
	}
	if len(dash.UpcomingDeadlines) != 1 || dash.UpcomingDeadlines[0].ID != soon.ID {
		t.Fatalf("upcoming deadlines wrong: %+v", dash.UpcomingDeadlines)
	}
	if len(dash.RecentTasks) != 3 {
		t.Fatalf("expected 3 recent tasks, got %d", len(dash.RecentTasks))
	}
	// Most recently touched first.
	if dash.RecentTasks[0].ID != finished.ID && dash.RecentTasks[0].UpdatedAt.Before(dash.RecentTasks[1].UpdatedAt) {
		t.Fatalf("recent tasks not sorted by update time: %+v", dash.RecentTasks)
	}
	if dash.Stats.Total != 3 {
		t.Fatalf("unexpected dashboard stats: %+v", dash.Stats)
	}
}
