package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/staffhub/taskcore/internal/app/directory"
)

// Scope is the role-derived visibility clause every listing and statistics
// query starts from. Filters compose on top of it with AND; the scope itself
// is an OR of the ways a principal may see a task.
type Scope struct {
	Role         directory.Role
	UserID       string
	DepartmentID string
}

func ScopeFor(u directory.User) Scope {
	return Scope{Role: u.Role, UserID: u.ID, DepartmentID: u.DepartmentID}
}

// Matches reports whether a task falls inside the scope. The SQL built by
// the repository must agree with this; test fakes evaluate it directly.
func (s Scope) Matches(t Task) bool {
	switch s.Role {
	case directory.RoleAdmin, directory.RoleManager:
		return true
	case directory.RoleDepartmentHead:
		return t.DepartmentID == s.DepartmentID
	case directory.RoleStaff:
		return t.isAssignee(s.UserID) || t.CreatedBy == s.UserID || t.DepartmentID == s.DepartmentID
	default:
		return false
	}
}

type Filter struct {
	Status       string
	Priority     string
	Category     string
	DepartmentID string
	AssignedTo   string
	CreatedBy    string
	DueAfter     *time.Time
	DueBefore    *time.Time
	Search       string
	SortBy       string
	SortDesc     bool
	Offset       int
	Limit        int
}

// condition builders shared by List and the in-page count. Placeholders are
// numbered from the caller's running argument list.

func scopeCondition(s Scope, args *[]any) string {
	switch s.Role {
	case directory.RoleAdmin, directory.RoleManager:
		return ""
	case directory.RoleDepartmentHead:
		*args = append(*args, s.DepartmentID)
		return fmt.Sprintf("department_id = $%d", len(*args))
	case directory.RoleStaff:
		*args = append(*args, s.UserID)
		userArg := len(*args)
		*args = append(*args, s.DepartmentID)
		deptArg := len(*args)
		return fmt.Sprintf("($%d = ANY(assigned_to) OR created_by = $%d OR department_id = $%d)", userArg, userArg, deptArg)
	default:
		return "FALSE"
	}
}

// likeEscaper neutralizes LIKE metacharacters in user search input so a
// query for "100%" matches the literal text, not every "100" prefix.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func filterConditions(f Filter, args *[]any) []string {
	conds := []string{}
	eq := func(column, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		*args = append(*args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(*args)))
	}
	eq("status", f.Status)
	eq("priority", f.Priority)
	eq("category", f.Category)
	eq("department_id", f.DepartmentID)
	eq("created_by", f.CreatedBy)

	if strings.TrimSpace(f.AssignedTo) != "" {
		*args = append(*args, f.AssignedTo)
		conds = append(conds, fmt.Sprintf("$%d = ANY(assigned_to)", len(*args)))
	}
	if f.DueAfter != nil {
		*args = append(*args, *f.DueAfter)
		conds = append(conds, fmt.Sprintf("due_date >= $%d", len(*args)))
	}
	if f.DueBefore != nil {
		*args = append(*args, *f.DueBefore)
		conds = append(conds, fmt.Sprintf("due_date <= $%d", len(*args)))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		*args = append(*args, "%"+likeEscaper.Replace(search)+"%")
		n := len(*args)
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE $%d OR description ILIKE $%d OR category ILIKE $%d OR EXISTS (SELECT 1 FROM unnest(tags) tag WHERE tag ILIKE $%d))",
			n, n, n, n))
	}
	return conds
}

var sortColumns = map[string]string{
	"due_date":   "due_date",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"priority":   "priority",
	"title":      "title",
	"status":     "status",
}

func orderClause(f Filter) string {
	column, ok := sortColumns[strings.TrimSpace(f.SortBy)]
	if !ok {
		column = "created_at"
		return "ORDER BY " + column + " DESC"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	return "ORDER BY " + column + " " + dir
}
