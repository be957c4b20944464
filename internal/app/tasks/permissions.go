package tasks

import "github.com/staffhub/taskcore/internal/app/directory"

// Actor is a resolved principal. Every operation takes one explicitly; the
// predicates below never read ambient state.
type Actor struct {
	UserID       string
	Role         directory.Role
	DepartmentID string
}

// The five capability predicates share a role-tier shape but differ in
// scope per capability, so they stay separate functions. In particular
// staff edit rights are strictly narrower than staff view/comment rights,
// and status changes are narrower still.

func CanView(t Task, a Actor) bool {
	switch a.Role {
	case directory.RoleAdmin, directory.RoleManager:
		return true
	case directory.RoleDepartmentHead:
		return t.DepartmentID == a.DepartmentID
	case directory.RoleStaff:
		return t.isAssignee(a.UserID) || t.CreatedBy == a.UserID || t.DepartmentID == a.DepartmentID
	default:
		return false
	}
}

func CanComment(t Task, a Actor) bool {
	switch a.Role {
	case directory.RoleAdmin, directory.RoleManager:
		return true
	case directory.RoleDepartmentHead:
		return t.DepartmentID == a.DepartmentID
	case directory.RoleStaff:
		return t.isAssignee(a.UserID) || t.CreatedBy == a.UserID || t.DepartmentID == a.DepartmentID
	default:
		return false
	}
}

func CanEdit(t Task, a Actor) bool {
	switch a.Role {
	case directory.RoleAdmin, directory.RoleManager:
		return true
	case directory.RoleDepartmentHead:
		return t.DepartmentID == a.DepartmentID
	case directory.RoleStaff:
		// No department-wide edit for staff.
		return t.isAssignee(a.UserID) || t.CreatedBy == a.UserID
	default:
		return false
	}
}

func CanChangeStatus(t Task, a Actor) bool {
	switch a.Role {
	case directory.RoleAdmin, directory.RoleManager:
		return true
	case directory.RoleDepartmentHead:
		return t.DepartmentID == a.DepartmentID
	case directory.RoleStaff:
		return t.isAssignee(a.UserID)
	default:
		return false
	}
}

func CanAssign(t Task, a Actor) bool {
	switch a.Role {
	case directory.RoleAdmin, directory.RoleManager:
		return true
	case directory.RoleDepartmentHead:
		return t.DepartmentID == a.DepartmentID
	case directory.RoleStaff:
		return false
	default:
		return false
	}
}

// Capabilities bundles all five answers for one task/actor pair so the UI
// layer can decide which controls to render with a single call.
type Capabilities struct {
	View         bool `json:"view"`
	Comment      bool `json:"comment"`
	Edit         bool `json:"edit"`
	ChangeStatus bool `json:"change_status"`
	Assign       bool `json:"assign"`
}

func CapabilitiesFor(t Task, a Actor) Capabilities {
	return Capabilities{
		View:         CanView(t, a),
		Comment:      CanComment(t, a),
		Edit:         CanEdit(t, a),
		ChangeStatus: CanChangeStatus(t, a),
		Assign:       CanAssign(t, a),
	}
}
