// Package nav maps a role to the navigation entries it may see.
package nav

import (
	"github.com/trezcool/masomo/portal/core/session"
	"github.com/trezcool/masomo/portal/core/user"
)

// Entry is a single navigation link.
type Entry struct {
	Icon  string `json:"icon"`
	Label string `json:"label"`
	Path  string `json:"path"`
}

var (
	dashboard = Entry{Icon: "home", Label: "Dashboard", Path: "/dashboard"}
	support   = Entry{Icon: "lifebuoy", Label: "Support", Path: "/dashboard/tickets"}

	// display order matters
	entries = map[user.Role][]Entry{
		user.RoleStudent: {
			dashboard,
			{Icon: "award", Label: "Grades", Path: "/dashboard/grades"},
			support,
		},
		user.RoleTeacher: {
			dashboard,
			{Icon: "layers", Label: "My Classes", Path: "/dashboard/classes"},
			{Icon: "check-square", Label: "Attendance", Path: "/dashboard/attendance"},
			{Icon: "award", Label: "Grades", Path: "/dashboard/grades"},
			{Icon: "calendar", Label: "Timetable", Path: "/dashboard/timetable"},
			support,
		},
		user.RoleSchoolAdmin: {
			dashboard,
			{Icon: "users", Label: "Students", Path: "/dashboard/students"},
			{Icon: "layers", Label: "Classes", Path: "/dashboard/classes"},
			{Icon: "check-square", Label: "Attendance", Path: "/dashboard/attendance"},
			{Icon: "calendar", Label: "Timetable", Path: "/dashboard/timetable"},
			{Icon: "upload", Label: "Import", Path: "/dashboard/import"},
			{Icon: "list", Label: "Audit Log", Path: "/dashboard/audit-log"},
			support,
		},
		user.RoleSuperAdmin: {
			{Icon: "grid", Label: "Overview", Path: "/superadmin"},
			{Icon: "briefcase", Label: "Schools", Path: "/superadmin/schools"},
			{Icon: "inbox", Label: "Tickets", Path: "/superadmin/tickets"},
			{Icon: "list", Label: "Audit Log", Path: "/superadmin/audit-log"},
		},
		user.RoleParent: {
			dashboard,
			{Icon: "award", Label: "Grades", Path: "/dashboard/grades"},
			{Icon: "check-square", Label: "Attendance", Path: "/dashboard/attendance"},
			{Icon: "credit-card", Label: "Fees", Path: "/dashboard/fees"},
			support,
		},
		user.RoleFinance: {
			dashboard,
			{Icon: "credit-card", Label: "Fees", Path: "/dashboard/fees"},
			{Icon: "dollar-sign", Label: "Finance", Path: "/dashboard/finance"},
			{Icon: "upload", Label: "Import", Path: "/dashboard/import"},
			support,
		},
	}
)

// Resolve returns the ordered entries `role` may see. Unknown roles, including the empty role, get none.
// The returned slice is a fresh copy on every call.
func Resolve(role user.Role) []Entry {
	src, ok := entries[role]
	if !ok {
		return []Entry{}
	}
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// ForSession resolves the entries of an authenticated session. Unauthenticated sessions get none,
// whatever role they carry.
func ForSession(s session.Session) []Entry {
	if !s.IsAuthenticated() {
		return []Entry{}
	}
	return Resolve(s.Role)
}
