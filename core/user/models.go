package user

import "github.com/trezcool/masomo/portal/core"

// Role is the access level granted to a session by the API.
type Role string

// Roles
const (
	RoleStudent     Role = "STUDENT"
	RoleTeacher     Role = "TEACHER"
	RoleSchoolAdmin Role = "SCHOOLADMIN"
	RoleSuperAdmin  Role = "SUPERADMIN"
	RoleParent      Role = "PARENT"
	RoleFinance     Role = "FINANCE"
)

var (
	AllRoles = []Role{RoleStudent, RoleTeacher, RoleSchoolAdmin, RoleSuperAdmin, RoleParent, RoleFinance}

	roleNames = map[Role]string{
		RoleStudent:     "Student",
		RoleTeacher:     "Teacher",
		RoleSchoolAdmin: "School Admin",
		RoleSuperAdmin:  "Super Admin",
		RoleParent:      "Parent",
		RoleFinance:     "Finance",
	}
)

// ParseRole returns the Role matching `s` exactly. Anything else is not a role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Name is the human readable name of the role, or "" for unknown roles.
func (r Role) Name() string {
	return roleNames[r]
}

func (r Role) String() string {
	return string(r)
}

// User is the identity summary the API returns alongside a token.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
	Role  Role   `json:"role" validate:"role"`
}

// Credentials contains what is needed to log in.
type Credentials struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required,notblank"`
}

func (c *Credentials) Validate() error {
	c.Email = core.CleanString(c.Email, true /* lower */)
	return core.ValidateStruct(c)
}

// Signup contains what is needed to create an account from an invite code.
type Signup struct {
	Email      string `json:"email" form:"email" validate:"required,email"`
	Password   string `json:"password" form:"password" validate:"required,notblank"`
	InviteCode string `json:"invite_code" form:"invite_code" validate:"required,notblank"`
}

func (s *Signup) Validate() error {
	s.Email = core.CleanString(s.Email, true /* lower */)
	s.InviteCode = core.CleanString(s.InviteCode)
	return core.ValidateStruct(s)
}

// Credentials returns the login credentials matching the signup.
func (s Signup) Credentials() Credentials {
	return Credentials{Email: s.Email, Password: s.Password}
}
