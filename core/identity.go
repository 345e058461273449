package core

// Role of an authenticated Identity.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

var Roles = []Role{RoleStudent, RoleTeacher, RoleAdmin}

func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// Identity is an authenticated actor, as issued by the credential layer.
type Identity struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (id Identity) IsAdmin() bool   { return id.Role == RoleAdmin }
func (id Identity) IsTeacher() bool { return id.Role == RoleTeacher }
func (id Identity) IsStudent() bool { return id.Role == RoleStudent }
