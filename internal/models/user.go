package models

// Role represents user role in the platform.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTutor, RoleStudent:
		return true
	}
	return false
}
