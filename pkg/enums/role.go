package enums

import "fmt"

// Role is the caller role asserted by the identity service.
type Role string

const (
	RoleUser     Role = "user"
	RoleEducator Role = "educator"
	RoleAdmin    Role = "admin"
)

var validRoles = []Role{
	RoleUser,
	RoleEducator,
	RoleAdmin,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
