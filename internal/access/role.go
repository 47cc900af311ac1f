package access

import "strings"

// Role is a position in the ordered role hierarchy. RoleAdmin is the
// designated admin role.
type Role string

const (
	RoleViewer         Role = "VIEWER"
	RoleFieldWorker    Role = "FIELD_WORKER"
	RoleForeman        Role = "FOREMAN"
	RoleSuperintendent Role = "SUPERINTENDENT"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleAdmin          Role = "ADMIN"
)

var roleRank = map[Role]int{
	RoleViewer:         0,
	RoleFieldWorker:    1,
	RoleForeman:        2,
	RoleSuperintendent: 3,
	RoleProjectManager: 4,
	RoleAdmin:          5,
}

// ParseRole normalizes s into a known Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := roleRank[r]
	return r, ok
}

// Valid reports whether r is part of the hierarchy.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above min. Unknown roles rank below
// everything.
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	return rank >= roleRank[min]
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}
