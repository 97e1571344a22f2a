package domain

// Role is the caller's permission level as resolved by the external
// identity provider. The engine only consumes the resulting allow/deny
// decision per operation.
type Role string

// Roles, ordered by privilege.
const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRank = map[Role]int{
	RoleUser:     1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// HasPermission reports whether the role meets or exceeds the required one.
// Unknown roles never qualify.
func (r Role) HasPermission(required Role) bool {
	got, ok := roleRank[r]
	if !ok {
		return false
	}
	want, ok := roleRank[required]
	if !ok {
		return false
	}
	return got >= want
}
