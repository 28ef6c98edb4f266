package domain

// Role identifies the kind of actor making a call.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleHelper   Role = "helper"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller, resolved once at the transport
// boundary and passed as a value into every service call. The role is
// never re-derived downstream.
type Actor struct {
	ID   string
	Role Role
}

func Customer(id string) Actor { return Actor{ID: id, Role: RoleCustomer} }
func Helper(id string) Actor   { return Actor{ID: id, Role: RoleHelper} }
func Admin(id string) Actor    { return Actor{ID: id, Role: RoleAdmin} }

func (a Actor) IsCustomer() bool { return a.Role == RoleCustomer }
func (a Actor) IsHelper() bool   { return a.Role == RoleHelper }
func (a Actor) IsAdmin() bool    { return a.Role == RoleAdmin }

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleCustomer, RoleHelper, RoleAdmin:
		return true
	}
	return false
}
