package model

// Role is the verified role claim attached to an inbound identity. Issued by
// the authentication layer; the engine treats it as opaque and verified.
type Role string

const (
	// RoleCitizen represents an ordinary land owner or buyer
	RoleCitizen Role = "citizen"
	// RoleRegistrar represents an elevated registry officer who may register parcels
	RoleRegistrar Role = "registrar"
	// RoleAdmin represents an administrator who approves or rejects transactions
	RoleAdmin Role = "admin"
)

// Elevated reports whether the role may register new parcels
func (r Role) Elevated() bool {
	return r == RoleRegistrar || r == RoleAdmin
}
