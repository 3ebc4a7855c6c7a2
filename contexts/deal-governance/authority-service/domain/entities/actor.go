package entities

// Role is assigned outside this service and never mutated here.
type Role string

const (
	RoleStandard            Role = "STANDARD"
	RoleEscrowOfficer       Role = "ESCROW_OFFICER"
	RoleSeniorEscrowOfficer Role = "SENIOR_ESCROW_OFFICER"
	RoleSuperAdmin          Role = "SUPER_ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleEscrowOfficer, RoleSeniorEscrowOfficer, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

// Actor is a platform user as seen by the authority registry.
type Actor struct {
	ActorID     string `json:"actor_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

func (a Actor) IsSuperAdmin() bool {
	return a.Role == RoleSuperAdmin
}
