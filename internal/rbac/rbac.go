package rbac

type Role string
type Action string

const (
	RoleUser        Role = "user"
	RoleEnforcement Role = "enforcement"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionSubmit   Action = "submit"
	ActionContact  Action = "contact"
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEnforcement:
		return action == ActionRead || action == ActionSubmit || action == ActionContact
	case RoleUser:
		return action == ActionRead || action == ActionSubmit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleEnforcement, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
