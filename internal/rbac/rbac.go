package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionAsk      Action = "ask"
	ActionAnswer   Action = "answer"
	ActionVote     Action = "vote"
	ActionModerate Action = "moderate"
)

// Can reports whether role may perform action on content it does not own.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionAsk || action == ActionAnswer || action == ActionVote
	default:
		return false
	}
}

// For maps the isAdmin flag carried in tokens to a role.
func For(isAdmin bool) Role {
	if isAdmin {
		return RoleAdmin
	}
	return RoleUser
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
