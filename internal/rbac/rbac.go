// Package rbac maps org roles to the actions the API guards.
package rbac

type Role string
type Action string

const (
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	// ActionRead covers dashboards, alerts, workflows and search.
	ActionRead Action = "read"
	// ActionAnnotate adds owner notes to workflows.
	ActionAnnotate Action = "annotate"
	// ActionTriage acknowledges, resolves or dismisses alerts and removes notes.
	ActionTriage Action = "triage"
	// ActionAdmin corrects workflows and triggers health computation.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionRead || action == ActionAnnotate || action == ActionTriage
	case RoleMember:
		return action == ActionRead || action == ActionAnnotate
	default:
		return false
	}
}

// Normalize maps unknown roles to the least-privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
