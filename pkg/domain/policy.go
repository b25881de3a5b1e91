package domain

// Action names a permission-gated operation.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// CanPerform is the single role policy consulted by request handlers.
// Viewers are read-only, editors (and the legacy "user" role) may create
// and edit, only admins may delete content or reach admin surfaces.
func CanPerform(role Role, action Action) bool {
	switch action {
	case ActionView:
		return true
	case ActionCreate, ActionEdit:
		return role == RoleAdmin || role == RoleEditor || role == RoleUser
	case ActionDelete, ActionAdmin:
		return role == RoleAdmin
	default:
		return false
	}
}
