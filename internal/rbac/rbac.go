package rbac

type Role string
type Level string

const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

const (
	LevelAdmin     Level = "admin"
	LevelModerator Level = "moderator"
	LevelInner     Level = "inner"
	LevelFamily    Level = "family"
	LevelExtended  Level = "extended"
	LevelSuggest   Level = "suggest"
	LevelBlocked   Level = "blocked"
	LevelNone      Level = "none"
)

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Rank orders levels from none (0) to admin (7).
func (l Level) Rank() int {
	switch l {
	case LevelAdmin:
		return 7
	case LevelModerator:
		return 6
	case LevelInner:
		return 5
	case LevelFamily:
		return 4
	case LevelExtended:
		return 3
	case LevelSuggest:
		return 2
	case LevelBlocked:
		return 1
	default:
		return 0
	}
}

// CanEdit reports full, direct edit rights.
func CanEdit(l Level) bool {
	return l.Rank() >= LevelInner.Rank()
}

// CanSuggest reports whether the level may file edit suggestions.
func CanSuggest(l Level) bool {
	return l.Rank() >= LevelSuggest.Rank()
}
