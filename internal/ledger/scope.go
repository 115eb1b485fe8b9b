package ledger

import (
	"sort"

	"github.com/odyssey-erp/stewardship/internal/actor"
)

// Scoped is implemented by entities that carry a branch.
type Scoped interface {
	Branch() *int64
}

// BranchFilter is the visibility predicate produced for an actor. The zero
// value matches nothing.
type BranchFilter struct {
	Unrestricted bool
	BranchIDs    []int64
}

// Empty reports whether the filter matches no entity at all.
func (f BranchFilter) Empty() bool {
	return !f.Unrestricted && len(f.BranchIDs) == 0
}

// Matches reports whether an entity with the given branch passes the filter.
// Organisation-wide entities (nil branch) are visible only to unrestricted
// filters.
func (f BranchFilter) Matches(branchID *int64) bool {
	if f.Unrestricted {
		return true
	}
	if branchID == nil {
		return false
	}
	for _, id := range f.BranchIDs {
		if id == *branchID {
			return true
		}
	}
	return false
}

// DefaultUnscopedRoles lists the organisation-wide oversight roles.
var DefaultUnscopedRoles = []actor.Role{actor.RoleSuperAdmin, actor.RoleAdmin}

// Scope restricts visibility by branch. Actors without a branch that are not
// explicitly unscoped see nothing.
type Scope struct {
	unscoped map[actor.Role]struct{}
}

// NewScope builds a scope; an empty role list falls back to
// DefaultUnscopedRoles.
func NewScope(unscoped []actor.Role) Scope {
	if len(unscoped) == 0 {
		unscoped = DefaultUnscopedRoles
	}
	set := make(map[actor.Role]struct{}, len(unscoped))
	for _, role := range unscoped {
		set[role] = struct{}{}
	}
	return Scope{unscoped: set}
}

// Unscoped reports whether the role has organisation-wide visibility.
func (s Scope) Unscoped(role actor.Role) bool {
	_, ok := s.unscoped[role]
	return ok
}

// AuthorizeRead reports whether the actor may see or act on entity.
func (s Scope) AuthorizeRead(a actor.Actor, entity Scoped) bool {
	return s.ScopeQuery(a).Matches(entity.Branch())
}

// ScopeQuery produces the branch predicate for listing queries.
func (s Scope) ScopeQuery(a actor.Actor) BranchFilter {
	if !a.Valid() {
		return BranchFilter{}
	}
	if s.Unscoped(a.Role) {
		return BranchFilter{Unrestricted: true}
	}
	if a.BranchID == nil {
		return BranchFilter{}
	}
	return BranchFilter{BranchIDs: []int64{*a.BranchID}}
}

// Roles returns the unscoped roles in a stable order.
func (s Scope) Roles() []actor.Role {
	roles := make([]actor.Role, 0, len(s.unscoped))
	for role := range s.unscoped {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
