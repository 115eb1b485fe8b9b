package actor

import (
	"errors"
	"fmt"
	"strings"
)

// Role enumerates the organisational roles recognised by the ledger.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleBishop     Role = "bishop"
	RolePastor     Role = "pastor"
	RoleFinance    Role = "finance"
	RoleMember     Role = "member"
)

// ErrUnknownRole indicates a role name outside the known set.
var ErrUnknownRole = errors.New("actor: unknown role")

// Actor is the authenticated caller of a ledger operation. BranchID is nil
// for actors without a branch assignment.
type Actor struct {
	ID       int64  `json:"id"`
	Role     Role   `json:"role"`
	BranchID *int64 `json:"branch_id,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Valid reports whether the actor carries an identity and a known role.
func (a Actor) Valid() bool {
	if a.ID <= 0 {
		return false
	}
	_, err := ParseRole(string(a.Role))
	return err == nil
}

// InBranch reports whether the actor is assigned to the given branch.
func (a Actor) InBranch(branchID int64) bool {
	return a.BranchID != nil && *a.BranchID == branchID
}

// ParseRole normalises and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleSuperAdmin, RoleAdmin, RoleBishop, RolePastor, RoleFinance, RoleMember:
		return role, nil
	}
	return "", ErrUnknownRole
}

// ParseRoles parses a list of names, failing on the first unknown entry.
func ParseRoles(raw []string) ([]Role, error) {
	roles := make([]Role, 0, len(raw))
	for _, name := range raw {
		if strings.TrimSpace(name) == "" {
			continue
		}
		role, err := ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", err, name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Branch is a convenience for building branch pointers.
func Branch(id int64) *int64 {
	return &id
}
