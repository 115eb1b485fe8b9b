package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stewardship/internal/actor"
)

// CategoryRule configures approval for one category.
type CategoryRule struct {
	RequiresApproval   bool
	Approvers          []actor.Role
	HighValueAbove     *decimal.Decimal
	HighValueApprovers []actor.Role
}

// PolicyConfig is the full approval configuration.
type PolicyConfig struct {
	AllowSelfApproval bool
	Categories        map[Category]CategoryRule
}

// DefaultPolicy mirrors the organisation's standing rules: oversight roles
// approve expenses and transfers, finance may approve donations, and nobody
// approves their own request.
func DefaultPolicy() PolicyConfig {
	oversight := []actor.Role{actor.RoleSuperAdmin, actor.RoleAdmin, actor.RoleBishop}
	return PolicyConfig{
		AllowSelfApproval: false,
		Categories: map[Category]CategoryRule{
			CategoryExpense: {
				RequiresApproval: true,
				Approvers:        append([]actor.Role{actor.RolePastor}, oversight...),
			},
			CategoryStipend: {
				RequiresApproval: true,
				Approvers:        oversight,
			},
			CategoryTransfer: {
				RequiresApproval: true,
				Approvers:        oversight,
			},
			CategoryDonation: {
				RequiresApproval: false,
				Approvers:        append([]actor.Role{actor.RoleFinance, actor.RolePastor}, oversight...),
			},
		},
	}
}

// Verdict is the outcome of a policy evaluation.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

// Err converts a refusal into a typed error. Acting on a decided
// transaction surfaces as AlreadyDecided so repeated actuation is
// distinguishable from a genuine policy refusal.
func (v Verdict) Err(txn Transaction) error {
	if v.Allowed {
		return nil
	}
	if v.Reason == ReasonInvalidState {
		return newError(KindAlreadyDecided, ReasonInvalidState, "transaction %d is %s", txn.ID, txn.Status)
	}
	return newError(KindPolicyViolation, v.Reason, "transaction %d", txn.ID)
}

// Policy evaluates approval rules. It holds no state beyond its
// configuration and is safe for concurrent use.
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy builds a policy from configuration, filling unknown categories
// from the defaults.
func NewPolicy(cfg PolicyConfig) Policy {
	merged := PolicyConfig{AllowSelfApproval: cfg.AllowSelfApproval, Categories: map[Category]CategoryRule{}}
	for category, rule := range DefaultPolicy().Categories {
		merged.Categories[category] = rule
	}
	for category, rule := range cfg.Categories {
		merged.Categories[category] = rule
	}
	return Policy{cfg: merged}
}

// Config returns the effective configuration.
func (p Policy) Config() PolicyConfig {
	return p.cfg
}

// RequiresApproval reports whether new transactions of the category start
// Pending.
func (p Policy) RequiresApproval(category Category) bool {
	rule, ok := p.cfg.Categories[category]
	if !ok {
		return true
	}
	return rule.RequiresApproval
}

// Decide evaluates whether the actor may move txn out of Pending. The same
// rules apply to approval and rejection.
func (p Policy) Decide(txn Transaction, a actor.Actor) Verdict {
	if !txn.RequiresApproval {
		return Verdict{Reason: ReasonApprovalNotRequired}
	}
	if txn.Status != StatusPending {
		return Verdict{Reason: ReasonInvalidState}
	}
	rule, ok := p.cfg.Categories[txn.Category]
	if !ok || !hasRole(rule.Approvers, a.Role) {
		return Verdict{Reason: ReasonRoleNotAllowed}
	}
	if rule.HighValueAbove != nil && txn.Amount.GreaterThan(*rule.HighValueAbove) {
		if !hasRole(rule.HighValueApprovers, a.Role) {
			return Verdict{Reason: ReasonHighValueRole}
		}
	}
	if !p.cfg.AllowSelfApproval && txn.CreatedBy == a.ID {
		return Verdict{Reason: ReasonSelfApproval}
	}
	return Verdict{Allowed: true}
}

func hasRole(roles []actor.Role, role actor.Role) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}
