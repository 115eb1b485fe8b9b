package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/ledger"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ledger.DefaultPolicy(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
self_approval: false
categories:
  expense:
    approvers: [bishop, pastor, admin]
    high_value_above: "50000"
    high_value_approvers: [bishop, admin]
  donation:
    requires_approval: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	expense := cfg.Categories[ledger.CategoryExpense]
	require.True(t, expense.RequiresApproval)
	require.Equal(t, []actor.Role{actor.RoleBishop, actor.RolePastor, actor.RoleAdmin}, expense.Approvers)
	require.NotNil(t, expense.HighValueAbove)
	require.True(t, decimal.NewFromInt(50000).Equal(*expense.HighValueAbove))
	require.Equal(t, []actor.Role{actor.RoleBishop, actor.RoleAdmin}, expense.HighValueApprovers)

	donation := cfg.Categories[ledger.CategoryDonation]
	require.True(t, donation.RequiresApproval)
	require.Equal(t, ledger.DefaultPolicy().Categories[ledger.CategoryDonation].Approvers, donation.Approvers)

	require.Equal(t, ledger.DefaultPolicy().Categories[ledger.CategoryStipend], cfg.Categories[ledger.CategoryStipend])
}

func TestParseFeedsPolicy(t *testing.T) {
	cfg, err := Parse([]byte(`
categories:
  stipend:
    approvers: [pastor]
`))
	require.NoError(t, err)

	p := ledger.NewPolicy(cfg)
	txn := ledger.Transaction{ID: 1, Category: ledger.CategoryStipend, Status: ledger.StatusPending, RequiresApproval: true, CreatedBy: 2, Amount: decimal.NewFromInt(100)}
	require.True(t, p.Decide(txn, actor.Actor{ID: 3, Role: actor.RolePastor}).Allowed)
	require.Equal(t, ledger.ReasonRoleNotAllowed, p.Decide(txn, actor.Actor{ID: 4, Role: actor.RoleBishop}).Reason)
}

func TestParseRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"syntax":           "categories: [",
		"unknown category": "categories:\n  tithe: {requires_approval: true}",
		"unknown role":     "categories:\n  expense: {approvers: [deacon]}",
		"bad threshold":    "categories:\n  expense: {high_value_above: lots, high_value_approvers: [admin]}",
		"negative":         "categories:\n  expense: {high_value_above: \"-1\", high_value_approvers: [admin]}",
		"no escalation":    "categories:\n  expense: {high_value_above: \"100\"}",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
