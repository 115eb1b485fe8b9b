// Package policy loads approval rules from a YAML file.
package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/ledger"
)

// ErrInvalidPolicy wraps every structural problem found in a policy file.
var ErrInvalidPolicy = errors.New("policy: invalid policy file")

type fileRule struct {
	RequiresApproval   *bool    `yaml:"requires_approval"`
	Approvers          []string `yaml:"approvers"`
	HighValueAbove     string   `yaml:"high_value_above"`
	HighValueApprovers []string `yaml:"high_value_approvers"`
}

type file struct {
	SelfApproval *bool               `yaml:"self_approval"`
	Categories   map[string]fileRule `yaml:"categories"`
}

// Load reads the policy file at path. An empty path yields the built-in
// defaults.
func Load(path string) (ledger.PolicyConfig, error) {
	if strings.TrimSpace(path) == "" {
		return ledger.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ledger.PolicyConfig{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML policy data. Categories and fields that are not present
// keep their default values.
func Parse(data []byte) (ledger.PolicyConfig, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return ledger.PolicyConfig{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	cfg := ledger.DefaultPolicy()
	if f.SelfApproval != nil {
		cfg.AllowSelfApproval = *f.SelfApproval
	}
	for name, raw := range f.Categories {
		category := ledger.Category(strings.ToUpper(strings.TrimSpace(name)))
		if !category.Valid() {
			return ledger.PolicyConfig{}, fmt.Errorf("%w: unknown category %q", ErrInvalidPolicy, name)
		}
		rule, err := mergeRule(cfg.Categories[category], raw)
		if err != nil {
			return ledger.PolicyConfig{}, fmt.Errorf("%w: category %s: %v", ErrInvalidPolicy, category, err)
		}
		cfg.Categories[category] = rule
	}
	return cfg, nil
}

func mergeRule(rule ledger.CategoryRule, raw fileRule) (ledger.CategoryRule, error) {
	if raw.RequiresApproval != nil {
		rule.RequiresApproval = *raw.RequiresApproval
	}
	if raw.Approvers != nil {
		roles, err := actor.ParseRoles(raw.Approvers)
		if err != nil {
			return rule, err
		}
		rule.Approvers = roles
	}
	if raw.HighValueApprovers != nil {
		roles, err := actor.ParseRoles(raw.HighValueApprovers)
		if err != nil {
			return rule, err
		}
		rule.HighValueApprovers = roles
	}
	if threshold := strings.TrimSpace(raw.HighValueAbove); threshold != "" {
		value, err := decimal.NewFromString(threshold)
		if err != nil {
			return rule, fmt.Errorf("high_value_above: %v", err)
		}
		if value.IsNegative() {
			return rule, errors.New("high_value_above must not be negative")
		}
		rule.HighValueAbove = &value
	}
	if rule.HighValueAbove != nil && len(rule.HighValueApprovers) == 0 {
		return rule, errors.New("high_value_above requires high_value_approvers")
	}
	return rule, nil
}
