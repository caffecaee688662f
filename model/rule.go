/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// CurrentRuleSchemaVersion is stamped on rules written by this version of the engine.
// Version 1 rules carry only condition_groups; version 2 adds logic_expression.
const CurrentRuleSchemaVersion = 2

type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
)

const (
	ToleranceFixed      = "fixed"
	TolerancePercentage = "percentage"
)

const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

var sourceNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MatchingRule describes how transactions from several sources of a channel are matched.
type MatchingRule struct {
	ID          int64           `json:"-"`
	RuleID      string          `json:"rule_id"`
	ChannelID   string          `json:"channel_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Conditions  RuleConditions  `json:"conditions"`
	Tolerance   ToleranceConfig `json:"tolerance"`
	Status      RuleStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RuleConditions is stored as JSON in the rule's conditions column.
type RuleConditions struct {
	SchemaVersion   int              `json:"schema_version"`
	Sources         []string         `json:"sources"`
	LogicExpression string           `json:"logic_expression"`
	ConditionGroups []ConditionGroup `json:"condition_groups,omitempty"`
}

// ConditionGroup is the legacy structured form: a boolean combination of conditions and
// nested groups.
type ConditionGroup struct {
	Logic      string           `json:"logic"`
	Conditions []Condition      `json:"conditions"`
	Groups     []ConditionGroup `json:"groups,omitempty"`
}

// Condition is a single field-level predicate inside a ConditionGroup.
type Condition struct {
	Field      string         `json:"field"`
	Operator   string         `json:"operator"`
	Value      interface{}    `json:"value,omitempty"`
	OtherField string         `json:"other_field,omitempty"`
	Sources    []string       `json:"sources,omitempty"`
	Tolerance  *ToleranceSpec `json:"tolerance,omitempty"`
}

// ToleranceSpec is the per-field tolerance. Value applies to numeric fields and Days to dates.
type ToleranceSpec struct {
	Value decimal.Decimal `json:"value"`
	Days  *int            `json:"days,omitempty"`
	Type  string          `json:"type,omitempty"`
}

// ToleranceConfig maps a field name to its tolerance.
type ToleranceConfig map[string]ToleranceSpec

// IsActive reports whether the rule may be executed.
func (r *MatchingRule) IsActive() bool {
	return r.Status == RuleStatusActive
}

// Validate checks the structural invariants of a rule. Expression level checks happen when
// the rule is compiled.
func (r *MatchingRule) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ChannelID, validation.Required),
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Status, validation.In(RuleStatusActive, RuleStatusInactive)),
		validation.Field(&r.Conditions, validation.By(func(value interface{}) error {
			c, _ := value.(RuleConditions)
			return c.validate()
		})),
		validation.Field(&r.Tolerance, validation.By(func(value interface{}) error {
			t, _ := value.(ToleranceConfig)
			return t.validate()
		})),
	)
}

func (c RuleConditions) validate() error {
	if len(c.Sources) < 2 {
		return errors.New("at least 2 sources are required")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		name := strings.TrimSpace(s)
		if name == "" {
			return errors.New("source names cannot be empty")
		}
		if !sourceNamePattern.MatchString(name) {
			return fmt.Errorf("source %s must be a valid identifier", name)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("source %s declared more than once", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (t ToleranceConfig) validate() error {
	for field, spec := range t {
		if spec.Type != "" && spec.Type != ToleranceFixed && spec.Type != TolerancePercentage {
			return fmt.Errorf("tolerance for %s has unknown type %s", field, spec.Type)
		}
		if spec.Value.IsNegative() {
			return fmt.Errorf("tolerance for %s cannot be negative", field)
		}
		if spec.Days != nil && *spec.Days < 0 {
			return fmt.Errorf("tolerance days for %s cannot be negative", field)
		}
	}
	return nil
}
