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

package conditions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/recon/model"
)

// Kind is the family a condition operator belongs to.
type Kind int

const (
	KindEquality Kind = iota
	KindTolerance
	KindComparison
	KindString
	KindNull
	KindCrossField
	KindSimilarity
)

func (k Kind) String() string {
	switch k {
	case KindEquality:
		return "equality"
	case KindTolerance:
		return "tolerance"
	case KindComparison:
		return "comparison"
	case KindString:
		return "string"
	case KindNull:
		return "null"
	case KindCrossField:
		return "cross_field"
	case KindSimilarity:
		return "similarity"
	}
	return "unknown"
}

const (
	OpEquals             = "equals"
	OpWithinTolerance    = "within_tolerance"
	OpGreaterThan        = "greater_than"
	OpLessThan           = "less_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpDateWithinDays     = "date_within_days"
	OpStartsWith         = "starts_with"
	OpEndsWith           = "ends_with"
	OpContains           = "contains"
	OpRegex              = "regex"
	OpIsNull             = "is_null"
	OpIsNotNull          = "is_not_null"
	OpCrossFieldEquals   = "cross_field_equals"
	OpSimilarTo          = "similar_to"
)

var operatorKinds = map[string]Kind{
	OpEquals:             KindEquality,
	OpWithinTolerance:    KindTolerance,
	OpDateWithinDays:     KindTolerance,
	OpGreaterThan:        KindComparison,
	OpLessThan:           KindComparison,
	OpGreaterThanOrEqual: KindComparison,
	OpLessThanOrEqual:    KindComparison,
	OpStartsWith:         KindString,
	OpEndsWith:           KindString,
	OpContains:           KindString,
	OpRegex:              KindString,
	OpIsNull:             KindNull,
	OpIsNotNull:          KindNull,
	OpCrossFieldEquals:   KindCrossField,
	OpSimilarTo:          KindSimilarity,
}

// defaultSimilarity is the allowed edit distance, as a percentage of the longer string,
// when a similar_to condition has no tolerance.
var defaultSimilarity = decimal.NewFromInt(20)

// Condition is a rule condition resolved once at rule-load time. Thresholds are parsed and
// patterns compiled here so evaluation never re-interprets the rule JSON.
type Condition struct {
	Kind       Kind
	Operator   string
	Field      string
	OtherField string
	Sources    []string
	Text       string
	HasText    bool
	Threshold  *decimal.Decimal
	Tolerance  model.ToleranceSpec
	Days       int
	Pattern    *regexp.Regexp
	PatternErr error
}

// Resolve turns a stored condition into its typed form.
//
// Parameters:
// - c model.Condition: The condition as stored on the rule.
// - tolerances model.ToleranceConfig: The rule-level tolerance, used when the condition has none.
//
// Returns:
// - Condition: The resolved condition.
// - error: An error if the operator is unknown or a required attribute is missing.
func Resolve(c model.Condition, tolerances model.ToleranceConfig) (Condition, error) {
	op := strings.ToLower(strings.TrimSpace(c.Operator))
	kind, ok := operatorKinds[op]
	if !ok {
		return Condition{}, fmt.Errorf("unknown condition operator %q", c.Operator)
	}
	if c.Field == "" {
		return Condition{}, fmt.Errorf("condition %s requires a field", op)
	}

	resolved := Condition{
		Kind:       kind,
		Operator:   op,
		Field:      c.Field,
		OtherField: c.OtherField,
		Sources:    c.Sources,
	}

	if c.Value != nil && !model.IsNull(c.Value) {
		resolved.Text, _ = model.CanonicalString(c.Value)
		resolved.HasText = true
	}

	ruleTolerance, hasRuleTolerance := tolerances[c.Field]

	switch op {
	case OpWithinTolerance, OpSimilarTo:
		var tolerance model.ToleranceSpec
		switch {
		case c.Tolerance != nil:
			tolerance = *c.Tolerance
		case resolved.HasText:
			v, err := decimal.NewFromString(resolved.Text)
			if err != nil {
				return Condition{}, fmt.Errorf("condition %s on %s has a non numeric value: %w", op, c.Field, err)
			}
			tolerance = model.ToleranceSpec{Value: v, Type: ruleTolerance.Type}
		case hasRuleTolerance:
			tolerance = ruleTolerance
		case op == OpSimilarTo:
			tolerance = model.ToleranceSpec{Value: defaultSimilarity, Type: model.TolerancePercentage}
		default:
			return Condition{}, fmt.Errorf("condition %s on %s has no tolerance", op, c.Field)
		}
		if tolerance.Type == "" {
			tolerance.Type = model.ToleranceFixed
		}
		resolved.Tolerance = tolerance

	case OpDateWithinDays:
		days, err := resolveDays(c, ruleTolerance, hasRuleTolerance)
		if err != nil {
			return Condition{}, err
		}
		resolved.Days = days

	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		if resolved.HasText {
			v, err := decimal.NewFromString(resolved.Text)
			if err != nil {
				return Condition{}, fmt.Errorf("condition %s on %s has a non numeric threshold: %w", op, c.Field, err)
			}
			resolved.Threshold = &v
		}

	case OpRegex:
		if !resolved.HasText {
			return Condition{}, fmt.Errorf("regex condition on %s requires a pattern", c.Field)
		}
		re, err := regexp.Compile("^(?:" + resolved.Text + ")")
		if err != nil {
			logrus.WithFields(logrus.Fields{"field": c.Field, "pattern": resolved.Text}).Warnf("invalid regex pattern, condition will never match: %v", err)
			resolved.PatternErr = err
		}
		resolved.Pattern = re

	case OpCrossFieldEquals:
		if c.OtherField == "" {
			return Condition{}, fmt.Errorf("cross_field_equals on %s requires other_field", c.Field)
		}
	}

	return resolved, nil
}

// resolveDays picks the day window for date_within_days. A value on the condition itself
// overrides the rule-level tolerance.
func resolveDays(c model.Condition, tolerance model.ToleranceSpec, hasTolerance bool) (int, error) {
	if c.Value != nil && !model.IsNull(c.Value) {
		d, err := model.ToDecimal(c.Value)
		if err != nil {
			return 0, fmt.Errorf("date_within_days on %s has a non numeric value: %w", c.Field, err)
		}
		return int(d.IntPart()), nil
	}
	if c.Tolerance != nil && c.Tolerance.Days != nil {
		return *c.Tolerance.Days, nil
	}
	if hasTolerance && tolerance.Days != nil {
		return *tolerance.Days, nil
	}
	return 0, nil
}
