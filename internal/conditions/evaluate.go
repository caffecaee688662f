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

	"github.com/blnkfinance/recon/internal/expression"
)

// Evaluate applies a resolved condition to one candidate tuple.
//
// Parameters:
// - c Condition: The resolved condition.
// - ctx expression.Context: The tuple, keyed by source alias.
// - order []string: The rule's sources in declaration order. Values are gathered in this order
// unless the condition names its own sources; aliases missing from ctx are skipped.
//
// Returns:
// - bool: Whether the condition holds.
// - error: An error if a field is unknown or a value cannot be converted.
func Evaluate(c Condition, ctx expression.Context, order []string) (bool, error) {
	aliases := order
	if len(c.Sources) > 0 {
		aliases = c.Sources
	}

	if c.Kind == KindCrossField {
		return evaluateCrossField(c, ctx, aliases)
	}

	values := make([]interface{}, 0, len(aliases)+1)
	for _, alias := range aliases {
		rec, ok := ctx[alias]
		if !ok {
			continue
		}
		v, known := rec.Field(c.Field)
		if !known {
			return false, fmt.Errorf("source %s has no field %s", alias, c.Field)
		}
		values = append(values, v)
	}

	switch c.Operator {
	case OpEquals:
		if c.HasText {
			values = append(values, c.Text)
		}
		return Equals(values), nil
	case OpWithinTolerance:
		return WithinTolerance(values, c.Tolerance)
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		return Compare(c.Operator, values, c.Threshold)
	case OpDateWithinDays:
		return DateWithinDays(values, c.Days)
	case OpStartsWith, OpEndsWith, OpContains:
		return StringMatch(c.Operator, values, c.Text, c.HasText), nil
	case OpRegex:
		return Regex(values, c.Pattern), nil
	case OpIsNull:
		return IsNull(values), nil
	case OpIsNotNull:
		return IsNotNull(values), nil
	case OpSimilarTo:
		return Similar(values, c.Tolerance), nil
	}
	return false, fmt.Errorf("operator %s cannot be evaluated", c.Operator)
}

func evaluateCrossField(c Condition, ctx expression.Context, aliases []string) (bool, error) {
	seen := 0
	for _, alias := range aliases {
		rec, ok := ctx[alias]
		if !ok {
			continue
		}
		a, knownA := rec.Field(c.Field)
		b, knownB := rec.Field(c.OtherField)
		if !knownA || !knownB {
			return false, fmt.Errorf("source %s is missing %s or %s", alias, c.Field, c.OtherField)
		}
		if !CrossFieldEquals(a, b) {
			return false, nil
		}
		seen++
	}
	return seen > 0, nil
}
