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
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/blnkfinance/recon/model"
)

var hundred = decimal.NewFromInt(100)

// Equals reports whether every value is non-null and all canonical forms are identical.
func Equals(values []interface{}) bool {
	if len(values) == 0 {
		return false
	}
	first, ok := model.CanonicalString(values[0])
	if !ok {
		return false
	}
	for _, v := range values[1:] {
		s, ok := model.CanonicalString(v)
		if !ok || s != first {
			return false
		}
	}
	return true
}

// WithinTolerance reports whether every pair of values differs by no more than the tolerance.
// A percentage tolerance is taken of the larger absolute value of each pair.
func WithinTolerance(values []interface{}, spec model.ToleranceSpec) (bool, error) {
	nums, ok, err := decimals(values)
	if err != nil || !ok {
		return false, err
	}
	for i := 0; i < len(nums); i++ {
		for j := i + 1; j < len(nums); j++ {
			diff := nums[i].Sub(nums[j]).Abs()
			allowed := spec.Value
			if spec.Type == model.TolerancePercentage {
				allowed = decimal.Max(nums[i].Abs(), nums[j].Abs()).Mul(spec.Value).Div(hundred)
			}
			if diff.GreaterThan(allowed) {
				return false, nil
			}
		}
	}
	return true, nil
}

// Compare checks every value against threshold when one is given. Without a threshold the
// values must be monotonic in the order supplied.
func Compare(op string, values []interface{}, threshold *decimal.Decimal) (bool, error) {
	nums, ok, err := decimals(values)
	if err != nil || !ok {
		return false, err
	}
	if threshold != nil {
		for _, n := range nums {
			if !compareDecimals(op, n, *threshold) {
				return false, nil
			}
		}
		return true, nil
	}
	if len(nums) < 2 {
		return false, nil
	}
	for i := 0; i+1 < len(nums); i++ {
		if !compareDecimals(op, nums[i], nums[i+1]) {
			return false, nil
		}
	}
	return true, nil
}

func compareDecimals(op string, a, b decimal.Decimal) bool {
	switch op {
	case OpGreaterThan:
		return a.GreaterThan(b)
	case OpLessThan:
		return a.LessThan(b)
	case OpGreaterThanOrEqual:
		return a.GreaterThanOrEqual(b)
	case OpLessThanOrEqual:
		return a.LessThanOrEqual(b)
	}
	return false
}

// DateWithinDays reports whether the earliest and latest dates are at most days calendar days apart.
func DateWithinDays(values []interface{}, days int) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	var earliest, latest time.Time
	for i, v := range values {
		if model.IsNull(v) {
			return false, nil
		}
		t, err := model.ToTime(v)
		if err != nil {
			return false, err
		}
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if i == 0 || d.Before(earliest) {
			earliest = d
		}
		if i == 0 || d.After(latest) {
			latest = d
		}
	}
	return int(latest.Sub(earliest).Hours()/24) <= days, nil
}

// StringMatch applies starts_with, ends_with or contains case-insensitively. With a needle
// every value is checked against it; otherwise every later value is checked against the first.
func StringMatch(op string, values []interface{}, needle string, hasNeedle bool) bool {
	strs, ok := lowerStrings(values)
	if !ok {
		return false
	}
	targets := strs
	n := strings.ToLower(needle)
	if !hasNeedle {
		if len(strs) < 2 {
			return false
		}
		n = strs[0]
		targets = strs[1:]
	}
	for _, s := range targets {
		var match bool
		switch op {
		case OpStartsWith:
			match = strings.HasPrefix(s, n)
		case OpEndsWith:
			match = strings.HasSuffix(s, n)
		case OpContains:
			match = strings.Contains(s, n)
		}
		if !match {
			return false
		}
	}
	return true
}

// Regex reports whether every value matches the pattern from its first character.
// A nil pattern, the result of an invalid expression, never matches.
func Regex(values []interface{}, pattern *regexp.Regexp) bool {
	if pattern == nil || len(values) == 0 {
		return false
	}
	for _, v := range values {
		s, ok := model.CanonicalString(v)
		if !ok || !pattern.MatchString(s) {
			return false
		}
	}
	return true
}

// IsNull reports whether all values are null.
func IsNull(values []interface{}) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !model.IsNull(v) {
			return false
		}
	}
	return true
}

// IsNotNull reports whether all values are non-null.
func IsNotNull(values []interface{}) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if model.IsNull(v) {
			return false
		}
	}
	return true
}

// CrossFieldEquals compares two fields of the same transaction, numerically when both sides
// parse as numbers and by canonical string otherwise.
func CrossFieldEquals(a, b interface{}) bool {
	if model.IsNull(a) || model.IsNull(b) {
		return false
	}
	da, errA := model.ToDecimal(a)
	db, errB := model.ToDecimal(b)
	if errA == nil && errB == nil {
		return da.Equal(db)
	}
	sa, _ := model.CanonicalString(a)
	sb, _ := model.CanonicalString(b)
	return sa == sb
}

// Similar reports whether every pair of strings is within the allowed edit distance. The
// tolerance is a percentage of the longer string unless its type is fixed.
func Similar(values []interface{}, spec model.ToleranceSpec) bool {
	strs, ok := lowerStrings(values)
	if !ok || len(strs) < 2 {
		return false
	}
	for i := 0; i < len(strs); i++ {
		for j := i + 1; j < len(strs); j++ {
			a, b := []rune(strs[i]), []rune(strs[j])
			distance := decimal.NewFromInt(int64(levenshtein.DistanceForStrings(a, b, levenshtein.DefaultOptions)))
			allowed := spec.Value
			if spec.Type == model.TolerancePercentage {
				longest := len(a)
				if len(b) > longest {
					longest = len(b)
				}
				allowed = decimal.NewFromInt(int64(longest)).Mul(spec.Value).Div(hundred)
			}
			if distance.GreaterThan(allowed) {
				return false
			}
		}
	}
	return true
}

// decimals converts values to decimals. ok is false if any value is null.
func decimals(values []interface{}) ([]decimal.Decimal, bool, error) {
	if len(values) == 0 {
		return nil, false, nil
	}
	nums := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		if model.IsNull(v) {
			return nil, false, nil
		}
		d, err := model.ToDecimal(v)
		if err != nil {
			return nil, false, fmt.Errorf("numeric conversion failed: %w", err)
		}
		nums = append(nums, d)
	}
	return nums, true, nil
}

func lowerStrings(values []interface{}) ([]string, bool) {
	if len(values) == 0 {
		return nil, false
	}
	strs := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := model.CanonicalString(v)
		if !ok {
			return nil, false
		}
		strs = append(strs, strings.ToLower(s))
	}
	return strs, true
}
